package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LexIndex_EncodeDecodeSegment_RoundTrip(t *testing.T) {
	t.Parallel()

	idx := newLexIndex()
	idx.addDoc(FrameID(0), "the quick brown fox")
	idx.addDoc(FrameID(1), "the lazy dog sleeps")

	encoded := encodeLexSegment(idx)
	postings, err := decodeLexSegment(encoded)
	require.NoError(t, err)

	theHits := postings["the"]
	require.Len(t, theHits, 2)
	assert.Equal(t, FrameID(0), theHits[0].frameID)
	assert.Equal(t, FrameID(1), theHits[1].frameID)
}

func Test_SearchLexPostings_RanksByTermFrequencyDescending(t *testing.T) {
	t.Parallel()

	idx := newLexIndex()
	idx.addDoc(FrameID(0), "fox fox fox")
	idx.addDoc(FrameID(1), "fox")

	hits := searchLexPostings(idx.postings, "fox", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, FrameID(0), hits[0].FrameID)
	assert.Equal(t, FrameID(1), hits[1].FrameID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func Test_SearchLexPostings_RespectsTopK(t *testing.T) {
	t.Parallel()

	idx := newLexIndex()
	idx.addDoc(FrameID(0), "alpha")
	idx.addDoc(FrameID(1), "alpha")
	idx.addDoc(FrameID(2), "alpha")

	hits := searchLexPostings(idx.postings, "alpha", 2)
	assert.Len(t, hits, 2)
}

func Test_DecodeLexSegment_RejectsTruncatedBuffer(t *testing.T) {
	t.Parallel()

	_, err := decodeLexSegment([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}
