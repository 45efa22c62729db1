package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EncodeDecodeMentions_SortsByTsFrameByteStart(t *testing.T) {
	t.Parallel()

	mentions := []temporalMention{
		{tsUTC: 200, frameID: 1, byteStart: 5, kind: MentionDate, confidence: 0.8},
		{tsUTC: 100, frameID: 2, byteStart: 0, kind: MentionDateTime, confidence: 0.9},
		{tsUTC: 100, frameID: 0, byteStart: 10, kind: MentionRange, confidence: 0.5, tzHint: "UTC"},
	}

	encoded := encodeMentions(mentions)
	decoded, err := decodeMentions(encoded)
	require.NoError(t, err)

	require.Len(t, decoded, 3)
	assert.Equal(t, FrameID(0), decoded[0].frameID)
	assert.Equal(t, FrameID(2), decoded[1].frameID)
	assert.Equal(t, FrameID(1), decoded[2].frameID)
	assert.Equal(t, "UTC", decoded[0].tzHint)
}

func Test_EncodeDecodeAnchors_SortsByFrameIDForBinarySearch(t *testing.T) {
	t.Parallel()

	anchors := []temporalAnchor{
		{frameID: 5, anchorTS: 500, source: "explicit"},
		{frameID: 1, anchorTS: 100, source: "inferred"},
		{frameID: 3, anchorTS: 300, source: "explicit"},
	}

	encoded := encodeAnchors(anchors)
	decoded, err := decodeAnchors(encoded)
	require.NoError(t, err)

	require.Len(t, decoded, 3)
	assert.Equal(t, FrameID(1), decoded[0].frameID)
	assert.Equal(t, FrameID(3), decoded[1].frameID)
	assert.Equal(t, FrameID(5), decoded[2].frameID)

	found, ok := lookupAnchor(decoded, FrameID(3))
	require.True(t, ok)
	assert.Equal(t, int64(300), found.anchorTS)

	_, ok = lookupAnchor(decoded, FrameID(999))
	assert.False(t, ok)
}
