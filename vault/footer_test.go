package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Footer_EncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	f := commitFooter{tocLen: 128, tocHash: blake3Sum([]byte("toc bytes")), generation: 9}
	buf := f.encode()
	require.Len(t, buf, footerSize)

	got, ok := decodeFooter(buf)
	require.True(t, ok)
	assert.Equal(t, f, got)
}

func Test_Footer_Decode_RejectsBadMagicOrLength(t *testing.T) {
	t.Parallel()

	f := commitFooter{tocLen: 4, tocHash: blake3Sum([]byte("toc")), generation: 1}
	buf := f.encode()

	_, ok := decodeFooter(buf[:footerSize-1])
	assert.False(t, ok)

	corrupt := append([]byte(nil), buf...)
	corrupt[0] = 'X'
	_, ok = decodeFooter(corrupt)
	assert.False(t, ok)
}

// FuzzFooter_EncodeDecode_RoundTrip checks that any footer value survives an
// encode/decode cycle unchanged.
func FuzzFooter_EncodeDecode_RoundTrip(f *testing.F) {
	f.Add(uint64(0), uint64(0), byte(0))
	f.Add(uint64(128), uint64(9), byte(0xAB))
	f.Add(^uint64(0), ^uint64(0), byte(0xFF))

	f.Fuzz(func(t *testing.T, tocLen, generation uint64, hashByte byte) {
		want := commitFooter{tocLen: tocLen, generation: generation}
		for i := range want.tocHash {
			want.tocHash[i] = hashByte
		}

		buf := want.encode()
		require.Len(t, buf, footerSize)

		got, ok := decodeFooter(buf)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})
}

// FuzzFooter_Decode_NeverPanics feeds arbitrary bytes of varying lengths to
// decodeFooter and the backward scanners: whatever a torn or hand-crafted
// trailer holds, they must never panic.
func FuzzFooter_Decode_NeverPanics(f *testing.F) {
	f.Add(make([]byte, footerSize), int64(0))
	f.Add([]byte("MV2FOOT!short"), int64(0))
	valid := commitFooter{tocLen: 4, tocHash: blake3Sum([]byte("toc!")), generation: 1}
	f.Add(append([]byte("toc!"), valid.encode()...), int64(1000))

	f.Fuzz(func(t *testing.T, content []byte, base int64) {
		_, _ = decodeFooter(content)
		_, _, _, _ = findLastValidFooter(content, base)
		_, _, _, _ = findLastStructuralFooter(content, base)
	})
}

func Test_FindLastValidFooter_LocatesNewestWellFormedFooter(t *testing.T) {
	t.Parallel()

	toc1 := []byte("toc generation zero")
	footer1 := commitFooter{tocLen: uint64(len(toc1)), tocHash: blake3Sum(toc1), generation: 0}

	toc2 := []byte("toc generation one, a little longer")
	footer2 := commitFooter{tocLen: uint64(len(toc2)), tocHash: blake3Sum(toc2), generation: 1}

	var content []byte
	content = append(content, toc1...)
	content = append(content, footer1.encode()...)
	content = append(content, toc2...)
	content = append(content, footer2.encode()...)

	got, footerOffset, tocOffset, ok := findLastValidFooter(content, 1000)
	require.True(t, ok)
	assert.Equal(t, footer2, got)
	assert.Equal(t, int64(1000+len(toc1)+footerSize+len(toc2)), footerOffset)
	assert.Equal(t, int64(1000+len(toc1)+footerSize), tocOffset)
}

func Test_FindLastValidFooter_SkipsCorruptNewestFooter(t *testing.T) {
	t.Parallel()

	toc1 := []byte("good generation zero toc")
	footer1 := commitFooter{tocLen: uint64(len(toc1)), tocHash: blake3Sum(toc1), generation: 0}

	toc2 := []byte("generation one toc, since corrupted")
	footer2 := commitFooter{tocLen: uint64(len(toc2)), tocHash: blake3Sum(toc2), generation: 1}
	footer2Buf := footer2.encode()
	footer2Buf[footerOffTocHash] ^= 0xFF // corrupt the stored hash

	var content []byte
	content = append(content, toc1...)
	content = append(content, footer1.encode()...)
	content = append(content, toc2...)
	content = append(content, footer2Buf...)

	got, _, _, ok := findLastValidFooter(content, 0)
	require.True(t, ok)
	assert.Equal(t, footer1, got, "must fall back to the older, still-valid footer")

	structGot, _, _, structOK := findLastStructuralFooter(content, 0)
	require.True(t, structOK)
	assert.Equal(t, footer2.generation, structGot.generation, "structural scan still finds the newer, checksum-broken footer")
}
