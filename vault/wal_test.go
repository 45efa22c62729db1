package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WalRing_AppendAssignsStrictlyIncreasingSequence(t *testing.T) {
	t.Parallel()

	ring := newWalRing(4096, 64*1024)

	_, off1, ok := ring.append(walKindFramePut, []byte("a"))
	require.True(t, ok)
	_, off2, ok := ring.append(walKindFramePut, []byte("bb"))
	require.True(t, ok)

	assert.Equal(t, uint64(1), ring.sequence-1, "first record must be sequence 1")
	assert.Less(t, off1, off2, "records are packed sequentially")
	assert.Equal(t, uint64(2), ring.sequence)
}

func Test_WalRing_Append_RefusesWhenRegionFull(t *testing.T) {
	t.Parallel()

	ring := newWalRing(4096, 64)
	_, _, ok := ring.append(walKindFramePut, make([]byte, 64))
	require.False(t, ok, "a record that can't fit the ring must be refused, not truncated")
}

func Test_WalRing_Checkpoint_ResetsTailAndMarksPending(t *testing.T) {
	t.Parallel()

	ring := newWalRing(4096, 64*1024)
	_, _, _ = ring.append(walKindFramePut, []byte("a"))
	_, _, _ = ring.append(walKindFramePut, []byte("b"))

	assert.Equal(t, uint64(2), ring.pendingCount())

	ring.checkpoint()
	assert.Equal(t, uint64(0), ring.pendingCount())
	assert.Equal(t, uint64(0), ring.tail)
}

func Test_DecodeWalRegion_ReplaysOnlyRecordsAfterCheckpoint(t *testing.T) {
	t.Parallel()

	ring := newWalRing(0, 1024)
	buf := make([]byte, 1024)

	rec1, off1, ok := ring.append(walKindFramePut, []byte("one"))
	require.True(t, ok)
	copy(buf[off1:], rec1)

	rec2, off2, ok := ring.append(walKindFramePut, []byte("two"))
	require.True(t, ok)
	copy(buf[off2:], rec2)

	records, err := decodeWalRegion(buf, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].seq)
	assert.Equal(t, []byte("two"), records[0].payload)
}

func Test_DecodeWalRegion_DetectsChecksumCorruption(t *testing.T) {
	t.Parallel()

	ring := newWalRing(0, 1024)
	buf := make([]byte, 1024)

	rec, off, ok := ring.append(walKindFramePut, []byte("payload"))
	require.True(t, ok)
	copy(buf[off:], rec)

	// Flip a byte inside the payload without touching the trailing checksum.
	buf[off+walRecordHeaderLen] ^= 0xFF

	_, err := decodeWalRegion(buf, 0)
	var corrupt *WalCorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func Test_DecodeWalRegion_StopsAtZeroedEndOfLog(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 256)
	records, err := decodeWalRegion(buf, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
