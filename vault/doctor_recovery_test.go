package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Zeroing the footer's trailing 16 bytes
// (part of toc_hash plus the generation counter) leaves the magic and
// toc_len intact but makes the stored hash stop matching. open_read_only
// must refuse to serve a structurally-recovered view; open (exclusive)
// must heal it; doctor must then report the file clean/healed; and a
// subsequent open_read_only must succeed against the healed generation.
func Test_FooterCorruption_RecoverableByExclusiveOpenNotReadOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)
	_, err = v.PutBytes([]byte("hello world"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	corruptFooterTail(t, path)

	_, err = OpenReadOnly(path, Options{})
	require.Error(t, err)
	var tocErr *InvalidTocError
	require.ErrorAs(t, err, &tocErr)

	healed, err := Open(path, Options{})
	require.NoError(t, err, "exclusive open must self-heal a torn footer trailer")
	stats, err := healed.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FrameCount)
	require.NoError(t, healed.Close())

	report, err := Doctor(path, DoctorOptions{Deep: true})
	require.NoError(t, err)
	assert.Contains(t, []DoctorStatus{StatusClean, StatusHealed}, report.Status)

	ro, err := OpenReadOnly(path, Options{})
	require.NoError(t, err, "a subsequent read-only open must succeed once the file is healed")
	require.NoError(t, ro.Close())
}

// corruptFooterTail zeros the last 16 bytes of the file: the tail of
// toc_hash plus the generation counter.
func corruptFooterTail(t *testing.T, path string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	require.NoError(t, err)

	zeros := make([]byte, 16)
	_, err = f.WriteAt(zeros, info.Size()-16)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
}

// Two sequential commits each adding one
// frame leave a reader-visible frame_count of 2, with the second
// generation's footer sealing a TOC containing both frames.
func Test_MultiCommit_PreservesFramesAcrossGenerations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)

	_, err = v.PutBytes([]byte("first"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	_, err = v.PutBytes([]byte("second"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())

	statsAfterSecond, err := v.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), statsAfterSecond.Generation)
	require.NoError(t, v.Close())

	ro, err := OpenReadOnly(path, Options{})
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	stats, err := ro.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FrameCount)
	assert.Equal(t, uint64(2), stats.Generation)
}
