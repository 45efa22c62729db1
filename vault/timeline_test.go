package vault

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Timeline_OrdersByTimestampAndNestsChildren(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	laterID, err := v.PutBytes([]byte("later doc"), PutOptions{Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)
	earlierID, err := v.PutBytes([]byte("earlier doc"), PutOptions{Timestamp: base})
	require.NoError(t, err)

	_, err = v.PutBytes([]byte("a chunk of the earlier doc"), PutOptions{
		Timestamp: base, Role: RoleDocumentChunk, ParentID: &earlierID,
	})
	require.NoError(t, err)

	require.NoError(t, v.Commit())

	entries, err := v.Timeline(TimelineQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2, "chunk must nest under its parent, not appear top-level")

	assert.Equal(t, earlierID, entries[0].FrameID)
	assert.Equal(t, laterID, entries[1].FrameID)
	require.Len(t, entries[0].Children, 1)
	assert.Equal(t, "earlier doc", entries[0].Preview)
}

func Test_Timeline_ReverseAndLimit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := v.PutBytes([]byte("doc"), PutOptions{Timestamp: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	require.NoError(t, v.Commit())

	entries, err := v.Timeline(TimelineQuery{Reverse: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, FrameID(2), entries[0].FrameID)
	assert.Equal(t, FrameID(1), entries[1].FrameID)
}

func Test_Timeline_FiltersBySinceUntil(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := v.PutBytes([]byte("doc"), PutOptions{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour)})
		require.NoError(t, err)
	}
	require.NoError(t, v.Commit())

	entries, err := v.Timeline(TimelineQuery{Since: base.Add(24 * time.Hour), Until: base.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, FrameID(1), entries[0].FrameID)
	assert.Equal(t, FrameID(2), entries[1].FrameID)
}
