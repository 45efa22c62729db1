package vault

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Create_RejectsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	_, err = Create(path, Options{})
	require.Error(t, err)
}

func Test_Create_Open_PutBytes_Commit_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{EnableLex: true, EnableSketch: true})
	require.NoError(t, err)

	id1, err := v.PutBytes([]byte("the quick brown fox"), PutOptions{URI: "doc://1", Title: "fox"})
	require.NoError(t, err)
	assert.Equal(t, FrameID(0), id1)

	id2, err := v.PutBytes([]byte("jumps over the lazy dog"), PutOptions{URI: "doc://2", Title: "dog"})
	require.NoError(t, err)
	assert.Equal(t, FrameID(1), id2)

	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	reopened, err := Open(path, Options{EnableLex: true, EnableSketch: true})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	stats, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FrameCount)
	assert.True(t, stats.HasLexIndex)
	assert.True(t, stats.HasSketch)

	hits, err := reopened.SearchLex("fox", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, FrameID(0), hits[0].FrameID)
}

func Test_PutBytes_RejectsOnReadOnlyHandle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)
	_, err = v.PutBytes([]byte("x"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	ro, err := OpenReadOnly(path, Options{})
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	_, err = ro.PutBytes([]byte("y"), PutOptions{})
	require.ErrorIs(t, err, ErrRequiresOpen)
}

func Test_PutBytes_RejectsAfterSeal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)
	_, err = v.PutBytes([]byte("x"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Seal())

	_, err = v.PutBytes([]byte("y"), PutOptions{})
	require.ErrorIs(t, err, ErrRequiresSealed)
	require.NoError(t, v.Close())
}

func Test_Commit_IsNoOpWhenNotDirty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")

	v, err := Create(path, Options{})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	require.NoError(t, v.Commit())
	stats, err := v.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Generation)
}
