package lockreg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/mv2vault/pkg/fs"
)

func writeVaultFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("mv2-fixture"), 0o644))
}

func Test_FileID_IsStableAcrossCalls(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)

	fsys := fs.NewReal()
	id1, err := FileID(fsys, path)
	require.NoError(t, err)
	id2, err := FileID(fsys, path)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Contains(t, id1, "unix-")
}

func Test_FileID_DiffersForDifferentFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.mv2")
	pathB := filepath.Join(dir, "b.mv2")
	writeVaultFile(t, pathA)
	writeVaultFile(t, pathB)

	fsys := fs.NewReal()
	idA, err := FileID(fsys, pathA)
	require.NoError(t, err)
	idB, err := FileID(fsys, pathB)
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

// Two acquirers contending for Exclusive on the same file_id, one succeeds and
// the other observes LockedError carrying the holder's pid.
func Test_Acquire_ExclusiveIsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)
	root := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(root, 0o755))

	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	fileID, err := FileID(fsys, path)
	require.NoError(t, err)

	guard1, err := Acquire(fsys, locker, path, fileID, root, Exclusive, false, time.Second)
	require.NoError(t, err)
	defer func() { _ = guard1.Close() }()

	_, err = Acquire(fsys, locker, path, fileID, root, Exclusive, false, 100*time.Millisecond)
	require.Error(t, err)

	var locked *LockedError
	if assert.ErrorAs(t, err, &locked) {
		assert.Equal(t, os.Getpid(), locked.OwnerPID)
		assert.False(t, locked.Stale)
	}

	require.NoError(t, guard1.Close())

	guard2, err := Acquire(fsys, locker, path, fileID, root, Exclusive, false, time.Second)
	require.NoError(t, err, "lock must be acquirable again once the holder releases it")
	require.NoError(t, guard2.Close())
}

func Test_Acquire_SharedAllowsMultipleReaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)
	root := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(root, 0o755))

	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	fileID, err := FileID(fsys, path)
	require.NoError(t, err)

	g1, err := Acquire(fsys, locker, path, fileID, root, Shared, false, time.Second)
	require.NoError(t, err)
	defer func() { _ = g1.Close() }()

	g2, err := Acquire(fsys, locker, path, fileID, root, Shared, false, time.Second)
	require.NoError(t, err, "multiple shared holders must be allowed")
	defer func() { _ = g2.Close() }()
}

func Test_Acquire_GuardCloseRemovesSidecarRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)
	root := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(root, 0o755))

	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	fileID, err := FileID(fsys, path)
	require.NoError(t, err)

	guard, err := Acquire(fsys, locker, path, fileID, root, Exclusive, false, time.Second)
	require.NoError(t, err)

	recordPath := recordPathFor(root, fileID)
	_, statErr := os.Stat(recordPath)
	require.NoError(t, statErr, "a registry record must exist while the guard is held")

	require.NoError(t, guard.Close())

	_, statErr = os.Stat(recordPath)
	assert.True(t, os.IsNotExist(statErr), "Close must remove the sidecar registry record")
}

// makeRecordStale rewrites the holder's sidecar record with a heartbeat
// old enough to lapse past staleGrace.
func makeRecordStale(t *testing.T, root, fileID string) {
	t.Helper()

	recordPath := recordPathFor(root, fileID)
	data, err := os.ReadFile(recordPath)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	rec.LastHeartbeat = time.Now().Add(-2 * staleGrace)

	data, err = json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(recordPath, data, 0o644))
}

// A stale holder is reported, never stolen, unless the caller opts in:
// without forceStale the acquire spins out and surfaces LockedError with
// Stale set, leaving the holder's record in place.
func Test_Acquire_StaleHolderIsReportedNotStolen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)
	root := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(root, 0o755))

	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	fileID, err := FileID(fsys, path)
	require.NoError(t, err)

	guard, err := Acquire(fsys, locker, path, fileID, root, Exclusive, false, time.Second)
	require.NoError(t, err)
	defer func() { _ = guard.Close() }()

	makeRecordStale(t, root, fileID)

	_, err = Acquire(fsys, locker, path, fileID, root, Exclusive, false, 150*time.Millisecond)
	require.Error(t, err)

	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.True(t, locked.Stale, "a lapsed heartbeat must be reported as stale")
	assert.Equal(t, os.Getpid(), locked.OwnerPID)

	_, statErr := os.Stat(recordPathFor(root, fileID))
	assert.NoError(t, statErr, "the stale record must not be removed without forceStale")
}

func Test_TryStealStale_RemovesOnlyLapsedRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.mv2")
	writeVaultFile(t, path)
	root := filepath.Join(dir, "locks")
	require.NoError(t, os.MkdirAll(root, 0o755))

	fsys := fs.NewReal()
	fileID, err := FileID(fsys, path)
	require.NoError(t, err)
	recordPath := recordPathFor(root, fileID)

	require.NoError(t, writeRecord(recordPath, newRecord(path, fileID)))

	stolen, err := tryStealStale(fsys, recordPath)
	require.NoError(t, err)
	assert.False(t, stolen, "a live heartbeat must never be stolen")

	makeRecordStale(t, root, fileID)

	stolen, err = tryStealStale(fsys, recordPath)
	require.NoError(t, err)
	assert.True(t, stolen)

	_, statErr := os.Stat(recordPath)
	assert.True(t, os.IsNotExist(statErr), "stealing must remove the record")
}

func Test_RegistryRoot_PrefersExplicitOverride(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "explicit-root")
	root, err := RegistryRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
