// Package lockreg implements the sidecar lock registry: a stable per-file
// identity, a JSON heartbeat record living next to the locked file, and
// composition with an OS advisory flock (via pkg/fs.Locker) for the actual
// cross-process mutual exclusion.
//
// The acquire protocol is create-new sidecar, peek-and-retry on
// contention, stale-holder override. The registry directory holds one
// record per locked vault file, so holders are identifiable (pid, cmd,
// heartbeat age) even when the flock itself says nothing about its owner.
package lockreg

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/sunilkgrao/mv2vault/pkg/fs"

	"lukechampine.com/blake3"
)

// registryEnvOverride is the environment variable consulted first when
// selecting the registry root, before any of the fallback directories.
const registryEnvOverride = "MV2_LOCK_REGISTRY_ROOT"

// staleGrace is how long a holder may go without a heartbeat before a
// competing acquirer is allowed to treat its record as abandoned.
const staleGrace = 30 * time.Second

// pollInterval bounds each spin-wait sleep while contending for a lock.
const pollInterval = 10 * time.Millisecond

var (
	// ErrTimeout is returned when Acquire could not obtain the lock before
	// its deadline.
	ErrTimeout = errors.New("lock acquire timeout")
)

// LockedError reports that the file is held by another process. It
// carries an owner hint so callers can print an actionable message.
type LockedError struct {
	FilePath string
	OwnerPID int
	OwnerCmd string
	Stale    bool
}

func (e *LockedError) Error() string {
	status := "held"
	if e.Stale {
		status = "held (stale)"
	}
	return fmt.Sprintf("locked: %s %s by pid %d (%s)", e.FilePath, status, e.OwnerPID, e.OwnerCmd)
}

// Record is the JSON sidecar heartbeat record, written atomically and
// refreshed by the holder while the lock is live.
type Record struct {
	ID           string    `json:"id"`
	PID          int       `json:"pid"`
	Cmd          string    `json:"cmd"`
	StartedAt    time.Time `json:"started_at"`
	FilePath     string    `json:"file_path"`
	FileID       string    `json:"file_id"`
	HeartbeatMS  int64     `json:"heartbeat_ms"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (r Record) stale(now time.Time) bool {
	return now.Sub(r.LastHeartbeat) > staleGrace
}

// Mode is the advisory lock mode requested on acquire.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Guard represents a held lock. Close releases both the registry record
// and sidecar file, and the underlying OS advisory lock.
type Guard struct {
	recordPath string
	osLock     *fs.Lock
	fsys       fs.FS
}

// Close removes the sidecar registry record and releases the OS lock. Safe
// to call once; subsequent calls are no-ops.
func (g *Guard) Close() error {
	if g == nil || g.osLock == nil {
		return nil
	}

	removeErr := g.fsys.Remove(g.recordPath)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		removeErr = fmt.Errorf("remove lock record: %w", removeErr)
	} else {
		removeErr = nil
	}

	unlockErr := g.osLock.Close()
	g.osLock = nil

	if removeErr != nil {
		return removeErr
	}
	return unlockErr
}

// FileID derives the stable POSIX file identity
// "unix-<dev:016x>-<ino:016x>-<first 8 bytes of blake3(first 4 KiB), hex>".
// It never derives identity from the path alone, so a renamed or
// hardlinked file is still recognized as the same lock target.
func FileID(fsys fs.FS, path string) (string, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat for file id: %w", err)
	}

	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok || sys == nil {
		return "", fmt.Errorf("file id: unsupported Sys() type %T", info.Sys())
	}

	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for file id prefix: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := make([]byte, 4096)
	n, err := f.Read(prefix)
	if err != nil && n == 0 && !errors.Is(err, os.ErrClosed) {
		// A zero-length or brand-new file has no prefix bytes to hash;
		// that's fine, blake3 of an empty slice is still deterministic.
	}
	sum := blake3.Sum256(prefix[:n])

	return fmt.Sprintf("unix-%016x-%016x-%x", sys.Dev, sys.Ino, sum[:8]), nil
}

// RegistryRoot resolves the sidecar registry directory, in precedence
// order: explicit override, env override,
// <tmp>/.vault/locks, <home>/.vault/locks, <cwd>/.vault/locks. The first
// directory that can be created/written wins.
func RegistryRoot(explicitOverride string) (string, error) {
	candidates := make([]string, 0, 4)

	if explicitOverride != "" {
		candidates = append(candidates, explicitOverride)
	}
	if env := os.Getenv(registryEnvOverride); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), ".vault", "locks"))
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".vault", "locks"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".vault", "locks"))
	}

	var lastErr error
	for _, dir := range candidates {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lastErr = err
			continue
		}
		return dir, nil
	}

	return "", fmt.Errorf("no writable lock registry root found: %w", lastErr)
}

func recordPathFor(root, fileID string) string {
	safe := strings.ReplaceAll(fileID, string(filepath.Separator), "_")
	return filepath.Join(root, safe+".lock.json")
}

// osLockPath derives the path advisory-locked via syscall.Flock. It's kept
// distinct from the JSON record path so a crashed holder's record can be
// inspected (and, if stale, removed) without first needing to flock it.
func osLockPath(root, fileID string) string {
	safe := strings.ReplaceAll(fileID, string(filepath.Separator), "_")
	return filepath.Join(root, safe+".flock")
}

// Acquire acquires the sidecar registry record and the OS advisory lock
// for filePath, retrying with bounded sleeps until timeout. mode selects
// Shared (many readers) or Exclusive (single writer).
//
// forceStale opts in to stealing a holder's record once its heartbeat has
// lapsed past staleGrace. Without it a stale holder is reported, never
// stolen: the acquire spins until timeout and surfaces LockedError with
// Stale set so the caller can decide to retry with forceStale.
func Acquire(fsys fs.FS, locker *fs.Locker, filePath, fileID, registryRoot string, mode Mode, forceStale bool, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	recordPath := recordPathFor(registryRoot, fileID)
	lockPath := osLockPath(registryRoot, fileID)

	for {
		osLock, err := acquireOSLock(locker, lockPath, mode, time.Until(deadline))
		if err != nil {
			if errors.Is(err, fs.ErrWouldBlock) {
				if forceStale {
					if stolen, stealErr := tryStealStale(fsys, recordPath); stealErr == nil && stolen {
						continue
					}
				}
				if time.Now().After(deadline) {
					return nil, timeoutOrLockedError(fsys, filePath, recordPath)
				}
				time.Sleep(pollInterval)
				continue
			}
			return nil, fmt.Errorf("acquire os lock: %w", err)
		}

		record := newRecord(filePath, fileID)
		if err := writeRecord(recordPath, record); err != nil {
			_ = osLock.Close()
			return nil, fmt.Errorf("write lock record: %w", err)
		}

		return &Guard{recordPath: recordPath, osLock: osLock, fsys: fsys}, nil
	}
}

func acquireOSLock(locker *fs.Locker, lockPath string, mode Mode, remaining time.Duration) (*fs.Lock, error) {
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	if mode == Exclusive {
		return locker.LockWithTimeout(lockPath, remaining)
	}
	return locker.RLockWithTimeout(lockPath, remaining)
}

func timeoutOrLockedError(fsys fs.FS, filePath, recordPath string) error {
	rec, err := readRecord(fsys, recordPath)
	if err != nil {
		return ErrTimeout
	}
	return &LockedError{FilePath: filePath, OwnerPID: rec.PID, OwnerCmd: rec.Cmd, Stale: rec.stale(time.Now())}
}

// tryStealStale removes a stale registry record (and, by extension, lets
// the next acquire attempt proceed) when the current holder hasn't
// heartbeat within staleGrace. It never force-removes a live holder.
func tryStealStale(fsys fs.FS, recordPath string) (bool, error) {
	rec, err := readRecord(fsys, recordPath)
	if err != nil {
		return false, err
	}
	if !rec.stale(time.Now()) {
		return false, nil
	}
	if err := fsys.Remove(recordPath); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

func readRecord(fsys fs.FS, path string) (Record, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode lock record: %w", err)
	}
	return rec, nil
}

func writeRecord(path string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode lock record: %w", err)
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

func newRecord(filePath, fileID string) Record {
	now := time.Now().UTC()
	return Record{
		ID:            newLockID(),
		PID:           os.Getpid(),
		Cmd:           commandName(),
		StartedAt:     now,
		FilePath:      filePath,
		FileID:        fileID,
		HeartbeatMS:   int64(staleGrace / time.Millisecond / 3),
		LastHeartbeat: now,
	}
}

func newLockID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// crypto/rand failures are effectively unrecoverable on any
		// supported platform; fall back to a "fallback-" id built from
		// whatever rand.Read returns rather than panicking mid-acquire.
		var b [16]byte
		_, _ = rand.Read(b[:])
		return fmt.Sprintf("fallback-%x", b)
	}
	return id.String()
}

func commandName() string {
	if len(os.Args) == 0 {
		return runtime.GOOS
	}
	return filepath.Base(os.Args[0])
}

// Heartbeat rewrites the registry record's LastHeartbeat, keeping a
// long-held exclusive lock from looking abandoned to a contending process.
func Heartbeat(fsys fs.FS, recordPath string) error {
	rec, err := readRecord(fsys, recordPath)
	if err != nil {
		return err
	}
	rec.LastHeartbeat = time.Now().UTC()
	return writeRecord(recordPath, rec)
}
