package vault

import (
	"errors"
	"fmt"
)

// Sentinel errors for the integrity, policy, state, and feature-availability
// taxonomy. Codecs and mutators wrap these with context via fmt.Errorf's %w
// so callers can still errors.Is/errors.As against the sentinel.
var (
	ErrInvalidHeader      = errors.New("invalid header")
	ErrInvalidToc         = errors.New("invalid toc")
	ErrInvalidTimeIndex   = errors.New("invalid time index")
	ErrWalCorruption      = errors.New("wal corruption")
	ErrCheckpointFailed   = errors.New("wal checkpoint failed")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrEncryptedFile      = errors.New("file is an encrypted capsule")
	ErrRequiresOpen       = errors.New("vault requires an open (unsealed) handle")
	ErrRequiresSealed     = errors.New("vault requires a sealed handle")
	ErrFrameNotFound      = errors.New("frame not found")
	ErrInvalidFrame       = errors.New("invalid frame")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrVecDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrTicketSequence     = errors.New("ticket sequence mismatch")
	ErrLexNotEnabled      = errors.New("lexical track is not enabled")
	ErrVecNotEnabled      = errors.New("vector track is not enabled")
	ErrClipNotEnabled     = errors.New("clip track is not enabled")
	ErrTemporalNotEnabled = errors.New("temporal track is not enabled")
	ErrMeshNotEnabled     = errors.New("logic-mesh track is not enabled")
	ErrSketchNotEnabled   = errors.New("sketch track is not enabled")
	ErrLocked             = errors.New("locked")
	ErrLock               = errors.New("lock")
)

// ChecksumMismatchError reports a blake3/crc checksum mismatch for a
// specific region of the file, e.g. "toc" or "wal record 42".
type ChecksumMismatchError struct {
	Context string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: %s", e.Context)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// InvalidHeaderError reports why the fixed 4 KiB header failed to decode.
type InvalidHeaderError struct {
	Reason string
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid header: %s", e.Reason)
}

func (e *InvalidHeaderError) Unwrap() error { return ErrInvalidHeader }

// WalCorruptionError reports a checksum or structural failure at a given
// byte offset inside the WAL ring region.
type WalCorruptionError struct {
	Offset int64
	Reason string
}

func (e *WalCorruptionError) Error() string {
	return fmt.Sprintf("wal corruption at offset %d: %s", e.Offset, e.Reason)
}

func (e *WalCorruptionError) Unwrap() error { return ErrWalCorruption }

// LockedError reports that a file is already exclusively or incompatibly
// locked by another holder, per the sidecar lock registry record.
type LockedError struct {
	File     string
	OwnerPID int
	OwnerCmd string
	Stale    bool
}

func (e *LockedError) Error() string {
	if e.Stale {
		return fmt.Sprintf("locked: %s held by pid %d (%s), stale", e.File, e.OwnerPID, e.OwnerCmd)
	}
	return fmt.Sprintf("locked: %s held by pid %d (%s)", e.File, e.OwnerPID, e.OwnerCmd)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// VecDimensionMismatchError reports that an inserted or queried vector's
// dimension disagrees with the track's established dimension.
type VecDimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *VecDimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *VecDimensionMismatchError) Unwrap() error { return ErrVecDimensionMismatch }

// CapacityExceededError reports that a CommitTicket's budget would be
// exceeded by a put.
type CapacityExceededError struct {
	Current  int64
	Limit    int64
	Required int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: current=%d limit=%d required=%d", e.Current, e.Limit, e.Required)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// InvalidTocError reports why the TOC blob preceding a footer failed to
// decode or validate.
type InvalidTocError struct {
	Reason string
}

func (e *InvalidTocError) Error() string {
	return fmt.Sprintf("invalid toc: %s", e.Reason)
}

func (e *InvalidTocError) Unwrap() error { return ErrInvalidToc }

// InvalidTimeIndexError reports why the time-index track failed to decode
// or validate.
type InvalidTimeIndexError struct {
	Reason string
}

func (e *InvalidTimeIndexError) Error() string {
	return fmt.Sprintf("invalid time index: %s", e.Reason)
}

func (e *InvalidTimeIndexError) Unwrap() error { return ErrInvalidTimeIndex }

// InvalidFrameError reports why a put or a decoded frame record was
// rejected.
type InvalidFrameError struct {
	FrameID FrameID
	Reason  string
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid frame %d: %s", e.FrameID, e.Reason)
}

func (e *InvalidFrameError) Unwrap() error { return ErrInvalidFrame }
