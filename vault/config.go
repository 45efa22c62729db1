package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"
)

// Options configures a vault handle. The zero value is usable: all tracks
// default to disabled and Logger defaults to zerolog.Nop().
type Options struct {
	// Feature flags. Every optional track starts disabled; callers opt in.
	EnableLex      bool `json:"enable_lex"`
	EnableVec      bool `json:"enable_vec"`
	EnableClip     bool `json:"enable_clip"`
	EnableTemporal bool `json:"enable_temporal"`
	EnableMesh     bool `json:"enable_mesh"`
	EnableSketch   bool `json:"enable_sketch"`

	// EstimatedBytes sizes the initial WAL tier; 0 picks the
	// smallest (64 KiB) tier.
	EstimatedBytes int64 `json:"estimated_bytes"`

	// LockTimeout bounds how long Open waits for an exclusive OS/sidecar
	// lock held by another process before returning LockedError.
	LockTimeout time.Duration `json:"-"`

	// ForceStaleLock opts in to stealing a competing holder's sidecar
	// record once its heartbeat lapses. Off by default: a stale holder is
	// surfaced as a LockedError with Stale set instead of being removed.
	ForceStaleLock bool `json:"force_stale_lock"`

	// RegistryRoot overrides the sidecar lock registry directory selection
	// order in internal/lockreg (env override > tmp > home > cwd).
	RegistryRoot string `json:"-"`

	// Logger receives structured events for Put/Commit/Seal/doctor_apply.
	// Nil means zerolog.Nop().
	Logger *zerolog.Logger `json:"-"`

	// Ticket is an optional commit capacity policy; nil means
	// unbounded.
	Ticket *CommitTicket `json:"-"`
}

// CommitTicket is a capacity budget checked on every put. A put that
// would push the vault past either limit fails with
// CapacityExceededError before any bytes are written.
type CommitTicket struct {
	MaxBytes  int64
	MaxFrames int64
}

func defaultOptions() Options {
	nop := zerolog.Nop()
	return Options{Logger: &nop, LockTimeout: 10 * time.Second}
}

// logger returns the configured logger, or zerolog.Nop() if unset.
func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// sidecarConfigPath is the JSONC sidecar checked before the explicit
// Options argument to Open/Create: "<path>.mv2.json".
func sidecarConfigPath(path string) string {
	return path + ".mv2.json"
}

// loadOptions merges defaults, an optional JSONC sidecar, and the caller's
// explicit Options, in that precedence order (later wins).
func loadOptions(path string, explicit Options) (Options, error) {
	opts := defaultOptions()

	sidecar, err := loadSidecarOptions(sidecarConfigPath(path))
	if err != nil {
		return Options{}, err
	}
	opts = mergeOptions(opts, sidecar)
	opts = mergeOptions(opts, explicit)
	if explicit.Logger != nil {
		opts.Logger = explicit.Logger
	}

	return opts, nil
}

func loadSidecarOptions(path string) (Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the caller's own vault path
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, nil
		}
		return Options{}, fmt.Errorf("read sidecar config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Options{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var opts Options
	if err := json.Unmarshal(standardized, &opts); err != nil {
		return Options{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return opts, nil
}

// mergeOptions overlays non-zero fields of overlay onto base. Boolean
// feature flags are OR'd (enabling a track should never be silently
// undone by a lower-precedence layer that simply didn't mention it).
func mergeOptions(base, overlay Options) Options {
	base.EnableLex = base.EnableLex || overlay.EnableLex
	base.EnableVec = base.EnableVec || overlay.EnableVec
	base.EnableClip = base.EnableClip || overlay.EnableClip
	base.EnableTemporal = base.EnableTemporal || overlay.EnableTemporal
	base.EnableMesh = base.EnableMesh || overlay.EnableMesh
	base.EnableSketch = base.EnableSketch || overlay.EnableSketch

	if overlay.EstimatedBytes != 0 {
		base.EstimatedBytes = overlay.EstimatedBytes
	}
	if overlay.LockTimeout != 0 {
		base.LockTimeout = overlay.LockTimeout
	}
	if overlay.ForceStaleLock {
		base.ForceStaleLock = true
	}
	if overlay.RegistryRoot != "" {
		base.RegistryRoot = overlay.RegistryRoot
	}
	if overlay.Ticket != nil {
		base.Ticket = overlay.Ticket
	}

	return base
}
