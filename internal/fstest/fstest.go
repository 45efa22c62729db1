// Package fstest adapts the pkg/fs fault-injection filesystems
// (Chaos, Crash) for use against vault operations. It owns no vault-specific
// logic — it only builds the FS/Locker pair a crash- or chaos-driven test
// hands to vault.Create/Open — so the property tests themselves stay in the
// vault package, where they can reach the unexported createWithFS/
// openVaultWithFS seams.
package fstest

import (
	"github.com/sunilkgrao/mv2vault/pkg/fs"
)

// NewCrashFS builds a Crash-wrapped filesystem rooted at a fresh temp
// directory owned by tb (typically *testing.T), plus a Locker bound to it.
// SimulateCrash on the returned Crash rotates to a fresh working directory
// and keeps only whatever was fsync'd before the call, modeling an actual
// crash/power-loss boundary rather than a hand-picked byte offset.
func NewCrashFS(tb fs.TempDirer, config *fs.CrashConfig) (*fs.Crash, *fs.Locker, error) {
	if config == nil {
		config = &fs.CrashConfig{}
	}

	crash, err := fs.NewCrash(tb, fs.NewReal(), config)
	if err != nil {
		return nil, nil, err
	}

	return crash, fs.NewLocker(crash), nil
}

// NewChaosFS builds a Chaos-wrapped real filesystem, for tests that
// want randomized per-operation faults (partial writes, spurious ENOSPC/EIO)
// rather than Crash's all-or-nothing durability boundary. seed makes the
// fault sequence reproducible across runs.
func NewChaosFS(seed int64, config *fs.ChaosConfig) (*fs.Chaos, *fs.Locker) {
	chaos := fs.NewChaos(fs.NewReal(), seed, config)
	return chaos, fs.NewLocker(chaos)
}
