package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadOptions_DefaultsWhenNoSidecar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	opts, err := loadOptions(path, Options{})
	require.NoError(t, err)
	assert.False(t, opts.EnableLex)
	assert.Equal(t, defaultOptions().LockTimeout, opts.LockTimeout)
}

func Test_LoadOptions_SidecarJSONCIsAppliedBeforeExplicitOptions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	sidecar := sidecarConfigPath(path)

	// JSONC: trailing comma and a comment, which hujson must tolerate.
	jsonc := []byte(`{
		// enable lexical search by default for this vault
		"enable_lex": true,
		"estimated_bytes": 1048576,
	}`)
	require.NoError(t, os.WriteFile(sidecar, jsonc, 0o644))

	opts, err := loadOptions(path, Options{EnableVec: true})
	require.NoError(t, err)

	assert.True(t, opts.EnableLex, "sidecar-enabled track must survive into the merged options")
	assert.True(t, opts.EnableVec, "explicit Options field must also be applied")
	assert.Equal(t, int64(1048576), opts.EstimatedBytes)
}

func Test_LoadOptions_EmptySidecarDoesNotZeroOutDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	sidecar := sidecarConfigPath(path)
	require.NoError(t, os.WriteFile(sidecar, []byte(`{}`), 0o644))

	opts, err := loadOptions(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, defaultOptions().LockTimeout, opts.LockTimeout, "empty sidecar must not zero out the default lock timeout")
}

func Test_LoadOptions_RejectsInvalidJSONC(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	sidecar := sidecarConfigPath(path)
	require.NoError(t, os.WriteFile(sidecar, []byte(`{ not valid`), 0o644))

	_, err := loadOptions(path, Options{})
	require.Error(t, err)
}

func Test_MergeOptions_ORsFeatureFlagsRatherThanOverwriting(t *testing.T) {
	t.Parallel()

	base := Options{EnableLex: true}
	overlay := Options{EnableVec: true}

	merged := mergeOptions(base, overlay)
	assert.True(t, merged.EnableLex)
	assert.True(t, merged.EnableVec)
}
