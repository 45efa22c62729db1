package vault

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CommitTicket_MaxFramesRejectsOverBudgetPut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{Ticket: &CommitTicket{MaxFrames: 1}})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	_, err = v.PutBytes([]byte("first"), PutOptions{})
	require.NoError(t, err)

	_, err = v.PutBytes([]byte("second"), PutOptions{})
	require.Error(t, err)

	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(1), capErr.Limit)
}

func Test_CommitTicket_MaxBytesRejectsOverBudgetPut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{Ticket: &CommitTicket{MaxBytes: 1}})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	_, err = v.PutBytes([]byte("this payload is definitely more than one byte"), PutOptions{})
	require.Error(t, err)

	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
}

func Test_CommitTicket_Unset_NeverRejects(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.mv2")
	v, err := Create(path, Options{})
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	for i := 0; i < 10; i++ {
		_, err := v.PutBytes([]byte("x"), PutOptions{})
		require.NoError(t, err)
	}
}
