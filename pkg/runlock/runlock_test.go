package runlock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "digest.db.lock")

	lock, err := Acquire(path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), Holder(path))

	_, err = Acquire(path, time.Hour)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := Acquire(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.db.lock")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, err := Acquire(path, 0)
	assert.ErrorIs(t, err, ErrLocked, "zero stale age never breaks a lock")
	assert.Contains(t, err.Error(), "4242")

	lock, err := Acquire(path, 2*time.Hour)
	require.NoError(t, err)
	defer lock.Release()
	assert.Equal(t, strconv.Itoa(os.Getpid()), Holder(path))
}

func TestHolderUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Holder(filepath.Join(t.TempDir(), "missing")))
}
