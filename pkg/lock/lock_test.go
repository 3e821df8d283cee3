package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	l := New(filepath.Join(t.TempDir(), "sync.lock"), logger)
	l.retryWait = time.Millisecond
	return l
}

func TestAcquireAndRelease(t *testing.T) {
	l := newTestLock(t)

	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())

	raw, err := os.ReadFile(l.path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n")

	require.NoError(t, l.Release())
	assert.False(t, l.Held())
	_, err = os.Stat(l.path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireIsReentrant(t *testing.T) {
	l := newTestLock(t)

	require.NoError(t, l.Acquire())
	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())
}

func TestAcquireEvictsDeadOwner(t *testing.T) {
	l := newTestLock(t)

	// Pid far beyond pid_max, guaranteed dead.
	require.NoError(t, os.WriteFile(l.path, []byte("999999999\n"), 0o644))

	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())
}

func TestAcquireTreatsGarbageAsStale(t *testing.T) {
	l := newTestLock(t)

	require.NoError(t, os.WriteFile(l.path, []byte("not-a-pid"), 0o644))

	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())
}

func TestAcquireTakesOverLiveOwnerAfterRetries(t *testing.T) {
	l := newTestLock(t)

	// Pid 1 is always alive; the retry budget runs out and we evict it.
	require.NoError(t, os.WriteFile(l.path, []byte("1\n"), 0o644))

	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())

	raw, err := os.ReadFile(l.path)
	require.NoError(t, err)
	assert.NotEqual(t, "1\n", string(raw))
}

func TestForceAcquireEvictsLiveOwner(t *testing.T) {
	l := newTestLock(t)

	require.NoError(t, os.WriteFile(l.path, []byte("1\n"), 0o644))

	require.NoError(t, l.ForceAcquire())
	assert.True(t, l.Held())
}

func TestReleaseLeavesForeignLeaseAlone(t *testing.T) {
	l := newTestLock(t)

	require.NoError(t, os.WriteFile(l.path, []byte("1\n"), 0o644))

	require.NoError(t, l.Release())
	raw, err := os.ReadFile(l.path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(raw))
}

func TestTouchRefreshesMtime(t *testing.T) {
	l := newTestLock(t)
	require.NoError(t, l.Acquire())

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(l.path, old, old))

	require.NoError(t, l.Touch())

	info, err := os.Stat(l.path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)
}
