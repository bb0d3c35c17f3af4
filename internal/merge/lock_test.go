package merge

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l1, err := acquireLock(ctx, dir, "main", time.Second)
	require.NoError(t, err)

	_, err = acquireLock(ctx, dir, "main", 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, l1.release())

	l2, err := acquireLock(ctx, dir, "main", time.Second)
	require.NoError(t, err)
	require.NoError(t, l2.release())
}

func TestAcquireLock_DifferentBranchesIndependent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l1, err := acquireLock(ctx, dir, "main", time.Second)
	require.NoError(t, err)
	defer l1.release()

	l2, err := acquireLock(ctx, dir, "release/v2", time.Second)
	require.NoError(t, err)
	defer l2.release()
}

func TestAcquireLock_StaleLockReclaimed(t *testing.T) {
	dir := t.TempDir()

	// A lock held by a long-dead PID must be reclaimed immediately.
	path := lockPath(dir, "main")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0644))

	l, err := acquireLock(context.Background(), dir, "main", 500*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.release())
}

func TestAcquireLock_ContextCancel(t *testing.T) {
	dir := t.TempDir()

	l, err := acquireLock(context.Background(), dir, "main", time.Second)
	require.NoError(t, err)
	defer l.release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, err = acquireLock(ctx, dir, "main", 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockPath_SlashesFlattened(t *testing.T) {
	path := lockPath("/tmp/locks", "release/v2")
	assert.Equal(t, "/tmp/locks/release-v2.lock", path)
	assert.NotContains(t, fmt.Sprintf("%q", path[len("/tmp/locks/"):]), "/")
}
