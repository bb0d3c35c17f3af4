package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockPollInterval = 100 * time.Millisecond

// ErrLockTimeout is returned when another merge holds the target
// branch lock past the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for merge lock")

// branchLock is an advisory per-target-branch lock backed by an
// exclusively created file holding the owner PID. Locks left behind by
// dead processes are reclaimed.
type branchLock struct {
	path string
}

func lockPath(dir, branch string) string {
	name := strings.ReplaceAll(branch, "/", "-") + ".lock"
	return filepath.Join(dir, name)
}

// acquireLock takes the advisory lock for branch, polling until the
// timeout elapses or ctx is canceled.
func acquireLock(ctx context.Context, dir, branch string, timeout time.Duration) (*branchLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := lockPath(dir, branch)
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &branchLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		if pid, ok := readLockPID(path); ok && !processAlive(pid) {
			// Stale holder; reclaim and retry immediately.
			_ = os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			holder := "unknown"
			if pid, ok := readLockPID(path); ok {
				holder = strconv.Itoa(pid)
			}
			return nil, fmt.Errorf("%w: branch %s held by pid %s", ErrLockTimeout, branch, holder)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// release drops the lock.
func (l *branchLock) release() error {
	return os.Remove(l.path)
}

func readLockPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive tests pid with a zero signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
