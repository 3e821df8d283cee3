// Package lock provides a pid-file lease so only one sync process runs
// against a spreadsheet at a time.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxRetries is how many times Acquire re-checks a held lease
	// before giving up.
	DefaultMaxRetries = 5

	// DefaultRetryWait is the pause between those checks.
	DefaultRetryWait = time.Second
)

// Lock is a pid-file lease. The file holds the owner's pid; liveness is
// probed with signal 0.
type Lock struct {
	path       string
	pid        int
	maxRetries int
	retryWait  time.Duration
	logger     ectologger.Logger
}

// New creates a lock over path. The lock is not held until Acquire succeeds.
func New(path string, logger ectologger.Logger) *Lock {
	return &Lock{
		path:       path,
		pid:        os.Getpid(),
		maxRetries: DefaultMaxRetries,
		retryWait:  DefaultRetryWait,
		logger:     logger,
	}
}

// Acquire takes the lease. If another live process holds it, Acquire waits
// and retries a bounded number of times, then takes the lease over anyway,
// last writer wins. A lease whose owner is dead is evicted immediately.
func (l *Lock) Acquire() error {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		ownerPid, err := l.readOwner()
		if err != nil {
			return err
		}

		if ownerPid == 0 || !processAlive(ownerPid) {
			if ownerPid != 0 {
				l.logger.WithFields(map[string]any{"stale_pid": ownerPid}).
					Warn("evicting lease held by dead process")
			}
			return l.write()
		}

		if ownerPid == l.pid {
			return nil
		}

		l.logger.WithFields(map[string]any{"owner_pid": ownerPid, "attempt": attempt + 1}).
			Info("lease held by another process, waiting")
		time.Sleep(l.retryWait)
	}

	l.logger.WithFields(map[string]any{"path": l.path, "attempts": l.maxRetries}).
		Warn("lease still held after retry budget, taking it over")
	return l.ForceAcquire()
}

// ForceAcquire takes the lease unconditionally, evicting any owner.
func (l *Lock) ForceAcquire() error {
	ownerPid, err := l.readOwner()
	if err != nil {
		return err
	}
	if ownerPid != 0 && ownerPid != l.pid {
		l.logger.WithFields(map[string]any{"owner_pid": ownerPid}).
			Warn("forcibly taking lease from live owner")
	}
	return l.write()
}

// Release removes the lease, but only if this process still owns it. Releasing
// someone else's lease is a no-op so a slow shutdown cannot kill a successor.
func (l *Lock) Release() error {
	ownerPid, err := l.readOwner()
	if err != nil {
		return err
	}
	if ownerPid != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove lease %s", l.path)
	}
	return nil
}

// Touch refreshes the lease file's mtime as a heartbeat for external
// monitoring.
func (l *Lock) Touch() error {
	now := time.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return errors.Wrapf(err, "failed to touch lease %s", l.path)
	}
	return nil
}

// Held reports whether this process currently owns the lease.
func (l *Lock) Held() bool {
	ownerPid, err := l.readOwner()
	return err == nil && ownerPid == l.pid
}

func (l *Lock) readOwner() (int, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read lease %s", l.path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		// Garbage in the file is treated as stale.
		return 0, nil
	}
	return pid, nil
}

func (l *Lock) write() error {
	if err := os.WriteFile(l.path, []byte(fmt.Sprintf("%d\n", l.pid)), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write lease %s", l.path)
	}
	return nil
}

// processAlive probes pid with signal 0. os.FindProcess never fails on unix,
// the signal itself tells us whether the process exists.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
