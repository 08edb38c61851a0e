// Package lockfile enforces a single broker instance per daemon state
// directory. Two brokers speaking to the same daemon socket would double
// every dispatched event.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrLockAcquired = errors.New("lock already acquired")
	ErrLocked       = errors.New("another broker instance is running")
)

// staleAfter is the age past which a lock from a live PID is still considered
// abandoned (clock format: see content written in attempt).
const staleAfter = time.Hour

// Lock is a file-based lock
type Lock struct {
	path   string
	file   *os.File
	pid    int
	locked bool
}

// New creates a lock instance for the given path. ForStateDir is the usual
// entry point.
func New(path string) *Lock {
	return &Lock{path: path}
}

// ForStateDir returns the lock guarding the given state directory.
func ForStateDir(stateDir string) *Lock {
	return New(filepath.Join(stateDir, "broker.lock"))
}

// TryAcquire attempts to acquire the lock. A stale lock (dead PID or older
// than an hour) is removed and acquisition retried once.
func (l *Lock) TryAcquire() error {
	if l.locked {
		return ErrLockAcquired
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	err := l.attempt()
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	stale, reason := l.checkStale()
	if !stale {
		return fmt.Errorf("%w: %s", ErrLocked, reason)
	}

	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, removeErr)
	}
	if err := l.attempt(); err != nil {
		return fmt.Errorf("failed to create lockfile after removing stale one: %w", err)
	}
	return nil
}

// attempt creates the lockfile exclusively and writes our PID and timestamp.
func (l *Lock) attempt() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	l.file = file
	l.pid = os.Getpid()
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n", l.pid, time.Now().Format(time.RFC3339))
	if _, err := l.file.WriteString(content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

// checkStale reports whether the existing lockfile belongs to a dead or
// abandoned broker.
func (l *Lock) checkStale() (bool, string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return true, "cannot read lockfile"
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 1 {
		return true, "invalid lockfile format"
	}

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return true, "invalid PID in lockfile"
	}

	running, reason := isProcessRunning(pid)
	if !running {
		return true, reason
	}

	if len(lines) >= 2 {
		timestamp, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
		if err == nil && time.Since(timestamp) > staleAfter {
			return true, "lockfile is older than 1 hour"
		}
	}

	return false, fmt.Sprintf("process with PID %d is running", pid)
}

// ProcessRunning reports whether the PID belongs to a live process, with a
// short reason suitable for status output.
func ProcessRunning(pid int) (bool, string) {
	return isProcessRunning(pid)
}

// Release releases the lock
func (l *Lock) Release() error {
	if !l.locked {
		return nil
	}

	var err error
	if l.file != nil {
		if closeErr := l.file.Close(); closeErr != nil {
			err = closeErr
		}
		l.file = nil
	}

	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		if err != nil {
			err = fmt.Errorf("%v; failed to remove lockfile: %w", err, removeErr)
		} else {
			err = fmt.Errorf("failed to remove lockfile: %w", removeErr)
		}
	}

	l.locked = false
	return err
}

// PID returns the PID that acquired the lock
func (l *Lock) PID() int {
	return l.pid
}

// Locked returns true if the lock is held
func (l *Lock) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lock) Path() string {
	return l.path
}
