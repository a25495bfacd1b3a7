//go:build unix

package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock wraps an open file descriptor holding (or not holding) the
// advisory exclusive lock.
type Lock struct {
	f *os.File
}

// TryAcquire opens path (creating it if needed) and attempts a
// non-blocking exclusive flock. Returns ErrLocked if another process
// already holds it.
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the underlying file. Safe to call once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
