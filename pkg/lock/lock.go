// Package lock keeps two orchestrators from mutating the same host at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("another run is in progress")

// RunLock is an exclusive, non-blocking file lock held for the duration of a run.
type RunLock struct {
	flock *flock.Flock
	path  string
}

// Acquire takes the lock at path without waiting, creating its directory if needed.
func Acquire(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("try lock on %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: lock %s is held", ErrLocked, path)
	}
	return &RunLock{flock: fl, path: path}, nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string { return l.path }

// Release unlocks. the lock file stays in place.
func (l *RunLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", l.path, err)
	}
	return nil
}
