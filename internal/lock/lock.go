// Package lock keeps two runs from writing into the same download tree.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
}

// Acquire takes an exclusive, non-blocking lock on path, creating its parent
// directory when needed.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "logfetch.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another logfetch run is already using this download directory (lock: %s)", path)
	}
	return &Lock{file: lock}, nil
}

// Path is the lock file location.
func (l *Lock) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Path()
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
