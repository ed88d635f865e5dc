package main

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the single-process export lock in the data directory.
const LockFileName = "capture.lock"

// acquireLock takes the export lock without blocking. Only one process may
// drive exports against a staging database at a time.
func acquireLock(baseDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(baseDir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another capture process holds %s", lock.Path())
	}
	return lock, nil
}
