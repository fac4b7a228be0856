package kvtree

import (
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// LockFile is a thin wrapper over a raw advisory file lock, for the few
// places that need exclusive access to a path without the bbolt
// transaction machinery Locked provides — chiefly the DaemonCopier
// guarding its own PID file against a second copier starting up.
type LockFile struct {
	fl *flock.Flock
}

// NewLockFile returns a LockFile bound to path. The file is created on
// first Lock if it doesn't exist.
func NewLockFile(path string) *LockFile {
	return &LockFile{fl: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, returning
// (false, nil) if another process already holds it.
func (l *LockFile) TryLock() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, errors.Wrap(err, "kvtree: try-lock")
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *LockFile) Unlock() error {
	return l.fl.Unlock()
}
