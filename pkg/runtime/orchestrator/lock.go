package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrStateDirLocked is returned when another process holds the state
// directory.
var ErrStateDirLocked = errors.New("state directory is locked by another hostd process")

// StateLock is an advisory exclusive lock on <stateDir>/hostd.lock.
type StateLock struct {
	f *os.File
}

// LockStateDir takes the lock without blocking.
func LockStateDir(stateDir string) (*StateLock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	path := filepath.Join(stateDir, "hostd.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrStateDirLocked, path, err)
	}

	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &StateLock{f: f}, nil
}

// Release drops the lock. Safe on nil and repeated calls.
func (l *StateLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := errors.Join(unlockFile(l.f), l.f.Close())
	l.f = nil
	return err
}
