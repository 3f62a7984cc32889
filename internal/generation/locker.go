package generation

import (
	"context"
	"errors"
	"sync"
)

// ErrRunInProgress is returned when another run holds the run lock
var ErrRunInProgress = errors.New("generation run already in progress")

// Locker serializes generation runs.
// Two runs must never pop the same user's carry-over concurrently.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LocalLocker serializes runs inside one process
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker creates an in-process run lock
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryLock implements Locker
func (l *LocalLocker) TryLock(_ context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Unlock implements Locker
func (l *LocalLocker) Unlock(_ context.Context) error {
	l.mu.Unlock()
	return nil
}
