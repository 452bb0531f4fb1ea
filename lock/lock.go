// Package lock provides cross-process mutual exclusion for host-side
// state files shared with other tooling, such as the kubeconfig store.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 100 * time.Millisecond

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// WithLock acquires the lock, calls fn, and releases the lock even when
// fn fails.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}

var _ Locker = (*FileLock)(nil)

// FileLock implements Locker with flock(2). Lock files are long-lived
// and never deleted after use.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates a FileLock on the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Lock acquires an exclusive flock, blocking until it is available or
// the context is done.
func (l *FileLock) Lock(ctx context.Context) error {
	locked, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("acquire flock %s: context done", l.fl.Path())
	}
	return nil
}

// Unlock releases the flock.
func (l *FileLock) Unlock(_ context.Context) error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release flock %s: %w", l.fl.Path(), err)
	}
	return nil
}
