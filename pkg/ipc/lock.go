package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
)

// Lock is an advisory, cross-process exclusive lock on a file. Acquisition
// polls rather than blocking in the kernel, so it can always be abandoned
// through its context.
type Lock struct {
	fl           *flock.Flock
	pollInterval time.Duration
}

// NewLock prepares a lock on path, creating its parent directories.
func NewLock(path string, pollInterval time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultLockPollInterval
	}
	return &Lock{
		fl:           flock.New(path),
		pollInterval: pollInterval,
	}, nil
}

func (l *Lock) Path() string {
	return l.fl.Path()
}

// TryAcquire makes a single attempt.
func (l *Lock) TryAcquire() (bool, error) {
	return l.fl.TryLock()
}

// Acquire polls until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, l.pollInterval)
	if err != nil {
		return fmt.Errorf("acquiring %s: %w", l.Path(), err)
	}
	if !ok {
		return fmt.Errorf("acquiring %s: %w", l.Path(), ctx.Err())
	}
	return nil
}

func (l *Lock) Release() error {
	return l.fl.Unlock()
}

func (l *Lock) Held() bool {
	return l.fl.Locked()
}

// WithLock runs fn while holding the lock on path. The lock is released on
// every return path.
func WithLock(ctx context.Context, path string, pollInterval time.Duration, fn func() error) (err error) {
	l, err := NewLock(path, pollInterval)
	if err != nil {
		return err
	}
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Release())
	}()
	return fn()
}

// WaitForLock blocks until the lock on path can be taken, then releases it
// straight away. It is a rendezvous with whichever process holds it.
func WaitForLock(ctx context.Context, path string, pollInterval time.Duration) error {
	return WithLock(ctx, path, pollInterval, func() error {
		return nil
	})
}

// AcquirePrimary takes the platform's handoff lock and keeps it until the
// returned Lock is released. A platform process holds it for its lifetime so
// that at most one process owns the primary resources.
func AcquirePrimary(ctx context.Context, conf Config) (*Lock, error) {
	conf = conf.withDefaults()
	path, err := conf.LockPath()
	if err != nil {
		return nil, err
	}
	l, err := NewLock(path, conf.LockPollInterval)
	if err != nil {
		return nil, err
	}
	if err := l.Acquire(ctx); err != nil {
		return nil, err
	}
	return l, nil
}
