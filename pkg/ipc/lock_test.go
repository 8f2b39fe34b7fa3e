package ipc

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "lock")

	first, err := NewLock(path, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, first.Acquire(context.Background()))
	assert.True(t, first.Held())

	second, err := NewLock(path, 5*time.Millisecond)
	require.NoError(t, err)

	ok, err := second.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = second.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Release())

	ok, err = second.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release())
}

func TestWaitForLockBlocksUntilRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary-key")

	holder, err := NewLock(path, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(context.Background()))

	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		released <- time.Now()
		holder.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, WaitForLock(ctx, path, 5*time.Millisecond))
	at := <-released
	assert.False(t, time.Now().Before(at))

	// released again straight away
	ok, err := holder.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, holder.Release())
}

func TestWithLockReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	boom := errors.New("boom")
	err := WithLock(context.Background(), path, time.Millisecond, func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	l, err := NewLock(path, time.Millisecond)
	require.NoError(t, err)
	ok, err := l.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release())
}

func TestAcquirePrimary(t *testing.T) {
	conf := Config{PlatformDir: t.TempDir(), LockPollInterval: time.Millisecond}

	l, err := AcquirePrimary(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(conf.PlatformDir, "corestores", "platform", "primary-key"), l.Path())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = AcquirePrimary(ctx, conf)
	assert.Error(t, err)

	require.NoError(t, l.Release())
}
