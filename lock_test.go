//go:build linux

package npheap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLock(t *testing.T) {
	t.Run("SecondLockBlocks", func(t *testing.T) {
		dev := openDevice(t)
		ctx := t.Context()

		require.NoError(t, dev.Lock(ctx, 1))
		assert.True(t, dev.Stats().Locked)

		acquired := make(chan error, 1)
		go func() { acquired <- dev.Lock(ctx, 2) }()

		select {
		case <-acquired:
			t.Fatal("second Lock returned while the lock was held")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, dev.Unlock(1))

		select {
		case err := <-acquired:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("second Lock did not return after Unlock")
		}
		require.NoError(t, dev.Unlock(2))
		assert.False(t, dev.Stats().Locked)
	})

	t.Run("GlobalAcrossIDs", func(t *testing.T) {
		dev := openDevice(t, WithLockTimeout(20*time.Millisecond))

		require.NoError(t, dev.Lock(t.Context(), 1))
		err := dev.Lock(t.Context(), 99)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, unix.ETIMEDOUT, Errno(err))
		require.NoError(t, dev.Unlock(1))
	})

	t.Run("UnlockByAnotherCaller", func(t *testing.T) {
		dev := openDevice(t)

		require.NoError(t, dev.Lock(t.Context(), 1))

		done := make(chan error, 1)
		go func() { done <- dev.Unlock(2) }()
		require.NoError(t, <-done)

		require.NoError(t, dev.Lock(t.Context(), 3))
		require.NoError(t, dev.Unlock(3))
	})

	t.Run("UnlockWithoutLock", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		dev := openDevice(t, WithMetrics(metrics))

		require.NoError(t, dev.Unlock(1))
		require.NoError(t, dev.Unlock(1))
		assert.Equal(t, int64(2), metrics.GetStats().UnlockCount)

		// The stray unlocks must not leave extra capacity behind.
		require.NoError(t, dev.Lock(t.Context(), 1))
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, dev.Lock(ctx, 1), context.DeadlineExceeded)
		require.NoError(t, dev.Unlock(1))
	})

	t.Run("CanceledWait", func(t *testing.T) {
		dev := openDevice(t)
		require.NoError(t, dev.Lock(t.Context(), 1))

		ctx, cancel := context.WithCancel(t.Context())
		errc := make(chan error, 1)
		go func() { errc <- dev.Lock(ctx, 1) }()
		cancel()

		err := <-errc
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, unix.EINTR, Errno(err))
		require.NoError(t, dev.Unlock(1))
	})

	t.Run("DoesNotSerializeOtherCommands", func(t *testing.T) {
		dev := openDevice(t)
		require.NoError(t, dev.Lock(t.Context(), 1))

		mapID(t, dev, 1, dev.PageSize())
		assert.Equal(t, uint64(dev.PageSize()), dev.GetSize(1))
		_, err := dev.Delete(1)
		require.NoError(t, err)

		require.NoError(t, dev.Unlock(1))
	})

	t.Run("CloseWakesWaiters", func(t *testing.T) {
		dev := openDevice(t)
		require.NoError(t, dev.Lock(t.Context(), 1))

		errc := make(chan error, 1)
		go func() { errc <- dev.Lock(context.Background(), 2) }()

		select {
		case <-errc:
			t.Fatal("Lock returned while the lock was held")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, dev.Close())
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrClosed)
			assert.Equal(t, unix.EBADF, Errno(err))
		case <-time.After(5 * time.Second):
			t.Fatal("Close did not wake the pending Lock")
		}
		assert.ErrorIs(t, dev.Lock(context.Background(), 3), ErrClosed)
	})
}
