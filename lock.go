//go:build linux

package npheap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// exclusion is the device-wide advisory lock. It carries no owner: any
// caller may release a lock taken by another.
type exclusion struct {
	sem     *semaphore.Weighted
	held    atomic.Bool
	timeout time.Duration

	// life is canceled by close and wakes every waiter.
	life     context.Context
	shutdown context.CancelFunc
}

func newExclusion(timeout time.Duration) *exclusion {
	life, shutdown := context.WithCancel(context.Background())
	return &exclusion{
		sem:      semaphore.NewWeighted(1),
		timeout:  timeout,
		life:     life,
		shutdown: shutdown,
	}
}

// lock blocks until the lock is free, ctx is done, the timeout elapses or the
// exclusion is closed.
func (e *exclusion) lock(ctx context.Context) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.life, cancel)
	defer stop()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		if e.life.Err() != nil {
			return fmt.Errorf("npheap: lock: %w", ErrClosed)
		}
		return fmt.Errorf("npheap: lock: %w", err)
	}
	e.held.Store(true)
	return nil
}

// close fails every pending and future lock with ErrClosed.
func (e *exclusion) close() {
	e.shutdown()
}

// unlock releases the lock and reports whether it was held. Releasing a
// free lock does nothing.
func (e *exclusion) unlock() bool {
	if !e.held.CompareAndSwap(true, false) {
		return false
	}
	e.sem.Release(1)
	return true
}

// locked reports whether the lock is currently held.
func (e *exclusion) locked() bool {
	return e.held.Load()
}
