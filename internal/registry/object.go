//go:build linux

package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/npheap/internal/backing"
)

var (
	// ErrAlreadyAllocated is returned when allocating an object that already has a buffer.
	ErrAlreadyAllocated = errors.New("registry: object already allocated")
	// ErrDeleted is returned when an object was unlinked while the caller held it.
	ErrDeleted = errors.New("registry: object deleted")
)

// Object is one heap entity.
//
// An object with Size() > 0 has a backing buffer of exactly that many bytes.
// Callers that touch the buffer hold the object's lock (Lock/Unlock) so that a
// concurrent delete cannot release it underneath them.
type Object struct {
	id uint64

	mu      sync.Mutex
	size    uint64
	backing backing.Buffer
	deleted bool
}

// ID returns the object id.
func (o *Object) ID() uint64 {
	return o.id
}

// Lock acquires the object's lock.
func (o *Object) Lock() {
	o.mu.Lock()
}

// Unlock releases the object's lock.
func (o *Object) Unlock() {
	o.mu.Unlock()
}

// Size returns the allocated size, 0 if the object has no buffer.
func (o *Object) Size() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// SizeLocked is Size for callers holding the lock.
func (o *Object) SizeLocked() uint64 {
	return o.size
}

// BackingLocked returns the buffer, nil if unallocated.
func (o *Object) BackingLocked() backing.Buffer {
	return o.backing
}

// DeletedLocked reports whether the object has been unlinked from its registry.
func (o *Object) DeletedLocked() bool {
	return o.deleted
}

// AllocateLocked acquires a buffer of size bytes from a. Allocation happens at
// most once per object; on failure the object is left untouched.
func (o *Object) AllocateLocked(a backing.Allocator, size uint64) error {
	if o.deleted {
		return ErrDeleted
	}
	if o.size > 0 {
		return fmt.Errorf("%w: id %d holds %d bytes", ErrAlreadyAllocated, o.id, o.size)
	}
	b, err := a.Acquire(size)
	if err != nil {
		return err
	}
	o.backing = b
	o.size = size
	return nil
}

// release frees the buffer and marks the object dead.
func (o *Object) release(a backing.Allocator) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.deleted = true
	if o.backing == nil {
		return nil
	}
	b := o.backing
	o.backing = nil
	o.size = 0
	return a.Release(b)
}
