//go:build linux

package registry

import (
	"cmp"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/hupe1980/npheap/internal/backing"
)

// Registry is the ordered collection of live objects.
type Registry struct {
	alloc  backing.Allocator
	logger *slog.Logger

	mu      sync.RWMutex
	objects []*Object // ascending by id, unique
}

// New creates an empty registry whose objects release buffers to alloc.
func New(alloc backing.Allocator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{alloc: alloc, logger: logger}
}

// Allocator returns the allocator objects acquire buffers from.
func (r *Registry) Allocator() backing.Allocator {
	return r.alloc
}

// GetOrCreate returns the object for id, inserting an unallocated one at its
// ordered position if none exists.
func (r *Registry) GetOrCreate(id uint64) *Object {
	r.mu.RLock()
	i, found := r.searchLocked(id)
	if found {
		o := r.objects[i]
		r.mu.RUnlock()
		return o
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: another caller may have inserted id in between.
	i, found = r.searchLocked(id)
	if found {
		return r.objects[i]
	}
	o := &Object{id: id}
	r.objects = slices.Insert(r.objects, i, o)
	r.logger.Debug("object created", "id", id, "position", i, "objects", len(r.objects))
	return o
}

// Find returns the object for id without creating it.
func (r *Registry) Find(id uint64) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, found := r.searchLocked(id)
	if !found {
		return nil, false
	}
	return r.objects[i], true
}

// Delete unlinks the object for id and releases its buffer. It reports false
// and changes nothing if id is absent.
func (r *Registry) Delete(id uint64) (bool, error) {
	r.mu.Lock()
	i, found := r.searchLocked(id)
	if !found {
		r.mu.Unlock()
		return false, nil
	}
	o := r.objects[i]
	r.objects = slices.Delete(r.objects, i, i+1)
	r.mu.Unlock()

	if err := o.release(r.alloc); err != nil {
		r.logger.Error("release backing failed", "id", id, "error", err)
		return true, err
	}
	r.logger.Debug("object deleted", "id", id)
	return true, nil
}

// Len returns the number of live objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Clear deletes every object and releases its buffer.
func (r *Registry) Clear() error {
	r.mu.Lock()
	objects := r.objects
	r.objects = nil
	r.mu.Unlock()

	var errs []error
	for _, o := range objects {
		if err := o.release(r.alloc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) searchLocked(id uint64) (int, bool) {
	return slices.BinarySearchFunc(r.objects, id, func(o *Object, target uint64) int {
		return cmp.Compare(o.id, target)
	})
}
