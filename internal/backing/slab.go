//go:build linux

package backing

import (
	"fmt"
	"sync"

	"github.com/hupe1980/npheap/internal/physmem"
)

const (
	// MaxSlabPages is the largest size class, in pages (KMALLOC_MAX_SIZE with 4 KiB pages).
	MaxSlabPages = 1024
	// slabTargetPages is the preferred slab size; classes at or above it get one slot per slab.
	slabTargetPages = 32
)

type slab struct {
	first uint64
	free  []uint64 // free slot indexes
	inUse int
}

type slabCache struct {
	classPages uint64
	slots      uint64
	slabs      []*slab
}

// slabAllocator serves buffers from per-size-class caches (kmalloc).
type slabAllocator struct {
	mem    *physmem.Memory
	mu     sync.Mutex
	caches map[uint]*slabCache // by order
}

func newSlabAllocator(mem *physmem.Memory) *slabAllocator {
	return &slabAllocator{mem: mem, caches: make(map[uint]*slabCache)}
}

func (a *slabAllocator) Strategy() Strategy { return Slab }

func (a *slabAllocator) Acquire(size uint64) (Buffer, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}
	pages := pagesFor(size, a.mem.PageSize())
	if pages > MaxSlabPages {
		return nil, fmt.Errorf("backing: %d bytes exceeds largest slab class: %w", size, ErrNoMemory)
	}
	k := order(pages)

	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.cacheLocked(k)
	s, err := a.slabWithRoomLocked(c)
	if err != nil {
		return nil, fmt.Errorf("backing: slab class %d pages for %d bytes: %w", c.classPages, size, err)
	}

	slot := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.inUse++

	return &slabBuffer{
		contiguousBuffer: contiguousBuffer{
			owner:    a,
			size:     size,
			pages:    pages,
			first:    s.first + slot*c.classPages,
			reserved: c.classPages,
		},
		order: k,
		slab:  s,
		slot:  slot,
	}, nil
}

func (a *slabAllocator) Release(b Buffer) error {
	sb, ok := b.(*slabBuffer)
	if !ok || sb.owner != a {
		return ErrForeignBuffer
	}
	if !sb.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := a.caches[sb.order]
	s := sb.slab
	s.inUse--

	if s.inUse == 0 && len(c.slabs) > 1 {
		for i, other := range c.slabs {
			if other == s {
				c.slabs = append(c.slabs[:i], c.slabs[i+1:]...)
				break
			}
		}
		return a.mem.FreeRun(s.first, c.slots*c.classPages)
	}

	// kzalloc semantics: the next owner of the slot must read zeroes.
	a.mem.Zero(sb.first, c.classPages)
	s.free = append(s.free, sb.slot)
	return nil
}

func (a *slabAllocator) cacheLocked(k uint) *slabCache {
	c, ok := a.caches[k]
	if !ok {
		classPages := uint64(1) << k
		slots := uint64(1)
		if classPages < slabTargetPages {
			slots = slabTargetPages / classPages
		}
		c = &slabCache{classPages: classPages, slots: slots}
		a.caches[k] = c
	}
	return c
}

func (a *slabAllocator) slabWithRoomLocked(c *slabCache) (*slab, error) {
	for _, s := range c.slabs {
		if len(s.free) > 0 {
			return s, nil
		}
	}

	first, err := a.mem.AllocRun(c.slots*c.classPages, c.classPages)
	if err != nil {
		return nil, err
	}
	s := &slab{first: first, free: make([]uint64, 0, c.slots)}
	for i := c.slots; i > 0; i-- {
		s.free = append(s.free, i-1)
	}
	c.slabs = append(c.slabs, s)
	return s, nil
}

type slabBuffer struct {
	contiguousBuffer
	order uint
	slab  *slab
	slot  uint64
}
