//go:build linux

package backing

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/npheap/internal/physmem"
)

// contiguousBuffer is a run of frames starting at first.
type contiguousBuffer struct {
	owner    Allocator
	size     uint64
	pages    uint64
	first    uint64
	reserved uint64 // frames held, >= pages
	released atomic.Bool
}

func (b *contiguousBuffer) Size() uint64     { return b.size }
func (b *contiguousBuffer) Pages() uint64    { return b.pages }
func (b *contiguousBuffer) Contiguous() bool { return true }

func (b *contiguousBuffer) PFN(i uint64) (uint64, error) {
	if i >= b.pages {
		return 0, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, i, b.pages)
	}
	return b.first + i, nil
}

// pageAllocator hands out naturally aligned power-of-two runs (alloc_pages).
type pageAllocator struct {
	mem *physmem.Memory
}

func (a *pageAllocator) Strategy() Strategy { return Pages }

func (a *pageAllocator) Acquire(size uint64) (Buffer, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}
	pages := pagesFor(size, a.mem.PageSize())
	n := uint64(1) << order(pages)

	first, err := a.mem.AllocRun(n, n)
	if err != nil {
		return nil, fmt.Errorf("backing: order-%d run for %d bytes: %w", order(pages), size, err)
	}
	return &contiguousBuffer{owner: a, size: size, pages: pages, first: first, reserved: n}, nil
}

func (a *pageAllocator) Release(b Buffer) error {
	cb, ok := b.(*contiguousBuffer)
	if !ok || cb.owner != a {
		return ErrForeignBuffer
	}
	if !cb.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}
	return a.mem.FreeRun(cb.first, cb.reserved)
}
