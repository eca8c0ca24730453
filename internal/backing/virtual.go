//go:build linux

package backing

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/npheap/internal/physmem"
)

// virtualBuffer holds one independently allocated frame per page (vmalloc).
type virtualBuffer struct {
	owner    *virtualAllocator
	size     uint64
	frames   []uint64
	released atomic.Bool
}

func (b *virtualBuffer) Size() uint64  { return b.size }
func (b *virtualBuffer) Pages() uint64 { return uint64(len(b.frames)) }

func (b *virtualBuffer) PFN(i uint64) (uint64, error) {
	if i >= uint64(len(b.frames)) {
		return 0, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, i, len(b.frames))
	}
	return b.frames[i], nil
}

func (b *virtualBuffer) Contiguous() bool {
	for i := 1; i < len(b.frames); i++ {
		if b.frames[i] != b.frames[0]+uint64(i) {
			return false
		}
	}
	return true
}

type virtualAllocator struct {
	mem *physmem.Memory
}

func (a *virtualAllocator) Strategy() Strategy { return Virtual }

func (a *virtualAllocator) Acquire(size uint64) (Buffer, error) {
	if size == 0 {
		return nil, ErrZeroSize
	}
	pages := pagesFor(size, a.mem.PageSize())

	frames := make([]uint64, 0, pages)
	for range pages {
		pfn, err := a.mem.AllocFrame()
		if err != nil {
			if ferr := a.freeFrames(frames); ferr != nil {
				err = errors.Join(err, ferr)
			}
			return nil, fmt.Errorf("backing: %d frames for %d bytes: %w", pages, size, err)
		}
		frames = append(frames, pfn)
	}
	return &virtualBuffer{owner: a, size: size, frames: frames}, nil
}

func (a *virtualAllocator) Release(b Buffer) error {
	vb, ok := b.(*virtualBuffer)
	if !ok || vb.owner != a {
		return ErrForeignBuffer
	}
	if !vb.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}
	return a.freeFrames(vb.frames)
}

func (a *virtualAllocator) freeFrames(frames []uint64) error {
	var errs []error
	for _, pfn := range frames {
		if err := a.mem.FreeRun(pfn, 1); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
