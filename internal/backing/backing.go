//go:build linux

package backing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/npheap/internal/physmem"
)

var (
	// ErrZeroSize is returned when a zero byte buffer is requested.
	ErrZeroSize = errors.New("backing: zero size")
	// ErrNoMemory is returned when physical memory cannot satisfy a request.
	ErrNoMemory = physmem.ErrNoMemory
	// ErrDoubleRelease is returned when a buffer is released a second time.
	ErrDoubleRelease = errors.New("backing: buffer already released")
	// ErrForeignBuffer is returned when a buffer is released to an allocator
	// that did not produce it.
	ErrForeignBuffer = errors.New("backing: buffer not owned by this allocator")
	// ErrPageOutOfRange is returned by PFN for a page past the end of a buffer.
	ErrPageOutOfRange = errors.New("backing: page out of range")
)

// Strategy selects how buffers are laid out in physical memory.
type Strategy int

const (
	// Virtual allocates frames one at a time.
	Virtual Strategy = iota
	// Pages allocates one aligned power-of-two run.
	Pages
	// Slab allocates from per-size-class slab caches.
	Slab
)

func (s Strategy) String() string {
	switch s {
	case Virtual:
		return "virtual"
	case Pages:
		return "pages"
	case Slab:
		return "slab"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name. The kernel allocator names vmalloc,
// alloc_pages and kmalloc are accepted as aliases.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "virtual", "vmalloc":
		return Virtual, nil
	case "pages", "alloc_pages":
		return Pages, nil
	case "slab", "kmalloc":
		return Slab, nil
	default:
		return 0, fmt.Errorf("backing: unknown strategy %q", name)
	}
}

// Buffer is an allocated region of physical memory.
type Buffer interface {
	// Size returns the requested size in bytes.
	Size() uint64
	// Pages returns the number of pages that cover Size.
	Pages() uint64
	// PFN returns the frame holding page i of the buffer.
	PFN(i uint64) (uint64, error)
	// Contiguous reports whether PFN(i) == PFN(0)+i for every page.
	Contiguous() bool
}

// Allocator acquires and releases buffers.
type Allocator interface {
	Acquire(size uint64) (Buffer, error)
	Release(b Buffer) error
	Strategy() Strategy
}

// New returns an allocator for the strategy backed by mem.
func New(s Strategy, mem *physmem.Memory) (Allocator, error) {
	switch s {
	case Virtual:
		return &virtualAllocator{mem: mem}, nil
	case Pages:
		return &pageAllocator{mem: mem}, nil
	case Slab:
		return newSlabAllocator(mem), nil
	default:
		return nil, fmt.Errorf("backing: unknown strategy %d", int(s))
	}
}

func pagesFor(size uint64, pageSize int) uint64 {
	ps := uint64(pageSize)
	return (size + ps - 1) / ps
}

// order returns the smallest k with 1<<k >= pages (get_order).
func order(pages uint64) uint {
	var k uint
	for uint64(1)<<k < pages {
		k++
	}
	return k
}
