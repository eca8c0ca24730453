//go:build linux

package backing

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/hupe1980/npheap/internal/physmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ps = uint64(os.Getpagesize())

// readBuffer copies len(p) bytes of b starting at off into p through the kernel view.
func readBuffer(mem *physmem.Memory, b Buffer, p []byte, off uint64) error {
	return walk(mem, b, len(p), off, func(frame []byte, n int) {
		copy(p[n:], frame)
	})
}

// writeBuffer copies p into b starting at off through the kernel view.
func writeBuffer(mem *physmem.Memory, b Buffer, p []byte, off uint64) error {
	return walk(mem, b, len(p), off, func(frame []byte, n int) {
		copy(frame, p[n:])
	})
}

func walk(mem *physmem.Memory, b Buffer, length int, off uint64, fn func(frame []byte, n int)) error {
	if off+uint64(length) > b.Size() {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrPageOutOfRange, off, off+uint64(length), b.Size())
	}
	ps := uint64(mem.PageSize())
	for n := 0; n < length; {
		pos := off + uint64(n)
		pfn, err := b.PFN(pos / ps)
		if err != nil {
			return err
		}
		frame := mem.Frame(pfn)[pos%ps:]
		if rest := length - n; len(frame) > rest {
			frame = frame[:rest]
		}
		fn(frame, n)
		n += len(frame)
	}
	return nil
}

func newMemory(t *testing.T, frames uint64) *physmem.Memory {
	t.Helper()
	mem, err := physmem.New(int64(frames * ps))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func newAllocator(t *testing.T, s Strategy, frames uint64) (Allocator, *physmem.Memory) {
	t.Helper()
	mem := newMemory(t, frames)
	a, err := New(s, mem)
	require.NoError(t, err)
	require.Equal(t, s, a.Strategy())
	return a, mem
}

var strategies = []Strategy{Virtual, Pages, Slab}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"virtual", Virtual},
		{"vmalloc", Virtual},
		{"Pages", Pages},
		{"alloc_pages", Pages},
		{" slab ", Slab},
		{"kmalloc", Slab},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParseStrategy("buddy")
	assert.Error(t, err)
}

func TestAllocator_RoundTripAcrossPages(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			a, mem := newAllocator(t, s, 64)

			size := 3*ps + 100
			b, err := a.Acquire(size)
			require.NoError(t, err)
			assert.Equal(t, size, b.Size())
			assert.Equal(t, uint64(4), b.Pages())

			got := make([]byte, size)
			require.NoError(t, readBuffer(mem, b, got, 0))
			assert.Equal(t, make([]byte, size), got, "acquired buffer must be zero-filled")

			pattern := bytes.Repeat([]byte("0123456789"), 200)
			off := ps - 7 // straddles the first page boundary
			require.NoError(t, writeBuffer(mem, b, pattern, off))

			back := make([]byte, len(pattern))
			require.NoError(t, readBuffer(mem, b, back, off))
			assert.Equal(t, pattern, back)

			assert.ErrorIs(t, readBuffer(mem, b, make([]byte, 2), size-1), ErrPageOutOfRange)
			_, err = b.PFN(b.Pages())
			assert.ErrorIs(t, err, ErrPageOutOfRange)

			require.NoError(t, a.Release(b))
		})
	}
}

func TestAllocator_ZeroSize(t *testing.T) {
	for _, s := range strategies {
		a, _ := newAllocator(t, s, 4)
		_, err := a.Acquire(0)
		assert.ErrorIs(t, err, ErrZeroSize, s.String())
	}
}

func TestAllocator_DoubleRelease(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			a, mem := newAllocator(t, s, 64)
			free := mem.FreeFrames()

			b, err := a.Acquire(2 * ps)
			require.NoError(t, err)
			require.NoError(t, a.Release(b))
			assert.ErrorIs(t, a.Release(b), ErrDoubleRelease)

			if s != Slab {
				// Slab keeps its first slab cached.
				assert.Equal(t, free, mem.FreeFrames())
			}
		})
	}
}

func TestAllocator_ForeignBuffer(t *testing.T) {
	a1, _ := newAllocator(t, Pages, 8)
	a2, _ := newAllocator(t, Pages, 8)
	v, _ := newAllocator(t, Virtual, 8)

	b, err := a1.Acquire(ps)
	require.NoError(t, err)
	assert.ErrorIs(t, a2.Release(b), ErrForeignBuffer)
	assert.ErrorIs(t, v.Release(b), ErrForeignBuffer)
	require.NoError(t, a1.Release(b))
}

func TestPages_AlignedPowerOfTwo(t *testing.T) {
	a, mem := newAllocator(t, Pages, 16)

	b1, err := a.Acquire(ps)
	require.NoError(t, err)

	// Three pages round up to an order-2 run aligned to 4 frames.
	b2, err := a.Acquire(3 * ps)
	require.NoError(t, err)
	first, err := b2.PFN(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first%4)
	assert.True(t, b2.Contiguous())
	for i := uint64(0); i < b2.Pages(); i++ {
		pfn, err := b2.PFN(i)
		require.NoError(t, err)
		assert.Equal(t, first+i, pfn)
	}
	assert.Equal(t, uint64(16-1-4), mem.FreeFrames())

	require.NoError(t, a.Release(b2))
	require.NoError(t, a.Release(b1))
	assert.Equal(t, uint64(16), mem.FreeFrames())
}

func TestPages_OutOfMemory(t *testing.T) {
	a, mem := newAllocator(t, Pages, 4)

	_, err := a.Acquire(5 * ps)
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.Equal(t, uint64(4), mem.FreeFrames())
}

func TestVirtual_NonContiguousFrames(t *testing.T) {
	a, mem := newAllocator(t, Virtual, 64)

	// Fragment physical memory: hold every even frame.
	var holds []Buffer
	for range 32 {
		h, err := a.Acquire(ps)
		require.NoError(t, err)
		_, err = a.Acquire(ps)
		require.NoError(t, err)
		holds = append(holds, h)
	}
	for _, h := range holds {
		require.NoError(t, a.Release(h))
	}
	require.Equal(t, uint64(32), mem.FreeFrames())

	size := uint64(100000)
	b, err := a.Acquire(size)
	require.NoError(t, err)
	assert.False(t, b.Contiguous())

	// Every page lands on its own frame and writes through the frame are
	// visible at the right buffer offset.
	seen := make(map[uint64]bool)
	for i := uint64(0); i < b.Pages(); i++ {
		pfn, err := b.PFN(i)
		require.NoError(t, err)
		assert.False(t, seen[pfn])
		seen[pfn] = true
		mem.Frame(pfn)[0] = byte(i + 1)
	}
	for i := uint64(0); i < b.Pages(); i++ {
		got := make([]byte, 1)
		require.NoError(t, readBuffer(mem, b, got, i*ps))
		assert.Equal(t, byte(i+1), got[0])
	}
}

func TestVirtual_OutOfMemoryReleasesPartial(t *testing.T) {
	a, mem := newAllocator(t, Virtual, 4)

	_, err := a.Acquire(5 * ps)
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.Equal(t, uint64(4), mem.FreeFrames())
}

func TestSlab_ReusesZeroedSlots(t *testing.T) {
	a, mem := newAllocator(t, Slab, 128)

	b1, err := a.Acquire(ps)
	require.NoError(t, err)
	b2, err := a.Acquire(ps)
	require.NoError(t, err)

	// One slab of 32 single-page slots serves both.
	assert.Equal(t, uint64(128-slabTargetPages), mem.FreeFrames())
	p1, _ := b1.PFN(0)
	p2, _ := b2.PFN(0)
	assert.Equal(t, p1+1, p2)

	require.NoError(t, writeBuffer(mem, b1, []byte("stale"), 0))
	require.NoError(t, a.Release(b1))

	b3, err := a.Acquire(100)
	require.NoError(t, err)
	p3, _ := b3.PFN(0)
	assert.Equal(t, p1, p3, "freed slot is reused")

	got := make([]byte, 5)
	require.NoError(t, readBuffer(mem, b3, got, 0))
	assert.Equal(t, make([]byte, 5), got)
}

func TestSlab_ReturnsEmptyExtraSlabs(t *testing.T) {
	a, mem := newAllocator(t, Slab, 256)

	// Class of 16 pages holds two slots per slab.
	var bufs []Buffer
	for range 4 {
		b, err := a.Acquire(16 * ps)
		require.NoError(t, err)
		assert.True(t, b.Contiguous())
		bufs = append(bufs, b)
	}
	assert.Equal(t, uint64(256-64), mem.FreeFrames())

	for _, b := range bufs {
		require.NoError(t, a.Release(b))
	}
	// One slab stays cached.
	assert.Equal(t, uint64(256-32), mem.FreeFrames())
}

func TestSlab_TooLarge(t *testing.T) {
	a, _ := newAllocator(t, Slab, 8)

	_, err := a.Acquire((MaxSlabPages + 1) * ps)
	assert.ErrorIs(t, err, ErrNoMemory)
}
