//go:build linux

package physmem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/npheap/internal/mmap"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoMemory is returned when no free run of the requested length exists.
	ErrNoMemory = errors.New("physmem: out of memory")
	// ErrBadFrame is returned when a frame range is outside the memory or not allocated.
	ErrBadFrame = errors.New("physmem: bad frame range")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("physmem: memory is closed")
)

// Options configures a Memory.
type Options struct {
	// Logger receives decommit diagnostics. Nil discards.
	Logger *slog.Logger
	// ManualZero clears freed frames through the kernel view instead of
	// punching holes in the memfd.
	ManualZero bool
}

// Memory is a memfd-backed pool of page frames.
type Memory struct {
	file     *os.File
	pageSize int
	frames   uint64
	view     *mmap.Mapping
	logger   *slog.Logger
	zeroOnly bool

	mu     sync.Mutex
	free   *roaring.Bitmap
	closed bool
}

// New creates a Memory of capacity bytes rounded down to whole pages.
func New(capacity int64, optFns ...func(*Options)) (*Memory, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pageSize := mmap.PageSize()
	frames := uint64(capacity) / uint64(pageSize)
	if capacity <= 0 || frames == 0 {
		return nil, fmt.Errorf("physmem: capacity %d is smaller than one page", capacity)
	}
	if frames > 1<<32 {
		return nil, fmt.Errorf("physmem: capacity %d exceeds %d frames", capacity, uint64(1)<<32)
	}

	fd, err := unix.MemfdCreate("npheap", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("physmem: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "npheap-memfd")

	size := int64(frames) * int64(pageSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		file.Close()
		return nil, fmt.Errorf("physmem: ftruncate: %w", err)
	}

	view, err := mmap.MapShared(fd, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("physmem: map kernel view: %w", err)
	}

	free := roaring.New()
	free.AddRange(0, frames)

	return &Memory{
		file:     file,
		pageSize: pageSize,
		frames:   frames,
		view:     view,
		logger:   opts.Logger,
		zeroOnly: opts.ManualZero,
		free:     free,
	}, nil
}

// FD returns the memfd. It stays owned by the Memory.
func (m *Memory) FD() int {
	return int(m.file.Fd())
}

// PageSize returns the frame size in bytes.
func (m *Memory) PageSize() int {
	return m.pageSize
}

// Frames returns the total number of frames.
func (m *Memory) Frames() uint64 {
	return m.frames
}

// FreeFrames returns the number of unallocated frames.
func (m *Memory) FreeFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free.GetCardinality()
}

// AllocFrame allocates the lowest free frame.
func (m *Memory) AllocFrame() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if m.free.IsEmpty() {
		return 0, ErrNoMemory
	}
	pfn := m.free.Minimum()
	m.free.Remove(pfn)
	return uint64(pfn), nil
}

// AllocRun allocates n contiguous frames whose first PFN is a multiple of align.
func (m *Memory) AllocRun(n, align uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: empty run", ErrBadFrame)
	}
	if align == 0 {
		align = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if m.free.GetCardinality() < n {
		return 0, ErrNoMemory
	}

	start := (uint64(m.free.Minimum()) + align - 1) / align * align
	for s := start; s+n <= m.frames; s += align {
		if m.freeInLocked(s, s+n) == n {
			m.free.RemoveRange(s, s+n)
			return s, nil
		}
	}
	return 0, ErrNoMemory
}

// FreeRun returns n frames starting at first. Every frame in the run must be
// allocated; a partially free run is rejected without changes.
func (m *Memory) FreeRun(first, n uint64) error {
	if n == 0 || first+n > m.frames || first+n < first {
		return fmt.Errorf("%w: [%d, %d)", ErrBadFrame, first, first+n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.freeInLocked(first, first+n) != 0 {
		return fmt.Errorf("%w: [%d, %d) not allocated", ErrBadFrame, first, first+n)
	}

	m.decommitLocked(first, n)
	m.free.AddRange(first, first+n)
	return nil
}

// Frame returns the kernel view of one frame.
func (m *Memory) Frame(pfn uint64) []byte {
	off := pfn * uint64(m.pageSize)
	return m.view.Bytes()[off : off+uint64(m.pageSize)]
}

// Run returns the kernel view of n contiguous frames.
func (m *Memory) Run(first, n uint64) []byte {
	off := first * uint64(m.pageSize)
	return m.view.Bytes()[off : off+n*uint64(m.pageSize)]
}

// Zero clears n frames starting at first.
func (m *Memory) Zero(first, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.decommitLocked(first, n)
}

// Close unmaps the kernel view and closes the memfd. Existing mappings of the
// memfd in this or other processes remain valid.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.view.Close()
	if cerr := m.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// freeInLocked counts free frames in [lo, hi).
func (m *Memory) freeInLocked(lo, hi uint64) uint64 {
	if hi == 0 {
		return 0
	}
	n := m.free.Rank(uint32(hi - 1))
	if lo > 0 {
		n -= m.free.Rank(uint32(lo - 1))
	}
	return n
}

func (m *Memory) decommitLocked(first, n uint64) {
	if !m.zeroOnly {
		// "After a successful call, subsequent reads from this range will
		// return zeroes." - fallocate(2)
		err := unix.Fallocate(
			m.FD(),
			unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
			int64(first)*int64(m.pageSize),
			int64(n)*int64(m.pageSize))
		if err == nil {
			return
		}
		m.logger.Warn("punch hole failed, zeroing frames manually",
			"first", first, "frames", n, "error", err)
	}
	clear(m.Run(first, n))
}
