//go:build linux

package mmap

import (
	"os"
	"sync/atomic"
	"unsafe"
)

// Mapping represents a range of mapped virtual memory.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	closed atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// PageSize returns the host page size.
func PageSize() int {
	return os.Getpagesize()
}

// Reserve maps size bytes of inaccessible anonymous memory.
//
// The range is not usable until pages are installed with MapFixed.
// size must be a positive multiple of the page size.
func Reserve(size int) (*Mapping, error) {
	if size <= 0 || size%PageSize() != 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osReserve(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: size, unmap: unmapFunc}, nil
}

// MapShared maps the first size bytes of fd read-write and shared.
// Writes through the mapping are visible to every other mapping of fd.
func MapShared(fd int, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapShared(fd, size)
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: size, unmap: unmapFunc}, nil
}

// MapFixed installs length bytes of fd starting at fileOff at offset off of
// the mapping, replacing whatever was mapped there. The installed pages are
// read-write and shared with every other mapping of the same file range.
func (m *Mapping) MapFixed(off int, fd int, fileOff int64, length int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	ps := PageSize()
	if off < 0 || off%ps != 0 || fileOff < 0 || fileOff%int64(ps) != 0 {
		return ErrInvalidOffset
	}
	if length <= 0 || length%ps != 0 {
		return ErrInvalidSize
	}
	if off+length > m.size {
		return ErrOutOfBounds
	}
	return osMapFixed(m.Addr(off), fd, fileOff, length)
}

// Addr returns the address of byte off of the mapping.
func (m *Mapping) Addr(off int) unsafe.Pointer {
	return unsafe.Pointer(&m.data[off]) //nolint:gosec // address of mapped memory
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
// Accessing the slice after Close() results in undefined behavior (likely a crash).
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Closed reports whether Close has been called.
func (m *Mapping) Closed() bool {
	return m.closed.Load()
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}
