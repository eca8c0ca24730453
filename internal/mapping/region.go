//go:build linux

package mapping

import (
	"errors"
	"fmt"

	"github.com/hupe1980/npheap/internal/mmap"
)

// ErrNotEstablished is returned by Dup for a region that never completed a mapping.
var ErrNotEstablished = errors.New("mapping: region not established")

// Region is a reserved virtual range that pages of one object are installed into.
type Region struct {
	id        uint64
	m         *mmap.Mapping
	pageSize  int
	installed int
	size      uint64
	open      func(*Region) error
}

// NewRegion reserves whole pages covering length rounded down to the page size.
func NewRegion(id uint64, length uint64, pageSize int) (*Region, error) {
	pages := length / uint64(pageSize)
	if pages == 0 {
		return nil, fmt.Errorf("%w: %d bytes is less than one page", ErrInvalidLength, length)
	}
	m, err := mmap.Reserve(int(pages) * pageSize)
	if err != nil {
		return nil, fmt.Errorf("mapping: reserve %d pages: %w", pages, err)
	}
	return &Region{id: id, m: m, pageSize: pageSize}, nil
}

// ID returns the object id the region maps.
func (r *Region) ID() uint64 {
	return r.id
}

// Len returns the reserved length in bytes.
func (r *Region) Len() int {
	return r.m.Size()
}

// Pages returns the reserved length in pages.
func (r *Region) Pages() int {
	return r.m.Size() / r.pageSize
}

// Installed returns the number of leading pages that are mapped.
func (r *Region) Installed() int {
	return r.installed
}

// Size returns the object size recorded when the region was established.
func (r *Region) Size() uint64 {
	return r.size
}

// Bytes returns the accessible part of the region: the installed pages,
// bounded by the object size once the region is established. The slice is
// invalid after Unmap.
func (r *Region) Bytes() []byte {
	data := r.m.Bytes()
	if data == nil {
		return nil
	}
	n := r.installed * r.pageSize
	if r.size > 0 && uint64(n) > r.size {
		n = int(r.size)
	}
	return data[:n]
}

// Advise passes an access pattern hint for the reserved range.
func (r *Region) Advise(pattern mmap.AccessPattern) error {
	return r.m.Advise(pattern)
}

// OnOpen registers the callback Dup uses to set up a copy of the region.
func (r *Region) OnOpen(fn func(*Region) error) {
	r.open = fn
}

// Dup reserves a new range of the same length and runs the registered open
// callback on it. On a partial failure the new region is returned with the
// error so the caller can inspect or unmap it.
func (r *Region) Dup() (*Region, error) {
	if r.open == nil {
		return nil, ErrNotEstablished
	}
	nr, err := NewRegion(r.id, uint64(r.Len()), r.pageSize)
	if err != nil {
		return nil, err
	}
	if err := r.open(nr); err != nil {
		if errors.Is(err, ErrAgain) {
			return nr, err
		}
		_ = nr.Unmap()
		return nil, err
	}
	return nr, nil
}

// Unmap releases the virtual range. The object and its buffer are unaffected.
func (r *Region) Unmap() error {
	r.installed = 0
	return r.m.Close()
}

// Unmapped reports whether Unmap has been called.
func (r *Region) Unmapped() bool {
	return r.m.Closed()
}
