//go:build linux

package npheap

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/npheap/internal/backing"
	"github.com/hupe1980/npheap/internal/mapping"
	"github.com/hupe1980/npheap/internal/physmem"
	"github.com/hupe1980/npheap/internal/registry"
)

// Region is a mapped view of one object. See Device.Mmap.
type Region = mapping.Region

// Plan lists the physical frames backing a mapping. See Device.Resolve.
type Plan = mapping.Plan

// Device is an in-process heap of objects backed by one pool of physical
// memory. All methods are safe for concurrent use.
type Device struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector
	mem     *physmem.Memory
	reg     *registry.Registry
	svc     *mapping.Service
	excl    *exclusion
	closed  atomic.Bool
}

// Stats describes the state of a Device.
type Stats struct {
	Strategy   Strategy
	PageSize   int
	Objects    int
	Frames     uint64
	FreeFrames uint64
	Locked     bool
}

// FramesInUse returns the number of frames held by object buffers.
func (s Stats) FramesInUse() uint64 {
	return s.Frames - s.FreeFrames
}

// Open creates a Device with its own physical memory pool.
func Open(optFns ...Option) (*Device, error) {
	opts := applyOptions(optFns)

	mem, err := physmem.New(opts.capacity, func(o *physmem.Options) {
		o.Logger = opts.logger.Logger
		o.ManualZero = !opts.punchHole
	})
	if err != nil {
		return nil, fmt.Errorf("npheap: physical memory: %w", err)
	}

	alloc, err := backing.New(opts.strategy, mem)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	reg := registry.New(alloc, opts.logger.Logger)
	svc := mapping.NewService(reg, mem.FD(), mem.PageSize(), func(o *mapping.Options) {
		o.Installer = opts.installer
		o.Logger = opts.logger.Logger
	})

	d := &Device{
		opts:    opts,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
		mem:     mem,
		reg:     reg,
		svc:     svc,
		excl:    newExclusion(opts.lockTimeout),
	}

	d.logger.Info("device opened",
		"strategy", opts.strategy.String(),
		"capacity", opts.capacity,
		"page_size", mem.PageSize(),
		"frames", mem.Frames(),
	)
	return d, nil
}

// Close releases every object and the physical memory pool. Pending Lock
// calls return ErrClosed. Regions that are still mapped keep their pages but
// no longer share them with new mappings.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.excl.close()
	err := d.reg.Clear()
	if cerr := d.mem.Close(); err == nil {
		err = cerr
	}
	return err
}

// PageSize returns the page size mappings are made in.
func (d *Device) PageSize() int {
	return d.mem.PageSize()
}

// FD returns the memfd holding the physical memory pool. It stays owned by
// the Device.
func (d *Device) FD() int {
	return d.mem.FD()
}

// Strategy returns the backing allocator the Device was opened with.
func (d *Device) Strategy() Strategy {
	return d.opts.strategy
}

// Mmap maps length bytes of the object whose id is offset divided by the page
// size, allocating the object's buffer on first use. offset must be page
// aligned. length is walked in whole pages and rounded down.
//
// An error matching ErrAgain comes with the partially installed Region, which
// the caller must Unmap. Other errors return no Region.
func (d *Device) Mmap(offset int64, length int) (*Region, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	ps := int64(d.PageSize())
	if offset < 0 || offset%ps != 0 {
		return nil, fmt.Errorf("%w: offset %d is not page aligned", ErrInvalidArgument, offset)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidArgument, length)
	}
	id := uint64(offset / ps)

	start := time.Now()
	r, err := d.svc.Map(id, uint64(length))
	err = translateError(err)

	installed := 0
	if r != nil {
		installed = r.Installed()
	}
	d.metrics.RecordMap(time.Since(start), installed, err)
	d.logger.LogMap(context.Background(), id, length, installed, err)

	return r, err
}

// MmapID is Mmap for object id.
func (d *Device) MmapID(id uint64, length int) (*Region, error) {
	return d.Mmap(int64(id)*int64(d.PageSize()), length)
}

// Resolve allocates the buffer of object id if needed and returns the frames
// for the first length bytes without mapping them. A caller holding the
// memfd installs the plan with mapping.Install.
func (d *Device) Resolve(id uint64, length uint64) (*Plan, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	plan, err := d.svc.Resolve(id, length)
	if err != nil {
		err = translateError(err)
		d.logger.LogMap(context.Background(), id, int(length), 0, err)
		return nil, err
	}
	return plan, nil
}

// Lock acquires the device-wide lock, blocking until it is free. id is not
// used to scope the lock. The wait ends early if ctx is done or the
// configured lock timeout elapses.
func (d *Device) Lock(ctx context.Context, id uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	err := d.excl.lock(ctx)
	d.metrics.RecordLock(time.Since(start), err)
	d.logger.LogLock(ctx, id, err)
	return err
}

// Unlock releases the device-wide lock regardless of who took it. Unlocking
// a free lock is logged and otherwise ignored.
func (d *Device) Unlock(id uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	held := d.excl.unlock()
	d.metrics.RecordUnlock()
	d.logger.LogUnlock(context.Background(), id, held)
	return nil
}

// GetSize returns the allocated size of object id, or 0 if it does not exist
// or has no buffer. It never creates an object.
func (d *Device) GetSize(id uint64) uint64 {
	d.metrics.RecordGetSize()
	if d.closed.Load() {
		return 0
	}
	o, ok := d.reg.Find(id)
	if !ok {
		return 0
	}
	return o.Size()
}

// Delete removes object id and frees its buffer. It reports whether the object
// existed. Mapped regions of the object keep their pages, which may be handed
// to another object later.
func (d *Device) Delete(id uint64) (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}
	found, err := d.reg.Delete(id)
	err = translateError(err)
	d.metrics.RecordDelete(found)
	d.logger.LogDelete(context.Background(), id, found, err)
	return found, err
}

// Stats returns a snapshot of the Device.
func (d *Device) Stats() Stats {
	return Stats{
		Strategy:   d.opts.strategy,
		PageSize:   d.mem.PageSize(),
		Objects:    d.reg.Len(),
		Frames:     d.mem.Frames(),
		FreeFrames: d.mem.FreeFrames(),
		Locked:     d.excl.locked(),
	}
}
