//go:build linux

package npheap

import (
	"context"
	"errors"
	"sync"
)

// Heap is the client library surface over a device.
type Heap interface {
	// Lock blocks until the device-wide lock is acquired.
	Lock(ctx context.Context, id uint64) error
	// Unlock releases the device-wide lock.
	Unlock(id uint64) error
	// Alloc maps object id, allocating size bytes on first use, and returns
	// the mapped memory. size is rounded up to whole pages.
	Alloc(id uint64, size uint64) ([]byte, error)
	// GetSize returns the size of object id, or 0 if it has none.
	GetSize(id uint64) (uint64, error)
	// Delete removes object id. Deleting a missing object is not an error.
	Delete(id uint64) error
	// Close unmaps every region the client created.
	Close() error
}

// Client is a Heap over an in-process Device. Commands go through the
// dispatcher the same way a remote caller's do.
type Client struct {
	dev *Device

	mu      sync.Mutex
	regions []*Region
	closed  bool
}

var _ Heap = (*Client)(nil)

// NewClient returns a client of dev. Closing the client leaves dev open.
func NewClient(dev *Device) *Client {
	return &Client{dev: dev}
}

func (c *Client) ioctl(ctx context.Context, cmd Command, id uint64) (uint64, error) {
	req, _ := Request{ObjectID: id}.MarshalBinary()
	return c.dev.Ioctl(ctx, cmd, req)
}

// Lock implements Heap.
func (c *Client) Lock(ctx context.Context, id uint64) error {
	_, err := c.ioctl(ctx, CmdLock, id)
	return err
}

// Unlock implements Heap.
func (c *Client) Unlock(id uint64) error {
	_, err := c.ioctl(context.Background(), CmdUnlock, id)
	return err
}

// GetSize implements Heap.
func (c *Client) GetSize(id uint64) (uint64, error) {
	return c.ioctl(context.Background(), CmdGetSize, id)
}

// Delete implements Heap.
func (c *Client) Delete(id uint64) error {
	_, err := c.ioctl(context.Background(), CmdDelete, id)
	return err
}

// Alloc implements Heap. A partially installed mapping is unmapped before
// the error is returned.
func (c *Client) Alloc(id uint64, size uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	r, err := c.dev.MmapID(id, RoundUp(size, c.dev.PageSize()))
	if err != nil {
		if r != nil {
			_ = r.Unmap()
		}
		return nil, err
	}
	c.regions = append(c.regions, r)
	return r.Bytes(), nil
}

// Close implements Heap.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unmapAll(c.regions)
}

// RoundUp rounds size up to a whole number of pages.
func RoundUp(size uint64, pageSize int) int {
	ps := uint64(pageSize)
	return int((size + ps - 1) / ps * ps)
}

func unmapAll(regions []*Region) error {
	var errs []error
	for _, r := range regions {
		if err := r.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
