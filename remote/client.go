//go:build linux

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/hupe1980/npheap"
	"github.com/hupe1980/npheap/internal/mapping"
	"github.com/hupe1980/npheap/internal/protocol"
)

// ErrNoMemfd is returned by Dial when the server's hello carries no file
// descriptor.
var ErrNoMemfd = errors.New("remote: server did not pass a memfd")

// Client is a Heap backed by a Device in another process. It is safe for
// concurrent use.
//
// Lock requests travel on a second connection so that a Lock waiting for the
// server never delays Unlock or any other request of the same client.
type Client struct {
	path     string
	conn     *net.UnixConn
	memfd    int
	pageSize int

	// lockSem admits one Lock request onto lockConn at a time.
	lockSem *semaphore.Weighted

	// mu serializes requests on conn; the protocol has one outstanding
	// request per connection. It also guards lockConn, which is dialed on
	// the first Lock.
	mu       sync.Mutex
	lockConn *net.UnixConn
	regions  []*npheap.Region
	closed   bool
}

var _ npheap.Heap = (*Client)(nil)

// Dial connects to the server listening on the unix socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	conn, hello, memfd, err := connect(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Client{
		path:     path,
		conn:     conn,
		memfd:    memfd,
		pageSize: int(hello.PageSize),
		lockSem:  semaphore.NewWeighted(1),
	}, nil
}

func connect(ctx context.Context, path string) (*net.UnixConn, protocol.Hello, int, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, protocol.Hello{}, -1, fmt.Errorf("remote: dial: %w", err)
	}
	conn := c.(*net.UnixConn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	hello, memfd, err := readHello(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, protocol.Hello{}, -1, err
	}
	return conn, hello, memfd, nil
}

func readHello(conn *net.UnixConn) (protocol.Hello, int, error) {
	buf := make([]byte, protocol.HelloSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return protocol.Hello{}, -1, fmt.Errorf("remote: read hello: %w", err)
	}

	memfd := -1
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err == nil {
		for _, m := range msgs {
			fds, perr := unix.ParseUnixRights(&m)
			if perr != nil {
				continue
			}
			for _, fd := range fds {
				if memfd < 0 {
					memfd = fd
				} else {
					_ = unix.Close(fd)
				}
			}
		}
	}
	if memfd < 0 {
		return protocol.Hello{}, -1, ErrNoMemfd
	}

	if n < len(buf) {
		if _, err := io.ReadFull(conn, buf[n:]); err != nil {
			_ = unix.Close(memfd)
			return protocol.Hello{}, -1, fmt.Errorf("remote: read hello: %w", err)
		}
	}
	hello, err := decodeHello(buf)
	if err != nil {
		_ = unix.Close(memfd)
		return protocol.Hello{}, -1, err
	}
	return hello, memfd, nil
}

func decodeHello(buf []byte) (protocol.Hello, error) {
	f, size, err := protocol.ParseHeader(buf)
	if err != nil {
		return protocol.Hello{}, fmt.Errorf("remote: hello: %w", err)
	}
	if size != len(buf)-protocol.HeaderSize {
		return protocol.Hello{}, fmt.Errorf("%w: hello payload of %d bytes", protocol.ErrMalformed, size)
	}
	f.Payload = buf[protocol.HeaderSize:]
	hello, err := protocol.DecodeHello(f)
	if err != nil {
		return protocol.Hello{}, fmt.Errorf("remote: hello: %w", err)
	}
	if hello.PageSize == 0 {
		return protocol.Hello{}, fmt.Errorf("%w: zero page size", protocol.ErrMalformed)
	}
	return hello, nil
}

// PageSize returns the page size announced by the server.
func (c *Client) PageSize() int {
	return c.pageSize
}

// exchange sends one request on conn and reads its reply. If ctx is done
// before the reply arrives the conn deadline fires and the read fails.
func exchange(ctx context.Context, conn *net.UnixConn, f protocol.Frame) (protocol.Reply, error) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
		close(fired)
	})

	if err := protocol.WriteFrame(conn, f); err != nil {
		stop()
		return protocol.Reply{}, err
	}
	rf, err := protocol.ReadFrame(conn)
	if !stop() {
		// The reply raced the cancellation; clear the deadline so the
		// connection stays usable.
		<-fired
		_ = conn.SetDeadline(time.Time{})
	}
	if err != nil {
		return protocol.Reply{}, err
	}
	return protocol.DecodeReply(rf)
}

// roundTrip runs one request on the main connection. c.mu must be held.
func (c *Client) roundTrip(ctx context.Context, f protocol.Frame) (protocol.Reply, error) {
	if c.closed {
		return protocol.Reply{}, npheap.ErrClosed
	}
	reply, err := exchange(ctx, c.conn, f)
	if err != nil {
		return protocol.Reply{}, c.failLocked(ctx, err)
	}
	return reply, npheap.FromErrno(unix.Errno(reply.Errno))
}

// failLocked tears the connection down after a transport error.
func (c *Client) failLocked(ctx context.Context, err error) error {
	_ = c.closeLocked()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("remote: %w", ctxErr)
	}
	return fmt.Errorf("%w: remote: %w", npheap.ErrClosed, err)
}

func commandFrame(cmd npheap.Command, id uint64) protocol.Frame {
	req, _ := npheap.Request{ObjectID: id}.MarshalBinary()
	return protocol.Command{Cmd: uint32(cmd), Request: req}.Frame()
}

func (c *Client) command(cmd npheap.Command, id uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := c.roundTrip(context.Background(), commandFrame(cmd, id))
	return reply.Value, err
}

// Lock implements npheap.Heap. Cancelling ctx while waiting drops the lock
// connection, which withdraws the request on the server; the client stays
// usable and the next Lock dials again.
func (c *Client) Lock(ctx context.Context, id uint64) error {
	if err := c.lockSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	defer c.lockSem.Release(1)

	conn, err := c.lockConnection(ctx)
	if err != nil {
		return err
	}
	reply, err := exchange(ctx, conn, commandFrame(npheap.CmdLock, id))
	if err != nil {
		c.dropLockConn(conn)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("remote: %w", ctxErr)
		}
		if c.isClosed() {
			return fmt.Errorf("%w: remote: %w", npheap.ErrClosed, err)
		}
		return fmt.Errorf("remote: lock: %w", err)
	}
	return npheap.FromErrno(unix.Errno(reply.Errno))
}

// lockConnection returns the lock connection, dialing it if needed. c.lockSem
// must be held.
func (c *Client) lockConnection(ctx context.Context) (*net.UnixConn, error) {
	c.mu.Lock()
	closed, conn := c.closed, c.lockConn
	c.mu.Unlock()
	if closed {
		return nil, npheap.ErrClosed
	}
	if conn != nil {
		return conn, nil
	}

	conn, _, memfd, err := connect(ctx, c.path)
	if err != nil {
		return nil, err
	}
	_ = unix.Close(memfd)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, npheap.ErrClosed
	}
	c.lockConn = conn
	return conn, nil
}

func (c *Client) dropLockConn(conn *net.UnixConn) {
	c.mu.Lock()
	if c.lockConn == conn {
		c.lockConn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Unlock implements npheap.Heap.
func (c *Client) Unlock(id uint64) error {
	_, err := c.command(npheap.CmdUnlock, id)
	return err
}

// GetSize implements npheap.Heap.
func (c *Client) GetSize(id uint64) (uint64, error) {
	return c.command(npheap.CmdGetSize, id)
}

// Delete implements npheap.Heap.
func (c *Client) Delete(id uint64) error {
	_, err := c.command(npheap.CmdDelete, id)
	return err
}

// Alloc implements npheap.Heap.
func (c *Client) Alloc(id uint64, size uint64) ([]byte, error) {
	r, err := c.Mmap(id, npheap.RoundUp(size, c.pageSize))
	if err != nil {
		if r != nil {
			_ = r.Unmap()
		}
		return nil, err
	}
	return r.Bytes(), nil
}

// Mmap maps length bytes of object id into this process. As with
// npheap.Device.Mmap, an error matching npheap.ErrAgain comes with the
// partially installed region.
func (c *Client) Mmap(id uint64, length int) (*npheap.Region, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", npheap.ErrInvalidArgument, length)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := mapping.NewRegion(id, uint64(length), c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", npheap.ErrInvalidArgument, err)
	}
	if err := c.establishLocked(r); err != nil {
		if errors.Is(err, npheap.ErrAgain) {
			c.regions = append(c.regions, r)
			return r, err
		}
		_ = r.Unmap()
		return nil, err
	}
	c.regions = append(c.regions, r)
	return r, nil
}

func (c *Client) establishLocked(r *npheap.Region) error {
	reply, err := c.roundTrip(context.Background(), protocol.MapRequest{ID: r.ID(), Length: uint64(r.Len())}.Frame())
	if err != nil {
		return err
	}

	plan := &npheap.Plan{ID: r.ID(), Size: reply.Size, Frames: reply.Frames}
	if err := mapping.Install(r, c.memfd, plan, mapping.FixedInstaller{}); err != nil {
		if errors.Is(err, mapping.ErrAgain) {
			return fmt.Errorf("%w: %w", npheap.ErrAgain, err)
		}
		return fmt.Errorf("%w: %w", npheap.ErrInvalidArgument, err)
	}

	r.OnOpen(func(nr *mapping.Region) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.establishLocked(nr)
	})
	return nil
}

// Close unmaps every region created through the client and closes its
// connections, which fails a pending Lock. Objects stay on the server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, r := range c.regions {
		if err := r.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	c.regions = nil
	if err := unix.Close(c.memfd); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.lockConn != nil {
		_ = c.lockConn.Close()
		c.lockConn = nil
	}
	return errors.Join(errs...)
}
