//go:build linux

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/hupe1980/npheap"
	"github.com/hupe1980/npheap/internal/protocol"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Logger receives connection diagnostics. Defaults to npheap.NoopLogger.
	Logger *npheap.Logger
}

// Server serves one Device to many connections.
type Server struct {
	dev    *npheap.Device
	logger *npheap.Logger

	mu    sync.Mutex
	ln    *net.UnixListener
	conns map[*net.UnixConn]struct{}
}

// NewServer returns a Server for dev.
func NewServer(dev *npheap.Device, optFns ...func(*ServerOptions)) *Server {
	opts := ServerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = npheap.NoopLogger()
	}
	return &Server{
		dev:    dev,
		logger: opts.Logger,
		conns:  make(map[*net.UnixConn]struct{}),
	}
}

// ListenAndServe listens on the unix socket at path, removing a stale socket
// file first, and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remote: remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("remote: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called. It
// closes ln before returning and waits for all connections to finish.
func (s *Server) Serve(ctx context.Context, ln *net.UnixListener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.AcceptUnix()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("remote: accept: %w", err)
			}
			if !s.track(conn) {
				_ = conn.Close()
				return nil
			}
			g.Go(func() error {
				defer s.untrack(conn)
				s.serveConn(gctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.ln != nil {
		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
	return err
}

func (s *Server) track(c *net.UnixConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *net.UnixConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) serveConn(ctx context.Context, conn *net.UnixConn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())

	hello, err := protocol.AppendFrame(nil, protocol.Hello{PageSize: uint64(s.dev.PageSize())}.Frame())
	if err != nil {
		logger.Error("encode hello", "error", err)
		return
	}
	if _, _, err := conn.WriteMsgUnix(hello, unix.UnixRights(s.dev.FD()), nil); err != nil {
		logger.Warn("send hello", "error", err)
		return
	}
	logger.Debug("client connected")

	for {
		f, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("client disconnected", "error", err)
			}
			return
		}

		var reply protocol.Reply
		switch f.Op {
		case protocol.OpCommand:
			reply = s.command(ctx, conn, f)
		case protocol.OpMap:
			reply = s.resolve(f)
		default:
			reply.Errno = uint32(unix.EPROTO)
		}

		if err := protocol.WriteFrame(conn, reply.Frame()); err != nil {
			logger.Warn("send reply", "op", f.Op.String(), "error", err)
			return
		}
	}
}

func (s *Server) command(ctx context.Context, conn *net.UnixConn, f protocol.Frame) protocol.Reply {
	c, err := protocol.DecodeCommand(f)
	if err != nil {
		return protocol.Reply{Errno: uint32(unix.EINVAL)}
	}
	cmd := npheap.Command(c.Cmd)

	if cmd == npheap.CmdLock {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := watchHangup(conn, cancel)
		defer stop()
	}

	v, err := s.dev.Ioctl(ctx, cmd, c.Request)
	return protocol.Reply{Errno: uint32(npheap.Errno(err)), Value: v}
}

func (s *Server) resolve(f protocol.Frame) protocol.Reply {
	m, err := protocol.DecodeMapRequest(f)
	if err != nil {
		return protocol.Reply{Errno: uint32(unix.EINVAL)}
	}
	plan, err := s.dev.Resolve(m.ID, m.Length)
	if err != nil {
		return protocol.Reply{Errno: uint32(npheap.Errno(err))}
	}
	return protocol.Reply{Size: plan.Size, Frames: plan.Frames}
}

// watchHangup calls cancel if conn is closed by the peer while a request is
// outstanding. A client sends nothing while it waits for a reply, so any read
// result other than the deadline set by stop means the peer is gone.
func watchHangup(conn *net.UnixConn, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var b [1]byte
		_, err := conn.Read(b[:])
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		cancel()
	}()
	return func() {
		_ = conn.SetReadDeadline(time.Now())
		<-done
		_ = conn.SetReadDeadline(time.Time{})
	}
}
