//go:build linux

package npheap

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/npheap/internal/backing"
	"github.com/hupe1980/npheap/internal/mapping"
	"github.com/hupe1980/npheap/internal/mmap"
	"github.com/hupe1980/npheap/internal/physmem"
)

var (
	// ErrInvalidArgument is returned for a zero-length mapping, an unaligned
	// offset or a malformed request.
	ErrInvalidArgument = errors.New("npheap: invalid argument")

	// ErrNoMemory is returned when the backing store is exhausted. Errors from
	// a mapping that match ErrNoMemory also match ErrInvalidArgument.
	ErrNoMemory = errors.New("npheap: out of memory")

	// ErrAgain is returned when a mapping failed part way. Pages installed
	// before the failure stay mapped; the caller may retry.
	ErrAgain = errors.New("npheap: try again")

	// ErrNotFound is returned when an object does not exist. GetSize and the
	// Delete command never surface it.
	ErrNotFound = errors.New("npheap: not found")

	// ErrUnknownCommand is returned by the dispatcher for an unknown command.
	ErrUnknownCommand = errors.New("npheap: unknown command")

	// ErrClosed is returned when a device or client is used after Close.
	ErrClosed = errors.New("npheap: closed")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, mapping.ErrAgain):
		return fmt.Errorf("%w: %w", ErrAgain, err)
	case errors.Is(err, mapping.ErrAllocFailed):
		return fmt.Errorf("%w: %w: %w", ErrInvalidArgument, ErrNoMemory, err)
	case errors.Is(err, mapping.ErrInvalidLength), errors.Is(err, backing.ErrZeroSize):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, physmem.ErrNoMemory):
		return fmt.Errorf("%w: %w", ErrNoMemory, err)
	case errors.Is(err, physmem.ErrClosed), errors.Is(err, mmap.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}

// Errno returns the errno a kernel device would report for err.
// A nil error yields 0.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAgain):
		return unix.EAGAIN
	case errors.Is(err, ErrNoMemory):
		return unix.ENOMEM
	case errors.Is(err, ErrInvalidArgument):
		return unix.EINVAL
	case errors.Is(err, ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, ErrUnknownCommand):
		return unix.ENOTTY
	case errors.Is(err, ErrClosed):
		return unix.EBADF
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return unix.EINTR
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// FromErrno maps an errno received over the wire back onto the package's
// sentinel errors. A zero errno yields nil.
func FromErrno(errno unix.Errno) error {
	switch errno {
	case 0:
		return nil
	case unix.EAGAIN:
		return fmt.Errorf("%w: %w", ErrAgain, errno)
	case unix.ENOMEM:
		return fmt.Errorf("%w: %w: %w", ErrInvalidArgument, ErrNoMemory, errno)
	case unix.EINVAL:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, errno)
	case unix.ENOENT:
		return fmt.Errorf("%w: %w", ErrNotFound, errno)
	case unix.ENOTTY:
		return fmt.Errorf("%w: %w", ErrUnknownCommand, errno)
	case unix.EBADF:
		return fmt.Errorf("%w: %w", ErrClosed, errno)
	case unix.ETIMEDOUT:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, errno)
	case unix.EINTR:
		return fmt.Errorf("%w: %w", context.Canceled, errno)
	}
	return errno
}
