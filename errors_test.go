//go:build linux

package npheap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hupe1980/npheap/internal/mapping"
	"github.com/hupe1980/npheap/internal/physmem"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	err := translateError(fmt.Errorf("%w: %w", mapping.ErrAllocFailed, physmem.ErrNoMemory))
	assert.ErrorIs(t, err, ErrNoMemory)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.ErrorIs(t, translateError(mapping.ErrAgain), ErrAgain)
	assert.ErrorIs(t, translateError(mapping.ErrInvalidLength), ErrInvalidArgument)
	assert.ErrorIs(t, translateError(physmem.ErrClosed), ErrClosed)

	other := errors.New("other")
	assert.Equal(t, other, translateError(other))
}

func TestErrnoRoundTrip(t *testing.T) {
	tests := []struct {
		err   error
		errno unix.Errno
	}{
		{ErrAgain, unix.EAGAIN},
		{ErrNoMemory, unix.ENOMEM},
		{ErrInvalidArgument, unix.EINVAL},
		{ErrNotFound, unix.ENOENT},
		{ErrUnknownCommand, unix.ENOTTY},
		{ErrClosed, unix.EBADF},
		{context.DeadlineExceeded, unix.ETIMEDOUT},
		{context.Canceled, unix.EINTR},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			assert.Equal(t, tt.errno, Errno(tt.err))

			back := FromErrno(tt.errno)
			assert.ErrorIs(t, back, tt.err)
			assert.Equal(t, tt.errno, Errno(back))
		})
	}

	assert.Zero(t, Errno(nil))
	assert.NoError(t, FromErrno(0))
	assert.Equal(t, unix.EIO, Errno(errors.New("boom")))
	assert.Equal(t, unix.EPERM, Errno(fmt.Errorf("wrapped: %w", unix.EPERM)))
	assert.Equal(t, unix.EPERM, FromErrno(unix.EPERM))
}
