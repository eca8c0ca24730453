//go:build linux

package npheap

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Command is the discriminant of a dispatcher request.
type Command uint32

// Commands understood by Device.Ioctl.
const (
	CmdLock Command = iota + 1
	CmdUnlock
	CmdGetSize
	CmdDelete
)

func (c Command) String() string {
	switch c {
	case CmdLock:
		return "lock"
	case CmdUnlock:
		return "unlock"
	case CmdGetSize:
		return "getsize"
	case CmdDelete:
		return "delete"
	default:
		return fmt.Sprintf("Command(%d)", uint32(c))
	}
}

// RequestSize is the encoded size of a Request.
const RequestSize = 24

// Request is the fixed-layout argument of every command. Size is carried for
// layout compatibility and ignored by the current commands.
type Request struct {
	ObjectID uint64
	Size     uint64
	Reserved uint64
}

// MarshalBinary encodes r little-endian.
func (r Request) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RequestSize))
}

// AppendBinary appends the encoding of r to b.
func (r Request) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint64(b, r.ObjectID)
	b = binary.LittleEndian.AppendUint64(b, r.Size)
	b = binary.LittleEndian.AppendUint64(b, r.Reserved)
	return b, nil
}

// UnmarshalBinary decodes a request. Anything but exactly RequestSize bytes
// is rejected.
func (r *Request) UnmarshalBinary(b []byte) error {
	if len(b) != RequestSize {
		return fmt.Errorf("%w: request of %d bytes, want %d", ErrInvalidArgument, len(b), RequestSize)
	}
	r.ObjectID = binary.LittleEndian.Uint64(b[0:])
	r.Size = binary.LittleEndian.Uint64(b[8:])
	r.Reserved = binary.LittleEndian.Uint64(b[16:])
	return nil
}

// Ioctl decodes req and runs cmd against the device. GetSize returns the
// object size; the other commands return 0. Delete succeeds whether or not
// the object existed.
func (d *Device) Ioctl(ctx context.Context, cmd Command, req []byte) (uint64, error) {
	var r Request
	if err := r.UnmarshalBinary(req); err != nil {
		return 0, err
	}
	return d.Do(ctx, cmd, r)
}

// Do runs an already decoded command.
func (d *Device) Do(ctx context.Context, cmd Command, r Request) (uint64, error) {
	switch cmd {
	case CmdLock:
		return 0, d.Lock(ctx, r.ObjectID)
	case CmdUnlock:
		return 0, d.Unlock(r.ObjectID)
	case CmdGetSize:
		return d.GetSize(r.ObjectID), nil
	case CmdDelete:
		_, err := d.Delete(r.ObjectID)
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}
