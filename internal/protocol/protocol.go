// Package protocol frames the messages exchanged between a heap server and
// its clients over a stream socket.
//
// Every message is a 12 byte little-endian header (op, errno, payload length)
// followed by the payload. The server opens a connection with a Hello that
// carries the page size; the memfd travels beside it as SCM_RIGHTS. After
// that the client sends one request at a time and reads exactly one Reply.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Op identifies the kind of a frame.
type Op uint32

// Frame kinds.
const (
	OpHello Op = iota + 1
	OpCommand
	OpMap
	OpReply
)

func (o Op) String() string {
	switch o {
	case OpHello:
		return "hello"
	case OpCommand:
		return "command"
	case OpMap:
		return "map"
	case OpReply:
		return "reply"
	default:
		return fmt.Sprintf("Op(%d)", uint32(o))
	}
}

const (
	// HeaderSize is the encoded size of a frame header.
	HeaderSize = 12
	// MaxPayload bounds the payload of a single frame.
	MaxPayload = 16 << 20
)

var (
	// ErrMalformed is returned for a frame or payload that cannot be decoded.
	ErrMalformed = errors.New("protocol: malformed frame")
	// ErrTooLarge is returned for a payload above MaxPayload.
	ErrTooLarge = errors.New("protocol: payload too large")
)

// Frame is one message.
type Frame struct {
	Op      Op
	Errno   uint32
	Payload []byte
}

// AppendFrame appends the encoding of f to b.
func AppendFrame(b []byte, f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return b, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(f.Payload))
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(f.Op))
	b = binary.LittleEndian.AppendUint32(b, f.Errno)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(f.Payload)))
	return append(b, f.Payload...), nil
}

// WriteFrame writes f to w in a single Write.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := AppendFrame(make([]byte, 0, HeaderSize+len(f.Payload)), f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ParseHeader decodes a frame header and returns the payload length.
func ParseHeader(h []byte) (Frame, int, error) {
	if len(h) < HeaderSize {
		return Frame{}, 0, fmt.Errorf("%w: short header", ErrMalformed)
	}
	f := Frame{
		Op:    Op(binary.LittleEndian.Uint32(h[0:])),
		Errno: binary.LittleEndian.Uint32(h[4:]),
	}
	n := binary.LittleEndian.Uint32(h[8:])
	if n > MaxPayload {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	return f, int(n), nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return Frame{}, err
	}
	f, n, err := ParseHeader(h[:])
	if err != nil {
		return Frame{}, err
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	return f, nil
}
