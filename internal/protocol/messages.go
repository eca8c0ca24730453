package protocol

import (
	"encoding/binary"
	"fmt"
)

// Hello is sent by the server when a connection opens.
type Hello struct {
	PageSize uint64
}

// HelloSize is the size of an encoded Hello frame, header included.
const HelloSize = HeaderSize + 8

func (h Hello) Frame() Frame {
	return Frame{Op: OpHello, Payload: binary.LittleEndian.AppendUint64(nil, h.PageSize)}
}

// DecodeHello decodes a Hello frame.
func DecodeHello(f Frame) (Hello, error) {
	if f.Op != OpHello || len(f.Payload) != 8 {
		return Hello{}, fmt.Errorf("%w: expected hello, got %s of %d bytes", ErrMalformed, f.Op, len(f.Payload))
	}
	return Hello{PageSize: binary.LittleEndian.Uint64(f.Payload)}, nil
}

// Command carries a dispatcher command and its encoded request.
type Command struct {
	Cmd     uint32
	Request []byte
}

func (c Command) Frame() Frame {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(c.Request)), c.Cmd)
	return Frame{Op: OpCommand, Payload: append(b, c.Request...)}
}

// DecodeCommand decodes a Command frame. The request bytes are not
// validated here.
func DecodeCommand(f Frame) (Command, error) {
	if f.Op != OpCommand || len(f.Payload) < 4 {
		return Command{}, fmt.Errorf("%w: bad command frame", ErrMalformed)
	}
	return Command{
		Cmd:     binary.LittleEndian.Uint32(f.Payload),
		Request: f.Payload[4:],
	}, nil
}

// MapRequest asks the server to resolve the frames of an object.
type MapRequest struct {
	ID     uint64
	Length uint64
}

func (m MapRequest) Frame() Frame {
	b := binary.LittleEndian.AppendUint64(make([]byte, 0, 16), m.ID)
	return Frame{Op: OpMap, Payload: binary.LittleEndian.AppendUint64(b, m.Length)}
}

// DecodeMapRequest decodes a MapRequest frame.
func DecodeMapRequest(f Frame) (MapRequest, error) {
	if f.Op != OpMap || len(f.Payload) != 16 {
		return MapRequest{}, fmt.Errorf("%w: bad map frame", ErrMalformed)
	}
	return MapRequest{
		ID:     binary.LittleEndian.Uint64(f.Payload[0:]),
		Length: binary.LittleEndian.Uint64(f.Payload[8:]),
	}, nil
}

// Reply answers a request. Value carries a command result; Size and Frames
// carry a resolved mapping.
type Reply struct {
	Errno  uint32
	Value  uint64
	Size   uint64
	Frames []uint64
}

func (r Reply) Frame() Frame {
	b := make([]byte, 0, 24+8*len(r.Frames))
	b = binary.LittleEndian.AppendUint64(b, r.Value)
	b = binary.LittleEndian.AppendUint64(b, r.Size)
	b = binary.LittleEndian.AppendUint64(b, uint64(len(r.Frames)))
	for _, pfn := range r.Frames {
		b = binary.LittleEndian.AppendUint64(b, pfn)
	}
	return Frame{Op: OpReply, Errno: r.Errno, Payload: b}
}

// DecodeReply decodes a Reply frame.
func DecodeReply(f Frame) (Reply, error) {
	if f.Op != OpReply || len(f.Payload) < 24 {
		return Reply{}, fmt.Errorf("%w: bad reply frame", ErrMalformed)
	}
	p := f.Payload
	r := Reply{
		Errno: f.Errno,
		Value: binary.LittleEndian.Uint64(p[0:]),
		Size:  binary.LittleEndian.Uint64(p[8:]),
	}
	n := binary.LittleEndian.Uint64(p[16:])
	if n != uint64(len(p)-24)/8 || (len(p)-24)%8 != 0 {
		return Reply{}, fmt.Errorf("%w: reply declares %d frames in %d bytes", ErrMalformed, n, len(p)-24)
	}
	if n > 0 {
		r.Frames = make([]uint64, n)
		for i := range r.Frames {
			r.Frames[i] = binary.LittleEndian.Uint64(p[24+8*i:])
		}
	}
	return r, nil
}
