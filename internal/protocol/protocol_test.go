package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrame(&buf, Hello{PageSize: 4096}.Frame()))
	require.NoError(t, WriteFrame(&buf, MapRequest{ID: 3, Length: 8192}.Frame()))
	require.NoError(t, WriteFrame(&buf, Reply{Errno: 11}.Frame()))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	h, err := DecodeHello(f)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), h.PageSize)

	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	m, err := DecodeMapRequest(f)
	require.NoError(t, err)
	assert.Equal(t, MapRequest{ID: 3, Length: 8192}, m)

	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	r, err := DecodeReply(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), r.Errno)
	assert.Empty(t, r.Frames)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHelloSize(t *testing.T) {
	b, err := AppendFrame(nil, Hello{PageSize: 1}.Frame())
	require.NoError(t, err)
	assert.Len(t, b, HelloSize)
}

func TestReplyFrames(t *testing.T) {
	in := Reply{Value: 7, Size: 100000, Frames: []uint64{0, 2, 4, 9}}
	out, err := DecodeReply(in.Frame())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCommand(t *testing.T) {
	in := Command{Cmd: 3, Request: make([]byte, 24)}
	in.Request[0] = 9
	out, err := DecodeCommand(in.Frame())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeCommand(Frame{Op: OpCommand, Payload: []byte{1}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMalformed(t *testing.T) {
	_, err := DecodeHello(Frame{Op: OpReply, Payload: make([]byte, 8)})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeMapRequest(Frame{Op: OpMap, Payload: make([]byte, 15)})
	assert.ErrorIs(t, err, ErrMalformed)

	bad := Reply{Frames: []uint64{1, 2}}.Frame()
	bad.Payload = bad.Payload[:len(bad.Payload)-4]
	_, err = DecodeReply(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = ParseHeader([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTooLarge(t *testing.T) {
	h := binary.LittleEndian.AppendUint32(nil, uint32(OpReply))
	h = binary.LittleEndian.AppendUint32(h, 0)
	h = binary.LittleEndian.AppendUint32(h, MaxPayload+1)

	_, err := ReadFrame(bytes.NewReader(h))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = AppendFrame(nil, Frame{Op: OpReply, Payload: make([]byte, MaxPayload+1)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestTruncatedPayload(t *testing.T) {
	b, err := AppendFrame(nil, MapRequest{ID: 1, Length: 2}.Frame())
	require.NoError(t, err)

	_, err = ReadFrame(bytes.NewReader(b[:len(b)-3]))
	assert.ErrorIs(t, err, ErrMalformed)
}
