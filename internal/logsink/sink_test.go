package logsink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/npheap/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUploadClient struct {
	mock.Mock
}

func (m *mockUploadClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockUploadClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.UploadPartOutput)
	return out, args.Error(1)
}

func (m *mockUploadClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockUploadClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *mockUploadClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)
	return out, args.Error(1)
}

func TestLocalPut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink, err := NewLocal(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Put(t.Context(), "npheap.0.log", bytes.NewBufferString("S\t0\t1\t2\t3\tx\n"), -1))

	got, err := os.ReadFile(filepath.Join(dir, "npheap.0.log"))
	require.NoError(t, err)
	assert.Equal(t, "S\t0\t1\t2\t3\tx\n", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalPutRenameFailure(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("npheap.0.log", fs.Fault{FailAfterBytes: -1, FailOnRename: true})

	sink, err := NewLocalFS(ffs, dir)
	require.NoError(t, err)
	err = sink.Put(t.Context(), "npheap.0.log", bytes.NewReader([]byte("S 0 3 abc\n")), -1)
	require.ErrorIs(t, err, fs.ErrInjected)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalPutCanceled(t *testing.T) {
	sink, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, sink.Put(ctx, "a.log", bytes.NewReader(nil), 0), context.Canceled)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(t.Context(), dir)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	s, err = Open(t.Context(), "file://"+dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.(*Local).Dir())

	s, err = Open(t.Context(), "minio://localhost:9000/bench/run1?insecure=1")
	require.NoError(t, err)
	m := s.(*MinIO)
	assert.Equal(t, "bench", m.bucket)
	assert.Equal(t, "run1", m.prefix)

	_, err = Open(t.Context(), "gs://bucket")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestS3Put(t *testing.T) {
	client := new(mockUploadClient)
	var body []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "logs" && *in.Key == "run/npheap.1.log"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		body, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	sink := NewS3(client, "logs", "run")
	require.NoError(t, sink.Put(t.Context(), "npheap.1.log", bytes.NewBufferString("D\t1\n"), 4))

	assert.Equal(t, "D\t1\n", string(body))
	client.AssertExpectations(t)
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("S\t3\t1234\t7\t4096\t42424242\n"), 200)

	for _, c := range []Compression{None, Zstd, LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, c)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if c != None {
				assert.Less(t, buf.Len(), len(payload))
			}

			r, err := NewReader(&buf, c)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": None, "none": None, "ZSTD": Zstd, "lz4": LZ4} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)

	assert.Equal(t, ".zst", Zstd.Ext())
	assert.Equal(t, ".lz4", LZ4.Ext())
	assert.Empty(t, None.Ext())
}
