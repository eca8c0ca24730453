package logsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/npheap/internal/fs"
)

// ErrUnsupportedScheme is returned by Open for an unknown URL scheme.
var ErrUnsupportedScheme = errors.New("logsink: unsupported scheme")

// Sink stores named log files.
type Sink interface {
	// Put stores the contents of r under name. size is -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// Open returns the sink described by rawURL.
func Open(ctx context.Context, rawURL string) (Sink, error) {
	if !strings.Contains(rawURL, "://") {
		return NewLocal(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("logsink: %w", err)
	}

	switch u.Scheme {
	case "file":
		return NewLocal(u.Path)
	case "s3":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("logsink: load aws config: %w", err)
		}
		return NewS3(s3.NewFromConfig(cfg), u.Host, strings.TrimPrefix(u.Path, "/")), nil
	case "minio":
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		client, err := minio.New(u.Host, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: u.Query().Get("insecure") == "",
		})
		if err != nil {
			return nil, fmt.Errorf("logsink: minio client: %w", err)
		}
		return NewMinIO(client, bucket, prefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Local writes logs into a directory.
type Local struct {
	dir  string
	fsys fs.FileSystem
}

// NewLocal creates dir if needed and returns a sink writing into it.
func NewLocal(dir string) (*Local, error) {
	return NewLocalFS(fs.Default, dir)
}

// NewLocalFS is NewLocal on a custom file system.
func NewLocalFS(fsys fs.FileSystem, dir string) (*Local, error) {
	if dir == "" {
		dir = "."
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: %w", err)
	}
	return &Local{dir: dir, fsys: fsys}, nil
}

// Dir returns the target directory.
func (l *Local) Dir() string {
	return l.dir
}

// Put implements Sink. The file is written under a temporary name and
// renamed into place.
func (l *Local) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(l.dir, filepath.Base(name))
	f, err := l.fsys.CreateTemp(l.dir, ".tmp-"+filepath.Base(name))
	if err != nil {
		return fmt.Errorf("logsink: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = l.fsys.Remove(tmp)
		return fmt.Errorf("logsink: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = l.fsys.Remove(tmp)
		return fmt.Errorf("logsink: close %s: %w", name, err)
	}
	if err := l.fsys.Rename(tmp, dst); err != nil {
		_ = l.fsys.Remove(tmp)
		return fmt.Errorf("logsink: %w", err)
	}
	return nil
}

// S3 uploads logs to an S3 bucket.
type S3 struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 returns a sink uploading to bucket under prefix.
func NewS3(client manager.UploadAPIClient, bucket, prefix string) *S3 {
	return &S3{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 8 * 1024 * 1024
		}),
		bucket: bucket,
		prefix: prefix,
	}
}

// Put implements Sink.
func (s *S3) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	key := path.Join(s.prefix, name)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("logsink: upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// MinIO uploads logs to an S3-compatible endpoint.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO returns a sink uploading to bucket under prefix.
func NewMinIO(client *minio.Client, bucket, prefix string) *MinIO {
	return &MinIO{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Put implements Sink.
func (m *MinIO) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	key := path.Join(m.prefix, name)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("logsink: upload %s/%s: %w", m.bucket, key, err)
	}
	return nil
}
