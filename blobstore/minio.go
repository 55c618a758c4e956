package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
)

// MinioOptions configures a Minio store.
type MinioOptions struct {
	// Prefix is prepended to every object key, allowing several engines to
	// share one bucket.
	Prefix string
	// ContentType is set on uploaded objects.
	ContentType string
}

// Minio is a Store backed by an S3-compatible object store via the MinIO
// client. It works against MinIO itself as well as AWS S3 and compatible
// services.
type Minio struct {
	client *minio.Client
	bucket string
	opts   MinioOptions
}

// NewMinio creates a Minio store writing into the given bucket. The bucket
// must already exist.
func NewMinio(client *minio.Client, bucket string, optFns ...func(o *MinioOptions)) *Minio {
	opts := MinioOptions{ContentType: "application/octet-stream"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Minio{client: client, bucket: bucket, opts: opts}
}

func (m *Minio) key(name string) string {
	if m.opts.Prefix == "" {
		return name
	}
	return path.Join(m.opts.Prefix, name)
}

// Put uploads the blob under name.
func (m *Minio) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key(name), r, size, minio.PutObjectOptions{
		ContentType: m.opts.ContentType,
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", name, err)
	}
	return nil
}

// Get downloads the blob stored under name, or ErrNotFound.
func (m *Minio) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := m.key(name)

	// GetObject is lazy; stat first so a missing object surfaces here.
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, fmt.Errorf("blobstore: %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("blobstore: stat %s: %w", name, err)
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", name, err)
	}
	return obj, nil
}
