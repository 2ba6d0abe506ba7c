package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// R2Options configures an S3 compatible bucket such as Cloudflare R2.
type R2Options struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Insecure        bool
}

// R2Bucket implements Bucket on top of minio-go.
type R2Bucket struct {
	client *minio.Client
	bucket string
}

// NewR2Bucket connects to the object store and checks that the bucket
// exists.
func NewR2Bucket(ctx context.Context, opts R2Options) (*R2Bucket, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: !opts.Insecure,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", opts.Bucket)
	}

	return &R2Bucket{client: client, bucket: opts.Bucket}, nil
}

func (b *R2Bucket) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}

	// GetObject is lazy; Stat performs the request and surfaces NoSuchKey.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("model %s is not in bucket %s", key, b.bucket)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", key, err)
	}

	return obj, info.Size, nil
}

var _ Bucket = (*R2Bucket)(nil)
