package fetch

import (
	"context"
	"errors"
	"io"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/checksum"
	"github.com/jguan/solverd/pkg/infra/logger"
)

// Bucket reads objects from an object store.
type Bucket interface {
	// Get opens the object stored under key and returns its size, or -1
	// when unknown.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// DigestIndex returns the expected hex SHA-256 of the current artifact for
// a model name.
type DigestIndex interface {
	Digest(ctx context.Context, model string) (string, error)
}

// ObjectStorageBackend fetches models from a bucket and uses a digest index
// to skip downloads whose local copy is already current.
type ObjectStorageBackend struct {
	bucket Bucket
	index  DigestIndex
}

func NewObjectStorageBackend(bucket Bucket, index DigestIndex) *ObjectStorageBackend {
	return &ObjectStorageBackend{bucket: bucket, index: index}
}

func (b *ObjectStorageBackend) Name() string { return "r2" }

func (b *ObjectStorageBackend) Fetch(ctx context.Context, req Request) (*Artifact, error) {
	log := logger.WithContext(logger.SetModel(ctx, req.Model))
	local := FileExists(req.LocalPath)

	var expected string
	if req.UpdateCheck {
		digest, err := b.expectedDigest(ctx, req.Model)
		switch {
		case err != nil:
			log.Warn("digest index unavailable, forcing download", "error", err)
		case local:
			current, err := checksum.File(req.LocalPath)
			if err != nil {
				log.Warn("cannot checksum local model, forcing download", "error", err)
			} else if checksum.Equal(current, digest) {
				log.Debug("local model matches index digest", "digest", digest)
				return nil, errs.ErrUpToDate
			}
			expected = digest
		default:
			expected = digest
		}
	} else if local {
		return nil, errs.ErrUpToDate
	}

	body, size, err := b.bucket.Get(ctx, req.Model)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindFetchFailed, "fetch %s from object storage", req.Model)
	}

	return &Artifact{Body: body, Size: size, Digest: expected}, nil
}

func (b *ObjectStorageBackend) expectedDigest(ctx context.Context, model string) (string, error) {
	digest, err := b.index.Digest(ctx, model)
	if err != nil {
		return "", errs.Wrapf(err, errs.KindIntegrityUnresolvable, "look up digest of %s", model)
	}
	if digest == "" {
		return "", errs.Wrapf(errors.New("empty digest"), errs.KindIntegrityUnresolvable, "look up digest of %s", model)
	}
	return digest, nil
}

var _ Backend = (*ObjectStorageBackend)(nil)
