package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/checksum"
)

type fakeBucket struct {
	objects map[string][]byte
	calls   atomic.Int32
	err     error
}

func (b *fakeBucket) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, 0, b.err
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, 0, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type fakeIndex struct {
	digests map[string]string
	calls   atomic.Int32
	err     error
}

func (i *fakeIndex) Digest(ctx context.Context, model string) (string, error) {
	i.calls.Add(1)
	if i.err != nil {
		return "", i.err
	}
	return i.digests[model], nil
}

func TestObjectStorageBackend_Fetch(t *testing.T) {
	current := []byte("current weights")
	stale := []byte("stale weights")

	newFixture := func(t *testing.T) (*fakeBucket, *fakeIndex, *ObjectStorageBackend, string) {
		bucket := &fakeBucket{objects: map[string][]byte{"m.onnx": current}}
		index := &fakeIndex{digests: map[string]string{"m.onnx": checksum.Bytes(current)}}
		return bucket, index, NewObjectStorageBackend(bucket, index), filepath.Join(t.TempDir(), "m.onnx")
	}

	t.Run("local copy matches index", func(t *testing.T) {
		bucket, index, backend, local := newFixture(t)
		require.NoError(t, os.WriteFile(local, current, 0o644))

		_, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local, UpdateCheck: true})
		assert.ErrorIs(t, err, errs.ErrUpToDate)
		assert.Equal(t, int32(0), bucket.calls.Load())
		assert.Equal(t, int32(1), index.calls.Load())
	})

	t.Run("local copy differs from index", func(t *testing.T) {
		bucket, _, backend, local := newFixture(t)
		require.NoError(t, os.WriteFile(local, stale, 0o644))

		art, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local, UpdateCheck: true})
		require.NoError(t, err)
		defer art.Body.Close()
		assert.Equal(t, int32(1), bucket.calls.Load())
		assert.Equal(t, checksum.Bytes(current), art.Digest)
		assert.Equal(t, int64(len(current)), art.Size)
	})

	t.Run("index failure forces download", func(t *testing.T) {
		bucket, index, backend, local := newFixture(t)
		index.err = errors.New("kv unreachable")
		require.NoError(t, os.WriteFile(local, current, 0o644))

		art, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local, UpdateCheck: true})
		require.NoError(t, err)
		defer art.Body.Close()
		assert.Equal(t, int32(1), bucket.calls.Load())
		assert.Empty(t, art.Digest)
	})

	t.Run("empty digest forces download", func(t *testing.T) {
		bucket, index, backend, local := newFixture(t)
		index.digests = map[string]string{}
		require.NoError(t, os.WriteFile(local, current, 0o644))

		art, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local, UpdateCheck: true})
		require.NoError(t, err)
		art.Body.Close()
		assert.Equal(t, int32(1), bucket.calls.Load())
	})

	t.Run("missing locally with update check", func(t *testing.T) {
		bucket, _, backend, local := newFixture(t)

		art, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local, UpdateCheck: true})
		require.NoError(t, err)
		art.Body.Close()
		assert.Equal(t, int32(1), bucket.calls.Load())
		assert.Equal(t, checksum.Bytes(current), art.Digest)
	})

	t.Run("present without update check", func(t *testing.T) {
		bucket, index, backend, local := newFixture(t)
		require.NoError(t, os.WriteFile(local, stale, 0o644))

		_, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local})
		assert.ErrorIs(t, err, errs.ErrUpToDate)
		assert.Equal(t, int32(0), bucket.calls.Load())
		assert.Equal(t, int32(0), index.calls.Load())
	})

	t.Run("bucket failure", func(t *testing.T) {
		bucket, _, backend, local := newFixture(t)
		bucket.err = errors.New("connection reset")

		_, err := backend.Fetch(context.Background(), Request{Model: "m.onnx", LocalPath: local})
		assert.ErrorIs(t, err, errs.ErrFetchFailed)
	})
}
