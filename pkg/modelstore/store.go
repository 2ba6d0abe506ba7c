// Package modelstore resolves model names to verified files in the local
// model directory, downloading them through a fetch backend when needed.
package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/checksum"
	"github.com/jguan/solverd/pkg/infra/fetch"
	"github.com/jguan/solverd/pkg/infra/logger"
	"github.com/jguan/solverd/pkg/infra/metrics"
	"github.com/jguan/solverd/pkg/infra/store"
)

// maxArtifactSize bounds a single download held in memory before it is
// verified and written.
const maxArtifactSize = 2 << 30

// Descriptor names a model artifact and where it is cached.
type Descriptor struct {
	Name        string
	LocalPath   string
	UpdateCheck bool
}

// NewDescriptor returns the descriptor of name inside modelDir.
func NewDescriptor(name, modelDir string, updateCheck bool) Descriptor {
	return Descriptor{
		Name:        name,
		LocalPath:   filepath.Join(modelDir, name),
		UpdateCheck: updateCheck,
	}
}

type Option func(*Store)

// WithLedger records every written artifact in l.
func WithLedger(l store.Ledger) Option {
	return func(s *Store) {
		s.ledger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is safe for concurrent use. Resolutions of the same name are not
// deduplicated; the atomic rename keeps readers from observing partial
// files.
type Store struct {
	backend fetch.Backend
	ledger  store.Ledger
	now     func() time.Time
}

func New(backend fetch.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the name of the configured backend.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Resolve returns the local path of name inside modelDir. With updateCheck
// unset an existing file is returned without contacting the backend or
// reading it.
func (s *Store) Resolve(ctx context.Context, name, modelDir string, updateCheck bool) (string, error) {
	return s.ResolveDescriptor(ctx, NewDescriptor(name, modelDir, updateCheck))
}

func (s *Store) ResolveDescriptor(ctx context.Context, d Descriptor) (string, error) {
	if d.Name == "" || d.Name != filepath.Base(d.Name) {
		return "", errs.New(errs.KindInvalidInput, fmt.Sprintf("invalid model name %q", d.Name))
	}

	backend := s.backend.Name()
	if !d.UpdateCheck && fetch.FileExists(d.LocalPath) {
		metrics.ObserveFetch(backend, metrics.OutcomeCached, 0, 0)
		return d.LocalPath, nil
	}

	ctx = logger.SetModel(ctx, d.Name)
	log := logger.WithContext(ctx)
	start := s.now()

	n, err := s.fetch(ctx, d)
	elapsed := s.now().Sub(start)
	switch {
	case errors.Is(err, errs.ErrUpToDate):
		metrics.ObserveFetch(backend, metrics.OutcomeUpToDate, 0, elapsed)
		log.Debug("model is up to date", "path", d.LocalPath)
		return d.LocalPath, nil
	case err != nil:
		metrics.ObserveFetch(backend, metrics.OutcomeFailed, 0, elapsed)
		log.Error("model resolution failed", "backend", backend, "error", err)
		return "", err
	}

	metrics.ObserveFetch(backend, metrics.OutcomeDownloaded, n, elapsed)
	log.Info("model downloaded", "backend", backend, "path", d.LocalPath, "bytes", n, "duration", elapsed)
	return d.LocalPath, nil
}

func (s *Store) fetch(ctx context.Context, d Descriptor) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(d.LocalPath), 0o755); err != nil {
		return 0, errs.Wrapf(err, errs.KindIOFailure, "create model directory")
	}

	art, err := s.backend.Fetch(ctx, fetch.Request{
		Model:       d.Name,
		LocalPath:   d.LocalPath,
		UpdateCheck: d.UpdateCheck,
	})
	if err != nil {
		if errors.Is(err, errs.ErrUpToDate) || errors.Is(err, errs.ErrFetchFailed) {
			return 0, err
		}
		return 0, errs.Wrapf(err, errs.KindFetchFailed, "fetch %s", d.Name)
	}
	defer art.Body.Close()

	data, err := readArtifact(art)
	if err != nil {
		return 0, errs.Wrapf(err, errs.KindFetchFailed, "download %s", d.Name)
	}

	digest := checksum.Bytes(data)
	if art.Digest != "" && !checksum.Equal(digest, art.Digest) {
		mismatch := &errs.Error{
			Kind:    errs.KindFetchFailed,
			Message: fmt.Sprintf("download %s", d.Name),
			Cause:   fmt.Errorf("digest mismatch: expected %s, got %s", art.Digest, digest),
		}
		return 0, mismatch.WithDetail("expected", art.Digest).WithDetail("actual", digest)
	}

	if err := atomicwriter.WriteFile(d.LocalPath, data, 0o644); err != nil {
		return 0, errs.Wrapf(err, errs.KindIOFailure, "write %s", d.LocalPath)
	}

	s.record(ctx, store.Entry{
		Name:      d.Name,
		Path:      d.LocalPath,
		Digest:    digest,
		Size:      int64(len(data)),
		Backend:   s.backend.Name(),
		FetchedAt: s.now(),
	})

	return int64(len(data)), nil
}

func readArtifact(art *fetch.Artifact) ([]byte, error) {
	if art.Size > maxArtifactSize {
		return nil, fmt.Errorf("artifact of %d bytes exceeds limit", art.Size)
	}

	var buf bytes.Buffer
	if art.Size > 0 {
		buf.Grow(int(art.Size))
	}
	n, err := io.Copy(&buf, io.LimitReader(art.Body, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch {
	case n == 0:
		return nil, errors.New("empty body")
	case n > maxArtifactSize:
		return nil, errors.New("artifact exceeds size limit")
	case art.Size >= 0 && n != art.Size:
		return nil, fmt.Errorf("short read: got %d of %d bytes", n, art.Size)
	}
	return buf.Bytes(), nil
}

func (s *Store) record(ctx context.Context, e store.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, e); err != nil {
		logger.WithContext(ctx).Warn("failed to record fetch", "error", err)
	}
}
