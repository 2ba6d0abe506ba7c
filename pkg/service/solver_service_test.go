package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/solverd/pkg/config"
	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/inference"
	"github.com/jguan/solverd/pkg/infra/fetch"
	"github.com/jguan/solverd/pkg/infra/store"
	"github.com/jguan/solverd/pkg/predictor"
)

type mapBackend struct {
	models map[string][]byte
	calls  atomic.Int32
}

func (b *mapBackend) Name() string { return "test" }

func (b *mapBackend) Fetch(ctx context.Context, req fetch.Request) (*fetch.Artifact, error) {
	b.calls.Add(1)
	if fetch.FileExists(req.LocalPath) {
		return nil, errs.ErrUpToDate
	}
	data, ok := b.models[req.Model]
	if !ok {
		return nil, errs.Wrapf(errors.New("404"), errs.KindFetchFailed, "fetch %s", req.Model)
	}
	return &fetch.Artifact{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

var variants = []predictor.Variant{
	{Type: "alpha", Kind: predictor.KindImage, Models: []string{"alpha.onnx"}},
	{Type: "beta", Kind: predictor.KindImagePair, Models: []string{"beta.onnx"}},
	{Type: "gamma", Kind: predictor.KindImage, Models: []string{"gamma.onnx"}},
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.General.DataDir = dir
	cfg.Store.ModelDir = filepath.Join(dir, "models")
	cfg.API.ListenAddr = "127.0.0.1:0"
	return cfg
}

func okEngine() inference.Engine {
	return inference.EngineFunc(func(paths ...string) (inference.Session, error) {
		return inference.Func(func(...image.Image) (float32, error) { return 1, nil }), nil
	})
}

func newTestService(t *testing.T, cfg *config.Config, backend fetch.Backend) *SolverService {
	t.Helper()
	s, err := New(context.Background(), cfg,
		WithBackend(backend),
		WithLedger(store.NewMemoryLedger()),
		WithEngine(okEngine()),
		WithVariants(variants),
		WithVersion("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_DefaultsEngineAndLedger(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, WithBackend(&mapBackend{}))
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Ledger())
	assert.Nil(t, s.Registry())
	_, err = s.engine.Load("x.onnx")
	assert.True(t, inference.IsUnavailable(err))
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "ftp"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestModelNames(t *testing.T) {
	cfg := testConfig(t)
	s := newTestService(t, cfg, &mapBackend{})
	assert.Equal(t, []string{"alpha.onnx", "beta.onnx", "gamma.onnx"}, s.ModelNames())

	cfg.Predictor.Enabled = []string{"gamma"}
	assert.Equal(t, []string{"gamma.onnx"}, s.ModelNames())
}

func TestPrefetch(t *testing.T) {
	cfg := testConfig(t)
	backend := &mapBackend{models: map[string][]byte{"alpha.onnx": []byte("a"), "beta.onnx": []byte("b")}}
	s := newTestService(t, cfg, backend)

	results, err := s.Prefetch(context.Background(), s.ModelNames(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gamma.onnx")
	require.Len(t, results, 3)

	byName := map[string]FetchResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, filepath.Join(cfg.Store.ModelDir, "alpha.onnx"), byName["alpha.onnx"].Path)
	assert.Empty(t, byName["alpha.onnx"].Error)
	assert.NotEmpty(t, byName["gamma.onnx"].Error)

	entries, err := s.Ledger().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// second pass hits the cache without contacting the backend
	calls := backend.calls.Load()
	_, err = s.Prefetch(context.Background(), []string{"alpha.onnx", "beta.onnx"}, false)
	require.NoError(t, err)
	assert.Equal(t, calls, backend.calls.Load())
}

func TestLoadPredictors(t *testing.T) {
	cfg := testConfig(t)
	backend := &mapBackend{models: map[string][]byte{"alpha.onnx": []byte("a"), "beta.onnx": []byte("b")}}
	s := newTestService(t, cfg, backend)

	r := s.LoadPredictors(context.Background())
	assert.Same(t, r, s.Registry())
	assert.Equal(t, 2, r.ActiveCount())

	_, err := r.Predict(context.Background(), "gamma", image.NewRGBA(image.Rect(0, 0, 400, 400)))
	assert.ErrorIs(t, err, errs.ErrPredictorUnavailable)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s := newTestService(t, cfg, &mapBackend{models: map[string][]byte{"alpha.onnx": []byte("a")}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/predictors")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err = os.Stat(filepath.Join(cfg.Store.ModelDir, "alpha.onnx"))
	assert.NoError(t, err)
}
