// Package service assembles a solverd process from configuration: storage
// backend, fetch ledger, model store, predictor registry and ops server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/jguan/solverd/pkg/config"
	"github.com/jguan/solverd/pkg/inference"
	"github.com/jguan/solverd/pkg/infra/fetch"
	"github.com/jguan/solverd/pkg/infra/ratelimit"
	"github.com/jguan/solverd/pkg/infra/store"
	"github.com/jguan/solverd/pkg/modelstore"
	"github.com/jguan/solverd/pkg/predictor"
	"github.com/jguan/solverd/pkg/server"
)

type SolverService struct {
	cfg      *config.Config
	version  string
	backend  fetch.Backend
	ledger   store.Ledger
	engine   inference.Engine
	variants []predictor.Variant
	models   *modelstore.Store
	registry *predictor.Registry
}

type Option func(*SolverService)

func WithBackend(b fetch.Backend) Option {
	return func(s *SolverService) { s.backend = b }
}

func WithLedger(l store.Ledger) Option {
	return func(s *SolverService) { s.ledger = l }
}

func WithEngine(e inference.Engine) Option {
	return func(s *SolverService) { s.engine = e }
}

func WithVariants(vs []predictor.Variant) Option {
	return func(s *SolverService) { s.variants = vs }
}

func WithVersion(v string) Option {
	return func(s *SolverService) { s.version = v }
}

// New connects the configured storage backend and opens the ledger.
// Predictors are not loaded until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*SolverService, error) {
	s := &SolverService{
		cfg:      cfg,
		version:  "dev",
		variants: predictor.DefaultVariants,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		backend, err := fetch.New(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("create storage backend: %w", err)
		}
		s.backend = backend
	}
	if s.ledger == nil {
		s.ledger = store.Open(cfg.General.DataDir)
	}
	if s.engine == nil {
		s.engine = inference.Unavailable("no inference runtime is linked into this build")
	}

	s.models = modelstore.New(s.backend, modelstore.WithLedger(s.ledger))
	return s, nil
}

func (s *SolverService) Models() *modelstore.Store { return s.models }

func (s *SolverService) Ledger() store.Ledger { return s.ledger }

// Registry returns nil before LoadPredictors.
func (s *SolverService) Registry() *predictor.Registry { return s.registry }

// ModelNames lists the model files of every enabled challenge type.
func (s *SolverService) ModelNames() []string {
	enabled := make(map[string]bool, len(s.cfg.Predictor.Enabled))
	for _, typ := range s.cfg.Predictor.Enabled {
		enabled[typ] = true
	}

	var names []string
	for _, v := range s.variants {
		if len(enabled) > 0 && !enabled[v.Type] {
			continue
		}
		names = append(names, v.Models...)
	}
	return names
}

// FetchResult is the outcome of resolving one model.
type FetchResult struct {
	Name  string `json:"name" yaml:"name"`
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Prefetch resolves names concurrently. A failed model does not stop the
// others; the returned error joins every failure.
func (s *SolverService) Prefetch(ctx context.Context, names []string, updateCheck bool) ([]FetchResult, error) {
	p := pool.NewWithResults[FetchResult]().WithMaxGoroutines(s.concurrency())
	for _, name := range names {
		p.Go(func() FetchResult {
			path, err := s.models.Resolve(ctx, name, s.cfg.Store.ModelDir, updateCheck)
			if err != nil {
				return FetchResult{Name: name, Error: err.Error()}
			}
			return FetchResult{Name: name, Path: path}
		})
	}

	results := p.Wait()
	var errList []error
	for _, r := range results {
		if r.Error != "" {
			errList = append(errList, fmt.Errorf("%s: %s", r.Name, r.Error))
		}
	}
	return results, errors.Join(errList...)
}

func (s *SolverService) concurrency() int {
	if s.cfg.Predictor.Concurrency > 0 {
		return s.cfg.Predictor.Concurrency
	}
	return 1
}

// LoadPredictors resolves and loads every enabled predictor.
func (s *SolverService) LoadPredictors(ctx context.Context) *predictor.Registry {
	s.registry = predictor.NewRegistry(ctx, s.models, s.engine, predictor.Options{
		ModelDir:    s.cfg.Store.ModelDir,
		UpdateCheck: s.cfg.Store.UpdateCheck,
		Concurrency: s.concurrency(),
		Enabled:     s.cfg.Predictor.Enabled,
		Variants:    s.variants,
	})
	return s.registry
}

// Run loads predictors and serves the ops endpoints until ctx is cancelled
// or the process receives SIGINT or SIGTERM. ln may be nil.
func (s *SolverService) Run(ctx context.Context, ln net.Listener) error {
	slog.Info("solverd starting",
		"version", s.version,
		"backend", s.models.Backend(),
		"model_dir", s.cfg.Store.ModelDir,
		"update_check", s.cfg.Store.UpdateCheck,
	)

	registry := s.LoadPredictors(ctx)

	srvCfg := server.Config{
		Addr:    s.cfg.API.ListenAddr,
		Version: s.version,
		Backend: s.models.Backend(),
		Logger:  slog.Default(),
	}
	if s.cfg.API.RateLimit > 0 {
		srvCfg.Limiter = ratelimit.New(s.cfg.API.RateLimit, s.cfg.API.RateBurst)
	}
	srv := server.New(registry, s.ledger, srvCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-errCh:
		if err != nil {
			runErr = err
		}
	case sig := <-quit:
		slog.Info("received signal, shutting down gracefully", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	slog.Info("solverd stopped")
	return runErr
}

// Close releases predictor sessions and the ledger.
func (s *SolverService) Close() error {
	var errList []error
	if s.registry != nil {
		errList = append(errList, s.registry.Close())
	}
	if s.ledger != nil {
		errList = append(errList, s.ledger.Close())
	}
	return errors.Join(errList...)
}
