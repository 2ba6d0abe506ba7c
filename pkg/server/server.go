// Package server exposes the operator HTTP endpoints of a running solverd:
// health, predictor status, fetched models and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jguan/solverd/pkg/infra/ratelimit"
	"github.com/jguan/solverd/pkg/infra/store"
	"github.com/jguan/solverd/pkg/predictor"
)

const ContentTypeJSON = "application/json"

// Predictors is the view of the predictor registry the server needs.
type Predictors interface {
	Statuses() []predictor.Status
	ActiveCount() int
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Version         string
	Backend         string
	Logger          *slog.Logger
	// Limiter throttles each client when set.
	Limiter ratelimit.Limiter
}

type Server struct {
	config     Config
	predictors Predictors
	ledger     store.Ledger
	mu         sync.Mutex
	http       *http.Server
	logger     *slog.Logger
	router     chi.Router
}

func New(predictors Predictors, ledger store.Ledger, config Config) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8000"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		config:     config,
		predictors: predictors,
		ledger:     ledger,
		logger:     config.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(s.logger))
	r.Use(Logging(s.logger))
	r.Use(Metrics)
	if s.config.Limiter != nil {
		r.Use(RateLimit(s.config.Limiter))
	}
	r.Use(middleware.Timeout(s.config.WriteTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/predictors", s.handlePredictors)
	r.Get("/models", s.handleModels)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on ln, or on the configured address when ln is nil. It
// blocks until Stop is called.
func (s *Server) Start(ln net.Listener) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	var err error
	if ln == nil {
		if ln, err = net.Listen("tcp", s.config.Addr); err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
		}
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("starting ops server", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("stopping ops server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Backend    string `json:"backend,omitempty"`
	Active     int    `json:"active_predictors"`
	Predictors int    `json:"predictors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total := len(s.predictors.Statuses())
	active := s.predictors.ActiveCount()

	resp := healthResponse{
		Status:     "healthy",
		Version:    s.config.Version,
		Backend:    s.config.Backend,
		Active:     active,
		Predictors: total,
	}
	code := http.StatusOK
	switch {
	case total > 0 && active == 0:
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case active < total:
		resp.Status = "degraded"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handlePredictors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.predictors.Statuses())
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    errCode,
			"message": message,
		},
	})
}
