// Package api exposes the entity store over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cortex-engine/entity-core/internal/entity"
	"github.com/cortex-engine/entity-core/internal/metrics"
	"github.com/cortex-engine/entity-core/internal/queue"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/internal/vector"
	"github.com/cortex-engine/entity-core/internal/worker"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns HTTP defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "dev",
	}
}

// Server serves the REST surface: entity CRUD, search, job inspection
// and health probes.
type Server struct {
	cfg        Config
	service    *entity.Service
	registry   *registry.Registry
	queue      *queue.Queue   // optional
	pool       *worker.Pool   // optional
	mirror     *vector.Mirror // optional, backs /related
	metrics    metrics.Metrics
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	startTime  time.Time
	ready      atomic.Bool
}

// Option wires optional collaborators.
type Option func(*Server)

// WithJobQueue exposes job status and queue stats endpoints.
func WithJobQueue(q *queue.Queue) Option {
	return func(s *Server) { s.queue = q }
}

// WithWorkerPool exposes worker stats.
func WithWorkerPool(p *worker.Pool) Option {
	return func(s *Server) { s.pool = p }
}

// WithMirror enables the related-entities endpoint.
func WithMirror(m *vector.Mirror) Option {
	return func(s *Server) { s.mirror = m }
}

// WithMetrics serves Prometheus metrics at /metrics.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates the HTTP server.
func New(cfg Config, svc *entity.Service, reg *registry.Registry, logger *zap.Logger, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("entity service is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}

	s := &Server{
		cfg:       cfg,
		service:   svc,
		registry:  reg,
		logger:    logger,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReady).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.HTTPHandler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/types", s.handleListTypes).Methods("GET")

	v1.HandleFunc("/entities", s.handleCreateEntity).Methods("POST")
	v1.HandleFunc("/entities/{type}", s.handleListEntities).Methods("GET")
	v1.HandleFunc("/entities/{type}/count", s.handleCountEntities).Methods("GET")
	v1.HandleFunc("/entities/{type}/{id}", s.handleGetEntity).Methods("GET")
	v1.HandleFunc("/entities/{type}/{id}", s.handleUpdateEntity).Methods("PUT")
	v1.HandleFunc("/entities/{type}/{id}", s.handleDeleteEntity).Methods("DELETE")
	v1.HandleFunc("/entities/{type}/{id}/related", s.handleRelated).Methods("GET")

	v1.HandleFunc("/search", s.handleSearch).Methods("POST")

	if s.queue != nil {
		v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
		v1.HandleFunc("/jobs", s.handleJobsByEntity).Methods("GET")
		v1.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")
	}
	if s.pool != nil {
		v1.HandleFunc("/workers/stats", s.handleWorkerStats).Methods("GET")
	}
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.ready.Store(true)
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
	return s.httpServer.ListenAndServe()
}

// SetReady flips the readiness probe, to drain before shutdown.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
