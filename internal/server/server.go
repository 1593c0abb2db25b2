package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/enmapper/snowflow/internal/ratelimit"
	"github.com/enmapper/snowflow/internal/run"
)

// Server is the snowflow HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
// Optional (nil-safe): Limiter, Broker.
type Config struct {
	Registry *run.Registry
	Logger   *slog.Logger

	Limiter ratelimit.Limiter
	Broker  *Broker

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start requests spin up agent pipelines; keep them rate limited by
	// client address. Queries are cheap snapshot reads and are not.
	startRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, RequestIDFromContext)

	mux := http.NewServeMux()
	mux.Handle("POST /api/migration/start", startRL(http.HandlerFunc(h.HandleStartMigration)))
	mux.HandleFunc("GET /api/migration/{migration_id}/status", h.HandleMigrationStatus)
	mux.HandleFunc("GET /api/migration/{migration_id}/diagram", h.HandleDiagram)
	mux.HandleFunc("POST /api/migration/{migration_id}/cancel", h.HandleCancelMigration)
	mux.HandleFunc("POST /api/migration/{migration_id}/credentials", h.HandleUploadCredentials)
	mux.HandleFunc("GET /api/migrations", h.HandleListMigrations)

	// Live log stream (no rate limit, long-lived connection).
	mux.HandleFunc("GET /api/migration/{migration_id}/events", h.HandleMigrationEvents)

	mux.HandleFunc("GET /api/health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler exposes the fully wrapped handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server draining")
	return s.httpServer.Shutdown(ctx)
}
