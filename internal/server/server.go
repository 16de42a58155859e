// Package server exposes the pipeline and run history over an HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"radar/internal/config"
	"radar/internal/core"
	"radar/internal/logger"
	"radar/internal/pipeline"
	"radar/internal/store"
)

// Runner is the pipeline surface the server drives.
type Runner interface {
	RunWithOverrides(ctx context.Context, ov *pipeline.Overrides) (*core.RunResult, error)
	Stage() pipeline.Stage
	LastResult() *core.RunResult
}

// RunHistory is the persistence surface the server reads.
type RunHistory interface {
	SaveRun(result *core.RunResult) (string, error)
	ListRuns(limit int) ([]store.RunSummary, error)
	GetRun(runID string) (*core.RunResult, error)
	LastRun() (*core.RunResult, error)
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	runner     Runner
	history    RunHistory
	config     config.Server
	keepRuns   int
	log        *slog.Logger

	// running guards against overlapping pipeline runs.
	running chan struct{}
}

// New creates a new HTTP server instance. history may be nil, in which case
// runs are served from the in-memory last result only.
func New(runner Runner, history RunHistory, cfg config.Server, keepRuns int) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		runner:   runner,
		history:  history,
		config:   cfg,
		keepRuns: keepRuns,
		log:      logger.Get(),
		running:  make(chan struct{}, 1),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.Duration(cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.WriteTimeout, 120*time.Second),
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/process", s.handleProcess)
		r.Get("/last-result", s.handleLastResult)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
