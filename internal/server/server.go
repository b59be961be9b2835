// Package server provides the HTTP API for Kotaeru.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/indexer"
	"github.com/hyperjump/kotaeru/internal/matcher"
	"github.com/hyperjump/kotaeru/internal/storage"
)

// Server is the HTTP server for the Kotaeru API.
type Server struct {
	builder *indexer.Builder
	matcher *matcher.Matcher
	storage storage.Storage
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	builder *indexer.Builder,
	m *matcher.Matcher,
	storage storage.Storage,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		builder: builder,
		matcher: m,
		storage: storage,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Builds stage and embed whole corpora, so the timeout is generous.
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/engines", s.handleBuildEngine)
	r.Get("/api/v1/engines", s.handleListEngines)
	r.Get("/api/v1/engines/{name}", s.handleGetEngine)
	r.Delete("/api/v1/engines/{name}", s.handleDeleteEngine)
	r.Post("/api/v1/query", s.handleQuery)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
