package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
)

// Server exposes the operational endpoints: health, status, version.
// It carries no bot functionality and binds to the configured port
// only when one is set.
type Server struct {
	config   *common.Config
	logger   arbor.ILogger
	queue    interfaces.QueueService
	renderer interfaces.RendererClient
	catalog  interfaces.CatalogService
	purge    interfaces.PurgeService
	server   *http.Server
}

// New creates the operational HTTP server
func New(
	config *common.Config,
	queue interfaces.QueueService,
	renderer interfaces.RendererClient,
	catalog interfaces.CatalogService,
	purge interfaces.PurgeService,
	logger arbor.ILogger,
) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		queue:    queue,
		renderer: renderer,
		catalog:  catalog,
		purge:    purge,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/version", s.versionHandler)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start serves until Shutdown. Callers run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Status server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down status server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("Status server stopped")
	return nil
}
