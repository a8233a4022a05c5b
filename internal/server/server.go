// Package server is the HTTP and websocket surface over scan state.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/server/handler"
	"github.com/alanyoungcy/skinbot/internal/server/middleware"
	"github.com/alanyoungcy/skinbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	// RateLimitPerMinute applies per client IP when Limiter is set.
	RateLimitPerMinute int
	Limiter            domain.RateLimiter
	Observe            middleware.RequestObserver
}

// Handlers aggregates the route handlers. Archives and Metrics may be nil.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Scans         *handler.ScanHandler
	Opportunities *handler.OpportunityHandler
	Archives      *handler.ArchiveHandler
	Metrics       http.Handler
}

// Server is the headless HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in rate limiting, auth,
// logging and CORS, outermost last.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/scans", handlers.Scans.ListScans)
	mux.HandleFunc("GET /api/scans/{id}", handlers.Scans.GetScan)
	mux.HandleFunc("POST /api/scans/{id}/pause", handlers.Scans.PauseScan)
	mux.HandleFunc("POST /api/scans/{id}/resume", handlers.Scans.ResumeScan)

	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListOpportunities)
	mux.HandleFunc("GET /api/opportunities/stream", handlers.Opportunities.StreamOpportunities)

	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.GetArchive)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	h = middleware.Auth(cfg.APIKey, logger, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, cfg.Observe)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
