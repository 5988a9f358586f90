// Package server is the ops HTTP surface: queue introspection, leaderboard
// and user lookups, archive browsing, and a WebSocket stream of settlement
// events. It is an operator tool, not the player-facing path; players act
// through Discord.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
	"github.com/rcldev/tokenarena/internal/server/handler"
	"github.com/rcldev/tokenarena/internal/server/middleware"
	"github.com/rcldev/tokenarena/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Jobs     *handler.JobsHandler
	Users    *handler.UserHandler
	Archives *handler.ArchiveHandler
}

// Server is the ops HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wraps it in the middleware
// chain (rate limiting, auth, logging, CORS). limiter may be nil when rate
// limiting is disabled; wsHub may be nil in worker-only processes.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health endpoints stay unauthenticated for load balancers.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Readiness)

	// Queue introspection and maintenance.
	mux.HandleFunc("GET /api/jobs/stats", handlers.Jobs.Stats)
	mux.HandleFunc("GET /api/jobs/failed", handlers.Jobs.ListFailed)
	mux.HandleFunc("POST /api/jobs/failed/{id}/retry", handlers.Jobs.RetryFailed)
	mux.HandleFunc("DELETE /api/jobs", handlers.Jobs.Purge)

	// Users and leaderboard.
	mux.HandleFunc("GET /api/leaderboard", handlers.Users.Leaderboard)
	mux.HandleFunc("GET /api/users/{id}", handlers.Users.GetUser)
	mux.HandleFunc("POST /api/users/{id}/grant", handlers.Users.GrantPoints)

	// Cold-storage archives.
	mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.GetArchive)

	// Settlement event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /api/ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start listens for HTTP requests and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
