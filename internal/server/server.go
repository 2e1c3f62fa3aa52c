// Package server exposes the last-value store over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
	"github.com/alanyoungcy/lastvalue/internal/server/handler"
	"github.com/alanyoungcy/lastvalue/internal/server/middleware"
	"github.com/alanyoungcy/lastvalue/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps write requests per client IP per RateWindow. Zero
	// disables it; it also needs a Limiter.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit may be nil when no audit store is configured.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Batches *handler.BatchHandler
	Prices  *handler.PriceHandler
	Audit   *handler.AuditHandler
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	h := NewHandler(cfg, handlers, wsHub, limiter, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped handler without a listener.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Writes go through the rate limiter when one is configured.
	write := func(f http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.RateLimit <= 0 {
			return f
		}
		return middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(f)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Producer endpoints.
	mux.Handle("POST /api/batches", write(handlers.Batches.StartBatch))
	mux.HandleFunc("GET /api/batches/active", handlers.Batches.GetActive)
	mux.Handle("POST /api/batches/{id}/prices", write(handlers.Batches.PublishPrices))
	mux.Handle("POST /api/batches/{id}/complete", write(handlers.Batches.CompleteBatch))
	mux.Handle("POST /api/batches/{id}/cancel", write(handlers.Batches.CancelBatch))

	// Consumer endpoints.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("GET /api/prices/{instrument}", handlers.Prices.GetPrice)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
