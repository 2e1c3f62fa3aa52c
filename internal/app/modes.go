package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lastvalue/internal/server"
	"github.com/alanyoungcy/lastvalue/internal/server/handler"
	"github.com/alanyoungcy/lastvalue/internal/server/ws"
	"github.com/alanyoungcy/lastvalue/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and the websocket hub until ctx is
// cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode is ServerMode plus the periodic snapshot archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if deps.Snapshots == nil {
		return fmt.Errorf("full mode: s3 is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)

	archiver := service.NewSnapshotArchiver(deps.Prices, deps.Snapshots, deps.LockManager,
		service.SnapshotArchiverConfig{
			Prefix:   a.cfg.Snapshot.Prefix,
			Interval: a.cfg.SnapshotInterval(),
			Keep:     a.cfg.Snapshot.Keep,
		}, a.logger)
	if deps.RestoredFrom != "" {
		archiver.Seed(deps.RestoredFrom, deps.RestoredVersion)
	}
	g.Go(func() error {
		return archiver.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the websocket hub and the HTTP server to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, deps.Prices, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		Channels:       a.cfg.Server.WSChannels,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      startedAt,
		Clients:        deps.Metrics.WSClients,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:  handler.NewStatusHandler(deps.Prices, a.cfg.Mode, startedAt),
		Batches: handler.NewBatchHandler(deps.Prices, a.logger),
		Prices:  handler.NewPriceHandler(deps.Prices, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.RateWindow(),
	}, handlers, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; the API is unauthenticated")
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.WarnContext(shutCtx, "HTTP server shutdown incomplete",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}
