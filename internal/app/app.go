// Package app runs the last-value store: it wires the store to its optional
// backing services (Postgres, Redis, S3, notifications) and starts the
// goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/config"
)

const drainTimeout = 10 * time.Second

// App owns the configuration, the logger and the cleanup functions run by
// Close in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled. A batch still open at that point is cancelled so its producer
// and the audit journal see an explicit outcome. Resources are released by
// Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting lastvalue",
		slog.String("mode", a.cfg.Mode),
		slog.Int("max_chunk_size", a.cfg.Store.MaxChunkSize),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		err = a.ServerMode(ctx, deps)
	case "full":
		err = a.FullMode(ctx, deps)
	default:
		err = fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.drain(context.WithoutCancel(ctx), deps)
	return err
}

// drain cancels the open batch, if any, and logs the final store state.
func (a *App) drain(ctx context.Context, deps *Dependencies) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	if info, ok := deps.Prices.ActiveBatch(ctx); ok {
		sum, err := deps.Prices.CancelBatch(ctx, info.ID)
		if err != nil {
			a.logger.WarnContext(ctx, "cancel open batch at shutdown", slog.String("batch_id", string(info.ID)), slog.String("error", err.Error()))
		} else {
			a.logger.WarnContext(ctx, "open batch cancelled at shutdown",
				slog.String("batch_id", string(info.ID)),
				slog.Int("discarded", sum.Discarded),
			)
		}
	}
	a.logger.InfoContext(ctx, "store state at shutdown",
		slog.Int("committed", deps.Store.CommittedCount()),
		slog.Uint64("version", deps.Store.Version()),
	)
}

// Close releases resources in reverse registration order. Later calls do
// nothing.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
