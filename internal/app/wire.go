package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/lastvalue/internal/blob/s3"
	"github.com/alanyoungcy/lastvalue/internal/bus"
	"github.com/alanyoungcy/lastvalue/internal/cache/redis"
	"github.com/alanyoungcy/lastvalue/internal/config"
	"github.com/alanyoungcy/lastvalue/internal/crypto"
	"github.com/alanyoungcy/lastvalue/internal/domain"
	"github.com/alanyoungcy/lastvalue/internal/lastvalue"
	"github.com/alanyoungcy/lastvalue/internal/metrics"
	"github.com/alanyoungcy/lastvalue/internal/notify"
	"github.com/alanyoungcy/lastvalue/internal/server/handler"
	"github.com/alanyoungcy/lastvalue/internal/service"
	"github.com/alanyoungcy/lastvalue/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store   *lastvalue.Manager[domain.Quote]
	Prices  *service.PriceService
	Metrics *metrics.Metrics

	// Optional backing services; nil when disabled.
	AuditStore  domain.AuditStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Snapshots   domain.SnapshotStore

	// SignalBus is Redis pub/sub when Redis is enabled, otherwise an
	// in-process bus.
	SignalBus domain.SignalBus

	HealthChecks map[string]handler.HealthCheck

	// RestoredFrom is the snapshot key loaded at boot and RestoredVersion
	// the store version it produced; empty when nothing was restored.
	RestoredFrom    string
	RestoredVersion uint64
}

// resolveAPIKey fills server.api_key from the encrypted key file when only
// the file is configured.
func resolveAPIKey(cfg *config.Config) error {
	key, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.Server.APIKey,
		EncryptedPath: cfg.Server.APIKeyFile,
		Password:      cfg.Server.APIKeyPassword,
	})
	if errors.Is(err, crypto.ErrNoSecret) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wire: api key: %w", err)
	}
	cfg.Server.APIKey = key
	return nil
}

// storeOptions translates the [store] section into manager options.
func storeOptions(cfg *config.Config) []lastvalue.Option {
	return []lastvalue.Option{
		lastvalue.WithIDGenerator(domain.UUIDGenerator{}),
		lastvalue.WithMaxChunkSize(cfg.Store.MaxChunkSize),
		lastvalue.WithClosedHistory(cfg.Store.ClosedHistory),
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if err := resolveAPIKey(cfg); err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Store:        lastvalue.NewManager[domain.Quote](storeOptions(cfg)...),
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}
	svcDeps := service.PriceServiceDeps{Metrics: deps.Metrics}

	// --- PostgreSQL audit journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.ConnectTimeout(),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if applied := pgClient.Applied(); len(applied) > 0 {
				logger.InfoContext(ctx, "postgres migrations applied", slog.Any("files", applied))
			}
		}

		audit := postgres.NewAuditStore(pgClient.Pool())
		deps.AuditStore = audit
		svcDeps.Audit = audit
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis mirror, bus, limiter and locks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if cfg.Redis.Mirror {
			svcDeps.Mirror = redis.NewPriceMirror(redisClient)
		}
		sb := redis.NewSignalBus(redisClient)
		deps.Metrics.WatchBusDrops("redis", sb.Dropped)
		deps.SignalBus = sb
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		lb := bus.NewLocal()
		deps.Metrics.WatchBusDrops("local", lb.Dropped)
		deps.SignalBus = lb
	}
	svcDeps.Bus = deps.SignalBus

	// --- S3 snapshots ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Snapshots = s3blob.NewStore(s3Client)
		deps.HealthChecks["s3"] = s3Client.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		svcDeps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	deps.Prices = service.NewPriceService(deps.Store, svcDeps, logger)

	// Seed the store from the newest snapshot before anything can publish.
	if deps.Snapshots != nil && cfg.Store.RestoreOnBoot {
		key, err := service.RestoreLatest(ctx, deps.Snapshots, cfg.Snapshot.Prefix, deps.Prices, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: restore snapshot: %w", err)
		}
		if key != "" {
			deps.RestoredFrom = key
			deps.RestoredVersion = deps.Store.Version()
		}
	}

	return deps, cleanup, nil
}
