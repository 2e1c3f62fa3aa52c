package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	s3blob "github.com/alanyoungcy/lastvalue/internal/blob/s3"
	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const (
	snapshotLockKey  = "snapshot"
	shutdownTimeout  = 30 * time.Second
	defaultSnapEvery = 5 * time.Minute
)

// SnapshotSource provides the committed prices to archive.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]domain.PriceRecord[domain.Quote], uint64)
}

// SnapshotArchiverConfig configures a SnapshotArchiver. Keep > 0 deletes
// all but the newest Keep snapshots after each upload.
type SnapshotArchiverConfig struct {
	Prefix   string
	Interval time.Duration
	Keep     int
}

// SnapshotArchiver periodically uploads the committed store to object
// storage as newline-delimited JSON. An upload is skipped when no batch has
// changed the store since the previous one. When a lock manager is set, only
// the replica holding the snapshot lock uploads.
type SnapshotArchiver struct {
	src    SnapshotSource
	store  domain.SnapshotStore
	locks  domain.LockManager
	cfg    SnapshotArchiverConfig
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastVersion  uint64
	haveUploaded bool
}

// NewSnapshotArchiver creates an archiver. locks may be nil.
func NewSnapshotArchiver(src SnapshotSource, store domain.SnapshotStore, locks domain.LockManager, cfg SnapshotArchiverConfig, logger *slog.Logger) *SnapshotArchiver {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSnapEvery
	}
	return &SnapshotArchiver{
		src:    src,
		store:  store,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "snapshot_archiver")),
		now:    time.Now,
	}
}

// Run archives on every tick until ctx is cancelled, then archives once more
// so the last committed state is not lost on shutdown.
func (a *SnapshotArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "snapshot archiver started",
		slog.String("prefix", a.cfg.Prefix),
		slog.Duration("interval", a.cfg.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if _, err := a.ArchiveOnce(final); err != nil {
				a.logger.ErrorContext(final, "final snapshot failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Seed records that the store at version already matches the snapshot at
// key, typically the one restored at boot, so it is not uploaded again.
func (a *SnapshotArchiver) Seed(key string, version uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastVersion = version
	a.haveUploaded = true
	a.logger.Debug("snapshot archiver seeded", slog.String("key", key), slog.Uint64("version", version))
}

// ArchiveOnce uploads a snapshot if the store changed since the last upload.
// It returns the object key, or "" when nothing was uploaded.
func (a *SnapshotArchiver) ArchiveOnce(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, version := a.src.Snapshot(ctx)
	if len(records) == 0 || (a.haveUploaded && version == a.lastVersion) {
		return "", nil
	}

	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, snapshotLockKey, a.cfg.Interval)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "snapshot lock held elsewhere", "detail", err.Error())
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("snapshot: acquire lock: %w", err)
		}
		defer unlock()
	}

	data, err := s3blob.EncodeSnapshot(records)
	if err != nil {
		return "", fmt.Errorf("snapshot: encode: %w", err)
	}

	key := s3blob.SnapshotKey(a.cfg.Prefix, a.now())
	if int64(len(data)) >= s3blob.MinPartSize {
		err = a.store.PutMultipart(ctx, key, bytes.NewReader(data), s3blob.MinPartSize)
	} else {
		err = a.store.Put(ctx, key, bytes.NewReader(data), s3blob.SnapshotContentType)
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: upload %s: %w", key, err)
	}

	a.lastVersion = version
	a.haveUploaded = true
	a.logger.InfoContext(ctx, "snapshot uploaded",
		slog.String("key", key),
		slog.Int("records", len(records)),
		slog.Int("bytes", len(data)),
		slog.Uint64("version", version),
	)
	a.prune(ctx)
	return key, nil
}

// prune deletes snapshots beyond cfg.Keep. Failures are logged and retried
// after the next upload.
func (a *SnapshotArchiver) prune(ctx context.Context) {
	if a.cfg.Keep <= 0 {
		return
	}
	infos, err := a.store.List(ctx, a.cfg.Prefix)
	if err != nil {
		a.logger.WarnContext(ctx, "snapshot prune: list failed", slog.String("error", err.Error()))
		return
	}
	expired := s3blob.ExpiredSnapshots(infos, a.cfg.Keep)
	if len(expired) == 0 {
		return
	}
	if err := a.store.Delete(ctx, expired...); err != nil {
		a.logger.WarnContext(ctx, "snapshot prune: delete failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "old snapshots deleted", slog.Int("count", len(expired)))
}

// RestoreLatest loads the newest snapshot under prefix into svc. It returns
// the snapshot key, or "" when there is none.
func RestoreLatest(ctx context.Context, reader domain.BlobReader, prefix string, svc *PriceService, logger *slog.Logger) (string, error) {
	infos, err := reader.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("snapshot: list %s: %w", prefix, err)
	}
	key, ok := s3blob.LatestSnapshot(infos)
	if !ok {
		logger.InfoContext(ctx, "no snapshot to restore", slog.String("prefix", prefix))
		return "", nil
	}

	body, err := reader.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("snapshot: get %s: %w", key, err)
	}
	defer body.Close()

	records, err := s3blob.DecodeSnapshot(body)
	if err != nil {
		return "", fmt.Errorf("snapshot: %s: %w", key, err)
	}
	if len(records) == 0 {
		return key, nil
	}
	sum, err := svc.Restore(ctx, records)
	if err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "snapshot restored",
		slog.String("key", key),
		slog.Int("records", len(records)),
		slog.Int("applied", len(sum.Applied)),
	)
	return key, nil
}
