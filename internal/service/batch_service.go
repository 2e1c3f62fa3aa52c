package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
	"github.com/alanyoungcy/lastvalue/internal/lastvalue"
	"github.com/alanyoungcy/lastvalue/internal/metrics"
)

// PricesChannel carries the records each completed batch applied, as a JSON
// array of domain.QuoteJSON.
const PricesChannel = "lastvalue:prices"

// maxEventInstruments caps the instrument list carried by a completion event.
const maxEventInstruments = 1000

// BatchNotifier tells operators about batch outcomes.
type BatchNotifier interface {
	NotifyBatch(ctx context.Context, ev domain.BatchEvent) error
}

// PriceServiceDeps lists the optional collaborators of a PriceService. Nil
// fields are skipped.
type PriceServiceDeps struct {
	Audit    domain.AuditStore
	Mirror   domain.PriceMirror
	Bus      domain.SignalBus
	Notifier BatchNotifier
	Metrics  *metrics.Metrics
}

// PriceService is the context-aware entry point to the last-value store. It
// runs each lifecycle call against the store and then fans the outcome out
// to the audit journal, the price mirror, the event bus and operators. The
// store call has already taken effect by then, so a failing side effect is
// logged and never turns a successful call into an error.
//
// Lifecycle calls hold mu from the store call until their audit row, bus
// events and gauges are written, so the journal and the event stream list
// batches in the order the store saw them. Mirror writes and operator
// notifications happen after mu is released.
type PriceService struct {
	store  *lastvalue.Manager[domain.Quote]
	deps   PriceServiceDeps
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewPriceService creates a PriceService around store.
func NewPriceService(store *lastvalue.Manager[domain.Quote], deps PriceServiceDeps, logger *slog.Logger) *PriceService {
	return &PriceService{
		store:  store,
		deps:   deps,
		logger: logger.With(slog.String("component", "price_service")),
		now:    time.Now,
	}
}

// MaxChunkSize is the largest slice PublishPrices accepts.
func (s *PriceService) MaxChunkSize() int { return s.store.MaxChunkSize() }

// StartBatch opens a batch.
func (s *PriceService) StartBatch(ctx context.Context) (domain.BatchID, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("price_service: start batch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.StartBatch()
	if err != nil {
		s.rejected(ctx, "start", id, err)
		return "", fmt.Errorf("price_service: start batch: %w", err)
	}

	s.logger.InfoContext(ctx, "batch started", slog.String("batch_id", string(id)))
	if m := s.deps.Metrics; m != nil {
		m.BatchesStarted.Inc()
		m.ActiveBatch.Set(1)
		m.StagedRecords.Set(0)
	}
	s.audit(ctx, id, domain.AuditBatchStarted, nil)
	s.publishEvent(ctx, domain.BatchEvent{Event: domain.AuditBatchStarted, BatchID: id, Status: domain.BatchStatusStarted})
	return id, nil
}

// PublishPrices stages one chunk of records and returns the number of
// instruments staged in the batch so far.
func (s *PriceService) PublishPrices(ctx context.Context, id domain.BatchID, records []domain.PriceRecord[domain.Quote]) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("price_service: publish prices: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged, err := s.store.PublishPrices(id, records)
	if err != nil {
		s.rejected(ctx, "publish", id, err)
		return 0, fmt.Errorf("price_service: publish prices: %w", err)
	}
	if len(records) == 0 {
		return staged, nil
	}

	s.logger.DebugContext(ctx, "prices staged",
		slog.String("batch_id", string(id)),
		slog.Int("records", len(records)),
		slog.Int("staged", staged),
	)
	if m := s.deps.Metrics; m != nil {
		m.RecordsPublished.Add(float64(len(records)))
		m.StagedRecords.Set(float64(staged))
	}
	s.audit(ctx, id, domain.AuditPricesPublished, map[string]any{
		"records": len(records),
		"staged":  staged,
	})
	return staged, nil
}

// CompleteBatch makes the batch visible to readers and closes it.
func (s *PriceService) CompleteBatch(ctx context.Context, id domain.BatchID) (lastvalue.CommitSummary[domain.Quote], error) {
	s.mu.Lock()
	sum, err := s.store.CompleteBatch(id)
	if err != nil {
		s.rejected(ctx, "complete", id, err)
		s.mu.Unlock()
		return sum, fmt.Errorf("price_service: complete batch: %w", err)
	}

	s.logger.InfoContext(ctx, "batch completed",
		slog.String("batch_id", string(id)),
		slog.Int("staged", sum.Staged),
		slog.Int("applied", len(sum.Applied)),
		slog.Int("superseded", sum.Superseded),
		slog.Duration("duration", sum.Duration),
	)
	if m := s.deps.Metrics; m != nil {
		m.BatchesClosed.WithLabelValues("completed").Inc()
		m.RecordsApplied.Add(float64(len(sum.Applied)))
		m.RecordsSuperseded.Add(float64(sum.Superseded))
		m.BatchDuration.Observe(sum.Duration.Seconds())
		m.ActiveBatch.Set(0)
		m.StagedRecords.Set(0)
		m.CommittedPrices.Set(float64(s.store.CommittedCount()))
	}
	s.audit(ctx, id, domain.AuditBatchCompleted, map[string]any{
		"staged":      sum.Staged,
		"applied":     len(sum.Applied),
		"superseded":  sum.Superseded,
		"duration_ms": sum.Duration.Milliseconds(),
	})
	s.publishPrices(ctx, sum.Applied)

	ev := domain.BatchEvent{
		Event:      domain.AuditBatchCompleted,
		BatchID:    id,
		Status:     domain.BatchStatusCompleted,
		Staged:     sum.Staged,
		Applied:    len(sum.Applied),
		Superseded: sum.Superseded,
	}
	if len(sum.Applied) <= maxEventInstruments {
		ev.Instruments = make([]string, len(sum.Applied))
		for i, rec := range sum.Applied {
			ev.Instruments[i] = rec.InstrumentID()
		}
	}
	s.publishEvent(ctx, ev)
	s.mu.Unlock()

	s.mirror(ctx, id, sum.Applied)
	s.notify(ctx, ev)
	return sum, nil
}

// CancelBatch discards the batch.
func (s *PriceService) CancelBatch(ctx context.Context, id domain.BatchID) (lastvalue.CancelSummary, error) {
	s.mu.Lock()
	sum, err := s.store.CancelBatch(id)
	if err != nil {
		s.rejected(ctx, "cancel", id, err)
		s.mu.Unlock()
		return sum, fmt.Errorf("price_service: cancel batch: %w", err)
	}

	s.logger.InfoContext(ctx, "batch cancelled",
		slog.String("batch_id", string(id)),
		slog.Int("discarded", sum.Discarded),
	)
	if m := s.deps.Metrics; m != nil {
		m.BatchesClosed.WithLabelValues("cancelled").Inc()
		m.BatchDuration.Observe(sum.Duration.Seconds())
		m.ActiveBatch.Set(0)
		m.StagedRecords.Set(0)
	}
	s.audit(ctx, id, domain.AuditBatchCancelled, map[string]any{"discarded": sum.Discarded})

	ev := domain.BatchEvent{
		Event:     domain.AuditBatchCancelled,
		BatchID:   id,
		Status:    domain.BatchStatusCancelled,
		Discarded: sum.Discarded,
	}
	s.publishEvent(ctx, ev)
	s.mu.Unlock()

	s.notify(ctx, ev)
	return sum, nil
}

// GetLastPrice returns the committed price for an instrument.
func (s *PriceService) GetLastPrice(_ context.Context, instrumentID string) (domain.PriceRecord[domain.Quote], bool) {
	return s.store.GetLastPrice(instrumentID)
}

// ListLastPrices returns every committed price sorted by instrument.
func (s *PriceService) ListLastPrices(_ context.Context) []domain.PriceRecord[domain.Quote] {
	return s.store.LastPrices()
}

// CommittedCount returns the number of instruments with a committed price
// without copying them.
func (s *PriceService) CommittedCount(_ context.Context) int {
	return s.store.CommittedCount()
}

// ActiveBatch describes the open batch, if any.
func (s *PriceService) ActiveBatch(_ context.Context) (domain.BatchInfo, bool) {
	return s.store.ActiveBatch()
}

// Snapshot returns the committed prices and the store version they belong
// to. The version is read first, so a snapshot is never older than its
// version.
func (s *PriceService) Snapshot(_ context.Context) ([]domain.PriceRecord[domain.Quote], uint64) {
	v := s.store.Version()
	return s.store.LastPrices(), v
}

// Restore loads records through an ordinary batch, split into chunks of the
// store's maximum size. A failure cancels the batch so nothing is applied.
func (s *PriceService) Restore(ctx context.Context, records []domain.PriceRecord[domain.Quote]) (lastvalue.CommitSummary[domain.Quote], error) {
	id, err := s.StartBatch(ctx)
	if err != nil {
		return lastvalue.CommitSummary[domain.Quote]{}, fmt.Errorf("price_service: restore: %w", err)
	}
	chunk := s.MaxChunkSize()
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		if _, err := s.PublishPrices(ctx, id, records[start:end]); err != nil {
			if _, cerr := s.CancelBatch(context.WithoutCancel(ctx), id); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return lastvalue.CommitSummary[domain.Quote]{}, fmt.Errorf("price_service: restore: %w", err)
		}
	}
	sum, err := s.CompleteBatch(ctx, id)
	if err != nil {
		return sum, fmt.Errorf("price_service: restore: %w", err)
	}
	return sum, nil
}

func (s *PriceService) rejected(ctx context.Context, op string, id domain.BatchID, err error) {
	kind := KindOf(err)
	s.logger.WarnContext(ctx, "batch operation rejected",
		slog.String("op", op),
		slog.String("batch_id", string(id)),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	if m := s.deps.Metrics; m != nil {
		m.Rejected.WithLabelValues(op, kind).Inc()
	}
	s.audit(ctx, id, domain.AuditBatchRejected, map[string]any{
		"op":    op,
		"kind":  kind,
		"error": err.Error(),
	})
}

func (s *PriceService) audit(ctx context.Context, id domain.BatchID, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, id, event, detail); err != nil {
		s.sideEffectFailed(ctx, "audit", id, err)
	}
}

func (s *PriceService) mirror(ctx context.Context, id domain.BatchID, applied []domain.PriceRecord[domain.Quote]) {
	if s.deps.Mirror == nil || len(applied) == 0 {
		return
	}
	written, err := s.deps.Mirror.MirrorPrices(ctx, applied)
	if err != nil {
		s.sideEffectFailed(ctx, "mirror", id, err)
		return
	}
	s.logger.DebugContext(ctx, "prices mirrored",
		slog.String("batch_id", string(id)),
		slog.Int("written", written),
	)
}

func (s *PriceService) publishEvent(ctx context.Context, ev domain.BatchEvent) {
	if s.deps.Bus == nil {
		return
	}
	ev.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(ev)
	if err != nil {
		s.sideEffectFailed(ctx, "bus", ev.BatchID, err)
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.BatchEventsChannel, payload); err != nil {
		s.sideEffectFailed(ctx, "bus", ev.BatchID, err)
	}
}

func (s *PriceService) publishPrices(ctx context.Context, applied []domain.PriceRecord[domain.Quote]) {
	if s.deps.Bus == nil || len(applied) == 0 {
		return
	}
	out := make([]domain.QuoteJSON, len(applied))
	for i, rec := range applied {
		out[i] = domain.ToQuoteJSON(rec)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		s.sideEffectFailed(ctx, "bus", "", err)
		return
	}
	if err := s.deps.Bus.Publish(ctx, PricesChannel, payload); err != nil {
		s.sideEffectFailed(ctx, "bus", "", err)
	}
}

func (s *PriceService) notify(ctx context.Context, ev domain.BatchEvent) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.NotifyBatch(ctx, ev); err != nil {
		s.sideEffectFailed(ctx, "notify", ev.BatchID, err)
	}
}

func (s *PriceService) sideEffectFailed(ctx context.Context, target string, id domain.BatchID, err error) {
	s.logger.WarnContext(ctx, "price_service: "+target+" failed",
		slog.String("batch_id", string(id)),
		slog.String("error", err.Error()),
	)
	if m := s.deps.Metrics; m != nil {
		m.SideEffectErrors.WithLabelValues(target).Inc()
	}
}

// KindOf names the error kind of a lifecycle error for logs, metrics and
// API responses.
func KindOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrState):
		return "state"
	default:
		return "internal"
	}
}
