package domain

import (
	"context"
	"time"
)

// ListOpts pages and filters audit listings. Zero fields do not filter.
type ListOpts struct {
	Limit  int
	Offset int
	Event  string
	Since  *time.Time
	Until  *time.Time
}

// Audit event names written by the price service.
const (
	AuditBatchStarted    = "batch_started"
	AuditPricesPublished = "prices_published"
	AuditBatchCompleted  = "batch_completed"
	AuditBatchCancelled  = "batch_cancelled"
	AuditBatchRejected   = "batch_rejected"
)

// AuditEntry is a single batch audit row.
type AuditEntry struct {
	ID        int64
	BatchID   BatchID
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only journal of batch lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, batchID BatchID, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByBatch(ctx context.Context, batchID BatchID) ([]AuditEntry, error)
}
