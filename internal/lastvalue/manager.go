package lastvalue

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// CommitSummary describes what a completed batch changed.
type CommitSummary[P any] struct {
	BatchID    domain.BatchID
	Staged     int
	Applied    []domain.PriceRecord[P] // sorted by instrument
	Superseded int
	Duration   time.Duration
}

// CancelSummary describes a discarded batch.
type CancelSummary struct {
	BatchID   domain.BatchID
	Discarded int
	Duration  time.Duration
}

// Manager owns the batch lifecycle and the committed store. At most one batch
// is active at a time. Lifecycle calls serialise on one mutex; reads of the
// committed store never take it.
type Manager[P any] struct {
	opts options

	mu     sync.Mutex
	active *batch[P]
	closed *closedRing

	committed *committedStore[P]
}

// NewManager creates an empty store.
func NewManager[P any](opts ...Option) *Manager[P] {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Manager[P]{
		opts:      o,
		closed:    newClosedRing(o.closedHistory),
		committed: newCommittedStore[P](),
	}
}

// MaxChunkSize returns the per-call record limit.
func (m *Manager[P]) MaxChunkSize() int { return m.opts.maxChunk }

// StartBatch opens a new batch. It fails with ErrConflict while another batch
// is still open.
func (m *Manager[P]) StartBatch() (domain.BatchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.status.Terminal() {
		return "", domain.NewBatchError("start", m.active.id, domain.ErrConflict, "another batch is active")
	}
	id := m.opts.ids.NewBatchID()
	if id == "" {
		return "", domain.NewBatchError("start", "", domain.ErrValidation, "id generator returned an empty id")
	}
	m.active = newBatch[P](id, m.opts.now())
	return id, nil
}

// PublishPrices stages records in the active batch and returns how many
// instruments are staged after the call. A chunk larger than the limit is
// rejected before anything else is checked; an empty chunk is a no-op.
// Nothing is staged when the call fails.
func (m *Manager[P]) PublishPrices(id domain.BatchID, records []domain.PriceRecord[P]) (int, error) {
	if len(records) > m.opts.maxChunk {
		return 0, domain.NewBatchError("publish", id, domain.ErrValidation,
			fmt.Sprintf("chunk of %d records exceeds the limit of %d", len(records), m.opts.maxChunk))
	}
	if len(records) == 0 {
		return 0, nil
	}
	for i, rec := range records {
		if !rec.Valid() {
			return 0, domain.NewBatchError("publish", id, domain.ErrValidation,
				fmt.Sprintf("record %d is missing an instrument id or as-of time", i))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.validateActive("publish", id)
	if err != nil {
		return 0, err
	}
	b.stage(records)
	return len(b.staged), nil
}

// CompleteBatch publishes the staged records to the committed store in one
// step and closes the batch.
func (m *Manager[P]) CompleteBatch(id domain.BatchID) (CommitSummary[P], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.validateActive("complete", id)
	if err != nil {
		return CommitSummary[P]{}, err
	}
	applied, superseded := m.committed.apply(b.staged)
	b.status = domain.BatchStatusCompleted
	m.close(b)
	return CommitSummary[P]{
		BatchID:    b.id,
		Staged:     len(b.staged),
		Applied:    applied,
		Superseded: superseded,
		Duration:   m.opts.now().Sub(b.startedAt),
	}, nil
}

// CancelBatch discards the active batch. The committed store is untouched.
func (m *Manager[P]) CancelBatch(id domain.BatchID) (CancelSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.validateActive("cancel", id)
	if err != nil {
		return CancelSummary{}, err
	}
	b.status = domain.BatchStatusCancelled
	m.close(b)
	return CancelSummary{
		BatchID:   b.id,
		Discarded: len(b.staged),
		Duration:  m.opts.now().Sub(b.startedAt),
	}, nil
}

// GetLastPrice returns the committed record for an instrument. Staged data is
// never visible here.
func (m *Manager[P]) GetLastPrice(instrumentID string) (domain.PriceRecord[P], bool) {
	return m.committed.get(instrumentID)
}

// LastPrices returns every committed record sorted by instrument. All records
// come from the same committed version.
func (m *Manager[P]) LastPrices() []domain.PriceRecord[P] {
	snap := m.committed.snapshot()
	out := make([]domain.PriceRecord[P], 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// CommittedCount returns the number of instruments with a committed price.
func (m *Manager[P]) CommittedCount() int {
	return m.committed.len()
}

// Version increases every time a completed batch changes the committed store.
func (m *Manager[P]) Version() uint64 {
	return m.committed.version.Load()
}

// ActiveBatch describes the open batch, if any.
func (m *Manager[P]) ActiveBatch() (domain.BatchInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return domain.BatchInfo{}, false
	}
	return m.active.info(), true
}

// validateActive is shared by publish, complete and cancel. Caller holds mu.
func (m *Manager[P]) validateActive(op string, id domain.BatchID) (*batch[P], error) {
	if m.active == nil {
		if m.closed.contains(id) {
			return nil, domain.NewBatchError(op, id, domain.ErrState, "batch is already closed")
		}
		return nil, domain.NewBatchError(op, id, domain.ErrNotFound, "no active batch")
	}
	if m.active.id != id {
		if m.closed.contains(id) {
			return nil, domain.NewBatchError(op, id, domain.ErrState, "batch is already closed")
		}
		return nil, domain.NewBatchError(op, id, domain.ErrValidation, "batch id does not match the active batch")
	}
	if m.active.status.Terminal() {
		return nil, domain.NewBatchError(op, id, domain.ErrState, "batch is "+m.active.status.String())
	}
	return m.active, nil
}

func (m *Manager[P]) close(b *batch[P]) {
	m.closed.add(b.id)
	m.active = nil
}
