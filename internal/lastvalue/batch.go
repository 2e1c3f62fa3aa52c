package lastvalue

import (
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// batch is the producer's private staging area. It is only touched while the
// manager's lock is held.
type batch[P any] struct {
	id        domain.BatchID
	status    domain.BatchStatus
	staged    map[string]domain.PriceRecord[P]
	startedAt time.Time

	publishCalls    int
	recordsReceived int
}

func newBatch[P any](id domain.BatchID, startedAt time.Time) *batch[P] {
	return &batch[P]{
		id:        id,
		status:    domain.BatchStatusStarted,
		staged:    make(map[string]domain.PriceRecord[P]),
		startedAt: startedAt,
	}
}

func (b *batch[P]) stage(records []domain.PriceRecord[P]) {
	if b.status == domain.BatchStatusStarted {
		b.status = domain.BatchStatusInProgress
	}
	for _, rec := range records {
		mergeInto(b.staged, rec)
	}
	b.publishCalls++
	b.recordsReceived += len(records)
}

func (b *batch[P]) info() domain.BatchInfo {
	return domain.BatchInfo{
		ID:        b.id,
		Status:    b.status,
		Staged:    len(b.staged),
		Publishes: b.publishCalls,
		Received:  b.recordsReceived,
		StartedAt: b.startedAt,
	}
}

// closedRing remembers the ids of the most recently closed batches so a late
// call on one of them is reported as a state error rather than an unknown id.
type closedRing struct {
	ids  []domain.BatchID
	next int
	set  map[domain.BatchID]struct{}
}

func newClosedRing(size int) *closedRing {
	return &closedRing{
		ids: make([]domain.BatchID, 0, size),
		set: make(map[domain.BatchID]struct{}, size),
	}
}

func (r *closedRing) add(id domain.BatchID) {
	if cap(r.ids) == 0 {
		return
	}
	if len(r.ids) < cap(r.ids) {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % len(r.ids)
	}
	r.set[id] = struct{}{}
}

func (r *closedRing) contains(id domain.BatchID) bool {
	_, ok := r.set[id]
	return ok
}
