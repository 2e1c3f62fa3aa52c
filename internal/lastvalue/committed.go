package lastvalue

import (
	"sort"
	"sync/atomic"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// committedStore holds the visible prices. The map behind the pointer is
// never mutated after it is published; apply builds a new one and swaps it in.
type committedStore[P any] struct {
	cur     atomic.Pointer[map[string]domain.PriceRecord[P]]
	version atomic.Uint64
}

func newCommittedStore[P any]() *committedStore[P] {
	s := &committedStore[P]{}
	empty := make(map[string]domain.PriceRecord[P])
	s.cur.Store(&empty)
	return s
}

func (s *committedStore[P]) get(instrumentID string) (domain.PriceRecord[P], bool) {
	rec, ok := (*s.cur.Load())[instrumentID]
	return rec, ok
}

// apply merges staged into the store. It must only be called by the single
// writer holding the lifecycle lock. It returns the records that changed the
// store and the number of staged records that lost to a committed value.
func (s *committedStore[P]) apply(staged map[string]domain.PriceRecord[P]) (applied []domain.PriceRecord[P], superseded int) {
	if len(staged) == 0 {
		return nil, 0
	}
	old := *s.cur.Load()
	next := make(map[string]domain.PriceRecord[P], len(old)+len(staged))
	for k, v := range old {
		next[k] = v
	}
	for _, rec := range staged {
		if mergeInto(next, rec) {
			applied = append(applied, rec)
		} else {
			superseded++
		}
	}
	if len(applied) == 0 {
		return nil, superseded
	}
	sortRecords(applied)
	s.cur.Store(&next)
	s.version.Add(1)
	return applied, superseded
}

// snapshot returns the current map. Callers must treat it as read-only.
func (s *committedStore[P]) snapshot() map[string]domain.PriceRecord[P] {
	return *s.cur.Load()
}

func (s *committedStore[P]) len() int {
	return len(*s.cur.Load())
}

func sortRecords[P any](recs []domain.PriceRecord[P]) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].InstrumentID() < recs[j].InstrumentID()
	})
}
