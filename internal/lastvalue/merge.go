// Package lastvalue is an in-memory last-value price store with atomic batch
// visibility. Producers stage prices inside a batch; readers only ever see
// the committed store, which a completed batch replaces in one step.
package lastvalue

import "github.com/alanyoungcy/lastvalue/internal/domain"

// SelectLatest returns incoming only when its as-of time is strictly after
// existing's. On a tie existing is kept, so the first record staged for a
// timestamp wins.
func SelectLatest[P any](existing, incoming domain.PriceRecord[P]) domain.PriceRecord[P] {
	if incoming.AsOf().After(existing.AsOf()) {
		return incoming
	}
	return existing
}

// mergeInto folds rec into m by instrument using SelectLatest and reports
// whether m changed.
func mergeInto[P any](m map[string]domain.PriceRecord[P], rec domain.PriceRecord[P]) bool {
	cur, ok := m[rec.InstrumentID()]
	if !ok {
		m[rec.InstrumentID()] = rec
		return true
	}
	winner := SelectLatest(cur, rec)
	if winner.AsOf().Equal(cur.AsOf()) {
		return false
	}
	m[rec.InstrumentID()] = winner
	return true
}
