package lastvalue

import (
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const (
	// DefaultMaxChunkSize is the largest number of records one publish call accepts.
	DefaultMaxChunkSize = 1000
	// DefaultClosedHistory is how many closed batch ids are remembered.
	DefaultClosedHistory = 128
)

type options struct {
	ids           domain.IDGenerator
	maxChunk      int
	now           func() time.Time
	closedHistory int
}

// Option configures a Manager.
type Option func(*options)

// WithIDGenerator sets the batch id source. The default issues UUIDs.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithMaxChunkSize overrides the per-call record limit. Values below 1 are ignored.
func WithMaxChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxChunk = n
		}
	}
}

// WithClock sets the time source used for batch start times and durations.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClosedHistory sets how many closed batch ids are kept. Zero disables
// the history; calls on closed ids then look like calls on unknown ids.
func WithClosedHistory(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.closedHistory = n
		}
	}
}

func defaultOptions() options {
	return options{
		ids:           domain.UUIDGenerator{},
		maxChunk:      DefaultMaxChunkSize,
		now:           time.Now,
		closedHistory: DefaultClosedHistory,
	}
}
