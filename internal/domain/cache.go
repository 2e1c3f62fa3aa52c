package domain

import (
	"context"
	"time"
)

// PriceMirror copies committed prices into an external cache for consumers
// outside this process. Implementations must apply latest-wins themselves:
// a record older than the mirrored one is ignored.
type PriceMirror interface {
	MirrorPrices(ctx context.Context, records []PriceRecord[Quote]) (int, error)
	GetPrice(ctx context.Context, instrumentID string) (PriceRecord[Quote], error)
}

// SignalBus provides fire-and-forget pub/sub for batch events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking between replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BatchEventsChannel is the channel that carries lifecycle events.
const BatchEventsChannel = "lastvalue:batches"

// BatchEvent is the JSON message published on BatchEventsChannel.
type BatchEvent struct {
	Event       string      `json:"event"`
	BatchID     BatchID     `json:"batch_id"`
	Status      BatchStatus `json:"status"`
	Staged      int         `json:"staged,omitempty"`
	Applied     int         `json:"applied,omitempty"`
	Superseded  int         `json:"superseded,omitempty"`
	Discarded   int         `json:"discarded,omitempty"`
	Instruments []string    `json:"instruments,omitempty"`
	Timestamp   string      `json:"timestamp"`
}
