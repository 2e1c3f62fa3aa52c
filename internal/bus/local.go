// Package bus provides an in-process domain.SignalBus for deployments without
// Redis.
package bus

import (
	"context"
	"path"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Local fans messages out to subscribers in the same process. Channels may
// use the same glob wildcards Redis accepts for PSUBSCRIBE. A subscriber that
// falls more than subscriberBuffer messages behind misses messages rather
// than blocking publishers.
type Local struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// NewLocal creates an empty bus.
func NewLocal() *Local {
	return &Local{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every matching subscriber.
func (l *Local) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for s := range l.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
			l.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. It is closed
// when ctx is cancelled.
func (l *Local) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, s)
		close(s.ch)
		l.mu.Unlock()
	}()
	return s.ch, nil
}

// Dropped reports how many messages slow subscribers have lost.
func (l *Local) Dropped() uint64 { return l.dropped.Load() }

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

// Compile-time interface check.
var _ domain.SignalBus = (*Local)(nil)
