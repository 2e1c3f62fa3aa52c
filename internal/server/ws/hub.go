// Package ws streams batch events and committed price updates to websocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// DefaultChannels are the bus channels bridged when none are configured.
var DefaultChannels = []string{
	domain.BatchEventsChannel,
	"lastvalue:prices",
}

// Frame types pushed to clients.
const (
	frameStatus        = "store_status"
	frameEvent         = "event"
	frameSubscriptions = "subscriptions"
	framePong          = "pong"
	frameError         = "error"
)

// StatusSource reports the store state sent to clients when they connect.
type StatusSource interface {
	ActiveBatch(ctx context.Context) (domain.BatchInfo, bool)
	CommittedCount(ctx context.Context) int
}

// Gauge is the part of a prometheus gauge the hub reports its client count to.
type Gauge interface {
	Set(float64)
}

// Config configures a Hub.
type Config struct {
	Mode           string
	Channels       []string
	AllowedOrigins []string
	StartedAt      time.Time
	// Clients, when set, tracks the number of connected clients.
	Clients Gauge
}

// frame is the envelope of every message pushed to clients.
type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeFrame(typ, channel string, payload any) ([]byte, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok && payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(frame{Type: typ, Channel: channel, Payload: raw})
}

// Hub bridges SignalBus channels to websocket clients. A client whose send
// queue fills up is disconnected rather than silently missing events; it
// reconnects and receives a fresh store_status.
type Hub struct {
	bus       domain.SignalBus
	status    StatusSource
	channels  []string
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time
	gauge     Gauge

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub bridging bus to websocket clients. status may be nil.
func NewHub(bus domain.SignalBus, status StatusSource, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	return &Hub{
		bus:      bus,
		status:   status,
		channels: slices.Clone(channels),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		gauge:     cfg.Clients,
		clients:   make(map[*client]struct{}),
	}
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the bridged channels and forwards their messages until
// ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range h.channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "ws: subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.logger.InfoContext(ctx, "ws: bridging channel", slog.String("channel", ch))
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			h.forward(ctx, channel, msgs)
		}(ch)
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			h.broadcast(channel, data)
		}
	}
}

// broadcast queues one bus message for every client subscribed to channel.
func (h *Hub) broadcast(channel string, data []byte) {
	if !json.Valid(data) {
		h.logger.Warn("ws: dropping non-JSON bus message", slog.String("channel", channel))
		return
	}
	msg, err := encodeFrame(frameEvent, channel, json.RawMessage(data))
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		if !c.enqueue(msg) {
			h.logger.Warn("ws: disconnecting slow client",
				slog.String("remote", c.remote),
				slog.String("channel", channel),
			)
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.reportLocked()
	h.logger.Info("ws: client connected",
		slog.String("remote", c.remote),
		slog.Int("total_clients", len(h.clients)),
	)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c)
		h.logger.Info("ws: client disconnected",
			slog.String("remote", c.remote),
			slog.Int("total_clients", len(h.clients)),
		)
	}
}

// dropLocked unregisters c and closes its queue, which makes its writer
// send a close frame. h.mu must be held.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.reportLocked()
}

func (h *Hub) reportLocked() {
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.clients)))
	}
}

// bridged reports whether the hub forwards channel, or a pattern that can
// match bridged channels.
func (h *Hub) bridged(channel string) bool {
	if channel == "*" {
		return true
	}
	for _, ch := range h.channels {
		if ch == channel {
			return true
		}
		if prefix, ok := strings.CutSuffix(channel, "*"); ok && strings.HasPrefix(ch, prefix) {
			return true
		}
	}
	return false
}

// HandleWS upgrades the request and registers the client, subscribed to
// every bridged channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	for _, ch := range h.channels {
		c.subs[ch] = struct{}{}
	}
	c.enqueue(h.statusFrame(r.Context()))

	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// statusFrame tells a new client the store state so it does not have to
// wait for the next batch.
func (h *Hub) statusFrame(ctx context.Context) []byte {
	payload := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
		"channels":       h.channels,
	}
	if h.status != nil {
		payload["committed"] = h.status.CommittedCount(ctx)
		if info, ok := h.status.ActiveBatch(ctx); ok {
			payload["active_batch"] = info
		}
	}
	msg, err := encodeFrame(frameStatus, "", payload)
	if err != nil {
		return nil
	}
	return msg
}
