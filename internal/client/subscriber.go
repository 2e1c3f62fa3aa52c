package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const (
	// pongWait is the time allowed to read the next message or pong from the
	// server. The server pings more often than this.
	pongWait = 90 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Message is one frame pushed by the server's websocket hub.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// BatchEvent decodes a message from the batch events channel.
func (m Message) BatchEvent() (domain.BatchEvent, error) {
	var ev domain.BatchEvent
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return domain.BatchEvent{}, fmt.Errorf("client: decode batch event: %w", err)
	}
	return ev, nil
}

// Prices decodes a message from the prices channel.
func (m Message) Prices() ([]domain.PriceRecord[domain.Quote], error) {
	var raw []domain.QuoteJSON
	if err := json.Unmarshal(m.Payload, &raw); err != nil {
		return nil, fmt.Errorf("client: decode prices: %w", err)
	}
	out := make([]domain.PriceRecord[domain.Quote], 0, len(raw))
	for _, q := range raw {
		rec, err := q.Record()
		if err != nil {
			return nil, fmt.Errorf("client: decode prices: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscriber follows the server's websocket and reconnects with exponential
// backoff when the connection drops.
type Subscriber struct {
	wsURL    string
	header   http.Header
	channels []string
	dialer   websocket.Dialer
	logger   *slog.Logger
}

// NewSubscriber creates a Subscriber for the server at baseURL. When
// channels is non-empty the subscriber narrows its subscription to them.
func NewSubscriber(baseURL, apiKey string, channels []string, logger *slog.Logger) *Subscriber {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	return &Subscriber{
		wsURL:    wsURL(baseURL),
		header:   header,
		channels: channels,
		dialer:   websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:   logger.With(slog.String("component", "ws_subscriber")),
	}
}

// wsURL maps an http(s) server root to its websocket endpoint.
func wsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Run delivers messages to handle until ctx is cancelled. handle runs on
// the read goroutine and must not block for long.
func (s *Subscriber) Run(ctx context.Context, handle func(Message)) error {
	delay := reconnectDelay
	for {
		connected, err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = reconnectDelay
		}
		s.logger.WarnContext(ctx, "ws: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection until it fails. connected reports whether
// the dial succeeded.
func (s *Subscriber) session(ctx context.Context, handle func(Message)) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, s.header)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	if len(s.channels) > 0 {
		if err := s.narrow(conn); err != nil {
			return true, err
		}
	}
	s.logger.InfoContext(ctx, "ws: connected", slog.String("url", s.wsURL))

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return true, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == "error" {
			s.logger.WarnContext(ctx, "ws: server rejected request", slog.String("detail", string(msg.Payload)))
		}
		handle(msg)
	}
}

// narrow replaces the default subscription with s.channels.
func (s *Subscriber) narrow(conn *websocket.Conn) error {
	type subscribeMsg struct {
		Action   string   `json:"action"`
		Channels []string `json:"channels"`
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"*"}}); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: s.channels}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
