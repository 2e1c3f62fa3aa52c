package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// request is a control message sent by a client:
//
//	{"action":"subscribe","channels":["lastvalue:prices"]}
//	{"action":"unsubscribe","channels":["*"]}
//	{"action":"ping"}
type request struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]struct{}),
	}
}

// enqueue queues msg without blocking. It reports false when the queue is
// full. Callers other than the hub itself must not hold h.mu.
func (c *client) enqueue(msg []byte) bool {
	if msg == nil {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// reply queues a response to a control message. A client too slow to take
// its own replies is dropped.
func (c *client) reply(msg []byte) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	if !c.enqueue(msg) {
		c.hub.dropLocked(c)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close",
					slog.String("remote", c.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(errorFrame("malformed request"))
			continue
		}
		c.reply(c.handle(req))
	}
}

// handle applies one control message and returns the frame to answer with.
func (c *client) handle(req request) []byte {
	switch req.Action {
	case "ping":
		msg, _ := encodeFrame(framePong, "", nil)
		return msg
	case "subscribe":
		for _, ch := range req.Channels {
			if !c.hub.bridged(ch) {
				return errorFrame(fmt.Sprintf("channel %q is not bridged", ch))
			}
		}
		c.mu.Lock()
		for _, ch := range req.Channels {
			c.subs[ch] = struct{}{}
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range req.Channels {
			if ch == "*" {
				clear(c.subs)
				break
			}
			delete(c.subs, ch)
		}
		c.mu.Unlock()
	default:
		return errorFrame(fmt.Sprintf("unknown action %q", req.Action))
	}
	msg, _ := encodeFrame(frameSubscriptions, "", map[string][]string{"channels": c.subscriptions()})
	return msg
}

func errorFrame(text string) []byte {
	msg, _ := encodeFrame(frameError, "", map[string]string{"error": text})
	return msg
}

// subscriptions returns the client's channels, sorted.
func (c *client) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// isSubscribed reports whether channel matches a subscription. A
// subscription ending in '*' matches every channel with that prefix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; ok {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump writes queued frames and pings until the queue is closed or a
// write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
