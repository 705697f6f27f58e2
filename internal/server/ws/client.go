package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscribeMsg changes a client's filter at runtime.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
	Agents []string `json:"agents"`
}

// client is one connection. An empty events set admits every event; an
// empty agents set admits every address.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte
	done   chan struct{} // closed when writePump exits

	mu     sync.RWMutex
	events map[string]bool
	agents map[string]bool

	// While holding, live frames wait in held until the replay is done.
	holding bool
	held    []routed
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		events: make(map[string]bool),
		agents: make(map[string]bool),
	}
}

func (c *client) apply(msg subscribeMsg) {
	on := msg.Action == "subscribe"
	if !on && msg.Action != "unsubscribe" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range msg.Events {
		if on {
			c.events[e] = true
		} else {
			delete(c.events, e)
		}
	}
	for _, a := range msg.Agents {
		a = strings.ToLower(a)
		if on {
			c.agents[a] = true
		} else {
			delete(c.agents, a)
		}
	}
}

func (c *client) wants(msg routed) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.events) > 0 && !c.events[msg.event] {
		return false
	}
	if len(c.agents) == 0 {
		return true
	}
	for _, a := range msg.addrs {
		if c.agents[a] {
			return true
		}
	}
	return false
}

// offer hands a live frame to the client. It reports false when the frame
// was dropped because the client is not keeping up.
func (c *client) offer(msg routed) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holding {
		if len(c.held) >= sendBufferSize {
			return false
		}
		c.held = append(c.held, msg)
		return true
	}
	select {
	case c.send <- msg.data:
		return true
	default:
		return false
	}
}

// hello lets a client mark the connection healthy before any event.
func (c *client) hello() {
	payload, _ := json.Marshal(map[string]any{
		"channel":        c.hub.channel,
		"replay":         c.hub.stream != "",
		"uptime_seconds": int64(time.Since(c.hub.started).Seconds()),
	})
	msg, _ := json.Marshal(frame{Type: "hello", Payload: payload})
	c.send <- msg
}

// readPump applies filter changes until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(raw, &sub) == nil {
			c.apply(sub)
		}
	}
}

// writePump writes queued frames and keeps the connection alive with
// pings. It exits when send is closed or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
