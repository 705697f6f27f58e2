// Package ws streams committed contract events to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayBatch is the stream page size used when a client asks for
	// history with since_seq.
	replayBatch = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origins are checked by the CORS layer for the REST API; the
	// stream is read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// frame is the envelope of every server message. Event frames carry the
// event record exactly as the ledger stores it.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// routed is an encoded event frame plus the keys clients filter on.
type routed struct {
	seq   uint64
	event string
	addrs []string // agent and owner, lower-case hex
	data  []byte
}

// Hub relays the bus channel to connected clients. When stream is set,
// clients may replay recent history from it on connect.
type Hub struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
	started time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "ws")),
		started: time.Now().UTC(),
		clients: make(map[*client]struct{}),
	}
}

// Run relays events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.shutdown()
		return fmt.Errorf("ws: subscribe %s: %w", h.channel, err)
	}
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed", slog.String("channel", h.channel))
				return nil
			}
			msg, err := route(data)
			if err != nil {
				h.logger.WarnContext(ctx, "ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg routed) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(msg) && !c.offer(msg) {
			h.logger.Warn("ws: dropping event for slow client",
				slog.Uint64("seq", msg.seq),
				slog.String("remote", c.remote),
			)
		}
	}
}

// add registers c. It reports false once the hub has shut down.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("clients", len(h.clients)))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// route wraps an event record in a frame and extracts its routing keys.
func route(data []byte) (routed, error) {
	var rec struct {
		Seq  uint64 `json:"seq"`
		Name string `json:"name"`
		Data struct {
			Agent string `json:"agent"`
			Owner string `json:"owner"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return routed{}, err
	}
	out, err := json.Marshal(frame{Type: "event", Payload: data})
	if err != nil {
		return routed{}, err
	}
	msg := routed{seq: rec.Seq, event: rec.Name, data: out}
	for _, a := range []string{rec.Data.Agent, rec.Data.Owner} {
		if a != "" {
			msg.addrs = append(msg.addrs, strings.ToLower(a))
		}
	}
	return msg, nil
}

// HandleWS upgrades the request and streams events matching the filter
// given by the query: events and agents are comma-separated lists (agents
// also matches owners), since_seq replays retained history first.
//
//	GET /ws?events=TradeExecuted,PositionClosed&agents=0x...&since_seq=120
//
// The client is registered before the replay starts. Live events that
// arrive meanwhile are held and sent after the history, minus any seq the
// replay already covered.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sinceSeq uint64
	replay := false
	if v := q.Get("since_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "since_seq must be an unsigned integer", http.StatusBadRequest)
			return
		}
		sinceSeq, replay = n, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := newClient(h, conn, r.RemoteAddr)
	c.apply(subscribeMsg{Action: "subscribe", Events: splitList(q.Get("events")), Agents: splitList(q.Get("agents"))})
	replay = replay && h.stream != ""
	c.holding = replay

	go c.writePump()
	c.hello()
	if !h.add(c) {
		close(c.send)
		return
	}
	if replay {
		last := h.replay(r.Context(), c, sinceSeq)
		h.release(c, last)
	}
	go c.readPump()
}

// replay queues retained events after sinceSeq that pass the client's
// filter and returns the highest seq it read. It blocks on the client's
// buffer rather than dropping history.
func (h *Hub) replay(ctx context.Context, c *client, sinceSeq uint64) uint64 {
	lastID := "0"
	last := sinceSeq
	sent := 0
	for {
		msgs, err := h.bus.StreamRead(ctx, h.stream, lastID, replayBatch)
		if err != nil {
			h.logger.WarnContext(ctx, "ws: replay failed", slog.String("error", err.Error()))
			return last
		}
		for _, m := range msgs {
			lastID = m.ID
			msg, err := route(m.Payload)
			if err != nil || msg.seq <= sinceSeq {
				continue
			}
			last = max(last, msg.seq)
			if !c.wants(msg) {
				continue
			}
			if !h.deliver(ctx, c, msg.data) {
				return last
			}
			sent++
		}
		if len(msgs) < replayBatch {
			h.logger.DebugContext(ctx, "ws: replayed history",
				slog.Uint64("since_seq", sinceSeq),
				slog.Int("events", sent),
			)
			return last
		}
	}
}

// deliver queues data for a registered client, waiting for room in its
// buffer.
func (h *Hub) deliver(ctx context.Context, c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// release ends a replay: frames held back that are newer than last are
// queued in arrival order and later frames go straight to the client.
func (h *Hub) release(c *client, last uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.held {
		if msg.seq <= last {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping held event for slow client",
				slog.Uint64("seq", msg.seq),
				slog.String("remote", c.remote),
			)
		}
	}
	c.held, c.holding = nil, false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
