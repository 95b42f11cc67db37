package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// queueSize bounds events accepted by Send but not yet broadcast.
	queueSize = 64
)

// Event names used in Message.Event.
const (
	EventAlert     = "alert"
	EventBacklog   = "backlog"
	EventHeartbeat = "heartbeat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrHubStopped is wrapped in the delivery error returned by Send once Run
// has exited.
var ErrHubStopped = errors.New("ws: hub stopped")

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Heartbeat is the payload of a heartbeat message.
type Heartbeat struct {
	Time    time.Time `json:"time"`
	Clients int       `json:"clients"`
}

// Hub streams fired alerts to connected WebSocket clients. It implements
// alerts.Notifier so the engine can register it like any other channel.
type Hub struct {
	interval time.Duration
	backlog  int

	queue chan alerts.Event
	done  chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  []alerts.Event
	stopped bool
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that sends a heartbeat every interval and replays the
// last backlog events to each new client.
func New(interval time.Duration, backlog int) *Hub {
	return &Hub{
		interval: interval,
		backlog:  backlog,
		queue:    make(chan alerts.Event, queueSize),
		done:     make(chan struct{}),
		clients:  make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Send queues ev for broadcast. It blocks only while the queue is full.
func (h *Hub) Send(ctx context.Context, ev alerts.Event) error {
	select {
	case <-h.done:
		return &alerts.DeliveryError{Channel: h.Name(), Err: ErrHubStopped}
	default:
	}
	select {
	case h.queue <- ev:
		return nil
	case <-h.done:
		return &alerts.DeliveryError{Channel: h.Name(), Err: ErrHubStopped}
	case <-ctx.Done():
		return &alerts.DeliveryError{Channel: h.Name(), Err: ctx.Err()}
	}
}

// Run broadcasts queued events and periodic heartbeats. Run blocks until ctx
// is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.queue:
			h.remember(ev)
			h.broadcast(Message{Event: EventAlert, Data: ev})
		case now := <-t.C:
			h.broadcast(Message{Event: EventHeartbeat, Data: Heartbeat{Time: now.UTC(), Clients: h.Count()}})
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The recent backlog is sent immediately on connect, then live alerts follow.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")) //nolint:errcheck
		conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Recent returns the replay backlog, oldest first.
func (h *Hub) Recent() []alerts.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]alerts.Event, len(h.recent))
	for i, ev := range h.recent {
		out[i] = ev.Clone()
	}
	return out
}

// --- internal ---------------------------------------------------------------

// register adds c and queues the backlog message ahead of any broadcast.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	backlog := append([]alerts.Event{}, h.recent...)
	if data, err := json.Marshal(Message{Event: EventBacklog, Data: backlog}); err == nil {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop must be called with mu held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remember(ev alerts.Event) {
	if h.backlog <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, ev.Clone())
	if n := len(h.recent); n > h.backlog {
		h.recent = append([]alerts.Event(nil), h.recent[n-h.backlog:]...)
	}
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full: disconnect it.
			h.drop(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	close(h.done)
	for c := range h.clients {
		h.drop(c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
