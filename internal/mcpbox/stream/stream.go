// Package stream implements the live-stream SSE endpoint (§4.10): each
// browser/admin connection gets a bounded, filtered queue fed by the
// Activity Logger's broadcast listener. A slow consumer never blocks the
// logger — its queue just drops the newest entry with a warning.
package stream

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/metrics"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

// queueCapacity is the bounded per-connection backlog (§4.10: "capacity ≈1000").
const queueCapacity = 1000

// Filter narrows which activity log entries a connection receives. A zero
// value (all fields empty) matches everything.
type Filter struct {
	ServerID string
	LogTypes map[string]bool
	Levels   map[string]bool
}

func (f Filter) matches(log *store.ActivityLog) bool {
	if f.ServerID != "" && (log.ServerID == nil || *log.ServerID != f.ServerID) {
		return false
	}
	if len(f.LogTypes) > 0 && !f.LogTypes[log.LogType] {
		return false
	}
	if len(f.Levels) > 0 && !f.Levels[log.Level] {
		return false
	}
	return true
}

// Connection is one live-stream subscriber.
type Connection struct {
	id    string
	queue chan *store.ActivityLog

	mu     sync.Mutex
	filter Filter
}

func newConnection(id string) *Connection {
	return &Connection{id: id, queue: make(chan *store.ActivityLog, queueCapacity)}
}

// ID returns the connection's hub-assigned identifier.
func (c *Connection) ID() string { return c.id }

// SetFilter replaces the connection's active filter (the "filter" control message).
func (c *Connection) SetFilter(f Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

func (c *Connection) getFilter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Messages returns the channel log entries are delivered on.
func (c *Connection) Messages() <-chan *store.ActivityLog { return c.queue }

// Hub tracks all live connections and fans activity log entries out to them.
// Its Broadcast method is registered as an activity.Listener.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Connection
	next  int
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Connection)}
}

// Register creates and tracks a new Connection, returning it along with a
// remove function the caller must invoke on disconnect.
func (h *Hub) Register() (*Connection, func()) {
	h.mu.Lock()
	h.next++
	id := "conn-" + strconv.Itoa(h.next)
	conn := newConnection(id)
	h.conns[id] = conn
	count := len(h.conns)
	h.mu.Unlock()

	metrics.SSEConnectionsActive.Set(float64(count))

	return conn, func() {
		h.mu.Lock()
		delete(h.conns, id)
		count := len(h.conns)
		h.mu.Unlock()
		metrics.SSEConnectionsActive.Set(float64(count))
	}
}

// Count returns the number of currently registered connections, used to
// enforce MAX_SSE_CONNECTIONS at the gateway's HTTP handler.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast delivers log to every connection whose filter matches, taking a
// snapshot of the connection list under the lock and then enqueuing outside
// it so a blocked/slow consumer never holds up registration/removal of
// others. This is the activity.Listener passed to Logger.AddListener.
func (h *Hub) Broadcast(log *store.ActivityLog) {
	h.mu.Lock()
	snapshot := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	for _, c := range snapshot {
		if !c.getFilter().matches(log) {
			continue
		}
		select {
		case c.queue <- log:
		default:
			slog.Warn("stream: connection queue full, dropping log entry", "connection", c.id, "log_id", log.ID)
		}
	}
}
