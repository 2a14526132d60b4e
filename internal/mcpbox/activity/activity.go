// Package activity implements the non-blocking activity logger: callers
// append entries to an in-memory buffer and return immediately, while a
// background goroutine batches them into SQLite and fans them out to live
// listeners (e.g. the SSE stream).
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/JGtHb/MCPbox-sub000/common/redact"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

const (
	batchInterval        = 100 * time.Millisecond
	batchSize            = 50
	maxRequeueMultiplier = 10
	broadcastBufferSize  = 1000
	maxNotificationTasks = 100
)

// Listener receives a copy of every entry flushed or broadcast. Implementations
// must not block; Logger invokes them from a bounded pool of goroutines and
// drops notifications once maxNotificationTasks are in flight.
type Listener func(entry *store.ActivityLog)

// Logger is the process-wide activity logger singleton. It buffers entries,
// flushes them to the database in batches, and fans them out to listeners.
type Logger struct {
	db *store.Store

	mu        sync.Mutex
	pending   []*store.ActivityLog
	scheduled bool

	ringMu sync.Mutex
	ring   []*store.ActivityLog

	listenersMu sync.RWMutex
	listeners   []Listener

	tasksMu      sync.Mutex
	activeTasks  int

	now func() time.Time
}

// New constructs a Logger backed by db. Callers must call Close on shutdown
// to let any in-flight flush finish.
func New(db *store.Store) *Logger {
	return &Logger{db: db, now: time.Now}
}

// AddListener registers a callback invoked (via a bounded background task)
// whenever an entry is logged.
func (l *Logger) AddListener(fn Listener) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Log appends a new activity log entry. It never blocks on the database: the
// entry is queued, a flush is scheduled if one isn't already pending, and the
// call returns immediately.
func (l *Logger) Log(logType, level, message string, opts ...Option) *store.ActivityLog {
	entry := &store.ActivityLog{
		LogType:   logType,
		Level:     level,
		Message:   message,
		CreatedAt: l.now().UTC(),
	}
	for _, opt := range opts {
		opt(entry)
	}
	if entry.Details == "" {
		entry.Details = "{}"
	}

	l.enqueue(entry)
	l.pushRing(entry)
	l.notifyListeners(entry)
	return entry
}

// Option customizes a logged entry.
type Option func(*store.ActivityLog)

// WithServerID associates the entry with a server.
func WithServerID(id string) Option {
	return func(e *store.ActivityLog) {
		if id != "" {
			v := id
			e.ServerID = &v
		}
	}
}

// WithRequestID associates the entry with a correlation ID.
func WithRequestID(id string) Option {
	return func(e *store.ActivityLog) { e.RequestID = id }
}

// WithDurationMs records an operation's duration.
func WithDurationMs(ms int) Option {
	return func(e *store.ActivityLog) { e.DurationMs = &ms }
}

// WithDetails attaches arbitrary structured details. The value is sanitized
// (sensitive keys redacted, long strings truncated) before being marshaled.
func WithDetails(details map[string]any) Option {
	return func(e *store.ActivityLog) {
		sanitized := redact.DeepSanitize(details)
		b, err := json.Marshal(sanitized)
		if err != nil {
			e.Details = "{}"
			return
		}
		e.Details = string(b)
	}
}

// LogMCPRequest records an inbound JSON-RPC request.
func (l *Logger) LogMCPRequest(serverID, requestID, method string, params map[string]any) *store.ActivityLog {
	opts := []Option{WithRequestID(requestID), WithDetails(map[string]any{"method": method, "params": params})}
	if serverID != "" {
		opts = append(opts, WithServerID(serverID))
	}
	return l.Log(store.LogTypeMCPRequest, store.LevelInfo, "mcp request: "+method, opts...)
}

// LogMCPResponse records the outcome of a handled request.
func (l *Logger) LogMCPResponse(serverID, requestID, method string, durationMs int, success bool, details map[string]any) *store.ActivityLog {
	level := store.LevelInfo
	if !success {
		level = store.LevelError
	}
	opts := []Option{WithRequestID(requestID), WithDurationMs(durationMs), WithDetails(details)}
	if serverID != "" {
		opts = append(opts, WithServerID(serverID))
	}
	return l.Log(store.LogTypeMCPResponse, level, "mcp response: "+method, opts...)
}

// LogAlert records a notable operator-facing event (approval requested,
// circuit breaker tripped, etc).
func (l *Logger) LogAlert(message string, details map[string]any) *store.ActivityLog {
	return l.Log(store.LogTypeAlert, store.LevelWarning, message, WithDetails(details))
}

// LogError records a failure.
func (l *Logger) LogError(message string, err error) *store.ActivityLog {
	var details map[string]any
	if err != nil {
		details = map[string]any{"error": err.Error()}
	}
	return l.Log(store.LogTypeError, store.LevelError, message, WithDetails(details))
}

func (l *Logger) enqueue(entry *store.ActivityLog) {
	l.mu.Lock()
	l.pending = append(l.pending, entry)
	shouldSchedule := !l.scheduled
	if shouldSchedule {
		l.scheduled = true
	}
	l.mu.Unlock()

	if shouldSchedule {
		go l.flushLoop()
	}
}

// flushLoop drains the pending buffer on a timer until there is nothing left
// to flush. Only one flushLoop is ever in flight (guarded by l.scheduled).
func (l *Logger) flushLoop() {
	for {
		time.Sleep(batchInterval)

		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			l.mu.Lock()
			l.scheduled = false
			l.mu.Unlock()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := l.db.InsertActivityLogBatch(ctx, batch)
		cancel()

		if err != nil {
			slog.Error("activity: batch flush failed", "count", len(batch), "err", err)
			l.mu.Lock()
			cap := batchSize * maxRequeueMultiplier
			requeue := batch
			if len(requeue) > cap {
				requeue = requeue[len(requeue)-cap:]
			}
			l.pending = append(requeue, l.pending...)
			l.scheduled = true
			l.mu.Unlock()
			continue
		}

		l.mu.Lock()
		more := len(l.pending) > 0
		if !more {
			l.scheduled = false
		}
		l.mu.Unlock()
		if !more {
			return
		}
	}
}

func (l *Logger) pushRing(entry *store.ActivityLog) {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	l.ring = append(l.ring, entry)
	if len(l.ring) > broadcastBufferSize {
		l.ring = l.ring[len(l.ring)-broadcastBufferSize:]
	}
}

// GetRecentLogs returns the last n entries observed by this process (not a
// database query) — used by clients priming their view before opening the
// live stream.
func (l *Logger) GetRecentLogs(n int) []*store.ActivityLog {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	if n <= 0 || n > len(l.ring) {
		n = len(l.ring)
	}
	out := make([]*store.ActivityLog, n)
	copy(out, l.ring[len(l.ring)-n:])
	return out
}

func (l *Logger) notifyListeners(entry *store.ActivityLog) {
	l.listenersMu.RLock()
	listeners := make([]Listener, len(l.listeners))
	copy(listeners, l.listeners)
	l.listenersMu.RUnlock()

	for _, fn := range listeners {
		l.tasksMu.Lock()
		if l.activeTasks >= maxNotificationTasks {
			l.tasksMu.Unlock()
			slog.Warn("activity: dropping listener notification, task pool exhausted", "max", maxNotificationTasks)
			continue
		}
		l.activeTasks++
		l.tasksMu.Unlock()

		fn := fn
		go func() {
			defer func() {
				l.tasksMu.Lock()
				l.activeTasks--
				l.tasksMu.Unlock()
			}()
			fn(entry)
		}()
	}
}

// CleanupOldLogs deletes activity log rows older than retentionDays and
// returns the number removed.
func (l *Logger) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := l.now().UTC().AddDate(0, 0, -retentionDays)
	return l.db.CleanupOldActivityLogs(ctx, cutoff)
}

// Stats returns aggregate counts over the given window.
func (l *Logger) Stats(ctx context.Context, since time.Time) (*store.ActivityLogStats, error) {
	return l.db.GetActivityLogStats(ctx, since)
}

// Close flushes any entries still buffered in l.pending synchronously,
// bypassing the batchInterval timer. Callers must invoke this on shutdown so
// the last few log entries before process exit aren't lost to the timer
// never firing again.
func (l *Logger) Close() error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.scheduled = false
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return l.db.InsertActivityLogBatch(ctx, batch)
}
