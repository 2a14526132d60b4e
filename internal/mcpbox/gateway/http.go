package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/auth"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/stream"
)

// MaxSSEConnections is the default concurrent-connection cap for GET /mcp
// (§4.6: "MAX_SSE_CONNECTIONS ≈ 50").
const MaxSSEConnections = 50

// sseAdmitRPS/sseAdmitBurst shape the *rate* of new connection attempts
// separately from MaxSSEConnections' steady-state cap on connections held
// open: a burst of reconnect storms (e.g. every client retrying at once
// after a deploy) is throttled here instead of only being rejected once the
// hard cap is already saturated.
const (
	sseAdmitRPS   = 10
	sseAdmitBurst = 20
)

// Handler is the http.Handler mounted at /mcp, wrapping a Gateway with its
// auth pipeline and live-stream hub.
type Handler struct {
	gw                *Gateway
	auth              *auth.Pipeline
	hub               *stream.Hub
	maxSSEConnections int
	admitLimiter      *rate.Limiter
}

// NewHandler constructs the /mcp http.Handler.
func NewHandler(gw *Gateway, authPipeline *auth.Pipeline, hub *stream.Hub) *Handler {
	return &Handler{
		gw:                gw,
		auth:              authPipeline,
		hub:               hub,
		maxSSEConnections: MaxSSEConnections,
		admitLimiter:      rate.NewLimiter(rate.Limit(sseAdmitRPS), sseAdmitBurst),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleSSE(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPC(w, errorResponse(nil, -32700, "Parse error"), http.StatusOK)
		return
	}

	authReq, decision := h.auth.Classify(ctx, r)
	if !decision.Allowed {
		http.Error(w, "forbidden", decision.HTTPStatus)
		return
	}

	result := h.gw.HandleRequest(ctx, req, authReq, decision)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSONRPC(w, result.Body, http.StatusOK)
}

func writeJSONRPC(w http.ResponseWriter, resp *Response, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("gateway: failed to encode response", "err", err)
	}
}

// handleSSE implements GET /mcp: a long-lived event stream of "something
// changed" activity-log notifications, subject to the auth pipeline and the
// concurrent-connection cap.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authReq, decision := h.auth.Classify(ctx, r)
	_ = authReq
	if !decision.Allowed {
		http.Error(w, "forbidden", decision.HTTPStatus)
		return
	}

	if h.hub.Count() >= h.maxSSEConnections {
		http.Error(w, "too many concurrent stream connections", http.StatusServiceUnavailable)
		return
	}
	if !h.admitLimiter.Allow() {
		http.Error(w, "too many new stream connections, retry shortly", http.StatusTooManyRequests)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	conn, remove := h.hub.Register()
	defer remove()

	writeEvent(w, "connected", map[string]any{"status": "connected"})
	flusher.Flush()

	readDone := make(chan struct{})
	go readInbound(r, conn, readDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case entry, ok := <-conn.Messages():
			if !ok {
				return
			}
			writeEvent(w, "log", logEventPayload(entry))
			flusher.Flush()
		}
	}
}

func logEventPayload(entry *store.ActivityLog) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"log_type":   entry.LogType,
		"level":      entry.Level,
		"message":    entry.Message,
		"created_at": entry.CreatedAt,
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// readInbound consumes client-sent SSE control frames (ping → pong handled
// implicitly by the HTTP keep-alive; filter → replace the connection's
// filter) until the request body closes, then signals done so the write
// loop can tear down.
func readInbound(r *http.Request, conn *stream.Connection, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg struct {
			Type     string `json:"type"`
			ServerID string `json:"server_id,omitempty"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Type == "filter" {
			conn.SetFilter(stream.Filter{ServerID: msg.ServerID})
		}
	}
}
