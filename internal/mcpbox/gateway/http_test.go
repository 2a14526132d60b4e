package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/activity"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/auth"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/authpolicy"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/gateway"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/settings"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/stream"
	appstore "github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func newTestHandler(t *testing.T) *gateway.Handler {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mcpbox-http-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	db, err := appstore.New(f.Name())
	if err != nil {
		t.Fatalf("appstore.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := settings.New(db)
	authPipeline := auth.New(authpolicy.NewServiceTokenCache(st, nil), authpolicy.NewEmailPolicyCache(st), auth.Config{})
	logger := activity.New(db)
	gw := gateway.New(authPipeline, &fakeSandbox{}, &fakeManagement{}, &fakeApproved{names: map[string]bool{}}, logger)
	return gateway.NewHandler(gw, authPipeline, stream.NewHub())
}

func TestHandlePost_Notification(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
}

func TestHandlePost_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

// TestHandleSSE_RateLimitedAfterBurst exercises the admission limiter added
// on top of MaxSSEConnections: a rapid burst of connection attempts, each
// canceled immediately so it never occupies a hub slot for long, eventually
// gets rejected with 429 once the token bucket (burst 20, 10/s) is drained
// faster than it refills.
func TestHandleSSE_RateLimitedAfterBurst(t *testing.T) {
	h := newTestHandler(t)

	sawThrottled := false
	for i := 0; i < 40 && !sawThrottled; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
		w := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			h.ServeHTTP(w, req)
			close(done)
		}()
		cancel()
		<-done

		if w.Code == http.StatusTooManyRequests {
			sawThrottled = true
		}
	}
	if !sawThrottled {
		t.Fatal("expected a rapid burst of SSE connection attempts to eventually be rate-limited with 429")
	}
}
