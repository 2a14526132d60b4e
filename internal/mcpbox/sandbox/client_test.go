package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.Retry = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ExponentialBase: 2}
	return New(cfg)
}

func TestHealthCheck_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestRegisterServer_ParsesResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RegisterServerResult{Success: true, ToolsRegistered: 3})
	})

	out, err := c.RegisterServer(context.Background(), RegisterServerRequest{ID: "srv-1", Name: "weather"})
	if err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}
	if !out.Success || out.ToolsRegistered != 3 {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestDoJSON_NonRetryableStatusReturnsResponseError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
	c.retryConfig.ShouldRetry = func(err error) bool {
		_, isResponseErr := err.(*ResponseError)
		return !isResponseErr
	}

	err := c.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	re, ok := err.(*ResponseError)
	if !ok {
		t.Fatalf("expected *ResponseError, got %T: %v", err, err)
	}
	if re.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", re.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call (non-retryable), got %d", calls)
	}
}

func TestDoJSON_RetriesTransientFailure(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestCallTool_MalformedJSONBecomesResponseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	})
	c.retryConfig.MaxRetries = 0

	_, err := c.CallTool(context.Background(), "fetch_weather", map[string]any{"city": "nyc"}, false)
	if err == nil {
		t.Fatal("expected error for malformed response body")
	}
	re, ok := err.(*ResponseError)
	if !ok {
		t.Fatalf("expected *ResponseError, got %T", err)
	}
	if re.ParseErr == nil {
		t.Error("expected ParseErr to be set")
	}
}

func TestCircuitBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.breaker = NewCircuitBreaker(1, 1, time.Minute)
	c.retryConfig.MaxRetries = 0

	// First call fails and trips the breaker (threshold=1).
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	if c.breaker.State() != StateOpen {
		t.Fatalf("expected breaker open after threshold failure, got %s", c.breaker.State())
	}

	// Second call should be rejected by the breaker itself, not reach the server.
	err := c.HealthCheck(context.Background())
	if _, ok := AsCircuitOpenError(err); !ok {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
