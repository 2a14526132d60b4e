// Package sandbox is the resilient RPC client to the code-execution sandbox
// process. Every outbound call is wrapped in retryAsync (exponential
// backoff) and a circuit breaker so a struggling sandbox degrades the
// gateway gracefully instead of hanging every inbound MCP request.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/metrics"
)

const maxResponseBytes = 16 * 1024 * 1024 // 16 MiB

// Client is the sandbox RPC client singleton.
type Client struct {
	baseURL string
	cfg     Config

	httpMu     sync.Mutex
	httpClient *http.Client

	breaker     *CircuitBreaker
	retryConfig RetryConfig

	// outbound shapes concurrency toward the sandbox independently of the
	// breaker/retry pair: a token-bucket limiter smooths bursts (e.g. a
	// server restart re-registering many servers at once) instead of
	// letting them all land on the sandbox in the same instant.
	outbound *rate.Limiter
}

// Config configures a new Client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxIdleConns     int
	MaxConnsPerHost  int
	FailureThreshold int
	SuccessThreshold int
	BreakerTimeout   time.Duration
	Retry            RetryConfig

	// OutboundRPS and OutboundBurst configure the outbound token-bucket
	// limiter. Zero means "unset" and falls back to the defaults below.
	OutboundRPS   float64
	OutboundBurst int
}

// DefaultConfig mirrors the sandbox client's default tuning.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		Timeout:          30 * time.Second,
		MaxIdleConns:     20,
		MaxConnsPerHost:  20,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		BreakerTimeout:   30 * time.Second,
		Retry:            DefaultRetryConfig,
		OutboundRPS:      50,
		OutboundBurst:    20,
	}
}

// New constructs a Client.
func New(cfg Config) *Client {
	rps := cfg.OutboundRPS
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.OutboundBurst
	if burst <= 0 {
		burst = 20
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		cfg:         cfg,
		httpClient:  newHTTPClient(cfg),
		breaker:     NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.BreakerTimeout),
		retryConfig: cfg.Retry,
		outbound:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func newHTTPClient(cfg Config) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

// client returns the shared http.Client under httpMu; it never recreates the
// client itself. doJSON calls resetHTTPClient on a transport error and
// retries once before giving up — a two-attempt recreate-and-retry loop that
// self-heals a shared client wedged by a prior panic or explicit
// CloseIdleConnections race.
func (c *Client) client() *http.Client {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	return c.httpClient
}

// resetHTTPClient rebuilds the shared http.Client from the Client's own
// configuration, preserving the operator's configured Timeout and
// connection-pool limits — a reset must never silently fall back to
// DefaultConfig's tuning.
func (c *Client) resetHTTPClient() {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	c.httpClient = newHTTPClient(c.cfg)
}

// doJSON performs a single best-effort HTTP call, self-healing the shared
// client on a transport-level failure by recreating it and retrying once.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.outbound.Wait(ctx); err != nil {
		return fmt.Errorf("sandbox outbound rate limiter: %w", err)
	}

	payload, err := marshalBody(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransportError(err) {
			return err
		}
		c.resetHTTPClient()
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sandbox request: %w", err)
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("sandbox http call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read sandbox response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(data), ParseErr: err}
	}
	return nil
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

// ResponseError represents a non-2xx or unparseable sandbox response. It is
// the structured failure value the sandbox client returns instead of ever
// propagating an unhandled parse panic.
type ResponseError struct {
	StatusCode int
	Body       string
	ParseErr   error
}

func (e *ResponseError) Error() string {
	if e.ParseErr != nil {
		return fmt.Sprintf("sandbox: unparseable response (status %d): %v", e.StatusCode, e.ParseErr)
	}
	return fmt.Sprintf("sandbox: status %d: %s", e.StatusCode, truncate(e.Body, 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

// isTransportError reports whether err came from the HTTP round trip itself
// rather than from the sandbox answering with a bad status or body. A
// ResponseError means the sandbox answered — the self-heal recreate-and-retry
// path only applies to the former.
func isTransportError(err error) bool {
	_, ok := err.(*ResponseError)
	return !ok
}

// call wraps a single sandbox operation in retryAsync + circuit breaker
// protection and records Prometheus outcome/duration metrics.
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := retryAsync(ctx, operation, c.retryConfig, c.breaker, fn)
	metrics.SandboxRequestDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SandboxRequestsTotal.WithLabelValues(operation, outcome).Inc()
	return err
}
