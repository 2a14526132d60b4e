package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/metrics"
)

// RetryConfig controls retryAsync's backoff behaviour for a single sandbox
// operation.
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	// ShouldRetry classifies an error as retryable. Nil retries everything
	// except errors wrapping ErrNonRetryable, which are never retried.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig mirrors the sandbox client's default tuning.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:      3,
	BaseDelay:       200 * time.Millisecond,
	MaxDelay:        5 * time.Second,
	ExponentialBase: 2.0,
	Jitter:          true,
}

// retryAsync runs op, retrying per cfg and recording at most one circuit
// breaker failure regardless of how many attempts it took — retry
// amplification must never trip the breaker early.
func retryAsync(ctx context.Context, operation string, cfg RetryConfig, breaker *CircuitBreaker, op func(ctx context.Context) error) error {
	if err := breaker.Before(); err != nil {
		return err
	}

	b := newExponentialBackOff(cfg)
	var attempts int

	wrapped := func() error {
		attempts++
		if attempts > 1 {
			metrics.SandboxRetriesTotal.WithLabelValues(operation).Inc()
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNonRetryable) {
			return backoff.Permanent(err)
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		slog.Debug("sandbox: retrying operation", "operation", operation, "attempt", attempts, "delay", delay, "err", err)
	}

	err := backoff.RetryNotify(wrapped, backoff.WithContext(b, ctx), notify)

	// A single user-observed failure records at most one breaker outcome,
	// no matter how many attempts retryAsync made internally.
	if err != nil {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	return err
}

func newExponentialBackOff(cfg RetryConfig) backoff.BackOff {
	if cfg.BaseDelay <= 0 || cfg.ExponentialBase <= 0 {
		cfg = DefaultRetryConfig
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = cfg.ExponentialBase
	eb.MaxElapsedTime = 0 // bounded by MaxRetries via WithMaxRetries below
	if !cfg.Jitter {
		eb.RandomizationFactor = 0
	}
	eb.Reset()

	var bo backoff.BackOff = eb
	return backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries))
}

// ErrNonRetryable wraps an error that retryAsync must not retry.
var ErrNonRetryable = errors.New("sandbox: non-retryable error")
