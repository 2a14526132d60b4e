package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/metrics"
)

// CircuitBreakerState is one of closed, open, half_open.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the breaker is
// open. RetryAfter is how long until the breaker allows a half-open probe.
type ErrCircuitOpen struct {
	RetryAfter time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("sandbox: circuit breaker open, retry after %s", e.RetryAfter)
}

// CircuitBreaker implements the closed/open/half_open state machine guarding
// calls to the sandbox. The critical invariant: additional failures recorded
// while the breaker is OPEN must never update lastFailureTime, or the circuit
// would never recover (each failure would push the recovery window further out).
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker constructs a breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            StateClosed,
	}
}

// Before checks whether a call should be allowed to proceed. It performs the
// open→half_open transition when the timeout has elapsed.
func (cb *CircuitBreaker) Before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		elapsed := time.Since(cb.lastFailureTime)
		if elapsed >= cb.timeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			return nil
		}
		return &ErrCircuitOpen{RetryAfter: cb.timeout - elapsed}
	default:
		return nil
	}
}

// RecordFailure registers a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		// Already open: do NOT touch lastFailureTime. Doing so would push
		// the recovery window out indefinitely under sustained load.
		return
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.lastFailureTime = time.Now()
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
			cb.lastFailureTime = time.Now()
		}
	}
}

// RecordSuccess registers a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	metrics.CircuitBreakerTransitionsTotal.WithLabelValues(cb.state.String(), newState.String()).Inc()
	cb.state = newState
	metrics.CircuitBreakerState.Set(float64(newState))
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// AsCircuitOpenError reports whether err is (or wraps) an ErrCircuitOpen.
func AsCircuitOpenError(err error) (*ErrCircuitOpen, bool) {
	var coErr *ErrCircuitOpen
	if errors.As(err, &coErr) {
		return coErr, true
	}
	return nil, false
}
