package sandbox

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 30*time.Second)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed before threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open at threshold, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpenRejectsCalls(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 30*time.Second)
	cb.RecordFailure()

	err := cb.Before()
	if err == nil {
		t.Fatal("expected error while open")
	}
	if _, ok := AsCircuitOpenError(err); !ok {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

// TestCircuitBreaker_OpenFailuresDoNotResetTimer is the critical invariant:
// additional failures observed while already open must not push out
// lastFailureTime, or the breaker would never recover under sustained load.
func TestCircuitBreaker_OpenFailuresDoNotResetTimer(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 100*time.Millisecond)
	cb.RecordFailure() // opens, stamps lastFailureTime at t0

	time.Sleep(60 * time.Millisecond)
	cb.RecordFailure() // must NOT restamp lastFailureTime
	cb.RecordFailure()

	time.Sleep(60 * time.Millisecond) // total elapsed since t0 ~120ms > 100ms timeout

	if err := cb.Before(); err != nil {
		t.Fatalf("expected breaker to allow a half-open probe after timeout, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout elapsed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if err := cb.Before(); err != nil {
		t.Fatalf("Before: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected still half_open after 1 of 2 successes, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success_threshold reached, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopensWithFreshTimer(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = cb.Before() // transitions to half_open

	cb.RecordFailure() // half_open failure re-opens
	if cb.State() != StateOpen {
		t.Fatalf("expected open after half_open failure, got %s", cb.State())
	}

	// Immediately after reopening the timer should be fresh: Before() must
	// reject until the full timeout elapses again.
	if err := cb.Before(); err == nil {
		t.Fatal("expected rejection immediately after half_open failure re-opened the breaker")
	}
}
