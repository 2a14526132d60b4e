package auth

import (
	"sync"
	"time"
)

// failedAuthLimiter is a fixed-window counter of failed auth attempts per
// peer IP, ported from the teacher's webhook rate limiter. A success resets
// the counter for that IP (a legitimate caller recovering from a typo should
// not stay throttled for the rest of the window).
type failedAuthLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string]*failWindow
}

type failWindow struct {
	count   int
	resetAt time.Time
}

func newFailedAuthLimiter(max, windowSeconds int) *failedAuthLimiter {
	return &failedAuthLimiter{
		max:     max,
		window:  time.Duration(windowSeconds) * time.Second,
		buckets: make(map[string]*failWindow),
	}
}

// Blocked reports whether peerIP has already hit the failure threshold
// within the current window.
func (l *failedAuthLimiter) Blocked(peerIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[peerIP]
	if !ok {
		return false
	}
	if time.Now().After(b.resetAt) {
		delete(l.buckets, peerIP)
		return false
	}
	return b.count >= l.max
}

// RecordFailure increments peerIP's failure counter, starting a fresh window
// if none is active or the prior one has expired.
func (l *failedAuthLimiter) RecordFailure(peerIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[peerIP]
	if !ok || now.After(b.resetAt) {
		l.buckets[peerIP] = &failWindow{count: 1, resetAt: now.Add(l.window)}
		return
	}
	b.count++
}

// RecordSuccess clears peerIP's failure window, since the caller just
// authenticated correctly.
func (l *failedAuthLimiter) RecordSuccess(peerIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, peerIP)
}
