// Package ratelimit throttles repeated attempts per identifier with a
// sliding window and a block cooldown. Credential-submission call sites
// consult it synchronously before any network work.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// MaxAttempts is the number of attempts allowed inside one window.
	MaxAttempts = 5
	// Window is the sliding attempt window.
	Window = 5 * time.Minute
	// BlockDuration is the cooldown after the limit is exceeded.
	BlockDuration = 15 * time.Minute
)

// LoginKey is the conventional identifier for login attempts.
func LoginKey(email string) string { return email }

// ResetKey is the conventional identifier for password-reset attempts,
// kept distinct from login so the two budgets do not interfere.
func ResetKey(email string) string { return "reset_" + email }

// Result reports the outcome of one Check. When Blocked is set, RetryIn is
// the remaining cooldown; otherwise it is the time left in the current
// window.
type Result struct {
	Blocked           bool
	RemainingAttempts int
	RetryIn           time.Duration
}

type record struct {
	attempts    int
	windowStart time.Time
	blocked     bool
	blockStart  time.Time
}

// Limiter owns the per-identifier records. Construct one per scope with
// New; the zero value is not usable. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{records: make(map[string]*record), now: time.Now}
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{records: make(map[string]*record), now: now}
}

// Check records one attempt for identifier and reports whether it may
// proceed. It never fails; callers interpret Blocked and RetryIn.
func (l *Limiter) Check(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.records[identifier]

	if rec != nil && rec.blocked {
		left := BlockDuration - now.Sub(rec.blockStart)
		if left > 0 {
			return Result{Blocked: true, RetryIn: left}
		}
		// Cooldown elapsed: discard and treat as fresh.
		delete(l.records, identifier)
		rec = nil
	}

	if rec != nil && now.Sub(rec.windowStart) >= Window {
		// Window elapsed without blocking: roll it.
		delete(l.records, identifier)
		rec = nil
	}

	if rec == nil {
		l.records[identifier] = &record{attempts: 1, windowStart: now}
		return Result{RemainingAttempts: MaxAttempts - 1, RetryIn: Window}
	}

	rec.attempts++
	if rec.attempts > MaxAttempts {
		rec.blocked = true
		rec.blockStart = now
		return Result{Blocked: true, RetryIn: BlockDuration}
	}

	return Result{
		RemainingAttempts: MaxAttempts - rec.attempts,
		RetryIn:           Window - now.Sub(rec.windowStart),
	}
}

// Reset unconditionally discards the record for identifier. Call sites use
// it after a successful attempt.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identifier)
}
