package netstore

import (
	"sync"
	"time"
)

// CircuitState mirrors the classic three-state breaker spec §4.2 calls
// for: Closed (normal), Open (failing fast), HalfOpen (probing).
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Breaker trips to Open after consecutiveFailures reaches its
// threshold and reopens to HalfOpen after a cooldown, closing again on
// the next successful call (spec §4.2: "trips after M consecutive
// failures and reopens after a cooldown"). State() is exposed for
// health-check introspection (SPEC_FULL.md §4's supplemented feature),
// which the teacher's aistore has no direct equivalent of — closest is
// ais/health.go's target-health reporting, generalized here to a
// single breaker's own state machine.
type Breaker struct {
	mu          sync.Mutex
	state       CircuitState
	consecFails int
	threshold   int
	cooldown    time.Duration
	openedAt    time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecFails = 0
	b.state = Closed
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecFails++
	if b.state == HalfOpen || b.consecFails >= b.threshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// State returns the breaker's current state for health-check reporting.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
