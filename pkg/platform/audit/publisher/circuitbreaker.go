package publisher

import (
	"sync"
	"time"
)

// CircuitBreaker stops audit writes to an unhealthy store. While open,
// entries are dropped without touching the store.
type CircuitBreaker struct {
	mu  sync.Mutex
	now func() time.Time

	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
	open      bool
}

// NewCircuitBreaker opens after threshold consecutive failures and stays open
// for cooldown before letting a trial write through.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a write may be attempted. An expired open circuit
// goes half-open: the next write decides.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	if cb.now().After(cb.openUntil) {
		cb.open = false
		cb.failures = cb.threshold - 1
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.open = false
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.open = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}
