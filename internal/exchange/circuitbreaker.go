package exchange

import (
	"sync"
	"time"
)

// CircuitState is one of closed (normal), open (tripped, rejecting
// calls), or half-open (admitting calls to test recovery).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker trips to open after consecutive failures. Once the
// cooldown has elapsed, the next Allow call moves it to half-open, whether
// that call comes from a live order/cancel or from BreakerProbeJob.Run,
// which internal/supervisor schedules; the breaker itself only tracks
// state and counts.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	tripThreshold int
	cooldown      time.Duration
	openedAt      time.Time
}

func NewCircuitBreaker(tripThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:         CircuitClosed,
		tripThreshold: tripThreshold,
		cooldown:      cooldown,
	}
}

// Allow reports whether a call may proceed. In the open state it
// auto-transitions to half-open once cooldown has elapsed and admits the
// call. In the half-open state every call is admitted, not only a single
// probe, until RecordSuccess or RecordFailure settles the state.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(c.openedAt) >= c.cooldown {
			c.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count. It
// reports whether this call closed a breaker that was previously open or
// half-open, so the caller can emit events.system.exchange_circuit_close
// only on the actual transition (spec §4.D).
func (c *CircuitBreaker) RecordSuccess() (closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	closed = c.state != CircuitClosed
	c.state = CircuitClosed
	c.failures = 0
	return closed
}

// RecordFailure increments the failure count, tripping the breaker open
// once tripThreshold is reached (or immediately, from half-open). It
// reports whether this call tripped the breaker open, so the caller can
// emit events.system.exchange_circuit_open only on the actual transition.
func (c *CircuitBreaker) RecordFailure() (opened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		return true
	}

	c.failures++
	if c.failures >= c.tripThreshold && c.state != CircuitOpen {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		return true
	}
	return false
}

// State returns the current state.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
