package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		require.Equal(t, CircuitClosed, cb.State(), "breaker tripped early after %d failures", i+1)
	}

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State(), "breaker did not trip after reaching threshold")
	assert.False(t, cb.Allow(), "Allow() returned true while breaker is open and cooldown has not elapsed")
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.Allow(), "expected Allow() to admit a probe after cooldown elapsed")
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow() // transition to half-open

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State(), "expected a half-open failure to reopen immediately")
}
