package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		kind        Kind
		retryable   bool
		fatal       bool
		systemLevel bool
	}{
		{KindBusUnavailable, true, false, false},
		{KindExchangeTimeout, true, false, false},
		{KindRateLimited, true, false, false},
		{KindInsufficientCapital, false, false, false},
		{KindMalformedEnvelope, false, true, false},
		{KindUnknownRoutingKey, false, true, false},
		{KindExchangeUnavailable, false, false, true},
		{KindStrategyHalted, false, false, true},
		{KindReconciliationAlert, false, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, tt.kind.Retryable(), "%s.Retryable()", tt.kind)
		assert.Equal(t, tt.fatal, tt.kind.Fatal(), "%s.Fatal()", tt.kind)
		assert.Equal(t, tt.systemLevel, tt.kind.SystemLevel(), "%s.SystemLevel()", tt.kind)
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	err := New(KindInsufficientCapital, "")
	assert.Equal(t, string(KindInsufficientCapital), err.Error())

	err2 := Newf(KindInsufficientCapital, "need %d, have %d", 100, 50)
	assert.Equal(t, "insufficient_capital: need 100, have 50", err2.Error())
}

func TestWithContext(t *testing.T) {
	err := New(KindStaleProposal, "too old").WithContext("correlation_id", "abc-123")
	assert.Equal(t, "abc-123", err.Context["correlation_id"])
}
