package worker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIndicatorsComputesRSI(t *testing.T) {
	frame := make([]Bar, 20)
	price := 100.0
	for i := range frame {
		price += 1
		frame[i] = Bar{CloseTS: time.Now(), Close: decimal.NewFromFloat(price)}
	}

	got := DefaultIndicators(frame)
	rsi, ok := got["rsi_14"]
	require.True(t, ok, "expected rsi_14 to be present for a 20-bar uptrending frame")
	assert.Greater(t, rsi, 50.0, "rsi_14 should be > 50 for a steadily rising frame")
}

func TestDefaultIndicatorsOmitsKeysTooShortToCompute(t *testing.T) {
	frame := []Bar{{Close: decimal.NewFromInt(100)}}

	got := DefaultIndicators(frame)
	_, ok := got["rsi_14"]
	assert.False(t, ok, "did not expect rsi_14 from a single-bar frame")
}
