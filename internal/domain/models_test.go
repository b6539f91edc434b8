package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TradeStatus
		to   TradeStatus
		want bool
	}{
		{"pending to open", TradeStatusPending, TradeStatusOpen, true},
		{"pending to failed", TradeStatusPending, TradeStatusFailed, true},
		{"pending to canceled", TradeStatusPending, TradeStatusCanceled, true},
		{"open to closed", TradeStatusOpen, TradeStatusClosed, true},
		{"open to canceled", TradeStatusOpen, TradeStatusCanceled, true},
		{"open to pending is invalid", TradeStatusOpen, TradeStatusPending, false},
		{"closed is terminal", TradeStatusClosed, TradeStatusOpen, false},
		{"failed is terminal", TradeStatusFailed, TradeStatusOpen, false},
		{"canceled is terminal", TradeStatusCanceled, TradeStatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTradeTransitionRejectsIllegalMove(t *testing.T) {
	trade := Trade{Status: TradeStatusClosed}
	require.Error(t, trade.Transition(TradeStatusOpen, time.Now()))
}

func TestPortfolioReserveAndRelease(t *testing.T) {
	p := Portfolio{
		TotalCapital:     decimal.NewFromInt(1000),
		AvailableCapital: decimal.NewFromInt(1000),
	}

	require.NoError(t, p.Reserve(decimal.NewFromInt(400)))
	assert.True(t, p.AvailableCapital.Equal(decimal.NewFromInt(600)), "available = %s, want 600", p.AvailableCapital)

	require.Error(t, p.Reserve(decimal.NewFromInt(700)), "expected insufficient capital error")

	p.Release(decimal.NewFromInt(400))
	assert.True(t, p.AvailableCapital.Equal(decimal.NewFromInt(1000)), "available after release = %s, want 1000", p.AvailableCapital)

	// Release never pushes available above total.
	p.Release(decimal.NewFromInt(500))
	assert.True(t, p.AvailableCapital.Equal(decimal.NewFromInt(1000)), "available after over-release = %s, want clamped to 1000", p.AvailableCapital)
}

func TestPortfolioReserveRejectsNegative(t *testing.T) {
	p := Portfolio{TotalCapital: decimal.NewFromInt(100), AvailableCapital: decimal.NewFromInt(100)}
	require.Error(t, p.Reserve(decimal.NewFromInt(-1)))
}

func TestFingerprintIsStableAndDistinguishesInputs(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := Fingerprint("strat-1", "BTC/USDT", "entry_long", ts)
	b := Fingerprint("strat-1", "BTC/USDT", "entry_long", ts)
	assert.Equal(t, a, b, "fingerprint not stable across identical inputs")

	c := Fingerprint("strat-2", "BTC/USDT", "entry_long", ts)
	assert.NotEqual(t, a, c, "fingerprint did not change with a different strategy id")

	d := Fingerprint("strat-1", "ETH/USDT", "entry_long", ts)
	assert.NotEqual(t, a, d, "fingerprint did not change with a different symbol")
}

func TestPositionApplyFillWeightsAverageEntry(t *testing.T) {
	p := Position{}
	p.ApplyFill(decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromFloat(0.5))
	require.True(t, p.AverageEntry.Equal(decimal.NewFromInt(100)), "first fill average entry = %s, want 100", p.AverageEntry)

	p.ApplyFill(decimal.NewFromInt(10), decimal.NewFromInt(200), decimal.NewFromFloat(0.5))
	// (10*100 + 10*200) / 20 = 150
	assert.True(t, p.AverageEntry.Equal(decimal.NewFromInt(150)), "weighted average entry = %s, want 150", p.AverageEntry)
	assert.True(t, p.Size.Equal(decimal.NewFromInt(20)), "size = %s, want 20", p.Size)
	assert.True(t, p.TotalFees.Equal(decimal.NewFromInt(1)), "total fees = %s, want 1", p.TotalFees)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTC/USDT", NormalizeSymbol(" btc/usdt "))
}
