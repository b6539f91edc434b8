// Package worker implements the Strategy Worker half of the trading
// pipeline (spec §4.B): one Worker per configured domain.Strategy,
// consuming its symbol's market data, maintaining a rolling OHLCV frame
// and indicator set, and emitting capital-allocation proposals through
// the fingerprint/dedupe gate.
package worker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle.
type Bar struct {
	CloseTS time.Time
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  decimal.Decimal
}

// Signal is what a BaseStrategy implementation returns from OnData when
// it wants to propose a trade. A nil Signal means "no action this bar".
type Signal struct {
	Intent     string // e.g. "entry_long", "exit_long"
	Side       string // "buy" or "sell"
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
}

// BaseStrategy is the sole contract a trading strategy implements (spec
// §1 "explicit out-of-scope: strategy implementations, only
// BaseStrategy contract"). Strategy authors never touch the bus,
// persistence, or the Capital Manager directly — only this interface.
type BaseStrategy interface {
	// RequiredSubscriptions names the market-data routing keys this
	// strategy needs, e.g. "market_data.binance.btcusdt".
	RequiredSubscriptions() []string

	// PopulateIndicators computes whatever the strategy needs from the
	// rolling frame (closes, highs, lows, volumes) and returns an
	// opaque indicator set OnData will read back.
	PopulateIndicators(frame []Bar) map[string]float64

	// OnData is called once per closed bar with the frame and the
	// indicators PopulateIndicators just computed. A non-nil Signal is
	// proposed to the Capital Manager, gated by fingerprint/dedupe.
	OnData(ctx context.Context, frame []Bar, indicators map[string]float64) *Signal

	// OnStart is called once before the first OnData call, after
	// restart-resume state (if any) has been loaded.
	OnStart(ctx context.Context) error

	// OnStop is called once on worker shutdown.
	OnStop(ctx context.Context) error
}
