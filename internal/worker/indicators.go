package worker

import "github.com/aristath/tradecore/pkg/formulas"

// DefaultIndicators computes the common indicator set most BaseStrategy
// implementations need from a rolling frame, so strategy authors don't
// each reimplement RSI/volatility/drawdown math. Any key a strategy
// doesn't use is simply ignored in its OnData.
func DefaultIndicators(frame []Bar) map[string]float64 {
	closes := make([]float64, len(frame))
	for i, b := range frame {
		c, _ := b.Close.Float64()
		closes[i] = c
	}

	out := make(map[string]float64, 4)
	if rsi := formulas.CalculateRSI(closes, 14); rsi != nil {
		out["rsi_14"] = *rsi
	}
	if vol := formulas.CalculateVolatility(closes); vol != nil {
		out["volatility"] = *vol
	}
	if dd := formulas.CalculateMaxDrawdown(closes); dd != nil {
		out["max_drawdown"] = *dd
	}
	if mom := formulas.CalculateMomentum(closes, 10); mom != nil {
		out["momentum_10"] = *mom
	}
	return out
}
