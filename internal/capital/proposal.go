// Package capital implements the Capital Manager (spec §4.C): the single
// authority for turning a Strategy Worker's proposal into either an
// approved commands.execute_trade or a typed denial. All validation and
// capital-reservation work for one portfolio runs inside that
// portfolio's internal/concurrency.KeyedExecutor lane, so two proposals
// against the same portfolio never race each other.
package capital

import (
	"time"

	"github.com/shopspring/decimal"
)

// Proposal is what a Strategy Worker sends on
// request.capital.allocation.<strategy_id> (spec §4.B/§4.C).
type Proposal struct {
	StrategyID    string          `json:"strategy_id"`
	PortfolioID   string          `json:"portfolio_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Intent        string          `json:"intent"`
	SignalPrice   decimal.Decimal `json:"signal_price"`
	StopLoss      decimal.NullDecimal `json:"stop_loss"`
	TakeProfit    decimal.NullDecimal `json:"take_profit"`
	BarCloseTS    time.Time       `json:"bar_close_ts"`
	Timestamp     time.Time       `json:"timestamp"`
	Fingerprint   string          `json:"fingerprint"`
	CorrelationID string          `json:"correlation_id"`
}

// Result is the outcome the Capital Manager sends back on
// response.capital.allocation.<correlation_id>.
type Result struct {
	Result             string          `json:"result"` // "approved" or "denied"
	ApprovedQuantity   decimal.Decimal `json:"approved_quantity,omitempty"`
	RiskLevel          string          `json:"risk_level,omitempty"`
	Reasons            []string        `json:"reasons,omitempty"`
	SuggestedStopLoss  decimal.NullDecimal `json:"suggested_stop_loss,omitempty"`
	SuggestedTakeProfit decimal.NullDecimal `json:"suggested_take_profit,omitempty"`
	PortfolioImpact    decimal.Decimal `json:"portfolio_impact,omitempty"`
	TradeID            string          `json:"trade_id,omitempty"`
}

func denied(reason string) Result {
	return Result{Result: "denied", Reasons: []string{reason}}
}
