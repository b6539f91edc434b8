// Package domain holds the entities the trading core reads and writes:
// portfolios, strategies, trades, positions and the rules that gate them.
// Monetary and price fields are shopspring/decimal, never float64 — the
// core never rounds a risk calculation through IEEE-754.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
		return true
	}
	return false
}

// TradeStatus is a position in the Trade state machine (spec §4.C).
type TradeStatus string

const (
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusOpen     TradeStatus = "open"
	TradeStatusClosed   TradeStatus = "closed"
	TradeStatusCanceled TradeStatus = "canceled"
	TradeStatusFailed   TradeStatus = "failed"
)

// terminal reports whether a status has no further transitions.
func (s TradeStatus) terminal() bool {
	switch s {
	case TradeStatusClosed, TradeStatusCanceled, TradeStatusFailed:
		return true
	}
	return false
}

// validTransitions encodes the monotone path from spec §3:
// pending -> open -> {closed, canceled}, or pending -> {failed, canceled}.
var validTransitions = map[TradeStatus]map[TradeStatus]bool{
	TradeStatusPending: {TradeStatusOpen: true, TradeStatusFailed: true, TradeStatusCanceled: true},
	TradeStatusOpen:     {TradeStatusClosed: true, TradeStatusCanceled: true},
}

// CanTransition reports whether moving from s to next is legal.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	if s.terminal() {
		return false
	}
	allowed, ok := validTransitions[s]
	return ok && allowed[next]
}

// PositionSide mirrors Side but names the resting exposure, not the order.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Portfolio is one trading account. Invariant: 0 <= Available <= Total.
type Portfolio struct {
	ID               string
	Name             string
	BaseCurrency     string
	TotalCapital     decimal.Decimal
	AvailableCapital decimal.Decimal
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reserve atomically (within the caller's serialization domain — see
// internal/capital) decrements available capital for a new reservation.
// It refuses to let available drop below zero or above total.
func (p *Portfolio) Reserve(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve amount must be non-negative, got %s", amount)
	}
	remaining := p.AvailableCapital.Sub(amount)
	if remaining.IsNegative() {
		return fmt.Errorf("insufficient available capital: have %s, need %s", p.AvailableCapital, amount)
	}
	p.AvailableCapital = remaining
	return nil
}

// Release returns a previously reserved amount to available capital,
// clamped so available never exceeds total (spec §3 invariant).
func (p *Portfolio) Release(amount decimal.Decimal) {
	p.AvailableCapital = decimal.Min(p.AvailableCapital.Add(amount), p.TotalCapital)
}

// StrategyKind is a closed variant over known strategy families (spec §9).
// User-defined strategies still implement BaseStrategy; this tag is only
// used for dispatch-heavy paths (e.g. default sizing presets).
type StrategyKind string

const (
	StrategyKindMACrossover    StrategyKind = "ma_crossover"
	StrategyKindMeanReversion  StrategyKind = "mean_reversion"
	StrategyKindMomentum       StrategyKind = "momentum"
	StrategyKindCustom         StrategyKind = "custom"
)

// SizingModel selects a position-sizing algorithm. Fixed-fractional is the
// only model spec'd (§4.C); the type exists so alternate models can be
// added without changing the Capital Manager's call sites.
type SizingModel string

const (
	SizingFixedFractional SizingModel = "fixed_fractional"
)

// PositionSizing is a strategy's sizing configuration.
type PositionSizing struct {
	Model             SizingModel
	RiskPercent       decimal.Decimal
	DefaultStopPct    decimal.Decimal
	MinPositionUSD    decimal.Decimal
	MaxPositionUSD    decimal.Decimal
	ExchangeStepSize  decimal.Decimal
}

// Strategy is one configured trading strategy bound to a single symbol on
// a single exchange, owned by a portfolio.
type Strategy struct {
	ID          string
	Kind        StrategyKind
	ExchangeID  string
	Symbol      string // BASE/QUOTE, uppercase
	Params      map[string]string
	Sizing      PositionSizing
	Active      bool
	PortfolioID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeSymbol upper-cases a BASE/QUOTE pair per spec §3.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Trade is an append-only-from-the-Capital-Manager's-side order record.
// Only the Exchange Connector mutates Status/ExchangeOrderID after creation.
type Trade struct {
	ID              string
	StrategyID      string
	ExchangeID      string
	Symbol          string
	Side            Side
	Type            OrderType
	Amount          decimal.Decimal
	Price           decimal.NullDecimal // required unless market
	Cost            decimal.Decimal
	Fee             decimal.Decimal
	Status          TradeStatus
	ExchangeOrderID string // empty until accepted
	CorrelationID   string
	Reconciled      bool // set by Reconciler for orphan-exchange-order trades
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transition moves the trade to next, enforcing the state machine and
// bumping UpdatedAt. Callers hold the Capital Manager's serialization
// domain for the owning portfolio.
func (t *Trade) Transition(next TradeStatus, at time.Time) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("trade %s: invalid transition %s -> %s", t.ID, t.Status, next)
	}
	if !at.After(t.UpdatedAt) {
		at = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.Status = next
	t.UpdatedAt = at
	return nil
}

// Position is a strategy's resting exposure in a symbol.
// Invariant: Open == (ClosedAt == nil); Size strictly positive while open.
type Position struct {
	ID              string
	StrategyID      string
	Symbol          string
	Side            PositionSide
	EntryPrice      decimal.Decimal
	Size            decimal.Decimal
	AverageEntry    decimal.Decimal
	StopLoss        decimal.NullDecimal
	TakeProfit      decimal.NullDecimal
	UnrealizedPnL   decimal.Decimal
	RealizedPnL     decimal.Decimal
	TotalFees       decimal.Decimal
	Open            bool
	OpenedAt        time.Time
	ClosedAt        *time.Time
}

// ApplyFill folds a fill into the position using a size-weighted average
// entry price (spec §4.D "entry average recomputed as size-weighted
// mean; partial fills supported"). fee is added to TotalFees.
func (p *Position) ApplyFill(fillSize, fillPrice, fee decimal.Decimal) {
	if p.Size.IsZero() {
		p.AverageEntry = fillPrice
		p.EntryPrice = fillPrice
	} else {
		totalCost := p.AverageEntry.Mul(p.Size).Add(fillPrice.Mul(fillSize))
		p.AverageEntry = totalCost.Div(p.Size.Add(fillSize))
	}
	p.Size = p.Size.Add(fillSize)
	p.TotalFees = p.TotalFees.Add(fee)
}

// Close marks the position closed at t, enforcing the invariant that
// ClosedAt is set iff Open is false.
func (p *Position) Close(realized decimal.Decimal, at time.Time) {
	p.Open = false
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	closedAt := at
	p.ClosedAt = &closedAt
}

// RuleKind names a PortfolioRule (spec §4.C validation pipeline).
type RuleKind string

const (
	RuleMaxPositionSizePercent     RuleKind = "max_position_size_percent"
	RuleMaxDailyLossPercent        RuleKind = "max_daily_loss_percent"
	RuleMaxPortfolioExposurePercent RuleKind = "max_portfolio_exposure_percent"
	RuleMaxPositionsPerSymbol      RuleKind = "max_positions_per_symbol"
	RuleMinAvailableCapital        RuleKind = "min_available_capital"
	RuleSymbolBlacklist            RuleKind = "symbol_blacklist"
)

// PortfolioRule is a typed value consulted on every proposal.
type PortfolioRule struct {
	PortfolioID string
	Kind        RuleKind
	Value       string // decimal, int, or comma-separated symbol list, per Kind
}

// Fingerprint derives the dedupe key from spec §4.B:
// hash(strategy_id, symbol, intent, bar_close_ts).
func Fingerprint(strategyID, symbol, intent string, barCloseTS time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", strategyID, NormalizeSymbol(symbol), intent, barCloseTS.UnixMilli())
	return hex.EncodeToString(h.Sum(nil))
}

// StrategyState is the record a Worker persists after each proposal's
// capital response, approved or denied, and reloads on restart (spec §4.B
// "State persistence"). It is not written on fills, and the Worker
// leaves OpenPositionID empty.
type StrategyState struct {
	StrategyID         string
	LastProcessedBarTS time.Time
	LastFingerprint    string
	OpenPositionID     string // empty if none
}
