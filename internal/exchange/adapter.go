// Package exchange implements the Exchange Connector (spec §4.D): the
// sole boundary to the exchange. It executes orders, streams market
// data, reports fills, and enforces rate limits and a circuit breaker.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is what PlaceOrder accepts, keyed for idempotency by
// ClientOrderID = correlation id (spec §4.D).
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Amount        decimal.Decimal
	Price         decimal.NullDecimal
}

// OrderAck is the exchange's acknowledgement of an accepted order.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string
	FilledAmount    decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Fee             decimal.Decimal
	At              time.Time
}

// Balance is one asset's free/locked balance on the exchange.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OpenOrder mirrors an exchange-side resting order, used by the
// Reconciler to detect orphans.
type OpenOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Amount          decimal.Decimal
	FilledAmount    decimal.Decimal
	Status          string
}

// ExchangePosition mirrors an exchange-side resting position, used by
// the Reconciler to detect size/status drift.
type ExchangePosition struct {
	Symbol string
	Side   string
	Size   decimal.Decimal
	Entry  decimal.Decimal
}

// Tick is one price update from the market-data stream.
type Tick struct {
	Symbol  string
	CloseTS time.Time
	Price   decimal.Decimal
	Volume  decimal.Decimal
}

// TickHandler processes one streamed Tick.
type TickHandler func(ctx context.Context, tick Tick)

// Adapter is the sole port the rest of the core depends on — the only
// out-of-scope collaborator named by spec §1 ("only an ExchangeAdapter
// port"). A concrete REST/WebSocket implementation lives in this
// package; strategy/capital/reconciler code only ever sees this
// interface.
type Adapter interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	GetBalance(ctx context.Context) ([]Balance, error)
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	SubscribeMarketData(ctx context.Context, symbols []string, handler TickHandler) error
}
