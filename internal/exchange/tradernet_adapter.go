package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/events"
)

// TradernetAdapter adapts the tradernet microservice REST client into
// the Adapter port. Concrete exchange bindings are out of scope (spec
// §1) beyond this one default implementation — idempotency,
// rate-limiting, and the circuit breaker all live one layer up in
// Connector, so this type stays a thin, mostly synchronous translation
// of tradernet.Client's float64 wire shapes into Adapter's decimal
// ones.
type TradernetAdapter struct {
	rest   *tradernet.Client
	stream *WSStream
	log    zerolog.Logger
}

// NewTradernetAdapter builds an Adapter backed by the tradernet
// microservice at baseURL for orders/balances/positions, and wsURL for
// streaming ticks.
func NewTradernetAdapter(baseURL, wsURL string, busClient *bus.Client, eventsMgr *events.Manager, cache *PriceCache, log zerolog.Logger) *TradernetAdapter {
	return &TradernetAdapter{
		rest:   tradernet.NewClient(baseURL, log),
		stream: NewWSStream(wsURL, busClient, eventsMgr, cache, log),
		log:    log.With().Str("component", "tradernet_adapter").Logger(),
	}
}

func (a *TradernetAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	qty, _ := req.Amount.Float64()
	result, err := a.rest.PlaceOrder(req.Symbol, req.Side, qty)
	if err != nil {
		return OrderAck{}, fmt.Errorf("tradernet: place order: %w", err)
	}
	return OrderAck{
		ExchangeOrderID: result.OrderID,
		ClientOrderID:   req.ClientOrderID,
		Status:          "filled",
		FilledAmount:    decimal.NewFromFloat(result.Quantity),
		AvgFillPrice:    decimal.NewFromFloat(result.Price),
		At:              time.Now(),
	}, nil
}

// CancelOrder is unsupported by the tradernet microservice (it exposes
// no cancel endpoint) — the underlying venue settles market orders
// synchronously within PlaceOrder, so a resting order to cancel never
// exists for this adapter.
func (a *TradernetAdapter) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return fmt.Errorf("tradernet: cancel order unsupported")
}

func (a *TradernetAdapter) GetBalance(ctx context.Context) ([]Balance, error) {
	balances, err := a.rest.GetCashBalances()
	if err != nil {
		return nil, fmt.Errorf("tradernet: get balances: %w", err)
	}
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		out = append(out, Balance{Asset: b.Currency, Free: decimal.NewFromFloat(b.Amount)})
	}
	return out, nil
}

// GetOpenOrders always returns empty: the tradernet microservice has no
// resting-order concept to query (spec §4.D orphan-exchange-order
// detection degrades to positions-only reconciliation on this adapter).
func (a *TradernetAdapter) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	return nil, nil
}

func (a *TradernetAdapter) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	positions, err := a.rest.GetPortfolio()
	if err != nil {
		return nil, fmt.Errorf("tradernet: get positions: %w", err)
	}
	out := make([]ExchangePosition, 0, len(positions))
	for _, p := range positions {
		side := "buy"
		if p.Quantity < 0 {
			side = "sell"
		}
		out = append(out, ExchangePosition{
			Symbol: p.Symbol,
			Side:   side,
			Size:   decimal.NewFromFloat(p.Quantity).Abs(),
			Entry:  decimal.NewFromFloat(p.AvgPrice),
		})
	}
	return out, nil
}

func (a *TradernetAdapter) SubscribeMarketData(ctx context.Context, symbols []string, handler TickHandler) error {
	return a.stream.Start(ctx, "tradernet", symbols, handler)
}
