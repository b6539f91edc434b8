package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/capital"
	"github.com/aristath/tradecore/internal/concurrency"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/events"
)

// Connector wraps a concrete Adapter (the actual exchange SDK binding is
// out of scope — spec §1) with everything the spec asks of the
// boundary: idempotent order placement, per-symbol serialization, rate
// limiting, a circuit breaker, and fill -> Trade/Position mapping.
type Connector struct {
	adapter    Adapter
	trades     *repositories.TradeRepository
	positions  *repositories.PositionRepository
	strategies *repositories.StrategyRepository
	capitalMgr *capital.Manager
	bus       *bus.Client
	eventsMgr *events.Manager
	log       zerolog.Logger

	executor *concurrency.KeyedExecutor // one lane per symbol (spec §4.D)
	breaker  *CircuitBreaker
	orders   *rate.Limiter
	queries  *rate.Limiter
	cache    *PriceCache

	mu       sync.Mutex
	inflight map[string]OrderAck // client_order_id -> ack, for idempotent resubmission
}

// NewConnector builds a Connector. ordersPerSec/queriesPerSec are the
// two rate-limit categories spec §4.D names (order placement vs
// balance/position queries).
func NewConnector(
	adapter Adapter,
	trades *repositories.TradeRepository,
	positions *repositories.PositionRepository,
	strategies *repositories.StrategyRepository,
	capitalMgr *capital.Manager,
	busClient *bus.Client,
	eventsMgr *events.Manager,
	ordersPerSec, queriesPerSec float64,
	breakerTrips int,
	breakerCooldown time.Duration,
	log zerolog.Logger,
) *Connector {
	return &Connector{
		adapter:    adapter,
		trades:     trades,
		positions:  positions,
		strategies: strategies,
		capitalMgr: capitalMgr,
		bus:        busClient,
		eventsMgr:  eventsMgr,
		log:        log.With().Str("component", "exchange_connector").Logger(),
		executor:   concurrency.NewKeyedExecutor(32),
		breaker:    NewCircuitBreaker(breakerTrips, breakerCooldown),
		orders:     rate.NewLimiter(rate.Limit(ordersPerSec), int(ordersPerSec)+1),
		queries:    rate.NewLimiter(rate.Limit(queriesPerSec), int(queriesPerSec)+1),
		cache:      NewPriceCache(1024, 500*time.Millisecond),
		inflight:   make(map[string]OrderAck),
	}
}

// Subscribe registers the Connector against commands.execute_trade.
func (c *Connector) Subscribe(ctx context.Context) error {
	return c.bus.Subscribe(ctx, bus.SubscribeOpts{
		Queue:      "exchange_connector.execute_trade",
		Exchange:   bus.ExchangeCommands,
		RoutingKey: bus.RoutingTradeExecuted,
		Prefetch:   10,
	}, c.handleExecuteTrade)
}

func (c *Connector) handleExecuteTrade(ctx context.Context, env bus.Envelope) error {
	var cmd capital.ExecuteTradeCommand
	if err := env.Decode(&cmd); err != nil {
		return err
	}

	var outerErr error
	c.executor.Submit(ctx, cmd.Symbol, func(ctx context.Context) {
		outerErr = c.execute(ctx, cmd)
	})
	return outerErr
}

func (c *Connector) execute(ctx context.Context, cmd capital.ExecuteTradeCommand) error {
	ack, err := c.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: cmd.CorrelationID,
		Symbol:        cmd.Symbol,
		Side:          cmd.Side,
		Type:          string(domain.OrderTypeMarket),
		Amount:        cmd.Amount,
	})
	if err != nil {
		c.markTerminal(ctx, cmd, domain.TradeStatusFailed)
		return err
	}

	trade, terr := c.trades.GetByID(cmd.TradeID)
	if terr != nil || trade == nil {
		return fmt.Errorf("exchange: trade %s not found after placement: %w", cmd.TradeID, terr)
	}
	trade.ExchangeOrderID = ack.ExchangeOrderID
	trade.Cost = ack.AvgFillPrice.Mul(ack.FilledAmount)
	trade.Fee = ack.Fee
	if err := trade.Transition(domain.TradeStatusOpen, ack.At); err != nil {
		return err
	}
	if err := c.trades.Save(*trade); err != nil {
		return err
	}

	if c.eventsMgr != nil {
		c.eventsMgr.Emit(events.TradeExecuted, "exchange_connector", map[string]interface{}{
			"trade_id":          trade.ID,
			"exchange_order_id": ack.ExchangeOrderID,
			"symbol":            cmd.Symbol,
			"filled_amount":     ack.FilledAmount.String(),
			"avg_fill_price":    ack.AvgFillPrice.String(),
		})
	}

	if err := c.applyFill(*trade, ack); err != nil {
		c.log.Error().Err(err).Str("trade_id", trade.ID).Msg("position fill mapping failed")
	}
	return nil
}

// applyFill folds a fill into the strategy's open Position, creating one
// on the first buy and size-weighting the average entry on subsequent
// fills (spec §4.D). A sell reduces size and realizes PnL against the
// average entry; a sell that fully closes the position clears it.
func (c *Connector) applyFill(trade domain.Trade, ack OrderAck) error {
	pos, err := c.positions.GetOpenByStrategySymbol(trade.StrategyID, trade.Symbol)
	if err != nil {
		return err
	}

	if pos == nil {
		if trade.Side != domain.SideBuy {
			return nil // closing a position we never opened (e.g. reconciled drift); nothing to fold
		}
		pos = &domain.Position{
			ID:         uuid.NewString(),
			StrategyID: trade.StrategyID,
			Symbol:     trade.Symbol,
			Side:       domain.PositionLong,
			Open:       true,
			OpenedAt:   ack.At,
		}
		pos.ApplyFill(ack.FilledAmount, ack.AvgFillPrice, ack.Fee)
		return c.positions.Create(*pos)
	}

	switch trade.Side {
	case domain.SideBuy:
		pos.ApplyFill(ack.FilledAmount, ack.AvgFillPrice, ack.Fee)
	case domain.SideSell:
		realized := ack.AvgFillPrice.Sub(pos.AverageEntry).Mul(decimal.Min(ack.FilledAmount, pos.Size))
		pos.Size = pos.Size.Sub(ack.FilledAmount)
		pos.TotalFees = pos.TotalFees.Add(ack.Fee)
		if pos.Size.LessThanOrEqual(decimal.Zero) {
			pos.Size = decimal.Zero
			pos.Close(realized, ack.At)
		} else {
			pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		}
	}
	return c.positions.Save(*pos)
}

// markTerminal moves a trade to failed/canceled and returns its reserved
// capital to the owning portfolio with no realized delta (spec §4.C
// "Reservation is released on terminal order states {canceled, failed}").
func (c *Connector) markTerminal(ctx context.Context, cmd capital.ExecuteTradeCommand, status domain.TradeStatus) {
	trade, err := c.trades.GetByID(cmd.TradeID)
	if err != nil || trade == nil {
		return
	}
	if err := trade.Transition(status, time.Now()); err != nil {
		return
	}
	_ = c.trades.Save(*trade)

	if c.capitalMgr == nil || c.strategies == nil {
		return
	}
	strategy, err := c.strategies.GetByID(trade.StrategyID)
	if err != nil || strategy == nil {
		return
	}
	c.capitalMgr.ReleaseReservation(ctx, strategy.PortfolioID, cmd.ReservedCapital, decimal.Zero)
}

// PlaceOrder is idempotent by ClientOrderID: resubmitting the same id
// returns the previously recorded ack instead of placing a new order
// (spec §4.D). Gated by the circuit breaker and the orders-category
// rate limiter.
func (c *Connector) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	c.mu.Lock()
	if ack, ok := c.inflight[req.ClientOrderID]; ok {
		c.mu.Unlock()
		return ack, nil
	}
	c.mu.Unlock()

	if !c.breaker.Allow() {
		return OrderAck{}, fmt.Errorf("exchange: circuit breaker open")
	}
	if err := c.orders.Wait(ctx); err != nil {
		return OrderAck{}, err
	}

	ack, err := c.adapter.PlaceOrder(ctx, req)
	if err != nil {
		c.emitBreakerOpen(c.breaker.RecordFailure())
		return OrderAck{}, err
	}
	c.emitBreakerClose(c.breaker.RecordSuccess())

	c.mu.Lock()
	c.inflight[req.ClientOrderID] = ack
	c.mu.Unlock()
	return ack, nil
}

// CancelOrder cancels a resting order, gated the same way as PlaceOrder.
func (c *Connector) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("exchange: circuit breaker open")
	}
	if err := c.orders.Wait(ctx); err != nil {
		return err
	}
	err := c.adapter.CancelOrder(ctx, exchangeOrderID)
	if err != nil {
		c.emitBreakerOpen(c.breaker.RecordFailure())
		return err
	}
	c.emitBreakerClose(c.breaker.RecordSuccess())
	return nil
}

// emitBreakerOpen/emitBreakerClose publish the breaker's state
// transitions as events.system.exchange_circuit_* (spec §4.D); they are
// no-ops unless the breaker actually changed state on this call.
func (c *Connector) emitBreakerOpen(transitioned bool) {
	if !transitioned || c.eventsMgr == nil {
		return
	}
	c.eventsMgr.Emit(events.CircuitBreakerOpen, "exchange_connector", map[string]interface{}{
		"state": string(CircuitOpen),
	})
}

func (c *Connector) emitBreakerClose(transitioned bool) {
	if !transitioned || c.eventsMgr == nil {
		return
	}
	c.eventsMgr.Emit(events.CircuitBreakerClose, "exchange_connector", map[string]interface{}{
		"state": string(CircuitClosed),
	})
}

// GetBalance, GetOpenOrders, GetPositions are read paths used by the
// Reconciler; gated by the queries-category rate limiter only (spec
// §4.D distinguishes order vs query rate budgets).
func (c *Connector) GetBalance(ctx context.Context) ([]Balance, error) {
	if err := c.queries.Wait(ctx); err != nil {
		return nil, err
	}
	return c.adapter.GetBalance(ctx)
}

func (c *Connector) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := c.queries.Wait(ctx); err != nil {
		return nil, err
	}
	return c.adapter.GetOpenOrders(ctx)
}

func (c *Connector) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	if err := c.queries.Wait(ctx); err != nil {
		return nil, err
	}
	return c.adapter.GetPositions(ctx)
}

// CachedPrice returns the last streamed price for symbol if still within
// TTL, avoiding a synchronous query on the hot path (spec §4.D latency
// budget).
func (c *Connector) CachedPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := c.cache.Get(symbol)
	return p, ok
}

// Breaker exposes the circuit breaker so a scheduled probe job
// (internal/supervisor) can drive half-open recovery checks.
func (c *Connector) Breaker() *CircuitBreaker { return c.breaker }

// Adapter exposes the underlying adapter for the probe job's health
// check call.
func (c *Connector) Adapter() Adapter { return c.adapter }
