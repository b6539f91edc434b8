// Package reconciler implements the State Reconciliation Loop (spec
// §4.E): it closes the gap between the system's authoritative records
// and the exchange's observed state. It runs on a cron schedule; nothing
// triggers it after a WebSocket reconnect gap or on operator command.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/capital"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/events"
	"github.com/aristath/tradecore/internal/exchange"
)

// PositionEpsilon is the default tolerance below which a position size
// mismatch is ignored (spec §4.E "default 1e-8").
const PositionEpsilon = 0.00000001

// Reconciler runs the algorithm from spec §4.E against every active
// portfolio/strategy pair. Every trade and position write goes through
// capitalMgr.Submit on the affected portfolio's lane (the same
// KeyedExecutor a live Manager.evaluate() reservation uses), so a
// reconciliation write can never interleave with a concurrent proposal
// against the same portfolio.
type Reconciler struct {
	portfolios *repositories.PortfolioRepository
	strategies *repositories.StrategyRepository
	trades     *repositories.TradeRepository
	positions  *repositories.PositionRepository
	connector  *exchange.Connector
	capitalMgr *capital.Manager
	eventsMgr  *events.Manager
	log        zerolog.Logger

	autoCancelOrphans bool
	epsilon           decimal.Decimal
	graceWindow       time.Duration
}

func New(
	portfolios *repositories.PortfolioRepository,
	strategies *repositories.StrategyRepository,
	trades *repositories.TradeRepository,
	positions *repositories.PositionRepository,
	connector *exchange.Connector,
	capitalMgr *capital.Manager,
	eventsMgr *events.Manager,
	autoCancelOrphans bool,
	epsilon float64,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		portfolios:        portfolios,
		strategies:        strategies,
		trades:            trades,
		positions:         positions,
		connector:         connector,
		capitalMgr:        capitalMgr,
		eventsMgr:         eventsMgr,
		log:               log.With().Str("component", "reconciler").Logger(),
		autoCancelOrphans: autoCancelOrphans,
		epsilon:           decimal.NewFromFloat(epsilon),
		graceWindow:       10 * time.Second,
	}
}

// Name/Run implement internal/scheduler.Job for periodic invocation
// (spec §4.E trigger 1, default every 60s).
func (r *Reconciler) Name() string { return "state_reconciler" }

func (r *Reconciler) Run() error {
	return r.Reconcile(context.Background())
}

// Reconcile runs one pass of the algorithm against every strategy's
// symbol. The only caller is Run, which the supervisor schedules
// periodically; no reconnect-gap or operator-command trigger calls it.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	strategies, err := r.strategies.ListActive()
	if err != nil {
		return err
	}

	exchangeOrders, err := r.connector.GetOpenOrders(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("reconcile: failed to fetch exchange open orders")
		return err
	}
	exchangeBySymbol := indexOrdersBySymbol(exchangeOrders)

	for _, strategy := range strategies {
		dbTrades, err := r.trades.ListOpenByStrategy(strategy.ID)
		if err != nil {
			r.log.Error().Err(err).Str("strategy_id", strategy.ID).Msg("reconcile: list open trades failed")
			continue
		}
		r.reconcileTrades(ctx, strategy, dbTrades, exchangeBySymbol[strategy.Symbol])
		r.reconcilePosition(ctx, strategy)
	}
	return nil
}

func indexOrdersBySymbol(orders []exchange.OpenOrder) map[string][]exchange.OpenOrder {
	out := make(map[string][]exchange.OpenOrder)
	for _, o := range orders {
		out[o.Symbol] = append(out[o.Symbol], o)
	}
	return out
}

// reconcileTrades classifies orphan-DB-order and orphan-exchange-order
// discrepancies for one strategy's symbol (spec §4.E step 3).
func (r *Reconciler) reconcileTrades(ctx context.Context, strategy domain.Strategy, dbTrades []domain.Trade, exchangeOrders []exchange.OpenOrder) {
	exchangeByID := make(map[string]exchange.OpenOrder, len(exchangeOrders))
	for _, o := range exchangeOrders {
		exchangeByID[o.ExchangeOrderID] = o
	}

	// Orphan DB order: present in DB past the grace period, absent on
	// the exchange.
	for _, t := range dbTrades {
		if t.ExchangeOrderID == "" {
			continue // not yet accepted, still within the normal pending window
		}
		if time.Since(t.UpdatedAt) < r.graceWindow {
			continue
		}
		if _, ok := exchangeByID[t.ExchangeOrderID]; ok {
			continue
		}
		r.resolveOrphanDBOrder(ctx, strategy, t)
	}

	// Orphan exchange order: on the exchange, unknown to the DB.
	knownExchangeIDs := make(map[string]bool, len(dbTrades))
	for _, t := range dbTrades {
		if t.ExchangeOrderID != "" {
			knownExchangeIDs[t.ExchangeOrderID] = true
		}
	}
	for _, o := range exchangeOrders {
		if knownExchangeIDs[o.ExchangeOrderID] {
			continue
		}
		r.resolveOrphanExchangeOrder(ctx, strategy, o)
	}
}

func (r *Reconciler) resolveOrphanDBOrder(ctx context.Context, strategy domain.Strategy, t domain.Trade) {
	var next domain.TradeStatus
	switch t.Status {
	case domain.TradeStatusPending:
		next = domain.TradeStatusFailed
	case domain.TradeStatusOpen:
		next = domain.TradeStatusClosed // fill-history backfill is left to a later pass; status drift is resolved here
	default:
		return
	}
	if err := t.Transition(next, time.Now()); err != nil {
		r.log.Error().Err(err).Str("trade_id", t.ID).Msg("reconcile: orphan db order transition failed")
		return
	}
	t.Reconciled = true
	var saveErr error
	r.capitalMgr.Submit(ctx, strategy.PortfolioID, func(ctx context.Context) {
		saveErr = r.trades.Save(t)
	})
	if saveErr != nil {
		r.log.Error().Err(saveErr).Str("trade_id", t.ID).Msg("reconcile: save orphan db order failed")
		return
	}
	// ReleaseReservation submits its own task against the same
	// portfolio lane; Submit above has already returned, so this runs
	// after rather than nested inside it.
	if next == domain.TradeStatusFailed {
		r.capitalMgr.ReleaseReservation(ctx, strategy.PortfolioID, t.Cost, decimal.Zero)
	}
}

func (r *Reconciler) resolveOrphanExchangeOrder(ctx context.Context, strategy domain.Strategy, o exchange.OpenOrder) {
	if r.autoCancelOrphans {
		if err := r.connector.CancelOrder(ctx, o.ExchangeOrderID); err != nil {
			r.log.Warn().Err(err).Str("exchange_order_id", o.ExchangeOrderID).Msg("reconcile: auto-cancel orphan failed")
		}
		return
	}

	trade := domain.Trade{
		ID:              "recon-" + uuid.NewString(),
		StrategyID:      strategy.ID,
		ExchangeID:      strategy.ExchangeID,
		Symbol:          o.Symbol,
		Side:            domain.SideBuy,
		Type:            domain.OrderTypeMarket,
		Amount:          o.Amount,
		Status:          domain.TradeStatusOpen,
		ExchangeOrderID: o.ExchangeOrderID,
		CorrelationID:   o.ClientOrderID,
		Reconciled:      true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	r.capitalMgr.Submit(ctx, strategy.PortfolioID, func(ctx context.Context) {
		if err := r.trades.Create(trade); err != nil {
			r.log.Error().Err(err).Str("exchange_order_id", o.ExchangeOrderID).Msg("reconcile: create orphan trade failed")
		}
	})
}

// reconcilePosition compares DB position size against the exchange's
// (spec §4.E step 3 "Position size mismatch" / "Status drift").
func (r *Reconciler) reconcilePosition(ctx context.Context, strategy domain.Strategy) {
	dbPos, err := r.positions.GetOpenByStrategySymbol(strategy.ID, strategy.Symbol)
	if err != nil {
		return
	}

	exchangePositions, err := r.connector.GetPositions(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("reconcile: failed to fetch exchange positions")
		return
	}

	var exPos *exchange.ExchangePosition
	for i := range exchangePositions {
		if domain.NormalizeSymbol(exchangePositions[i].Symbol) == domain.NormalizeSymbol(strategy.Symbol) {
			exPos = &exchangePositions[i]
			break
		}
	}

	switch {
	case dbPos == nil && exPos == nil:
		return
	case dbPos != nil && exPos == nil:
		// Status drift: DB open, exchange flat -> treat as closed.
		dbPos.Close(decimal.Zero, time.Now())
		closed := *dbPos
		r.capitalMgr.Submit(ctx, strategy.PortfolioID, func(ctx context.Context) {
			if err := r.positions.Save(closed); err != nil {
				r.log.Error().Err(err).Str("position_id", closed.ID).Msg("reconcile: close drifted position failed")
			}
		})
		return
	case dbPos == nil && exPos != nil:
		if r.eventsMgr != nil {
			r.eventsMgr.Emit(events.ReconciliationAlert, "reconciler", map[string]interface{}{
				"strategy_id": strategy.ID,
				"symbol":      strategy.Symbol,
				"reason":      "unknown_exchange_position",
			})
		}
		return
	}

	diff := dbPos.Size.Sub(exPos.Size).Abs()
	if diff.LessThanOrEqual(r.epsilon) {
		return
	}
	dbPos.Size = exPos.Size
	adjusted := *dbPos
	newSize := exPos.Size.String()
	r.capitalMgr.Submit(ctx, strategy.PortfolioID, func(ctx context.Context) {
		if err := r.positions.Save(adjusted); err != nil {
			r.log.Error().Err(err).Str("position_id", adjusted.ID).Msg("reconcile: adjust position size failed")
			return
		}
		if r.eventsMgr != nil {
			r.eventsMgr.Emit(EventPositionReconciled, "reconciler", map[string]interface{}{
				"strategy_id": strategy.ID,
				"symbol":      strategy.Symbol,
				"new_size":    newSize,
			})
		}
	})
}

// EventPositionReconciled is events.system.position_reconciled (spec
// §4.E step 3), not part of the fixed set in internal/events since it is
// specific to this component's own discrepancy classification.
const EventPositionReconciled events.EventType = "position_reconciled"
