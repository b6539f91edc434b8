package capital

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/bus"
	"github.com/aristath/tradecore/internal/concurrency"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/errs"
	"github.com/aristath/tradecore/internal/events"
)

// StaleProposalWindow bounds how old a proposal may be (spec §4.C rule 3).
const StaleProposalWindow = 2 * time.Second

// Manager is the Capital Manager (spec §4.C). It owns portfolio balances
// and creates the Trade row for each approved proposal.
type Manager struct {
	portfolios     *repositories.PortfolioRepository
	trades         *repositories.TradeRepository
	positions      *repositories.PositionRepository
	rules          *repositories.PortfolioRuleRepository
	strategies     *repositories.StrategyRepository
	bus            *bus.Client
	eventsMgr      *events.Manager
	executor       *concurrency.KeyedExecutor // one lane per portfolio id
	log            zerolog.Logger
	minAvailable   decimal.Decimal
	feeBuffer      decimal.Decimal
}

// New constructs a Manager. feeBuffer is the fractional markup applied
// to a reservation's notional (spec §4.C "amount * signal_price * (1 +
// fee_buffer)"); minAvailable is the portfolio-level floor rule 4 checks.
func New(
	portfolios *repositories.PortfolioRepository,
	trades *repositories.TradeRepository,
	positions *repositories.PositionRepository,
	rules *repositories.PortfolioRuleRepository,
	strategies *repositories.StrategyRepository,
	busClient *bus.Client,
	eventsMgr *events.Manager,
	minAvailable, feeBuffer decimal.Decimal,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		portfolios:   portfolios,
		trades:       trades,
		positions:    positions,
		rules:        rules,
		strategies:   strategies,
		bus:          busClient,
		eventsMgr:    eventsMgr,
		executor:     concurrency.NewKeyedExecutor(64),
		log:          log.With().Str("component", "capital_manager").Logger(),
		minAvailable: minAvailable,
		feeBuffer:    feeBuffer,
	}
}

// Subscribe registers the Manager against every
// request.capital.allocation.* routing key on the requests exchange.
func (m *Manager) Subscribe(ctx context.Context) error {
	return m.bus.Subscribe(ctx, bus.SubscribeOpts{
		Queue:      "capital_manager.allocation_requests",
		Exchange:   bus.ExchangeRequests,
		RoutingKey: "request.capital.allocation.*",
	}, m.handleRequest)
}

func (m *Manager) handleRequest(ctx context.Context, env bus.Envelope) error {
	var p Proposal
	if err := env.Decode(&p); err != nil {
		return errs.Newf(errs.KindMalformedEnvelope, "decode proposal: %v", err)
	}
	p.CorrelationID = env.CorrelationID

	var result Result
	m.executor.Submit(ctx, p.PortfolioID, func(ctx context.Context) {
		result = m.evaluate(ctx, p)
	})

	if env.ReplyTo != "" {
		if err := m.bus.Respond(ctx, env.ReplyTo, env.CorrelationID, result); err != nil {
			return fmt.Errorf("capital: respond: %w", err)
		}
	}

	if result.Result == "approved" {
		cmd := ExecuteTradeCommand{
			TradeID:         result.TradeID,
			StrategyID:      p.StrategyID,
			Symbol:          p.Symbol,
			Side:            p.Side,
			Amount:          result.ApprovedQuantity,
			Price:           p.SignalPrice,
			ReservedCapital: result.PortfolioImpact,
			CorrelationID:   p.CorrelationID,
		}
		if err := m.bus.Publish(ctx, bus.ExchangeCommands, bus.RoutingTradeExecuted, p.CorrelationID, cmd); err != nil {
			m.log.Error().Err(err).Str("correlation_id", p.CorrelationID).Msg("failed to publish execute_trade command")
		}
	}
	return nil
}

// ExecuteTradeCommand is published to commands.execute_trade on approval
// (spec §4.C public contract).
type ExecuteTradeCommand struct {
	TradeID         string          `json:"trade_id"`
	StrategyID      string          `json:"strategy_id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	ReservedCapital decimal.Decimal `json:"reserved_capital"`
	CorrelationID   string          `json:"correlation_id"`
}

// evaluate runs the 9-step validation pipeline and, on approval, reserves
// capital and creates the Trade record. Must only be called from inside
// this portfolio's executor lane.
func (m *Manager) evaluate(ctx context.Context, p Proposal) Result {
	strategy, err := m.strategies.GetByID(p.StrategyID)
	if err != nil || strategy == nil {
		return denied("internal_error")
	}
	portfolio, err := m.portfolios.GetByID(p.PortfolioID)
	if err != nil || portfolio == nil {
		return denied("internal_error")
	}

	if existing, err := m.findExistingTrade(strategy.ID, p.CorrelationID); err == nil && existing != nil {
		return m.resultFromExistingTrade(*existing)
	}

	rules, err := m.rules.ListByPortfolio(portfolio.ID)
	if err != nil {
		return denied("internal_error")
	}
	ruleSet := indexRules(rules)

	if reason := m.validate(ctx, strategy, portfolio, ruleSet, p); reason != "" {
		return denied(reason)
	}

	amount, sizingErr := m.size(strategy.Sizing, portfolio.TotalCapital, p)
	if sizingErr != "" {
		return denied(sizingErr)
	}

	notional := amount.Mul(p.SignalPrice)
	reservation := notional.Mul(decimal.NewFromInt(1).Add(m.feeBuffer))

	if err := portfolio.Reserve(reservation); err != nil {
		return denied("insufficient_capital")
	}
	if err := m.portfolios.Save(*portfolio); err != nil {
		return denied("internal_error")
	}

	trade := domain.Trade{
		ID:            p.CorrelationID,
		StrategyID:    strategy.ID,
		ExchangeID:    strategy.ExchangeID,
		Symbol:        p.Symbol,
		Side:          domain.Side(p.Side),
		Type:          domain.OrderTypeMarket,
		Amount:        amount,
		Price:         decimal.NewNullDecimal(p.SignalPrice),
		Status:        domain.TradeStatusPending,
		CorrelationID: p.CorrelationID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := m.trades.Create(trade); err != nil {
		portfolio.Release(reservation)
		_ = m.portfolios.Save(*portfolio)
		return denied("internal_error")
	}

	return Result{
		Result:           "approved",
		ApprovedQuantity: amount,
		RiskLevel:        "normal",
		PortfolioImpact:  reservation,
		TradeID:          trade.ID,
	}
}

func (m *Manager) findExistingTrade(strategyID, correlationID string) (*domain.Trade, error) {
	open, err := m.trades.ListOpenByStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if open[i].CorrelationID == correlationID {
			return &open[i], nil
		}
	}
	return nil, nil
}

// resultFromExistingTrade answers a resubmitted proposal that already has
// an open Trade under this correlation id (spec §4.C rule 3 / §8 scenario
// 3: "second returns denied with reason duplicate_proposal"). It must
// never approve a second time — handleRequest republishes
// commands.execute_trade only on result.Result == "approved", so an
// approved duplicate here would fire a second execution for one proposal.
func (m *Manager) resultFromExistingTrade(t domain.Trade) Result {
	result := denied(string(errs.KindDuplicateProposal))
	result.TradeID = t.ID
	return result
}

// ReleaseReservation returns a trade's reserved notional to the owning
// portfolio's available capital on a terminal {canceled, failed}
// outcome, or converts it into a realized delta on {closed} (spec §4.C
// "Capital reservation"). It runs inside this portfolio's executor lane
// so it never races a concurrent proposal. internal/exchange calls it
// when an order placement fails and internal/reconciler when it marks an
// orphan pending trade failed, both with a zero realizedDelta; no caller
// converts a reservation on {closed}.
func (m *Manager) ReleaseReservation(ctx context.Context, portfolioID string, reserved, realizedDelta decimal.Decimal) {
	m.executor.Submit(ctx, portfolioID, func(ctx context.Context) {
		portfolio, err := m.portfolios.GetByID(portfolioID)
		if err != nil || portfolio == nil {
			m.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("release reservation: portfolio not found")
			return
		}
		portfolio.Release(reserved)
		portfolio.TotalCapital = portfolio.TotalCapital.Add(realizedDelta)
		if err := m.portfolios.Save(*portfolio); err != nil {
			m.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("release reservation: save failed")
		}
	})
}

// Submit runs fn inside portfolioID's executor lane. It lets other
// components (the Reconciler's trade/position writes) join the same
// single-writer serialization domain the Manager uses for its own
// reservations, instead of writing to the repositories directly.
func (m *Manager) Submit(ctx context.Context, portfolioID string, fn func(ctx context.Context)) {
	m.executor.Submit(ctx, portfolioID, fn)
}

func indexRules(rules []domain.PortfolioRule) map[domain.RuleKind]domain.PortfolioRule {
	out := make(map[domain.RuleKind]domain.PortfolioRule, len(rules))
	for _, r := range rules {
		out[r.Kind] = r
	}
	return out
}
