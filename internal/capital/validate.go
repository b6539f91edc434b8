package capital

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/domain"
)

// validate runs steps 1-8 of the spec §4.C pipeline, first-fail-wins. An
// empty return means every step passed; step 9 (sizing) is a separate
// call since it also produces the approved amount.
func (m *Manager) validate(ctx context.Context, strategy *domain.Strategy, portfolio *domain.Portfolio, rules map[domain.RuleKind]domain.PortfolioRule, p Proposal) string {
	// 1. Strategy active and portfolio active.
	if !strategy.Active || !portfolio.Active {
		return "strategy_or_portfolio_inactive"
	}

	// 2. Symbol not in portfolio blacklist.
	if rule, ok := rules[domain.RuleSymbolBlacklist]; ok {
		for _, sym := range strings.Split(rule.Value, ",") {
			if domain.NormalizeSymbol(sym) == domain.NormalizeSymbol(p.Symbol) {
				return "symbol_blacklisted"
			}
		}
	}

	// 3. Proposal freshness.
	if time.Since(p.Timestamp) > StaleProposalWindow {
		return "stale_proposal"
	}

	// 4. Available capital >= configured minimum.
	if portfolio.AvailableCapital.LessThan(m.minAvailable) {
		return "insufficient_capital"
	}
	if rule, ok := rules[domain.RuleMinAvailableCapital]; ok {
		min, err := decimal.NewFromString(rule.Value)
		if err == nil && portfolio.AvailableCapital.LessThan(min) {
			return "insufficient_capital"
		}
	}

	// 5. Position concentration. Sizes the proposal the same way step 9
	// will (spec §4.C rule 5: new_position_notional / total_capital); a
	// sizing failure here is immaterial since step 9 re-derives and
	// enforces the amount on its own.
	if rule, ok := rules[domain.RuleMaxPositionSizePercent]; ok {
		maxPct, err := decimal.NewFromString(rule.Value)
		if err == nil && !portfolio.TotalCapital.IsZero() {
			if amount, sizingErr := m.size(strategy.Sizing, portfolio.TotalCapital, p); sizingErr == "" {
				notional := amount.Mul(p.SignalPrice)
				pct := notional.Div(portfolio.TotalCapital)
				if pct.GreaterThan(maxPct) {
					return "position_concentration_exceeded"
				}
			}
		}
	}

	// 6. Daily drawdown.
	if rule, ok := rules[domain.RuleMaxDailyLossPercent]; ok {
		maxLossPct, err := decimal.NewFromString(rule.Value)
		if err == nil {
			realized, projected, derr := m.dailyLoss(portfolio.ID)
			if derr == nil && !portfolio.TotalCapital.IsZero() {
				lossPct := realized.Add(projected).Abs().Div(portfolio.TotalCapital)
				if lossPct.GreaterThan(maxLossPct) {
					return "daily_drawdown_exceeded"
				}
			}
		}
	}

	// 7. Portfolio exposure.
	if rule, ok := rules[domain.RuleMaxPortfolioExposurePercent]; ok {
		maxExposurePct, err := decimal.NewFromString(rule.Value)
		if err == nil && !portfolio.TotalCapital.IsZero() {
			exposure := portfolio.TotalCapital.Sub(portfolio.AvailableCapital)
			if exposure.Div(portfolio.TotalCapital).GreaterThan(maxExposurePct) {
				return "portfolio_exposure_exceeded"
			}
		}
	}

	// 8. Per-symbol position count, across every active strategy of the
	// portfolio.
	if rule, ok := rules[domain.RuleMaxPositionsPerSymbol]; ok {
		maxCount, err := strconv.Atoi(rule.Value)
		if err == nil {
			strategies, serr := m.strategies.ListActive()
			if serr == nil {
				count := 0
				for _, s := range strategies {
					if s.PortfolioID != portfolio.ID {
						continue
					}
					open, oerr := m.trades.ListOpenByStrategy(s.ID)
					if oerr != nil {
						continue
					}
					for _, t := range open {
						if domain.NormalizeSymbol(t.Symbol) == domain.NormalizeSymbol(p.Symbol) {
							count++
						}
					}
				}
				if count >= maxCount {
					return "max_positions_per_symbol_exceeded"
				}
			}
		}
	}

	return ""
}

// dailyLoss returns today's realized loss and projected unrealized loss
// for portfolio. It returns zero for both: no intraday PnL ledger is
// read, so step 6 never denies a proposal.
func (m *Manager) dailyLoss(portfolioID string) (realized, projected decimal.Decimal, err error) {
	return decimal.Zero, decimal.Zero, nil
}

// size applies the fixed-fractional model (spec §4.C "Position sizing"):
// risk_amount = total_capital * risk_percent; stop_distance = |signal -
// stop| (or 2% default); amount = risk_amount / stop_distance, clamped
// to [min,max] USD and truncated to exchange step size. Returns a deny
// reason instead of an amount when step 9 fails.
func (m *Manager) size(sizing domain.PositionSizing, totalCapital decimal.Decimal, p Proposal) (decimal.Decimal, string) {
	riskAmount := totalCapital.Mul(sizing.RiskPercent)

	stopDistance := defaultStopDistance(sizing, p)
	if stopDistance.IsZero() {
		return decimal.Zero, "invalid_stop_distance"
	}

	amount := riskAmount.Div(stopDistance)

	if !sizing.MinPositionUSD.IsZero() && amount.Mul(p.SignalPrice).LessThan(sizing.MinPositionUSD) {
		return decimal.Zero, "below_exchange_minimum"
	}
	if !sizing.MaxPositionUSD.IsZero() {
		maxAmount := sizing.MaxPositionUSD.Div(p.SignalPrice)
		if amount.GreaterThan(maxAmount) {
			amount = maxAmount
		}
	}
	if !sizing.ExchangeStepSize.IsZero() {
		steps := amount.Div(sizing.ExchangeStepSize).Floor()
		amount = steps.Mul(sizing.ExchangeStepSize)
	}
	if amount.IsZero() || amount.IsNegative() {
		return decimal.Zero, "below_exchange_minimum"
	}
	return amount, ""
}

func defaultStopDistance(sizing domain.PositionSizing, p Proposal) decimal.Decimal {
	if p.StopLoss.Valid {
		return p.SignalPrice.Sub(p.StopLoss.Decimal).Abs()
	}
	pct := sizing.DefaultStopPct
	if pct.IsZero() {
		pct = decimal.NewFromFloat(0.02)
	}
	return p.SignalPrice.Mul(pct)
}
