package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/tradecore/internal/domain"
)

// TradeRepository persists domain.Trade. Grounded on
// internal/modules/trading/trade_repository.go's query shapes, adapted
// for the state-machine-driven Trade of spec §4.C.
type TradeRepository struct {
	*BaseRepository
}

func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{BaseRepository: NewBase(db, log.With().Str("repo", "trade").Logger())}
}

func (r *TradeRepository) Create(t domain.Trade) error {
	_, err := r.DB().Exec(`
		INSERT INTO trades
		(id, strategy_id, exchange_id, symbol, side, type, amount, price, cost, fee,
		 status, exchange_order_id, correlation_id, reconciled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StrategyID, t.ExchangeID, t.Symbol, string(t.Side), string(t.Type),
		t.Amount.String(), nullDecimal(t.Price), t.Cost.String(), t.Fee.String(),
		string(t.Status), nullString(t.ExchangeOrderID), t.CorrelationID, boolToInt(t.Reconciled),
		t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create trade: %w", err)
	}
	return nil
}

// Save persists Status/ExchangeOrderID/Cost/Fee/UpdatedAt changes driven
// by Trade.Transition. Callers hold the owning symbol's serialization
// domain (internal/capital, internal/exchange).
func (r *TradeRepository) Save(t domain.Trade) error {
	res, err := r.DB().Exec(`
		UPDATE trades SET status = ?, exchange_order_id = ?, cost = ?, fee = ?,
		 reconciled = ?, updated_at = ? WHERE id = ?`,
		string(t.Status), nullString(t.ExchangeOrderID), t.Cost.String(), t.Fee.String(),
		boolToInt(t.Reconciled), t.UpdatedAt.Format(time.RFC3339), t.ID,
	)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save trade: %s not found", t.ID)
	}
	return nil
}

func (r *TradeRepository) GetByID(id string) (*domain.Trade, error) {
	row := r.DB().QueryRow(tradeSelect+` WHERE id = ?`, id)
	return scanTrade(row)
}

func (r *TradeRepository) GetByExchangeOrderID(exchangeOrderID string) (*domain.Trade, error) {
	row := r.DB().QueryRow(tradeSelect+` WHERE exchange_order_id = ?`, exchangeOrderID)
	return scanTrade(row)
}

// ListOpenByStrategy returns trades not yet in a terminal status, used by
// the in-flight-per-fingerprint guard and the Reconciler.
func (r *TradeRepository) ListOpenByStrategy(strategyID string) ([]domain.Trade, error) {
	rows, err := r.DB().Query(tradeSelect+` WHERE strategy_id = ? AND status IN ('pending', 'open')`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTradeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const tradeSelect = `SELECT id, strategy_id, exchange_id, symbol, side, type, amount, price, cost, fee,
	status, exchange_order_id, correlation_id, reconciled, created_at, updated_at FROM trades`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row *sql.Row) (*domain.Trade, error) {
	t, err := scanTradeRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func scanTradeRows(s scanner) (*domain.Trade, error) {
	var t domain.Trade
	var side, typ, status, correlationID string
	var amount, cost, fee string
	var price, exchangeOrderID sql.NullString
	var reconciled int
	var createdAt, updatedAt string

	err := s.Scan(&t.ID, &t.StrategyID, &t.ExchangeID, &t.Symbol, &side, &typ, &amount,
		&price, &cost, &fee, &status, &exchangeOrderID, &correlationID, &reconciled, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	t.Side = domain.Side(side)
	t.Type = domain.OrderType(typ)
	t.Status = domain.TradeStatus(status)
	t.CorrelationID = correlationID
	t.ExchangeOrderID = exchangeOrderID.String
	t.Reconciled = reconciled != 0

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if t.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("parse cost: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		t.Price = decimal.NewNullDecimal(d)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
