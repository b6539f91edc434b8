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

// PositionRepository persists domain.Position, including the
// size-weighted average entry recomputed by Position.ApplyFill.
type PositionRepository struct {
	*BaseRepository
}

func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{BaseRepository: NewBase(db, log.With().Str("repo", "position").Logger())}
}

func (r *PositionRepository) Create(p domain.Position) error {
	_, err := r.DB().Exec(`
		INSERT INTO positions
		(id, strategy_id, symbol, side, entry_price, size, average_entry, stop_loss, take_profit,
		 unrealized_pnl, realized_pnl, total_fees, open, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StrategyID, p.Symbol, string(p.Side), p.EntryPrice.String(), p.Size.String(),
		p.AverageEntry.String(), nullDecimal(p.StopLoss), nullDecimal(p.TakeProfit),
		p.UnrealizedPnL.String(), p.RealizedPnL.String(), p.TotalFees.String(),
		boolToInt(p.Open), p.OpenedAt.Format(time.RFC3339), nullTime(p.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	return nil
}

// Save persists fields mutated by ApplyFill/Close: size, average entry,
// fees, pnl, open/closed state.
func (r *PositionRepository) Save(p domain.Position) error {
	res, err := r.DB().Exec(`
		UPDATE positions SET size = ?, average_entry = ?, unrealized_pnl = ?,
		 realized_pnl = ?, total_fees = ?, open = ?, closed_at = ? WHERE id = ?`,
		p.Size.String(), p.AverageEntry.String(), p.UnrealizedPnL.String(),
		p.RealizedPnL.String(), p.TotalFees.String(), boolToInt(p.Open), nullTime(p.ClosedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save position: %s not found", p.ID)
	}
	return nil
}

func (r *PositionRepository) GetOpenByStrategySymbol(strategyID, symbol string) (*domain.Position, error) {
	row := r.DB().QueryRow(positionSelect+` WHERE strategy_id = ? AND symbol = ? AND open = 1`, strategyID, symbol)
	return scanPosition(row)
}

const positionSelect = `SELECT id, strategy_id, symbol, side, entry_price, size, average_entry,
	stop_loss, take_profit, unrealized_pnl, realized_pnl, total_fees, open, opened_at, closed_at FROM positions`

func scanPosition(row *sql.Row) (*domain.Position, error) {
	var p domain.Position
	var side, entryPrice, size, averageEntry, unrealizedPnL, realizedPnL, totalFees string
	var stopLoss, takeProfit, closedAt sql.NullString
	var open int
	var openedAt string

	err := row.Scan(&p.ID, &p.StrategyID, &p.Symbol, &side, &entryPrice, &size, &averageEntry,
		&stopLoss, &takeProfit, &unrealizedPnL, &realizedPnL, &totalFees, &open, &openedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	p.Side = domain.PositionSide(side)
	p.Open = open != 0
	if p.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, fmt.Errorf("parse entry_price: %w", err)
	}
	if p.Size, err = decimal.NewFromString(size); err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}
	if p.AverageEntry, err = decimal.NewFromString(averageEntry); err != nil {
		return nil, fmt.Errorf("parse average_entry: %w", err)
	}
	if p.UnrealizedPnL, err = decimal.NewFromString(unrealizedPnL); err != nil {
		return nil, fmt.Errorf("parse unrealized_pnl: %w", err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(realizedPnL); err != nil {
		return nil, fmt.Errorf("parse realized_pnl: %w", err)
	}
	if p.TotalFees, err = decimal.NewFromString(totalFees); err != nil {
		return nil, fmt.Errorf("parse total_fees: %w", err)
	}
	if stopLoss.Valid {
		d, err := decimal.NewFromString(stopLoss.String)
		if err != nil {
			return nil, fmt.Errorf("parse stop_loss: %w", err)
		}
		p.StopLoss = decimal.NewNullDecimal(d)
	}
	if takeProfit.Valid {
		d, err := decimal.NewFromString(takeProfit.String)
		if err != nil {
			return nil, fmt.Errorf("parse take_profit: %w", err)
		}
		p.TakeProfit = decimal.NewNullDecimal(d)
	}
	if p.OpenedAt, err = time.Parse(time.RFC3339, openedAt); err != nil {
		return nil, fmt.Errorf("parse opened_at: %w", err)
	}
	if closedAt.Valid {
		t, err := time.Parse(time.RFC3339, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse closed_at: %w", err)
		}
		p.ClosedAt = &t
	}
	return &p, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
