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

// PortfolioRepository persists domain.Portfolio. Grounded on
// internal/modules/trading/trade_repository.go's raw-SQL,
// BaseRepository-embedding style, adapted to decimal.Decimal columns.
type PortfolioRepository struct {
	*BaseRepository
}

func NewPortfolioRepository(db *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{BaseRepository: NewBase(db, log.With().Str("repo", "portfolio").Logger())}
}

func (r *PortfolioRepository) Create(p domain.Portfolio) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.DB().Exec(
		`INSERT INTO portfolios (id, name, total, available, currency, active, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.TotalCapital.String(), p.AvailableCapital.String(), p.BaseCurrency, boolToInt(p.Active), now,
	)
	if err != nil {
		return fmt.Errorf("create portfolio: %w", err)
	}
	return nil
}

func (r *PortfolioRepository) GetByID(id string) (*domain.Portfolio, error) {
	row := r.DB().QueryRow(`SELECT id, name, total, available, currency, active FROM portfolios WHERE id = ?`, id)
	return scanPortfolio(row)
}

// Save persists updated total/available/active, used after Reserve/Release
// or an operator toggling a portfolio's active flag.
func (r *PortfolioRepository) Save(p domain.Portfolio) error {
	res, err := r.DB().Exec(
		`UPDATE portfolios SET total = ?, available = ?, active = ?, updated_at = ? WHERE id = ?`,
		p.TotalCapital.String(), p.AvailableCapital.String(), boolToInt(p.Active), time.Now().Format(time.RFC3339), p.ID,
	)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("save portfolio: %s not found", p.ID)
	}
	return nil
}

func scanPortfolio(row *sql.Row) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var total, available string
	var active int
	err := row.Scan(&p.ID, &p.Name, &total, &available, &p.BaseCurrency, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan portfolio: %w", err)
	}
	p.TotalCapital, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	p.AvailableCapital, err = decimal.NewFromString(available)
	if err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}
