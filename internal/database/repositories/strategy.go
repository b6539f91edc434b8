package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/domain"
)

// StrategyRepository persists domain.Strategy (spec §4.B configuration).
type StrategyRepository struct {
	*BaseRepository
}

func NewStrategyRepository(db *sql.DB, log zerolog.Logger) *StrategyRepository {
	return &StrategyRepository{BaseRepository: NewBase(db, log.With().Str("repo", "strategy").Logger())}
}

func (r *StrategyRepository) Create(s domain.Strategy) error {
	sizingJSON, err := json.Marshal(s.Sizing)
	if err != nil {
		return fmt.Errorf("marshal sizing: %w", err)
	}
	paramsJSON, err := json.Marshal(s.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = r.DB().Exec(`
		INSERT INTO strategies
		(id, kind, exchange_id, symbol, portfolio_id, sizing_model, sizing_json, params_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Kind), s.ExchangeID, s.Symbol, s.PortfolioID, string(s.Sizing.Model),
		string(sizingJSON), string(paramsJSON), boolToInt(s.Active),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}
	return nil
}

func (r *StrategyRepository) GetByID(id string) (*domain.Strategy, error) {
	row := r.DB().QueryRow(strategySelect+` WHERE id = ?`, id)
	return scanStrategy(row)
}

// ListActive returns enabled strategies, consulted on supervisor startup
// to spawn one Strategy Worker per row (spec §4.B).
func (r *StrategyRepository) ListActive() ([]domain.Strategy, error) {
	rows, err := r.DB().Query(strategySelect + ` WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list active strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		s, err := scanStrategyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const strategySelect = `SELECT id, kind, exchange_id, symbol, portfolio_id, sizing_json, params_json,
	active, created_at, updated_at FROM strategies`

func scanStrategy(row *sql.Row) (*domain.Strategy, error) {
	s, err := scanStrategyRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanStrategyRows(s scanner) (*domain.Strategy, error) {
	var st domain.Strategy
	var kind, sizingJSON, paramsJSON string
	var active int
	var createdAt, updatedAt string

	err := s.Scan(&st.ID, &kind, &st.ExchangeID, &st.Symbol, &st.PortfolioID,
		&sizingJSON, &paramsJSON, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan strategy: %w", err)
	}
	st.Kind = domain.StrategyKind(kind)
	st.Active = active != 0

	if err := json.Unmarshal([]byte(sizingJSON), &st.Sizing); err != nil {
		return nil, fmt.Errorf("unmarshal sizing: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &st.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &st, nil
}

// StrategyStateRepository persists domain.StrategyState, the record a
// Worker reloads on restart to resume without reprocessing a bar
// (spec §4.B "State persistence").
type StrategyStateRepository struct {
	*BaseRepository
}

func NewStrategyStateRepository(db *sql.DB, log zerolog.Logger) *StrategyStateRepository {
	return &StrategyStateRepository{BaseRepository: NewBase(db, log.With().Str("repo", "strategy_state").Logger())}
}

func (r *StrategyStateRepository) Upsert(s domain.StrategyState) error {
	_, err := r.DB().Exec(`
		INSERT INTO strategy_state (strategy_id, last_processed_bar_ts, last_fingerprint, open_position_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			last_processed_bar_ts = excluded.last_processed_bar_ts,
			last_fingerprint = excluded.last_fingerprint,
			open_position_id = excluded.open_position_id,
			updated_at = excluded.updated_at`,
		s.StrategyID, s.LastProcessedBarTS.Format(time.RFC3339), s.LastFingerprint,
		nullString(s.OpenPositionID), time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert strategy_state: %w", err)
	}
	return nil
}

func (r *StrategyStateRepository) GetByStrategyID(strategyID string) (*domain.StrategyState, error) {
	row := r.DB().QueryRow(`SELECT strategy_id, last_processed_bar_ts, last_fingerprint, open_position_id
		FROM strategy_state WHERE strategy_id = ?`, strategyID)

	var s domain.StrategyState
	var lastBarTS sql.NullString
	var lastFingerprint, openPositionID sql.NullString
	err := row.Scan(&s.StrategyID, &lastBarTS, &lastFingerprint, &openPositionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan strategy_state: %w", err)
	}
	if lastBarTS.Valid {
		t, err := time.Parse(time.RFC3339, lastBarTS.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_processed_bar_ts: %w", err)
		}
		s.LastProcessedBarTS = t
	}
	s.LastFingerprint = lastFingerprint.String
	s.OpenPositionID = openPositionID.String
	return &s, nil
}

// PortfolioRuleRepository persists domain.PortfolioRule, the typed gates
// the Capital Manager's validation pipeline consults (spec §4.C).
type PortfolioRuleRepository struct {
	*BaseRepository
}

func NewPortfolioRuleRepository(db *sql.DB, log zerolog.Logger) *PortfolioRuleRepository {
	return &PortfolioRuleRepository{BaseRepository: NewBase(db, log.With().Str("repo", "portfolio_rule").Logger())}
}

func (r *PortfolioRuleRepository) ListByPortfolio(portfolioID string) ([]domain.PortfolioRule, error) {
	rows, err := r.DB().Query(`SELECT portfolio_id, kind, value FROM portfolio_rules WHERE portfolio_id = ?`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list portfolio rules: %w", err)
	}
	defer rows.Close()

	var out []domain.PortfolioRule
	for rows.Next() {
		var rule domain.PortfolioRule
		var kind string
		if err := rows.Scan(&rule.PortfolioID, &kind, &rule.Value); err != nil {
			return nil, fmt.Errorf("scan portfolio rule: %w", err)
		}
		rule.Kind = domain.RuleKind(kind)
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PortfolioRuleRepository) Create(rule domain.PortfolioRule) error {
	_, err := r.DB().Exec(`INSERT INTO portfolio_rules (portfolio_id, kind, value) VALUES (?, ?, ?)`,
		rule.PortfolioID, string(rule.Kind), rule.Value)
	if err != nil {
		return fmt.Errorf("create portfolio rule: %w", err)
	}
	return nil
}
