package repositories

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

func TestPositionCreateAndGetOpenByStrategySymbol(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db, testLogger())

	p := domain.Position{
		ID:           "pos-1",
		StrategyID:   "strat-1",
		Symbol:       "BTC/USDT",
		Side:         domain.PositionLong,
		EntryPrice:   decimal.NewFromInt(100),
		Size:         decimal.NewFromInt(10),
		AverageEntry: decimal.NewFromInt(100),
		Open:         true,
		OpenedAt:     time.Now(),
	}
	require.NoError(t, repo.Create(p))

	got, err := repo.GetOpenByStrategySymbol("strat-1", "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, got, "expected an open position")
	assert.True(t, got.Size.Equal(decimal.NewFromInt(10)), "Size = %s, want 10", got.Size)
}

func TestPositionSaveClosesAndHidesFromOpenLookup(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db, testLogger())

	p := domain.Position{
		ID:           "pos-2",
		StrategyID:   "strat-1",
		Symbol:       "ETH/USDT",
		Side:         domain.PositionLong,
		EntryPrice:   decimal.NewFromInt(50),
		Size:         decimal.NewFromInt(5),
		AverageEntry: decimal.NewFromInt(50),
		Open:         true,
		OpenedAt:     time.Now(),
	}
	require.NoError(t, repo.Create(p))

	now := time.Now()
	p.Close(decimal.NewFromInt(20), now)
	require.NoError(t, repo.Save(p))

	got, err := repo.GetOpenByStrategySymbol("strat-1", "ETH/USDT")
	require.NoError(t, err)
	assert.Nil(t, got, "expected no open position after Close()+Save()")
}

func TestPositionGetOpenByStrategySymbolMissingReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db, testLogger())

	got, err := repo.GetOpenByStrategySymbol("strat-none", "BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, got, "expected nil for a strategy/symbol with no open position")
}
