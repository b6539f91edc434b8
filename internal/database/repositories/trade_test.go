package repositories

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

func newTestTrade(id, strategyID string, status domain.TradeStatus) domain.Trade {
	now := time.Now()
	return domain.Trade{
		ID:            id,
		StrategyID:    strategyID,
		ExchangeID:    "tradernet",
		Symbol:        "BTC/USDT",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeMarket,
		Amount:        decimal.NewFromInt(1),
		Cost:          decimal.Zero,
		Fee:           decimal.Zero,
		Status:        status,
		CorrelationID: "corr-" + id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestTradeCreateGetByIDRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTradeRepository(db, testLogger())

	tr := newTestTrade("trade-1", "strat-1", domain.TradeStatusPending)
	require.NoError(t, repo.Create(tr))

	got, err := repo.GetByID("trade-1")
	require.NoError(t, err)
	require.NotNil(t, got, "expected trade to exist")
	assert.Equal(t, domain.TradeStatusPending, got.Status)
	assert.Equal(t, domain.SideBuy, got.Side)
}

func TestTradeSavePersistsTransition(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTradeRepository(db, testLogger())

	tr := newTestTrade("trade-2", "strat-1", domain.TradeStatusPending)
	require.NoError(t, repo.Create(tr))

	require.NoError(t, tr.Transition(domain.TradeStatusOpen, time.Now()))
	tr.ExchangeOrderID = "ex-order-1"
	require.NoError(t, repo.Save(tr))

	got, err := repo.GetByID("trade-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, got.Status)
	assert.Equal(t, "ex-order-1", got.ExchangeOrderID)
}

func TestTradeListOpenByStrategyExcludesTerminalStatuses(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTradeRepository(db, testLogger())

	open := newTestTrade("trade-3", "strat-2", domain.TradeStatusOpen)
	closed := newTestTrade("trade-4", "strat-2", domain.TradeStatusClosed)
	require.NoError(t, repo.Create(open))
	require.NoError(t, repo.Create(closed))

	got, err := repo.ListOpenByStrategy("strat-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trade-3", got[0].ID)
}
