package reconciler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/tradecore/internal/capital"
	"github.com/aristath/tradecore/internal/database"
	"github.com/aristath/tradecore/internal/database/repositories"
	"github.com/aristath/tradecore/internal/domain"
	"github.com/aristath/tradecore/internal/exchange"
)

type fakeAdapter struct {
	openOrders []exchange.OpenOrder
	positions  []exchange.ExchangePosition
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, id string) error { return nil }
func (f *fakeAdapter) GetBalance(ctx context.Context) ([]exchange.Balance, error) {
	return nil, nil
}
func (f *fakeAdapter) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	return f.openOrders, nil
}
func (f *fakeAdapter) GetPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	return f.positions, nil
}
func (f *fakeAdapter) SubscribeMarketData(ctx context.Context, symbols []string, h exchange.TickHandler) error {
	return nil
}

type testEnv struct {
	db         *sql.DB
	portfolios *repositories.PortfolioRepository
	strategies *repositories.StrategyRepository
	trades     *repositories.TradeRepository
	positions  *repositories.PositionRepository
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(database.Schema)
	require.NoError(t, err)

	log := zerolog.Nop()
	return testEnv{
		db:         conn,
		portfolios: repositories.NewPortfolioRepository(conn, log),
		strategies: repositories.NewStrategyRepository(conn, log),
		trades:     repositories.NewTradeRepository(conn, log),
		positions:  repositories.NewPositionRepository(conn, log),
	}
}

func newTestReconciler(t *testing.T, adapter exchange.Adapter) (*Reconciler, testEnv) {
	t.Helper()
	env := setupEnv(t)
	log := zerolog.Nop()

	connector := exchange.NewConnector(adapter, env.trades, env.positions, env.strategies, nil, nil, nil, 1000, 1000, 5, time.Minute, log)
	capitalMgr := capital.New(env.portfolios, env.trades, env.positions, nil, env.strategies, nil, nil, decimal.Zero, decimal.Zero, log)

	r := New(env.portfolios, env.strategies, env.trades, env.positions, connector, capitalMgr, nil, false, PositionEpsilon, log)
	return r, env
}

func TestResolveOrphanDBOrderMarksPendingFailedAndReleasesCapital(t *testing.T) {
	r, env := newTestReconciler(t, &fakeAdapter{})

	require.NoError(t, env.portfolios.Create(domain.Portfolio{
		ID: "port-1", Name: "main", BaseCurrency: "USDT",
		TotalCapital: decimal.NewFromInt(1000), AvailableCapital: decimal.NewFromInt(400), Active: true,
	}))

	trade := domain.Trade{
		ID: "trade-1", StrategyID: "strat-1", Symbol: "BTC/USDT", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Amount: decimal.NewFromInt(1), Cost: decimal.NewFromInt(100),
		Status: domain.TradeStatusPending, ExchangeOrderID: "ex-1", CorrelationID: "corr-1",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, env.trades.Create(trade))

	strategy := domain.Strategy{ID: "strat-1", PortfolioID: "port-1", Symbol: "BTC/USDT"}
	r.resolveOrphanDBOrder(context.Background(), strategy, trade)

	got, err := env.trades.GetByID("trade-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, got.Status)
	assert.True(t, got.Reconciled)

	// Both the trade save and ReleaseReservation run through
	// capitalMgr.Submit, which blocks until its closure returns, so the
	// portfolio save is already landed by the time resolveOrphanDBOrder
	// returns above.
	portfolio, err := env.portfolios.GetByID("port-1")
	require.NoError(t, err)
	assert.True(t, portfolio.AvailableCapital.Equal(decimal.NewFromInt(500)), "AvailableCapital = %s, want 500 after releasing the 100 reservation", portfolio.AvailableCapital)
}

func TestResolveOrphanExchangeOrderCreatesReconciledTrade(t *testing.T) {
	r, env := newTestReconciler(t, &fakeAdapter{})

	strategy := domain.Strategy{ID: "strat-1", ExchangeID: "tradernet", Symbol: "BTC/USDT"}
	order := exchange.OpenOrder{ExchangeOrderID: "ex-orphan", ClientOrderID: "corr-orphan", Symbol: "BTC/USDT", Amount: decimal.NewFromInt(2)}

	r.resolveOrphanExchangeOrder(context.Background(), strategy, order)

	got, err := env.trades.GetByExchangeOrderID("ex-orphan")
	require.NoError(t, err)
	require.NotNil(t, got, "expected a reconciled trade to be created for the orphan exchange order")
	assert.True(t, got.Reconciled, "expected Reconciled = true on the synthesized trade")
}

func TestReconcilePositionClosesDriftedPosition(t *testing.T) {
	r, env := newTestReconciler(t, &fakeAdapter{positions: nil}) // exchange reports flat

	require.NoError(t, env.positions.Create(domain.Position{
		ID: "pos-1", StrategyID: "strat-1", Symbol: "BTC/USDT", Side: domain.PositionLong,
		EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(5), AverageEntry: decimal.NewFromInt(100),
		Open: true, OpenedAt: time.Now(),
	}))

	strategy := domain.Strategy{ID: "strat-1", Symbol: "BTC/USDT"}
	r.reconcilePosition(context.Background(), strategy)

	got, err := env.positions.GetOpenByStrategySymbol("strat-1", "BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, got, "expected position to be closed once the exchange reports flat")
}

func TestReconcilePositionAdjustsSizeOnDrift(t *testing.T) {
	r, env := newTestReconciler(t, &fakeAdapter{
		positions: []exchange.ExchangePosition{{Symbol: "BTC/USDT", Side: "long", Size: decimal.NewFromInt(3), Entry: decimal.NewFromInt(100)}},
	})

	require.NoError(t, env.positions.Create(domain.Position{
		ID: "pos-2", StrategyID: "strat-1", Symbol: "BTC/USDT", Side: domain.PositionLong,
		EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(5), AverageEntry: decimal.NewFromInt(100),
		Open: true, OpenedAt: time.Now(),
	}))

	strategy := domain.Strategy{ID: "strat-1", Symbol: "BTC/USDT"}
	r.reconcilePosition(context.Background(), strategy)

	got, err := env.positions.GetOpenByStrategySymbol("strat-1", "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, got, "expected position to remain open")
	assert.True(t, got.Size.Equal(decimal.NewFromInt(3)), "Size = %s, want 3 (adjusted to match the exchange)", got.Size)
}
