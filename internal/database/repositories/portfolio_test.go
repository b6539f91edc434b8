package repositories

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradecore/internal/domain"
)

func TestPortfolioCreateGetSaveRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPortfolioRepository(db, testLogger())

	p := domain.Portfolio{
		ID:               "port-1",
		Name:             "main",
		BaseCurrency:     "USDT",
		TotalCapital:     decimal.NewFromInt(1000),
		AvailableCapital: decimal.NewFromInt(1000),
		Active:           true,
	}
	require.NoError(t, repo.Create(p))

	got, err := repo.GetByID("port-1")
	require.NoError(t, err)
	require.NotNil(t, got, "GetByID() returned nil for an existing portfolio")
	assert.True(t, got.Active, "expected Active = true round-tripping through the active column")
	assert.True(t, got.TotalCapital.Equal(decimal.NewFromInt(1000)), "TotalCapital = %s, want 1000", got.TotalCapital)

	got.AvailableCapital = decimal.NewFromInt(600)
	got.Active = false
	require.NoError(t, repo.Save(*got))

	reloaded, err := repo.GetByID("port-1")
	require.NoError(t, err)
	assert.False(t, reloaded.Active, "expected Active = false to persist through Save()")
	assert.True(t, reloaded.AvailableCapital.Equal(decimal.NewFromInt(600)), "AvailableCapital after save = %s, want 600", reloaded.AvailableCapital)
}

func TestPortfolioGetByIDMissingReturnsNilNotError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPortfolioRepository(db, testLogger())

	got, err := repo.GetByID("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got, "expected nil for a missing portfolio")
}
