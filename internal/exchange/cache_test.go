package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheGetSet(t *testing.T) {
	c := NewPriceCache(2, time.Minute)

	_, ok := c.Get("BTC/USDT")
	require.False(t, ok, "expected miss on empty cache")

	c.Set("BTC/USDT", decimal.NewFromInt(50000))
	price, ok := c.Get("BTC/USDT")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)), "Get() = %s, want 50000", price)
}

func TestPriceCacheExpires(t *testing.T) {
	c := NewPriceCache(2, 5*time.Millisecond)
	c.Set("BTC/USDT", decimal.NewFromInt(50000))

	time.Sleep(10 * time.Millisecond)
	_, ok := c.Get("BTC/USDT")
	assert.False(t, ok, "expected entry to expire past TTL")
}

func TestPriceCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPriceCache(2, time.Minute)
	c.Set("A", decimal.NewFromInt(1))
	c.Set("B", decimal.NewFromInt(2))

	// Touch A so B becomes the least-recently-used entry.
	c.Get("A")
	c.Set("C", decimal.NewFromInt(3))

	_, ok := c.Get("B")
	assert.False(t, ok, "expected B to be evicted as least-recently-used")
	_, ok = c.Get("A")
	assert.True(t, ok, "expected A to survive eviction (recently touched)")
	_, ok = c.Get("C")
	assert.True(t, ok, "expected C to be present (just inserted)")
}
