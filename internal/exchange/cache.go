package exchange

import (
	"container/list"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// priceCacheEntry is one LRU list element's payload.
type priceCacheEntry struct {
	symbol    string
	price     decimal.Decimal
	expiresAt time.Time
}

// PriceCache is a per-symbol, TTL + LRU-bounded cache of the latest
// price, used to hit the spec §4.D p95 <= 200ms budget on cache hits
// instead of a synchronous REST round trip.
type PriceCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewPriceCache builds a cache holding at most capacity symbols, each
// entry valid for ttl (spec §4.D default: 500ms TTL, LRU, per-symbol).
func NewPriceCache(capacity int, ttl time.Duration) *PriceCache {
	return &PriceCache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Set records symbol's latest price, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &priceCacheEntry{symbol: symbol, price: price, expiresAt: time.Now().Add(c.ttl)}
	if el, ok := c.index[symbol]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(entry)
	c.index[symbol] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*priceCacheEntry).symbol)
		}
	}
}

// Get returns symbol's cached price if present and not expired.
func (c *PriceCache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	entry := el.Value.(*priceCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.index, symbol)
		return decimal.Decimal{}, false
	}
	c.order.MoveToFront(el)
	return entry.price, true
}
