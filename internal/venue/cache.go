package venue

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// cacheEntry is a whole-value replacement; there are no partial updates, so
// readers either see the previous complete value or the new one.
type cacheEntry struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// priceCache caches decimal values by key with a TTL. Expired entries stay
// around so callers can fall back to a stale value when a refresh fails.
type priceCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newPriceCache(ttl time.Duration) *priceCache {
	return &priceCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// get returns the value if present and fresh
func (c *priceCache) get(key string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) > c.ttl {
		return decimal.Zero, false
	}
	return e.value, true
}

// getStale returns the value regardless of age
func (c *priceCache) getStale(key string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return decimal.Zero, false
	}
	return e.value, true
}

func (c *priceCache) put(key string, v decimal.Decimal) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: v, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// valueCache is the portfolio-value cache; same semantics, separate TTL.
type valueCache struct {
	*priceCache
}

func newValueCache(ttl time.Duration) *valueCache {
	return &valueCache{priceCache: newPriceCache(ttl)}
}
