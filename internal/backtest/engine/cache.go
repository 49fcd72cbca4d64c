// Package engine implements the backtest driver loop (C3): a unified
// timeline merge of quote and whale-event series, a pending-order queue
// for delayed entry, and fixed exit-order precedence. Grounded on
// backtesting/core/engine.py.
package engine

import (
	"sync"
	"time"

	"github.com/whalewatch/whalewatch/internal/model"
)

// cacheKey is (symbol, start, end). min_whale_usd is intentionally absent:
// filtering by it happens after a cache hit, so parameter sweeps over a
// fixed window reuse one fetch for every run.
type cacheKey struct {
	symbol string
	start  time.Time
	end    time.Time
}

type cacheEntry struct {
	quotes []model.Quote
	whales []model.WhaleEvent
}

// Cache holds one (symbol, start, end) data fetch across repeated runs.
// Invalidation is time-based only: callers needing fresher data construct
// a new Cache.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	loader  DataLoader
}

// DataLoader loads the unfiltered quote and whale-event series for a
// (symbol, start, end) window from the time-series sink.
type DataLoader interface {
	LoadQuotes(symbol string, start, end time.Time) ([]model.Quote, error)
	LoadWhaleEvents(symbol string, start, end time.Time) ([]model.WhaleEvent, error)
}

// NewCache constructs a Cache backed by loader.
func NewCache(loader DataLoader) *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry), loader: loader}
}

// Get returns the cached (or freshly loaded and cached) quote and whale
// series for the window, with ALL whales unfiltered — min_whale_usd
// filtering is the caller's responsibility, applied after this returns.
func (c *Cache) Get(symbol string, start, end time.Time) ([]model.Quote, []model.WhaleEvent, error) {
	key := cacheKey{symbol: symbol, start: start, end: end}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return e.quotes, e.whales, nil
	}
	c.mu.Unlock()

	quotes, err := c.loader.LoadQuotes(symbol, start, end)
	if err != nil {
		return nil, nil, err
	}
	whales, err := c.loader.LoadWhaleEvents(symbol, start, end)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{quotes: quotes, whales: whales}
	c.mu.Unlock()

	return quotes, whales, nil
}

// filterByMinUSD applies min_whale_usd strictly after a cache hit, never
// baked into the cache key.
func filterByMinUSD(whales []model.WhaleEvent, minUSD float64) []model.WhaleEvent {
	if minUSD <= 0 {
		return whales
	}
	out := make([]model.WhaleEvent, 0, len(whales))
	for _, w := range whales {
		usd, _ := w.UsdValue.Float64()
		if usd >= minUSD {
			out = append(out, w)
		}
	}
	return out
}
