package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantspot/engine/internal/indicator"
)

// MemoryCandleCache is an in-process CandleCache, sufficient for a
// single-instance engine; candles are kept sorted ascending by time and
// deduplicated by timestamp on every save.
type MemoryCandleCache struct {
	mu      sync.RWMutex
	candles map[string][]indicator.Candle
}

// NewMemoryCandleCache creates an empty cache.
func NewMemoryCandleCache() *MemoryCandleCache {
	return &MemoryCandleCache{candles: map[string][]indicator.Candle{}}
}

func (c *MemoryCandleCache) SaveCandles(_ context.Context, symbol string, candles []indicator.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byTime := map[int64]indicator.Candle{}
	for _, existing := range c.candles[symbol] {
		byTime[existing.TimestampUnix] = existing
	}
	for _, fresh := range candles {
		byTime[fresh.TimestampUnix] = fresh
	}

	merged := make([]indicator.Candle, 0, len(byTime))
	for _, candle := range byTime {
		merged = append(merged, candle)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TimestampUnix < merged[j].TimestampUnix })
	c.candles[symbol] = merged
	return nil
}

func (c *MemoryCandleCache) GetCandles(_ context.Context, symbol string, from, to time.Time) ([]indicator.Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []indicator.Candle
	for _, candle := range c.candles[symbol] {
		t := time.Unix(candle.TimestampUnix, 0)
		if !t.Before(from) && !t.After(to) {
			out = append(out, candle)
		}
	}
	return out, nil
}

func (c *MemoryCandleCache) GetLatestCandleTime(_ context.Context, symbol string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candles := c.candles[symbol]
	if len(candles) == 0 {
		return time.Time{}, errNoCandles
	}
	return time.Unix(candles[len(candles)-1].TimestampUnix, 0), nil
}
