// Package marketdata handles market data ingestion and caching.
//
// Design rules:
//   - Market data is not the execution venue. Strategies never read
//     straight off an exchange connection; they read a cached, local
//     view that the Manager keeps warm.
//   - Candle history is fetched over REST and cached locally; book
//     snapshots are streamed over a websocket and kept as the latest
//     value per symbol.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantspot/engine/internal/indicator"
	"github.com/quantspot/engine/internal/strategy"
)

// errNoCandles is returned by a CandleCache's GetLatestCandleTime when no
// candle has ever been cached for the symbol.
var errNoCandles = errors.New("marketdata: no cached candles for symbol")

// CandleProvider fetches historical OHLCV data for a symbol.
// Implementations may hit an exchange REST API or a file-based fixture.
type CandleProvider interface {
	FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]indicator.Candle, error)
}

// CandleCache persists and retrieves cached candle data.
type CandleCache interface {
	SaveCandles(ctx context.Context, symbol string, candles []indicator.Candle) error
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]indicator.Candle, error)
	GetLatestCandleTime(ctx context.Context, symbol string) (time.Time, error)
}

// BookStreamer produces order book updates for the symbols it is told to
// watch. Implementations own their own reconnect logic; Run blocks until
// ctx is cancelled.
type BookStreamer interface {
	Run(ctx context.Context, symbols []string, onUpdate func(strategy.OrderBookSnapshot)) error
}

// Manager coordinates candle fetch/cache and live book streaming. It is
// the only thing strategies or the trading loop should read market data
// through; it satisfies tradingloop.CandleSource and tradingloop.BookSource.
type Manager struct {
	provider CandleProvider
	cache    CandleCache
	logger   func(format string, args ...any)

	mu    sync.RWMutex
	books map[string]strategy.OrderBookSnapshot
}

// NewManager creates a data manager backed by provider for fresh candles
// and cache for the local store.
func NewManager(provider CandleProvider, cache CandleCache) *Manager {
	return &Manager{
		provider: provider,
		cache:    cache,
		logger:   func(string, ...any) {},
		books:    map[string]strategy.OrderBookSnapshot{},
	}
}

// SetLogger installs a logging function; pass nil to silence logging.
func (m *Manager) SetLogger(logf func(format string, args ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	m.logger = logf
}

// SyncCandles brings the local cache up to date for each symbol, fetching
// only the gap between the latest cached candle and upToDate.
func (m *Manager) SyncCandles(ctx context.Context, symbols []string, upToDate time.Time, lookback time.Duration) error {
	for _, symbol := range symbols {
		latest, err := m.cache.GetLatestCandleTime(ctx, symbol)
		if err != nil {
			latest = upToDate.Add(-lookback)
		}
		if !latest.Before(upToDate) {
			continue
		}

		fetchFrom := latest.Add(time.Second)
		candles, err := m.provider.FetchCandles(ctx, symbol, fetchFrom, upToDate)
		if err != nil {
			return fmt.Errorf("marketdata: fetch %s: %w", symbol, err)
		}
		if len(candles) == 0 {
			continue
		}
		if err := m.cache.SaveCandles(ctx, symbol, candles); err != nil {
			return fmt.Errorf("marketdata: save %s: %w", symbol, err)
		}
		m.logger("marketdata: synced %d candles for %s", len(candles), symbol)
	}
	return nil
}

// Candles implements tradingloop.CandleSource by reading the local cache.
func (m *Manager) Candles(ctx context.Context, symbol string) ([]indicator.Candle, error) {
	return m.cache.GetCandles(ctx, symbol, time.Time{}, time.Now())
}

// OrderBook implements tradingloop.BookSource, returning the latest
// streamed snapshot for symbol.
func (m *Manager) OrderBook(ctx context.Context, symbol string) (strategy.OrderBookSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[symbol]
	if !ok {
		return strategy.OrderBookSnapshot{}, fmt.Errorf("marketdata: no book snapshot for %s yet", symbol)
	}
	return book, nil
}

// UpdateBook records a fresh book snapshot. Intended to be passed as the
// onUpdate callback to a BookStreamer.
func (m *Manager) UpdateBook(book strategy.OrderBookSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.Symbol] = book
}

// StreamBooks runs streamer against symbols until ctx is cancelled,
// routing every update into the manager's book cache.
func (m *Manager) StreamBooks(ctx context.Context, streamer BookStreamer, symbols []string) error {
	return streamer.Run(ctx, symbols, m.UpdateBook)
}
