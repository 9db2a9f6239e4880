// Package backtestrunner replays historical candles through the same
// strategy/ensemble/gate/executor stack the live engine uses, so a
// backtest result is never a second implementation to keep in sync with
// the live path.
//
// It is shared by cmd/engine's "backtest" subcommand and the standalone
// cmd/backtest harness.
package backtestrunner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/analytics"
	"github.com/quantspot/engine/internal/breaker"
	"github.com/quantspot/engine/internal/config"
	"github.com/quantspot/engine/internal/cost"
	"github.com/quantspot/engine/internal/dailylock"
	"github.com/quantspot/engine/internal/ensemble"
	"github.com/quantspot/engine/internal/executor"
	"github.com/quantspot/engine/internal/indicator"
	"github.com/quantspot/engine/internal/storage"
	"github.com/quantspot/engine/internal/strategy"
	"github.com/quantspot/engine/internal/tradingloop"
)

// HistoricalSource fetches the candle history for a symbol over
// [from, to]. Satisfied by *marketdata.BinanceCandleProvider, which
// returns at most 1000 candles per call.
type HistoricalSource interface {
	FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]indicator.Candle, error)
}

// Options configures one backtest run.
type Options struct {
	ConfigPath     string
	From           time.Time
	To             time.Time
	SpreadBpsOverride float64 // synthetic book spread used to fabricate an order book from OHLC; 0 uses config.SpreadBps
	Logger         *log.Logger
}

// Result is the outcome of one backtest run.
type Result struct {
	Report       *analytics.PerformanceReport
	Curve        []analytics.EquityCurvePoint
	ClosedTrades []executor.Trade
	Ticks        int
}

// Run replays [opts.From, opts.To] against every symbol in the loaded
// config and returns the resulting performance report.
func Run(ctx context.Context, source HistoricalSource, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[backtest] ", log.LstdFlags)
	}

	snap, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("backtestrunner: load config: %w", err)
	}
	cfg := snap.Config

	history := make(map[string][]indicator.Candle, len(cfg.Symbols))
	maxLen := 0
	for _, sym := range cfg.Symbols {
		candles, err := source.FetchCandles(ctx, sym, opts.From, opts.To)
		if err != nil {
			return nil, fmt.Errorf("backtestrunner: fetch history for %s: %w", sym, err)
		}
		history[sym] = candles
		if len(candles) > maxLen {
			maxLen = len(candles)
		}
		logger.Printf("loaded %d candles for %s", len(candles), sym)
	}

	spreadBps := opts.SpreadBpsOverride
	if spreadBps == 0 {
		spreadBps = cfg.SpreadBps
	}
	replay := newReplaySource(history, spreadBps)

	store := storage.NewMemoryStore()
	dry := executor.NewDry(store, executor.FeeModel{
		TakerBps: decimal.NewFromFloat(cfg.Fees.TakerBps),
	})
	breakers := breaker.NewManager(breaker.Config{
		VolatilityATRMultiple:   cfg.Breaker.VolatilityATRMultiple,
		VolatilityPauseMinutes:  cfg.Breaker.VolatilityPauseMinutes,
		SpreadCapBps:            cfg.Breaker.SpreadCapBps,
		SpreadPauseMinutes:      cfg.Breaker.SpreadPauseMinutes,
		ConsecutiveLossesWindow: cfg.Breaker.ConsecutiveLossesWindow,
		ConsecutiveLossesPause:  cfg.Breaker.ConsecutiveLossesPause,
		InstabilityRatePerMin:   cfg.Breaker.InstabilityRatePerMin,
		InstabilityPauseMinutes: cfg.Breaker.InstabilityPauseMinutes,
		NewsPauseMinutes:        cfg.Breaker.NewsPauseMinutes,
	}, logger)
	lock := dailylock.NewManager(dailylock.Config{
		Mode:           dailylock.Mode(cfg.DailyLock.Mode),
		DailyTargetUSD: cfg.DailyLock.DailyTargetUSD,
		TrailingBuffer: cfg.DailyLock.TrailingBuffer,
		Location:       snap.Location,
	}, logger)

	strategies := []strategy.Strategy{strategy.NewTrend(), strategy.NewMeanReversion(), strategy.NewBreakout()}

	symbols := make([]*tradingloop.Symbol, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		symbols = append(symbols, tradingloop.NewSymbol(sym, strategies, replay, replay, dry, dry, breakers, lock, store, nil, logger))
	}
	runner := tradingloop.NewRunner(symbols, logger)

	params := tradingloop.Params{
		Ensemble: ensemble.Params{
			MinAgreement:        cfg.Ensemble.MinAgreement,
			ConfidenceThreshold: cfg.Ensemble.ConfidenceThreshold,
		},
		Fees: cost.Fees{
			TakerBps: decimal.NewFromFloat(cfg.Fees.TakerBps),
			MakerBps: decimal.NewFromFloat(cfg.Fees.MakerBps),
		},
		SpreadBps:    decimal.NewFromFloat(spreadBps),
		MinProfitUSD: decimal.NewFromFloat(cfg.Risk.MinProfitUSD),
		MaxConcurrent: cfg.Risk.MaxConcurrentPositions,
		Sizing: tradingloop.Sizing{
			RiskPerTradePct:      cfg.Sizing.RiskPerTradePct,
			MaxPositionPctEquity: cfg.Sizing.MaxPositionPctEquity,
			MinNotional:          cfg.Sizing.MinNotional,
		},
		Equity: decimal.NewFromFloat(cfg.Equity),
	}

	ticks := 0
	for i := 0; i < maxLen; i++ {
		now, ok := replay.advance(i)
		if !ok {
			continue
		}
		if err := runner.TickAll(ctx, params, now); err != nil {
			return nil, fmt.Errorf("backtestrunner: tick %d failed: %w", i, err)
		}
		ticks++
	}

	closed, err := store.AllClosedTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("backtestrunner: read closed trades: %w", err)
	}

	return &Result{
		Report:       analytics.Analyze(closed, cfg.Equity),
		Curve:        analytics.EquityCurve(closed, cfg.Equity),
		ClosedTrades: closed,
		Ticks:        ticks,
	}, nil
}

// replaySource serves candle/order-book data cursor-by-cursor, advancing
// in lockstep across symbols so every symbol sees the same simulated
// "now" on a given tick.
type replaySource struct {
	history   map[string][]indicator.Candle
	spreadBps float64
	cursor    map[string]int
}

func newReplaySource(history map[string][]indicator.Candle, spreadBps float64) *replaySource {
	return &replaySource{
		history:   history,
		spreadBps: spreadBps,
		cursor:    make(map[string]int, len(history)),
	}
}

// advance moves the cursor for every symbol to the candle whose index
// matches i (or its last candle, when its history is shorter), and
// returns the latest timestamp among the symbols that have a candle at
// index i. Returns ok=false when no symbol has a candle at index i.
func (r *replaySource) advance(i int) (time.Time, bool) {
	var latest time.Time
	found := false
	for sym, candles := range r.history {
		if i >= len(candles) {
			r.cursor[sym] = len(candles) - 1
			continue
		}
		r.cursor[sym] = i
		ts := time.Unix(candles[i].TimestampUnix, 0).UTC()
		if ts.After(latest) {
			latest = ts
		}
		found = true
	}
	return latest, found
}

// Candles implements tradingloop.CandleSource, returning every candle up
// to (and including) the current cursor position for symbol.
func (r *replaySource) Candles(_ context.Context, symbol string) ([]indicator.Candle, error) {
	all := r.history[symbol]
	idx := r.cursor[symbol]
	if idx < 0 {
		return nil, fmt.Errorf("replay: no candles loaded for %s", symbol)
	}
	end := idx + 1
	if end > len(all) {
		end = len(all)
	}
	return all[:end], nil
}

// OrderBook implements tradingloop.BookSource. Historical order-book
// depth isn't available from kline data, so a synthetic two-level book
// is fabricated around the current close using the configured spread —
// sufficient to exercise the cost/gate/liquidity path deterministically.
func (r *replaySource) OrderBook(_ context.Context, symbol string) (strategy.OrderBookSnapshot, error) {
	all := r.history[symbol]
	idx := r.cursor[symbol]
	if idx < 0 || idx >= len(all) {
		return strategy.OrderBookSnapshot{}, fmt.Errorf("replay: no candle for %s at cursor", symbol)
	}
	candle := all[idx]
	halfSpread := candle.Close * (r.spreadBps / 10000) / 2
	bid := candle.Close - halfSpread
	ask := candle.Close + halfSpread
	depthQty := candle.Volume / 100
	if depthQty <= 0 {
		depthQty = 1
	}
	return strategy.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: time.Unix(candle.TimestampUnix, 0).UTC(),
		Bids:      []strategy.PriceLevel{{Price: bid, Size: depthQty}, {Price: bid * 0.999, Size: depthQty * 2}},
		Asks:      []strategy.PriceLevel{{Price: ask, Size: depthQty}, {Price: ask * 1.001, Size: depthQty * 2}},
	}, nil
}
