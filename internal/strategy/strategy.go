// Package strategy implements the ensemble's individual decision engines.
//
// Design rules:
//   - A strategy is a pure decision engine.
//   - Strategies are stateless, deterministic, and testable in isolation.
//   - A strategy never places orders — it produces a StrategyOutput, which
//     the ensemble combiner and downstream gates evaluate before anything
//     reaches the executor.
package strategy

import (
	"time"

	"github.com/quantspot/engine/internal/indicator"
)

// Signal is what a strategy wants to do for a symbol at this tick.
type Signal string

const (
	SignalEnterLong Signal = "ENTER_LONG"
	SignalHold      Signal = "HOLD"
	SignalExit      Signal = "EXIT"
	SignalNoTrade   Signal = "NO_TRADE"
)

// PriceLevel is one (price, size) level of an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time, immutable view of the book.
// Bids and Asks are sorted best-first (bids descending, asks ascending).
type OrderBookSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// BestBid returns the highest bid price, or ok=false for an empty book.
func (b OrderBookSnapshot) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or ok=false for an empty book.
func (b OrderBookSnapshot) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Mid returns (best_bid+best_ask)/2, or ok=false if either side is empty.
func (b OrderBookSnapshot) Mid() (float64, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// SpreadBps returns (best_ask-best_bid)/mid * 1e4, or ok=false if undefined.
func (b OrderBookSnapshot) SpreadBps() (float64, bool) {
	bid, ok1 := b.BestBid()
	ask, ok2 := b.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	mid, ok := b.Mid()
	if !ok || mid == 0 {
		return 0, false
	}
	return (ask - bid) / mid * 1e4, true
}

// PositionInfo describes the symbol's currently open position, if any.
type PositionInfo struct {
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// Input is the complete bundle a strategy needs to make a decision.
type Input struct {
	Symbol          string
	Now             time.Time
	Candles         []indicator.Candle // ascending by time, most recent last
	Book            OrderBookSnapshot
	CurrentPosition *PositionInfo // nil if flat
}

// Output is a strategy's deterministic verdict for one tick.
type Output struct {
	StrategyID     string
	Symbol         string
	TimeframesUsed []string
	Signal         Signal
	Confidence     float64 // in [0,1]; meaningful only for ENTER_LONG
	SuggestedEntry float64
	SuggestedStop  float64
	SuggestedTP    float64
	Rationale      map[string]float64
}

// Strategy is the interface every ensemble member implements.
type Strategy interface {
	ID() string
	Name() string
	Evaluate(in Input) Output
}

func noTrade(id, symbol string) Output {
	return Output{
		StrategyID: id,
		Symbol:     symbol,
		Signal:     SignalNoTrade,
		Rationale:  map[string]float64{},
	}
}
