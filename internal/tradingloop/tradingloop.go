// Package tradingloop drives the per-symbol state machine: IDLE, EVAL,
// ENTRY_PENDING, IN_POSITION, EXIT_PENDING, with a PAUSED_ENTRIES overlay
// that inhibits new entries without touching exit handling. One goroutine
// runs each symbol serially; the Runner fans them out in parallel via
// errgroup, the same pattern the rest of the pack uses for per-unit
// concurrent work.
//
// The loop is the sole authority on state transitions for its symbol; a
// Trade's status is changed only by the executor the loop calls.
package tradingloop

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantspot/engine/internal/breaker"
	"github.com/quantspot/engine/internal/cost"
	"github.com/quantspot/engine/internal/dailylock"
	"github.com/quantspot/engine/internal/ensemble"
	"github.com/quantspot/engine/internal/executor"
	"github.com/quantspot/engine/internal/gate"
	"github.com/quantspot/engine/internal/indicator"
	"github.com/quantspot/engine/internal/strategy"
)

// State is one symbol's position in the trading state machine.
type State string

const (
	StateIdle         State = "IDLE"
	StateEval         State = "EVAL"
	StateEntryPending State = "ENTRY_PENDING"
	StateInPosition   State = "IN_POSITION"
	StateExitPending  State = "EXIT_PENDING"
)

// CandleSource supplies the ascending, most-recent-last candle series a
// symbol needs for indicator and strategy evaluation.
type CandleSource interface {
	Candles(ctx context.Context, symbol string) ([]indicator.Candle, error)
}

// BookSource supplies the current order book snapshot for a symbol.
type BookSource interface {
	OrderBook(ctx context.Context, symbol string) (strategy.OrderBookSnapshot, error)
}

// Opener places a gated entry plan.
type Opener interface {
	Open(ctx context.Context, plan executor.Plan, now time.Time) (executor.Trade, []executor.Event, error)
}

// ExitChecker evaluates stop/take-profit fills for an open trade.
type ExitChecker interface {
	CheckExits(ctx context.Context, trade executor.Trade, candle indicator.Candle) (bool, []executor.Event, error)
}

// PositionTracker reports and counts the engine's currently open trades,
// used for the max_concurrent_positions gate.
type PositionTracker interface {
	OpenPositionCount(ctx context.Context) (int, error)
}

// Sizing configures position sizing for a candidate entry.
type Sizing struct {
	RiskPerTradePct    float64 // fraction of equity risked on price-risk-pct move against the stop
	MaxPositionPctEquity float64
	MinNotional        float64
}

// EventSink receives domain events the loop and its collaborators emit.
type EventSink interface {
	Publish(events ...any)
}

// MetricsSink receives trading-loop-level metrics. Narrow on purpose so
// this package never imports the observability package directly;
// satisfied structurally by *observability.Metrics.
type MetricsSink interface {
	RecordGateRejection(gate string)
	RecordEntry(symbol, strategyID string)
}

// Params bundles the per-tick configuration a symbol loop consults. All
// fields are sourced from the active config snapshot and may be swapped
// atomically between ticks.
type Params struct {
	Ensemble        ensemble.Params
	Fees            cost.Fees
	SpreadBps       decimal.Decimal
	MinProfitUSD    decimal.Decimal
	MaxConcurrent   int
	Sizing          Sizing
	Equity          decimal.Decimal
}

// Symbol runs the state machine for one trading symbol.
type Symbol struct {
	Name       string
	Strategies []strategy.Strategy

	candles  CandleSource
	books    BookSource
	opener   Opener
	exits    ExitChecker
	breakers *breaker.Manager
	lock     *dailylock.Manager
	tracker  PositionTracker
	sink     EventSink
	logger   *log.Logger
	metrics  MetricsSink

	state         State
	pausedEntries bool
	openTrade     *executor.Trade
}

// SetMetrics wires m as the destination for this symbol loop's metrics.
// Pass nil (the default) to disable metrics recording, e.g. in backtests.
func (s *Symbol) SetMetrics(m MetricsSink) { s.metrics = m }

// NewSymbol creates a symbol loop in the IDLE state.
func NewSymbol(name string, strategies []strategy.Strategy, candles CandleSource, books BookSource, opener Opener, exits ExitChecker, breakers *breaker.Manager, lock *dailylock.Manager, tracker PositionTracker, sink EventSink, logger *log.Logger) *Symbol {
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[loop:%s] ", name), log.LstdFlags)
	}
	return &Symbol{
		Name: name, Strategies: strategies,
		candles: candles, books: books, opener: opener, exits: exits,
		breakers: breakers, lock: lock, tracker: tracker, sink: sink, logger: logger,
		state: StateIdle,
	}
}

// State returns the symbol's current state (for status/debug surfaces).
func (s *Symbol) State() State { return s.state }

// PauseEntries engages the PAUSED_ENTRIES overlay. Exit handling (step 5
// of the tick procedure) is unaffected.
func (s *Symbol) PauseEntries()  { s.pausedEntries = true }
func (s *Symbol) ResumeEntries() { s.pausedEntries = false }

// Tick runs one iteration of the state machine for this symbol.
func (s *Symbol) Tick(ctx context.Context, params Params, now time.Time) error {
	if s.state == StateInPosition {
		return s.tickInPosition(ctx, now)
	}

	candles, err := s.candles.Candles(ctx, s.Name)
	if err != nil {
		s.publish([]any{marketTickEvent(s.Name, err.Error())})
		s.state = StateIdle
		return nil
	}
	book, err := s.books.OrderBook(ctx, s.Name)
	if err != nil {
		s.publish([]any{marketTickEvent(s.Name, err.Error())})
		s.state = StateIdle
		return nil
	}

	s.state = StateEval
	if s.pausedEntries {
		s.state = StateIdle
		return nil
	}

	outputs := make([]strategy.Output, 0, len(s.Strategies))
	for _, st := range s.Strategies {
		outputs = append(outputs, st.Evaluate(strategy.Input{Symbol: s.Name, Now: now, Candles: candles, Book: book}))
	}

	decision, err := ensemble.Combine(s.Name, outputs, params.Ensemble, false)
	if err != nil {
		return fmt.Errorf("tradingloop[%s]: ensemble combine: %w", s.Name, err)
	}

	if decision.Action != ensemble.ActionEnterLong {
		s.state = StateIdle
		return nil
	}

	plan, strategyID, err := s.buildPlan(outputs, decision, params, candles)
	if err != nil {
		s.logger.Printf("plan construction failed: %v", err)
		s.state = StateIdle
		return nil
	}

	if rejected := s.runGates(ctx, plan, book, params, now); rejected != "" {
		s.logger.Printf("gate rejected entry: %s", rejected)
		s.state = StateIdle
		return nil
	}

	s.state = StateEntryPending
	trade, events, err := s.opener.Open(ctx, plan, now)
	if err != nil {
		s.state = StateIdle
		return fmt.Errorf("tradingloop[%s]: open failed: %w", s.Name, err)
	}
	s.publish(events)
	if s.metrics != nil {
		s.metrics.RecordEntry(s.Name, strategyID)
	}
	s.openTrade = &trade
	s.state = StateInPosition
	return nil
}

func (s *Symbol) tickInPosition(ctx context.Context, now time.Time) error {
	if s.openTrade == nil {
		s.state = StateIdle
		return nil
	}
	candles, err := s.candles.Candles(ctx, s.Name)
	if err != nil {
		s.publish([]any{marketTickEvent(s.Name, err.Error())})
		return nil
	}
	if len(candles) == 0 {
		return nil
	}
	last := candles[len(candles)-1]

	closed, events, err := s.exits.CheckExits(ctx, *s.openTrade, last)
	if err != nil {
		return fmt.Errorf("tradingloop[%s]: check exits: %w", s.Name, err)
	}
	s.publish(events)
	if closed {
		s.state = StateExitPending
		s.openTrade = nil
		s.state = StateIdle
	}
	return nil
}

// buildPlan sizes the candidate entry from the first qualifying output's
// suggested levels. risk_amount = equity * risk_per_trade_pct; qty =
// risk_amount / (entry - stop), capped by max_position_pct_equity; a
// sized notional below min_notional rejects the plan.
func (s *Symbol) buildPlan(outputs []strategy.Output, decision ensemble.Decision, params Params, candles []indicator.Candle) (executor.Plan, string, error) {
	var ref strategy.Output
	found := false
	for _, o := range outputs {
		if o.Signal == strategy.SignalEnterLong && o.Confidence >= params.Ensemble.ConfidenceThreshold {
			ref = o
			found = true
			break
		}
	}
	if !found {
		return executor.Plan{}, "", fmt.Errorf("no enter-long output among qualifying votes")
	}

	priceRisk := ref.SuggestedEntry - ref.SuggestedStop
	if priceRisk <= 0 {
		return executor.Plan{}, "", fmt.Errorf("non-positive price risk: entry=%v stop=%v", ref.SuggestedEntry, ref.SuggestedStop)
	}

	equity, _ := params.Equity.Float64()
	riskAmount := equity * params.Sizing.RiskPerTradePct
	qty := riskAmount / priceRisk

	maxNotionalQty := (equity * params.Sizing.MaxPositionPctEquity) / ref.SuggestedEntry
	if qty > maxNotionalQty {
		qty = maxNotionalQty
	}

	notional := qty * ref.SuggestedEntry
	if notional < params.Sizing.MinNotional {
		return executor.Plan{}, "", fmt.Errorf("sized notional %v below min_notional %v", notional, params.Sizing.MinNotional)
	}

	return executor.Plan{
		Symbol:     s.Name,
		Entry:      decimal.NewFromFloat(ref.SuggestedEntry),
		Qty:        decimal.NewFromFloat(qty),
		StopLoss:   decimal.NewFromFloat(ref.SuggestedStop),
		TakeProfit: decimal.NewFromFloat(ref.SuggestedTP),
	}, ref.StrategyID, nil
}

// runGates applies the strict gate order: liquidity, profitability,
// breakers, daily lock, max_concurrent_positions — short-circuiting on the
// first rejection. Returns a non-empty reason string naming the rejecting
// gate, or "" on full pass.
func (s *Symbol) runGates(ctx context.Context, plan executor.Plan, book strategy.OrderBookSnapshot, params Params, now time.Time) string {
	costBreakdown, err := cost.Estimate(s.Name, book, cost.SideBuy, cost.OrderTypeMarket, plan.Qty, params.SpreadBps, params.Fees)
	if err != nil {
		s.rejectGate("liquidity", gateEvent("gate.liquidity.rejected", s.Name, err.Error()))
		return "liquidity"
	}

	gatePlan := gate.Plan{Symbol: s.Name, Entry: plan.Entry, TakeProfit: plan.TakeProfit, Qty: plan.Qty}
	profit := gate.Evaluate(gatePlan, costBreakdown, params.MinProfitUSD)
	if !profit.Passed {
		s.rejectGate("profitability", gateEvent("gate.profitability.rejected", s.Name, fmt.Sprintf("expected_net=%s min=%s", profit.ExpectedNet, profit.MinProfitUSD)))
		return "profitability"
	}
	s.publish([]any{gateEvent("gate.profitability.passed", s.Name, fmt.Sprintf("expected_net=%s", profit.ExpectedNet))})

	if allowed, kind, reason := s.breakers.EntriesAllowed(s.Name); !allowed {
		eventType := "gate.breaker.rejected"
		if kind == breaker.KindNegativeNews {
			eventType = "gate.news.rejected"
		}
		s.rejectGate("breakers", gateEvent(eventType, s.Name, reason))
		return "breakers"
	}

	if allowed, reason := s.lock.EntriesAllowed(now); !allowed {
		s.rejectGate("daily_lock", gateEvent("gate.daily_lock.rejected", s.Name, reason))
		return "daily_lock"
	}

	if s.tracker != nil {
		count, err := s.tracker.OpenPositionCount(ctx)
		if err != nil {
			s.rejectGate("max_concurrent_positions", gateEvent("gate.max_concurrent_positions.rejected", s.Name, err.Error()))
			return "max_concurrent_positions"
		}
		if count >= params.MaxConcurrent {
			s.rejectGate("max_concurrent_positions", gateEvent("gate.max_concurrent_positions.rejected", s.Name, fmt.Sprintf("open=%d max=%d", count, params.MaxConcurrent)))
			return "max_concurrent_positions"
		}
	}

	return ""
}

// rejectGate publishes a gate-rejection event and records it against the
// named gate for metrics.
func (s *Symbol) rejectGate(gateName string, event GateEvent) {
	s.publish([]any{event})
	if s.metrics != nil {
		s.metrics.RecordGateRejection(gateName)
	}
}

func (s *Symbol) publish(events any) {
	if s.sink == nil {
		return
	}
	switch v := events.(type) {
	case []executor.Event:
		for _, e := range v {
			s.sink.Publish(e)
		}
	case []any:
		s.sink.Publish(v...)
	}
}

// GateEvent is a minimal event shape for gate decisions; richer fields
// (seq, public_safe) are filled in by the event sink on append.
type GateEvent struct {
	Type   string
	Symbol string
	Reason string
	At     time.Time
}

func gateEvent(eventType, symbol, reason string) GateEvent {
	return GateEvent{Type: eventType, Symbol: symbol, Reason: reason, At: time.Now()}
}

// marketTickEvent reports a tick that could not fetch market data. Severity
// is WARN: the loop sits out this tick and retries next cycle rather than
// treating it as fatal.
func marketTickEvent(symbol, reason string) GateEvent {
	return gateEvent("market.tick", symbol, reason)
}

// Runner fans ticks out across all registered symbols in parallel, serial
// within each symbol, via errgroup.
type Runner struct {
	symbols []*Symbol
	logger  *log.Logger
}

// NewRunner creates a Runner over the given symbol loops.
func NewRunner(symbols []*Symbol, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[tradingloop] ", log.LstdFlags)
	}
	return &Runner{symbols: symbols, logger: logger}
}

// TickAll runs one tick for every symbol concurrently and returns the
// first error encountered, if any, after all symbols have completed.
func (r *Runner) TickAll(ctx context.Context, params Params, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range r.symbols {
		sym := sym
		g.Go(func() error {
			if err := sym.Tick(gctx, params, now); err != nil {
				r.logger.Printf("tick failed for %s: %v", sym.Name, err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
