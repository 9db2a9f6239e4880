// Package breaker implements the multi-kind breaker registry that guards
// entries against volatility spikes, wide spreads, losing streaks,
// exchange instability, and externally-flagged negative news.
//
// Design rules:
//   - entries_allowed sweeps expired breakers before answering.
//   - exits_allowed is constant true by contract; no caller may gate an
//     exit on breaker state. ExitsAllowed always returns true and exists
//     only for status/debug surfaces.
//   - Thread-safe: shared across all per-symbol trading-loop goroutines.
package breaker

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind identifies which rule tripped a breaker.
type Kind string

const (
	KindVolatility          Kind = "VOLATILITY"
	KindSpread              Kind = "SPREAD"
	KindConsecutiveLosses   Kind = "CONSECUTIVE_LOSSES"
	KindExchangeInstability Kind = "EXCHANGE_INSTABILITY"
	KindNegativeNews        Kind = "NEGATIVE_NEWS"
)

// Event is emitted on state changes for the event sink to persist and
// broadcast.
type Event struct {
	Type      string // breaker.triggered | breaker.expired | gate.breaker.rejected | gate.news.rejected
	Kind      Kind
	Symbol    string
	Reason    string
	ExpiresAt time.Time
	At        time.Time
}

// active records one currently-tripped breaker instance.
type active struct {
	kind      Kind
	symbol    string // "" means market-wide
	reason    string
	expiresAt time.Time
}

// Config holds the per-kind thresholds, sourced from the config snapshot.
type Config struct {
	VolatilityATRMultiple   float64
	VolatilityPauseMinutes  int
	SpreadCapBps            float64
	SpreadPauseMinutes      int
	ConsecutiveLossesWindow int
	ConsecutiveLossesPause  int
	InstabilityRatePerMin   float64
	InstabilityPauseMinutes int
	NewsPauseMinutes        int
}

// MetricsSink receives breaker-level metrics. Narrow on purpose so this
// package never imports the observability package directly; satisfied
// structurally by *observability.Metrics.
type MetricsSink interface {
	RecordBreakerTrip(kind string)
}

// Manager is the thread-safe breaker registry.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	active  []active
	events  []Event
	logger  *log.Logger
	nowFunc func() time.Time
	metrics MetricsSink
}

// NewManager creates a breaker manager with the given configuration.
// Pass a nil logger to use a default stdlib logger.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(log.Writer(), "[breaker] ", log.LstdFlags)
	}
	return &Manager{cfg: cfg, logger: logger, nowFunc: time.Now}
}

// SetMetrics wires m as the destination for this manager's metrics. Pass
// nil (the default) to disable metrics recording.
func (m *Manager) SetMetrics(sink MetricsSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = sink
}

// UpdateConfig replaces the active configuration. Does not clear tripped
// breakers; in-flight pauses run to their original expiry.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Manager) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

// sweep drops expired breakers, emitting breaker.expired for each. Caller
// must hold m.mu.
func (m *Manager) sweep() {
	now := m.now()
	kept := m.active[:0]
	for _, a := range m.active {
		if now.Before(a.expiresAt) {
			kept = append(kept, a)
			continue
		}
		m.logger.Printf("expired: kind=%s symbol=%s reason=%q", a.kind, a.symbol, a.reason)
		m.events = append(m.events, Event{Type: "breaker.expired", Kind: a.kind, Symbol: a.symbol, Reason: a.reason, At: now})
	}
	m.active = kept
}

// Trip manually arms a breaker of the given kind for symbol (empty symbol
// means market-wide) for pauseMinutes. Used by volatility/spread/loss/
// instability checks once their condition is observed, and by the
// negative-news flag set externally.
func (m *Manager) Trip(kind Kind, symbol, reason string, pauseMinutes int) {
	m.tripFor(kind, symbol, reason, time.Duration(pauseMinutes)*time.Minute)
}

// tripFor is the shared implementation behind Trip and SetNewsFlag: arm a
// breaker of kind for symbol, expiring after ttl.
func (m *Manager) tripFor(kind Kind, symbol, reason string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	expiresAt := now.Add(ttl)
	m.active = append(m.active, active{kind: kind, symbol: symbol, reason: reason, expiresAt: expiresAt})
	m.logger.Printf("TRIGGERED: kind=%s symbol=%s reason=%q pause=%s", kind, symbol, reason, ttl)
	m.events = append(m.events, Event{Type: "breaker.triggered", Kind: kind, Symbol: symbol, Reason: reason, ExpiresAt: expiresAt, At: now})
	if m.metrics != nil {
		m.metrics.RecordBreakerTrip(string(kind))
	}
}

// CheckVolatility trips KindVolatility for symbol when currentATR exceeds
// baselineATR times the configured multiple.
func (m *Manager) CheckVolatility(symbol string, currentATR, baselineATR float64) {
	if baselineATR <= 0 || m.cfg.VolatilityATRMultiple <= 0 {
		return
	}
	if currentATR > baselineATR*m.cfg.VolatilityATRMultiple {
		m.Trip(KindVolatility, symbol, fmt.Sprintf("atr %.4f exceeds baseline %.4f x%.2f", currentATR, baselineATR, m.cfg.VolatilityATRMultiple), m.cfg.VolatilityPauseMinutes)
	}
}

// CheckSpread trips KindSpread for symbol when measured spread exceeds the
// configured cap.
func (m *Manager) CheckSpread(symbol string, spreadBps float64) {
	if m.cfg.SpreadCapBps <= 0 {
		return
	}
	if spreadBps > m.cfg.SpreadCapBps {
		m.Trip(KindSpread, symbol, fmt.Sprintf("spread %.2fbps exceeds cap %.2fbps", spreadBps, m.cfg.SpreadCapBps), m.cfg.SpreadPauseMinutes)
	}
}

// CheckConsecutiveLosses trips KindConsecutiveLosses for symbol when the
// last N closed trades (most-recent-first) are all losers.
func (m *Manager) CheckConsecutiveLosses(symbol string, recentPnL []float64) {
	window := m.cfg.ConsecutiveLossesWindow
	if window <= 0 || len(recentPnL) < window {
		return
	}
	for i := 0; i < window; i++ {
		if recentPnL[i] >= 0 {
			return
		}
	}
	m.Trip(KindConsecutiveLosses, symbol, fmt.Sprintf("last %d trades all losing", window), m.cfg.ConsecutiveLossesPause)
}

// CheckExchangeInstability trips KindExchangeInstability market-wide when
// the observed disconnect/rate-limit rate crosses the configured rate.
func (m *Manager) CheckExchangeInstability(eventsPerMinute float64) {
	if m.cfg.InstabilityRatePerMin <= 0 {
		return
	}
	if eventsPerMinute > m.cfg.InstabilityRatePerMin {
		m.Trip(KindExchangeInstability, "", fmt.Sprintf("instability rate %.2f/min exceeds %.2f/min", eventsPerMinute, m.cfg.InstabilityRatePerMin), m.cfg.InstabilityPauseMinutes)
	}
}

// SetNewsFlag arms KindNegativeNews for symbol (or market-wide if symbol is
// empty). Expiry is governed solely by the TTL passed here — there is no
// separate clear operation by design; the flag simply lapses.
func (m *Manager) SetNewsFlag(symbol, reason string, ttl time.Duration) {
	m.tripFor(KindNegativeNews, symbol, reason, ttl)
}

// EntriesAllowed sweeps expired breakers and reports whether new entries
// may be opened for symbol, along with the Kind of the breaker that
// rejected it (zero value when allowed). Market-wide breakers (empty
// symbol) block every symbol.
func (m *Manager) EntriesAllowed(symbol string) (bool, Kind, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	for _, a := range m.active {
		if a.symbol == "" || a.symbol == symbol {
			return false, a.kind, string(a.kind) + ": " + a.reason
		}
	}
	return true, "", ""
}

// ExitsAllowed is constant true by contract. No code path in the engine
// may consult this for blocking an exit; it exists only for symmetry in
// status/debug surfaces.
func (m *Manager) ExitsAllowed() bool { return true }

// DrainEvents returns and clears all events recorded since the last call.
func (m *Manager) DrainEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}
