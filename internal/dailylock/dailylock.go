// Package dailylock implements the daily profit lock: STOP mode halts
// entries once the day's realized PnL reaches its target; OVERDRIVE mode
// instead lets winners run and only locks in a trailing floor once armed.
//
// Design rules:
//   - Day-key boundaries are defined by the configured IANA timezone, not
//     UTC-naive midnight.
//   - On process start the manager must be seeded from today's already-
//     closed trades (via Reconstruct) before the first tick is accepted.
package dailylock

import (
	"fmt"
	"log"
	"time"
)

// Mode selects the daily-lock policy.
type Mode string

const (
	ModeStop      Mode = "STOP"
	ModeOverdrive Mode = "OVERDRIVE"
)

// Config holds the mode and thresholds sourced from the config snapshot.
type Config struct {
	Mode           Mode
	DailyTargetUSD float64
	TrailingBuffer float64 // OVERDRIVE only
	Location       *time.Location
}

// Event is emitted on state changes for the event sink.
type Event struct {
	Type   string // daily_lock.engaged | daily_lock.floor_updated | daily_lock.entries_paused
	DayKey string
	At     time.Time
	Detail string
}

// Manager tracks one trading day's realized PnL and the lock state derived
// from it. Safe for concurrent use.
type Manager struct {
	cfg Config

	dayKey        string
	realizedToday float64
	peakToday     float64
	floor         float64
	engaged       bool

	logger *log.Logger
	events []Event
}

// NewManager creates a daily lock manager. Pass a nil logger to use a
// default stdlib logger.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[daily-lock] ", log.LstdFlags)
	}
	return &Manager{cfg: cfg, logger: logger}
}

// DayKey computes the day-key for t in the configured timezone. DST
// transitions that produce an ambiguous local day resolve to the first
// occurrence, per time.Time.In/Format semantics.
func (m *Manager) DayKey(t time.Time) string {
	return t.In(m.cfg.Location).Format("2006-01-02")
}

// rollIfNewDay resets per-day counters when the day-key has advanced.
// Caller must not hold any lock; Manager has no internal mutex because it
// is only ever driven from the single trading-loop goroutine that owns
// daily-lock state (see the per-symbol concurrency model).
func (m *Manager) rollIfNewDay(now time.Time) {
	key := m.DayKey(now)
	if key != m.dayKey {
		m.dayKey = key
		m.realizedToday = 0
		m.peakToday = 0
		m.floor = 0
		m.engaged = false
	}
}

// Reconstruct seeds peak_pnl_today from today's closed trades, scanned
// from storage, before the first tick of a fresh process is accepted.
func (m *Manager) Reconstruct(now time.Time, todaysClosedTradePnL []float64) {
	m.rollIfNewDay(now)
	var realized float64
	for _, pnl := range todaysClosedTradePnL {
		realized += pnl
	}
	m.realizedToday = realized
	if realized > m.peakToday {
		m.peakToday = realized
	}
	if m.cfg.Mode == ModeOverdrive && m.realizedToday >= m.cfg.DailyTargetUSD {
		m.engage(now)
	}
}

// RecordClosedTrade folds one newly-closed trade's realized PnL into
// today's running total and updates derived state.
func (m *Manager) RecordClosedTrade(now time.Time, realizedPnL float64) {
	m.rollIfNewDay(now)
	m.realizedToday += realizedPnL
	if m.realizedToday > m.peakToday {
		m.peakToday = m.realizedToday
	}

	if m.cfg.Mode == ModeOverdrive {
		if !m.engaged && m.realizedToday >= m.cfg.DailyTargetUSD {
			m.engage(now)
		}
		if m.engaged {
			newFloor := m.cfg.DailyTargetUSD
			if v := m.peakToday - m.cfg.TrailingBuffer; v > newFloor {
				newFloor = v
			}
			if newFloor != m.floor {
				m.floor = newFloor
				m.events = append(m.events, Event{Type: "daily_lock.floor_updated", DayKey: m.dayKey, At: now, Detail: fmt.Sprintf("floor=%.2f peak=%.2f", m.floor, m.peakToday)})
			}
		}
	}
}

func (m *Manager) engage(now time.Time) {
	m.engaged = true
	m.floor = m.cfg.DailyTargetUSD
	m.events = append(m.events, Event{Type: "daily_lock.engaged", DayKey: m.dayKey, At: now, Detail: fmt.Sprintf("realized=%.2f target=%.2f", m.realizedToday, m.cfg.DailyTargetUSD)})
	m.logger.Printf("engaged: realized=%.2f target=%.2f", m.realizedToday, m.cfg.DailyTargetUSD)
}

// EntriesAllowed reports whether new entries may be opened right now.
func (m *Manager) EntriesAllowed(now time.Time) (bool, string) {
	m.rollIfNewDay(now)

	switch m.cfg.Mode {
	case ModeStop:
		if m.realizedToday >= m.cfg.DailyTargetUSD {
			m.events = append(m.events, Event{Type: "daily_lock.entries_paused", DayKey: m.dayKey, At: now, Detail: "STOP: daily target reached"})
			return false, fmt.Sprintf("daily target reached: realized=%.2f target=%.2f", m.realizedToday, m.cfg.DailyTargetUSD)
		}
		return true, ""
	case ModeOverdrive:
		if m.engaged && m.realizedToday <= m.floor {
			m.events = append(m.events, Event{Type: "daily_lock.entries_paused", DayKey: m.dayKey, At: now, Detail: "OVERDRIVE: floor breached"})
			return false, fmt.Sprintf("trailing floor breached: realized=%.2f floor=%.2f", m.realizedToday, m.floor)
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unknown daily lock mode %q", m.cfg.Mode)
	}
}

// RealizedToday returns today's running realized PnL (for status surfaces).
func (m *Manager) RealizedToday() float64 { return m.realizedToday }

// Engaged reports whether the daily lock is currently engaged (for status
// surfaces and metrics).
func (m *Manager) Engaged() bool { return m.engaged }

// DrainEvents returns and clears all events recorded since the last call.
func (m *Manager) DrainEvents() []Event {
	out := m.events
	m.events = nil
	return out
}
