// Package observability exposes the engine's Prometheus metrics.
//
// Metrics exposed:
//   - engine_trades_total{symbol,result}         - trades closed, by win/loss
//   - engine_entries_total{symbol,strategy}      - qualifying ensemble votes that opened a trade
//   - engine_gate_rejections_total{gate}         - rejections per gate (liquidity/profitability/breakers/daily_lock/max_concurrent_positions)
//   - engine_breaker_trips_total{kind}           - circuit breaker trips, by kind
//   - engine_equity_usd                          - current equity snapshot (gauge)
//   - engine_realized_pnl_today_usd              - today's realized PnL (gauge)
//   - engine_daily_lock_engaged                  - 1 if the daily lock is currently blocking entries
//   - engine_open_positions                      - current open position count (gauge)
//   - engine_order_latency_seconds{role}         - executor order round-trip latency
//
// Registered on a dedicated Registry (not the global default) so tests
// can construct independent Metrics instances without collector
// collisions.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine updates during operation.
type Metrics struct {
	registry *prometheus.Registry

	tradesTotal       *prometheus.CounterVec
	entriesTotal      *prometheus.CounterVec
	gateRejections    *prometheus.CounterVec
	breakerTrips      *prometheus.CounterVec
	equityUSD         prometheus.Gauge
	realizedPnLToday  prometheus.Gauge
	dailyLockEngaged  prometheus.Gauge
	openPositions     prometheus.Gauge
	orderLatency      *prometheus.HistogramVec
}

// New creates a Metrics bundle registered on a fresh Registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Trades closed, labeled by symbol and result (win|loss).",
		}, []string{"symbol", "result"}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_entries_total",
			Help: "Entries opened, labeled by symbol and the id of the strategy whose levels sized the entry.",
		}, []string{"symbol", "strategy"}),
		gateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_gate_rejections_total",
			Help: "Candidate entries rejected, labeled by the gate that rejected them.",
		}, []string{"gate"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_breaker_trips_total",
			Help: "Circuit breaker trips, labeled by kind.",
		}, []string{"kind"}),
		equityUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Current account equity in USD.",
		}),
		realizedPnLToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_realized_pnl_today_usd",
			Help: "Realized PnL for the current day key.",
		}),
		dailyLockEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_lock_engaged",
			Help: "1 if the daily lock currently blocks new entries, else 0.",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Current count of open positions across all symbols.",
		}),
		orderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_order_latency_seconds",
			Help:    "Executor order round-trip latency, labeled by order role.",
			Buckets: prometheus.DefBuckets,
		}, []string{"role"}),
	}

	registry.MustRegister(
		m.tradesTotal, m.entriesTotal, m.gateRejections, m.breakerTrips,
		m.equityUSD, m.realizedPnLToday, m.dailyLockEngaged, m.openPositions,
		m.orderLatency,
	)
	return m
}

// Registry returns the collector registry metrics are registered on, for
// wiring into an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordTradeClosed(symbol string, won bool) {
	result := "loss"
	if won {
		result = "win"
	}
	m.tradesTotal.WithLabelValues(symbol, result).Inc()
}

func (m *Metrics) RecordEntry(symbol, strategyID string) {
	m.entriesTotal.WithLabelValues(symbol, strategyID).Inc()
}

func (m *Metrics) RecordGateRejection(gate string) {
	m.gateRejections.WithLabelValues(gate).Inc()
}

func (m *Metrics) RecordBreakerTrip(kind string) {
	m.breakerTrips.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetEquity(usd float64) {
	m.equityUSD.Set(usd)
}

func (m *Metrics) SetRealizedPnLToday(usd float64) {
	m.realizedPnLToday.Set(usd)
}

func (m *Metrics) SetDailyLockEngaged(engaged bool) {
	if engaged {
		m.dailyLockEngaged.Set(1)
		return
	}
	m.dailyLockEngaged.Set(0)
}

func (m *Metrics) SetOpenPositions(count int) {
	m.openPositions.Set(float64(count))
}

func (m *Metrics) ObserveOrderLatency(role string, seconds float64) {
	m.orderLatency.WithLabelValues(role).Observe(seconds)
}
