// Package storage defines the transactional persistence API and its
// Postgres/TimescaleDB implementation.
//
// Design rules:
//   - open_trade, close_trade, append_equity, and append_event are each
//     atomic.
//   - append_event allocates the next seq in a single atomic step; callers
//     never supply seq.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/executor"
)

// Level classifies an Event's severity for the audit trail and alerting.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// EquitySnapshot is one point-in-time reading of account equity and its
// components, taken for the audit trail.
type EquitySnapshot struct {
	At               time.Time
	Equity           decimal.Decimal
	Cash             decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnLToday decimal.Decimal
	OpenPositions    int
	Meta             map[string]any
}

// Event is one append-only occurrence in the system's event log. Seq is
// assigned by the repository, never by the caller.
type Event struct {
	Seq        int64
	Type       string
	Level      Level
	Symbol     string
	TradeID    string
	At         time.Time
	Detail     map[string]any
	PublicSafe bool
}

// Store is the complete transactional persistence contract.
type Store interface {
	OpenTrade(ctx context.Context, trade executor.Trade, orders []executor.Order) error
	CloseTrade(ctx context.Context, tradeID string, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) error
	CancelTrade(ctx context.Context, tradeID string, reason string, canceledAt time.Time) error
	UpdateOrder(ctx context.Context, order executor.Order) error
	AppendEquity(ctx context.Context, snapshot EquitySnapshot) error
	AppendEvent(ctx context.Context, event Event) (Event, error)

	GetTodayClosedTrades(ctx context.Context, dayKey string) ([]executor.Trade, error)
	GetOpenTrades(ctx context.Context) ([]executor.Trade, error)
	GetOpenOrders(ctx context.Context, tradeID string) ([]executor.Order, error)
	GetEventsAfter(ctx context.Context, seq int64, limit int) ([]Event, error)
	OpenPositionCount(ctx context.Context) (int, error)
}
