// Package storage - memory.go provides an in-memory Store for tests. It
// mirrors the paper broker's lock-and-map shape: a single mutex guards
// plain maps, good enough for single-process test exercises.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/executor"
)

// MemoryStore is an in-memory Store implementation for tests.
type MemoryStore struct {
	mu        sync.Mutex
	trades    map[string]executor.Trade
	orders    map[string][]executor.Order
	equity    []EquitySnapshot
	events    []Event
	nextSeq   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades: map[string]executor.Trade{},
		orders: map[string][]executor.Order{},
	}
}

func (s *MemoryStore) OpenTrade(_ context.Context, trade executor.Trade, orders []executor.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	s.orders[trade.ID] = append([]executor.Order{}, orders...)
	return nil
}

func (s *MemoryStore) CloseTrade(_ context.Context, tradeID string, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[tradeID]
	if !ok {
		return fmt.Errorf("memory store: trade %s not found", tradeID)
	}
	trade.Status = executor.TradeStatusClosed
	trade.ExitPrice = exitPrice
	trade.RealizedPnL = realizedPnL
	trade.ClosedAt = closedAt
	s.trades[tradeID] = trade
	return nil
}

func (s *MemoryStore) CancelTrade(_ context.Context, tradeID string, _ string, canceledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[tradeID]
	if !ok {
		return fmt.Errorf("memory store: trade %s not found", tradeID)
	}
	trade.Status = executor.TradeStatusCanceled
	trade.ClosedAt = canceledAt
	s.trades[tradeID] = trade
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, order executor.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.orders[order.TradeID]
	for i, o := range orders {
		if o.ID == order.ID {
			orders[i] = order
			s.orders[order.TradeID] = orders
			return nil
		}
	}
	return fmt.Errorf("memory store: order %s not found", order.ID)
}

func (s *MemoryStore) AppendEquity(_ context.Context, snapshot EquitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = append(s.equity, snapshot)
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	event.Seq = s.nextSeq
	s.events = append(s.events, event)
	return event, nil
}

func (s *MemoryStore) GetTodayClosedTrades(_ context.Context, dayKey string) ([]executor.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []executor.Trade
	for _, t := range s.trades {
		if t.Status == executor.TradeStatusClosed && t.ClosedAt.Format("2006-01-02") == dayKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetOpenTrades(_ context.Context) ([]executor.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []executor.Trade
	for _, t := range s.trades {
		if t.Status == executor.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetOpenOrders(_ context.Context, tradeID string) ([]executor.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []executor.Order
	for _, o := range s.orders[tradeID] {
		if o.Status != executor.OrderStatusCancelled && o.Status != executor.OrderStatusFilled {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetEventsAfter(_ context.Context, seq int64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) OpenPositionCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.trades {
		if t.Status == executor.TradeStatusOpen {
			count++
		}
	}
	return count, nil
}

// AllClosedTrades returns every closed trade regardless of close date, for
// callers (the backtest harness) that need the full run's history rather
// than one day's slice.
func (s *MemoryStore) AllClosedTrades(_ context.Context) ([]executor.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []executor.Trade
	for _, t := range s.trades {
		if t.Status == executor.TradeStatusClosed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}
