package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/executor"
)

func TestMemoryStore_OpenAndCloseTrade(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	trade := executor.Trade{ID: "t1", Symbol: "BTC-USDT", Status: executor.TradeStatusOpen, EntryPrice: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}

	if err := s.OpenTrade(ctx, trade, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open, err := s.GetOpenTrades(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open trade, got %d err=%v", len(open), err)
	}

	closedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := s.CloseTrade(ctx, "t1", decimal.NewFromInt(110), decimal.NewFromInt(10), closedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open, _ = s.GetOpenTrades(ctx)
	if len(open) != 0 {
		t.Errorf("expected 0 open trades after close, got %d", len(open))
	}
	closedTrades, err := s.GetTodayClosedTrades(ctx, "2026-01-01")
	if err != nil || len(closedTrades) != 1 {
		t.Fatalf("expected 1 closed trade for day key, got %d err=%v", len(closedTrades), err)
	}
}

func TestMemoryStore_AppendEventAllocatesMonotonicSeq(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e1, err := s.AppendEvent(ctx, Event{Type: "trade.opened"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e2, err := s.AppendEvent(ctx, Event{Type: "trade.closed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e1.Seq != 1 || e2.Seq != 2 {
		t.Errorf("expected strictly increasing seq 1,2; got %d,%d", e1.Seq, e2.Seq)
	}
}

func TestMemoryStore_GetEventsAfterRespectsSeqAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.AppendEvent(ctx, Event{Type: "tick"})
	}
	events, err := s.GetEventsAfter(ctx, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("expected seq 3,4; got %+v", events)
	}
}

func TestMemoryStore_OpenPositionCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.OpenTrade(ctx, executor.Trade{ID: "a", Status: executor.TradeStatusOpen}, nil)
	s.OpenTrade(ctx, executor.Trade{ID: "b", Status: executor.TradeStatusOpen}, nil)

	count, err := s.OpenPositionCount(ctx)
	if err != nil || count != 2 {
		t.Fatalf("expected count 2, got %d err=%v", count, err)
	}
}
