package breaker

import (
	"testing"
	"time"
)

func testManager(cfg Config) (*Manager, *time.Time) {
	m := NewManager(cfg, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }
	return m, &now
}

func TestEntriesAllowed_TrueWithNoBreakers(t *testing.T) {
	m, _ := testManager(Config{})
	ok, _, reason := m.EntriesAllowed("BTC-USDT")
	if !ok || reason != "" {
		t.Errorf("expected entries allowed with no active breakers, got ok=%v reason=%q", ok, reason)
	}
}

func TestCheckVolatility_TripsOverThreshold(t *testing.T) {
	m, _ := testManager(Config{VolatilityATRMultiple: 2.0, VolatilityPauseMinutes: 30})
	m.CheckVolatility("BTC-USDT", 10, 4)
	ok, _, reason := m.EntriesAllowed("BTC-USDT")
	if ok {
		t.Fatal("expected entries blocked after volatility trip")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestCheckVolatility_DoesNotTripUnderThreshold(t *testing.T) {
	m, _ := testManager(Config{VolatilityATRMultiple: 2.0, VolatilityPauseMinutes: 30})
	m.CheckVolatility("BTC-USDT", 5, 4)
	ok, _, _ := m.EntriesAllowed("BTC-USDT")
	if !ok {
		t.Error("expected entries allowed when ATR is within bounds")
	}
}

func TestBreaker_ExpiresAfterPause(t *testing.T) {
	m, now := testManager(Config{SpreadCapBps: 10, SpreadPauseMinutes: 5})
	m.CheckSpread("BTC-USDT", 20)
	ok, _, _ := m.EntriesAllowed("BTC-USDT")
	if ok {
		t.Fatal("expected entries blocked immediately after trip")
	}
	*now = now.Add(6 * time.Minute)
	ok, _, _ = m.EntriesAllowed("BTC-USDT")
	if !ok {
		t.Error("expected entries allowed again after pause window elapses")
	}
}

func TestCheckConsecutiveLosses_RequiresFullWindow(t *testing.T) {
	m, _ := testManager(Config{ConsecutiveLossesWindow: 3, ConsecutiveLossesPause: 60})
	m.CheckConsecutiveLosses("BTC-USDT", []float64{-5, -3})
	ok, _, _ := m.EntriesAllowed("BTC-USDT")
	if !ok {
		t.Error("expected entries still allowed with fewer losses than window")
	}

	m.CheckConsecutiveLosses("BTC-USDT", []float64{-5, -3, -1})
	ok, _, _ = m.EntriesAllowed("BTC-USDT")
	if ok {
		t.Error("expected entries blocked once the full window is losing")
	}
}

func TestMarketWideBreaker_BlocksAllSymbols(t *testing.T) {
	m, _ := testManager(Config{InstabilityRatePerMin: 5, InstabilityPauseMinutes: 15})
	m.CheckExchangeInstability(10)
	for _, sym := range []string{"BTC-USDT", "ETH-USDT"} {
		ok, _, _ := m.EntriesAllowed(sym)
		if ok {
			t.Errorf("expected market-wide breaker to block %s", sym)
		}
	}
}

func TestSetNewsFlag_ExpiresByTTLAlone(t *testing.T) {
	m, now := testManager(Config{})
	m.SetNewsFlag("BTC-USDT", "negative headline", 10*time.Minute)
	ok, _, _ := m.EntriesAllowed("BTC-USDT")
	if ok {
		t.Fatal("expected entries blocked while news flag active")
	}
	*now = now.Add(11 * time.Minute)
	ok, _, _ = m.EntriesAllowed("BTC-USDT")
	if !ok {
		t.Error("expected news pause to lapse once TTL elapses")
	}
}

func TestEntriesAllowed_ReturnsTrippedKind(t *testing.T) {
	m, _ := testManager(Config{})
	m.SetNewsFlag("BTC-USDT", "negative headline", 10*time.Minute)
	ok, kind, _ := m.EntriesAllowed("BTC-USDT")
	if ok {
		t.Fatal("expected entries blocked")
	}
	if kind != KindNegativeNews {
		t.Errorf("expected kind %s, got %s", KindNegativeNews, kind)
	}
}

type fakeMetricsSink struct {
	trips []string
}

func (f *fakeMetricsSink) RecordBreakerTrip(kind string) { f.trips = append(f.trips, kind) }

func TestTrip_RecordsMetricWhenSinkWired(t *testing.T) {
	m, _ := testManager(Config{})
	sink := &fakeMetricsSink{}
	m.SetMetrics(sink)
	m.Trip(KindSpread, "BTC-USDT", "spread too wide", 5)
	if len(sink.trips) != 1 || sink.trips[0] != string(KindSpread) {
		t.Errorf("expected one SPREAD trip recorded, got %+v", sink.trips)
	}
}

func TestSetNewsFlag_RecordsMetricWhenSinkWired(t *testing.T) {
	m, _ := testManager(Config{})
	sink := &fakeMetricsSink{}
	m.SetMetrics(sink)
	m.SetNewsFlag("BTC-USDT", "negative headline", 10*time.Minute)
	if len(sink.trips) != 1 || sink.trips[0] != string(KindNegativeNews) {
		t.Errorf("expected one NEGATIVE_NEWS trip recorded, got %+v", sink.trips)
	}
}

func TestExitsAllowed_AlwaysTrue(t *testing.T) {
	m, _ := testManager(Config{VolatilityATRMultiple: 1, VolatilityPauseMinutes: 1000})
	m.CheckVolatility("BTC-USDT", 100, 1)
	if !m.ExitsAllowed() {
		t.Error("exits_allowed must be constant true regardless of breaker state")
	}
}

func TestDrainEvents_ReturnsAndClears(t *testing.T) {
	m, _ := testManager(Config{SpreadCapBps: 1, SpreadPauseMinutes: 5})
	m.CheckSpread("BTC-USDT", 5)
	events := m.DrainEvents()
	if len(events) != 1 || events[0].Type != "breaker.triggered" {
		t.Fatalf("expected one breaker.triggered event, got %+v", events)
	}
	if more := m.DrainEvents(); len(more) != 0 {
		t.Error("expected events to be cleared after drain")
	}
}
