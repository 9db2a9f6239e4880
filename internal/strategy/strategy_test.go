package strategy

import (
	"testing"
	"time"

	"github.com/quantspot/engine/internal/indicator"
)

// uptrendCandles produces a clean, steadily-rising series so EMA/ADX-based
// entry rules have something unambiguous to fire on.
func uptrendCandles(n int, start float64, step float64) []indicator.Candle {
	candles := make([]indicator.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		price += step
		candles[i] = indicator.Candle{
			TimestampUnix: int64(i) * 60,
			Open:          price - step,
			High:          price + step*0.5,
			Low:           price - step*1.5,
			Close:         price,
			Volume:        1000,
		}
	}
	return candles
}

func flatCandles(n int, price float64) []indicator.Candle {
	candles := make([]indicator.Candle, n)
	for i := 0; i < n; i++ {
		candles[i] = indicator.Candle{
			TimestampUnix: int64(i) * 60,
			Open:          price,
			High:          price + 0.2,
			Low:           price - 0.2,
			Close:         price,
			Volume:        1000,
		}
	}
	return candles
}

func TestTrend_EntersOnStrongUptrend(t *testing.T) {
	s := NewTrend()
	candles := uptrendCandles(80, 100, 0.8)
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Now: time.Now(), Candles: candles})

	if out.Signal != SignalEnterLong {
		t.Fatalf("expected ENTER_LONG, got %s (rationale=%v)", out.Signal, out.Rationale)
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		t.Errorf("confidence out of range: %v", out.Confidence)
	}
	if !(out.SuggestedStop < out.SuggestedEntry && out.SuggestedEntry < out.SuggestedTP) {
		t.Errorf("expected stop < entry < tp, got %v/%v/%v", out.SuggestedStop, out.SuggestedEntry, out.SuggestedTP)
	}
}

func TestTrend_NoTradeOnFlatMarket(t *testing.T) {
	s := NewTrend()
	candles := flatCandles(80, 100)
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: candles})
	if out.Signal != SignalNoTrade {
		t.Errorf("expected NO_TRADE on flat market, got %s", out.Signal)
	}
}

func TestTrend_NoTradeOnInsufficientData(t *testing.T) {
	s := NewTrend()
	candles := uptrendCandles(5, 100, 1)
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: candles})
	if out.Signal != SignalNoTrade {
		t.Errorf("expected NO_TRADE on insufficient data, got %s", out.Signal)
	}
}

func TestTrend_Deterministic(t *testing.T) {
	s := NewTrend()
	candles := uptrendCandles(80, 100, 0.8)
	in := Input{Symbol: "BTC-USDT", Candles: candles}
	a := s.Evaluate(in)
	b := s.Evaluate(in)
	if a.Signal != b.Signal || a.Confidence != b.Confidence {
		t.Error("expected identical output for identical input")
	}
}

func TestTrend_ExitsOnWeakeningADX(t *testing.T) {
	s := NewTrend()
	candles := flatCandles(80, 100)
	pos := &PositionInfo{EntryPrice: 99, Quantity: 1}
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: candles, CurrentPosition: pos})
	if out.Signal != SignalExit {
		t.Errorf("expected EXIT when ADX is below the exit threshold, got %s", out.Signal)
	}
}

func dipCandles() []indicator.Candle {
	// 30 flat candles (enough for ADX's 2*period+1), then a sharp dip on
	// the last one to touch the lower band.
	candles := flatCandles(30, 100)
	candles = append(candles, indicator.Candle{
		TimestampUnix: 30 * 60,
		Open:          100,
		High:          100,
		Low:           85,
		Close:         86,
		Volume:        1000,
	})
	return candles
}

func TestMeanReversion_EntersOnOversoldDip(t *testing.T) {
	s := NewMeanReversion()
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: dipCandles()})
	if out.Signal != SignalEnterLong {
		t.Errorf("expected ENTER_LONG on an oversold dip, got %s (rationale=%v)", out.Signal, out.Rationale)
	}
}

func TestMeanReversion_NoTradeWhenTrending(t *testing.T) {
	s := NewMeanReversion()
	candles := uptrendCandles(80, 100, 1.2)
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: candles})
	if out.Signal != SignalNoTrade {
		t.Errorf("expected NO_TRADE in a strong trend (ADX too high), got %s", out.Signal)
	}
}

func breakoutCandles() []indicator.Candle {
	candles := flatCandles(25, 100)
	candles = append(candles, indicator.Candle{
		TimestampUnix: 26 * 60,
		Open:          100,
		High:          115,
		Low:           99,
		Close:         114,
		Volume:        5000,
	})
	return candles
}

func TestBreakout_EntersAboveDonchianHigh(t *testing.T) {
	s := NewBreakout()
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: breakoutCandles()})
	if out.Signal != SignalEnterLong {
		t.Fatalf("expected ENTER_LONG on breakout, got %s (rationale=%v)", out.Signal, out.Rationale)
	}
	if out.SuggestedStop >= out.SuggestedEntry {
		t.Errorf("expected stop below entry, got stop=%v entry=%v", out.SuggestedStop, out.SuggestedEntry)
	}
}

func TestBreakout_NoTradeBelowResistance(t *testing.T) {
	s := NewBreakout()
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: flatCandles(30, 100)})
	if out.Signal != SignalNoTrade {
		t.Errorf("expected NO_TRADE with no breakout, got %s", out.Signal)
	}
}

func TestBreakout_ExitsOnFailedBreakout(t *testing.T) {
	s := NewBreakout()
	candles := breakoutCandles()
	candles = append(candles, indicator.Candle{
		TimestampUnix: 27 * 60,
		Open:          114,
		High:          114,
		Low:           95,
		Close:         96,
		Volume:        5000,
	})
	pos := &PositionInfo{EntryPrice: 114, Quantity: 1}
	out := s.Evaluate(Input{Symbol: "BTC-USDT", Candles: candles, CurrentPosition: pos})
	if out.Signal != SignalExit {
		t.Errorf("expected EXIT on failed breakout, got %s", out.Signal)
	}
}
