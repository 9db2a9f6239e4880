package strategy

import (
	"math"

	"github.com/quantspot/engine/internal/indicator"
)

// Trend is a trend-following strategy: long bias when the fast EMA is
// above the slow EMA and ADX confirms a trending (non-choppy) market.
// Confidence scales with ADX strength and EMA separation.
type Trend struct {
	FastPeriod   int
	SlowPeriod   int
	ADXPeriod    int
	MinADX       float64
	ExitMinADX   float64 // below this, the trend is considered exhausted
	StopATRMult  float64
	RewardRatio  float64
	ATRPeriod    int
}

// NewTrend creates a Trend strategy with sensible defaults.
func NewTrend() *Trend {
	return &Trend{
		FastPeriod:  12,
		SlowPeriod:  26,
		ADXPeriod:   14,
		MinADX:      25,
		ExitMinADX:  18,
		StopATRMult: 2.0,
		RewardRatio: 2.0,
		ATRPeriod:   14,
	}
}

func (s *Trend) ID() string   { return "trend_v1" }
func (s *Trend) Name() string { return "Trend Following" }

func (s *Trend) Evaluate(in Input) Output {
	if in.CurrentPosition != nil {
		return s.evaluateExit(in)
	}
	return s.evaluateEntry(in)
}

func (s *Trend) evaluateEntry(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	fastEMA, okFast := indicator.LastEMA(in.Candles, s.FastPeriod)
	slowEMA, okSlow := indicator.LastEMA(in.Candles, s.SlowPeriod)
	adx, okADX := indicator.ADX(in.Candles, s.ADXPeriod)
	atr, okATR := indicator.ATR(in.Candles, s.ATRPeriod)
	if !okFast || !okSlow || !okADX || !okATR {
		return out
	}

	out.Rationale["fast_ema"] = fastEMA
	out.Rationale["slow_ema"] = slowEMA
	out.Rationale["adx"] = adx
	out.Rationale["atr"] = atr

	if fastEMA <= slowEMA || adx < s.MinADX {
		return out
	}

	last := in.Candles[len(in.Candles)-1]
	entry := last.Close
	stop := entry - atr*s.StopATRMult
	if stop >= entry {
		return out
	}
	takeProfit := entry + (entry-stop)*s.RewardRatio

	// Confidence: scales with how far ADX exceeds the threshold (capped at
	// 2x threshold) and with normalized EMA separation.
	adxStrength := clamp01((adx - s.MinADX) / s.MinADX)
	separation := clamp01((fastEMA - slowEMA) / slowEMA * 20)
	confidence := clamp01(0.5*adxStrength + 0.5*separation)

	out.Signal = SignalEnterLong
	out.Confidence = confidence
	out.SuggestedEntry = entry
	out.SuggestedStop = stop
	out.SuggestedTP = takeProfit
	out.Rationale["confidence"] = confidence
	return out
}

func (s *Trend) evaluateExit(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	fastEMA, okFast := indicator.LastEMA(in.Candles, s.FastPeriod)
	slowEMA, okSlow := indicator.LastEMA(in.Candles, s.SlowPeriod)
	adx, okADX := indicator.ADX(in.Candles, s.ADXPeriod)
	if !okFast || !okSlow || !okADX {
		out.Signal = SignalHold
		return out
	}

	out.Rationale["fast_ema"] = fastEMA
	out.Rationale["slow_ema"] = slowEMA
	out.Rationale["adx"] = adx

	if fastEMA < slowEMA || adx < s.ExitMinADX {
		out.Signal = SignalExit
		return out
	}

	out.Signal = SignalHold
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
