package strategy

import "github.com/quantspot/engine/internal/indicator"

// Breakout buys when the close exceeds the prior Donchian high over a
// lookback window, filtered by ATR so noise-driven breaks in very quiet
// markets are not chased. Confidence scales with the ATR-normalised
// breakout distance.
type Breakout struct {
	DonchianLookback int
	ATRPeriod        int
	MinATRPct        float64 // ATR/price must exceed this to treat the break as real
	StopATRMult      float64
	RewardRatio      float64
}

// NewBreakout creates a Breakout strategy with sensible defaults.
func NewBreakout() *Breakout {
	return &Breakout{
		DonchianLookback: 20,
		ATRPeriod:        14,
		MinATRPct:        0.002,
		StopATRMult:      1.5,
		RewardRatio:      3.0,
	}
}

func (s *Breakout) ID() string   { return "breakout_v1" }
func (s *Breakout) Name() string { return "Breakout" }

func (s *Breakout) Evaluate(in Input) Output {
	if in.CurrentPosition != nil {
		return s.evaluateExit(in)
	}
	return s.evaluateEntry(in)
}

func (s *Breakout) evaluateEntry(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	if len(in.Candles) < s.DonchianLookback+1 {
		return out
	}

	// Prior high excludes the breakout candle itself.
	prior := in.Candles[:len(in.Candles)-1]
	resistance, okHigh := indicator.DonchianHigh(prior, s.DonchianLookback)
	atr, okATR := indicator.ATR(in.Candles, s.ATRPeriod)
	if !okHigh || !okATR {
		return out
	}

	last := in.Candles[len(in.Candles)-1]
	out.Rationale["resistance"] = resistance
	out.Rationale["atr"] = atr

	if last.Close <= resistance {
		return out
	}
	atrPct := atr / last.Close
	if atrPct < s.MinATRPct {
		return out
	}

	entry := last.Close
	stop := resistance - atr*s.StopATRMult
	if stop >= entry {
		return out
	}
	takeProfit := entry + (entry-stop)*s.RewardRatio

	breakoutDistance := (entry - resistance) / atr
	confidence := clamp01(breakoutDistance / 2)

	out.Signal = SignalEnterLong
	out.Confidence = confidence
	out.SuggestedEntry = entry
	out.SuggestedStop = stop
	out.SuggestedTP = takeProfit
	out.Rationale["confidence"] = confidence
	return out
}

func (s *Breakout) evaluateExit(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	if len(in.Candles) < s.DonchianLookback+1 {
		out.Signal = SignalHold
		return out
	}

	prior := in.Candles[:len(in.Candles)-1]
	resistance, ok := indicator.DonchianHigh(prior, s.DonchianLookback)
	if !ok {
		out.Signal = SignalHold
		return out
	}
	out.Rationale["resistance"] = resistance

	last := in.Candles[len(in.Candles)-1]
	// Failed breakout: price fell back below the level it broke out from,
	// or below the entry price.
	if last.Close < resistance || (in.CurrentPosition != nil && last.Close < in.CurrentPosition.EntryPrice) {
		out.Signal = SignalExit
		return out
	}

	out.Signal = SignalHold
	return out
}
