package strategy

import "github.com/quantspot/engine/internal/indicator"

// MeanReversion buys dips to the lower Bollinger band when RSI confirms
// oversold and ADX confirms the market is NOT trending (reversion only
// works when price oscillates around the mean). Confidence scales with
// RSI depth below oversold and distance below the band.
type MeanReversion struct {
	BollingerPeriod int
	BollingerWidth  float64
	RSIPeriod       int
	RSIOversold     float64
	RSIOverbought   float64
	MaxADX          float64
	ADXPeriod       int
	StopATRMult     float64
	ATRPeriod       int
}

// NewMeanReversion creates a MeanReversion strategy with sensible defaults.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{
		BollingerPeriod: 20,
		BollingerWidth:  2.0,
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		MaxADX:          20,
		ADXPeriod:       14,
		StopATRMult:     1.5,
		ATRPeriod:       14,
	}
}

func (s *MeanReversion) ID() string   { return "mean_reversion_v1" }
func (s *MeanReversion) Name() string { return "Mean Reversion" }

func (s *MeanReversion) Evaluate(in Input) Output {
	if in.CurrentPosition != nil {
		return s.evaluateExit(in)
	}
	return s.evaluateEntry(in)
}

func (s *MeanReversion) evaluateEntry(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	mid, _, lower, okBB := indicator.BollingerBands(in.Candles, s.BollingerPeriod, s.BollingerWidth)
	rsi, okRSI := indicator.RSI(in.Candles, s.RSIPeriod)
	adx, okADX := indicator.ADX(in.Candles, s.ADXPeriod)
	atr, okATR := indicator.ATR(in.Candles, s.ATRPeriod)
	if !okBB || !okRSI || !okADX || !okATR {
		return out
	}

	out.Rationale["bollinger_mid"] = mid
	out.Rationale["bollinger_lower"] = lower
	out.Rationale["rsi"] = rsi
	out.Rationale["adx"] = adx

	last := in.Candles[len(in.Candles)-1]

	// "Touches the lower band": close at or below it.
	if last.Close > lower || rsi >= s.RSIOversold || adx >= s.MaxADX {
		return out
	}

	entry := last.Close
	stop := entry - atr*s.StopATRMult
	if stop >= entry {
		return out
	}
	takeProfit := mid // reversion target is the mean

	rsiDepth := clamp01((s.RSIOversold - rsi) / s.RSIOversold)
	bandDistance := clamp01((lower - entry) / lower * 20)
	confidence := clamp01(0.6*rsiDepth + 0.4*bandDistance)

	out.Signal = SignalEnterLong
	out.Confidence = confidence
	out.SuggestedEntry = entry
	out.SuggestedStop = stop
	out.SuggestedTP = takeProfit
	out.Rationale["confidence"] = confidence
	return out
}

func (s *MeanReversion) evaluateExit(in Input) Output {
	out := noTrade(s.ID(), in.Symbol)
	out.TimeframesUsed = []string{"base"}

	mid, _, _, okBB := indicator.BollingerBands(in.Candles, s.BollingerPeriod, s.BollingerWidth)
	rsi, okRSI := indicator.RSI(in.Candles, s.RSIPeriod)
	if !okBB || !okRSI {
		out.Signal = SignalHold
		return out
	}

	out.Rationale["bollinger_mid"] = mid
	out.Rationale["rsi"] = rsi

	last := in.Candles[len(in.Candles)-1]
	if last.Close >= mid || rsi >= s.RSIOverbought {
		out.Signal = SignalExit
		return out
	}

	out.Signal = SignalHold
	return out
}
