// Package indicator provides stateless technical indicator calculations
// over finite candle series.
//
// Every function here is a pure function of its input slice: identical
// input produces identical output, no hidden state, no I/O. Functions
// that need more history than they were given return ok=false rather
// than guessing or returning NaN — callers treat that as insufficient-data
// and fall back to NO_TRADE in the calling strategy.
package indicator

import "math"

// Candle is the OHLCV bar type shared by the indicator and strategy layers.
type Candle struct {
	TimestampUnix int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EMA computes the exponential moving average series using k = 2/(n+1).
// The first n-1 entries are insufficient-data (ok=false); EMA seeds from
// the simple average of the first n closes.
func EMA(candles []Candle, n int) (series []float64, ok []bool) {
	series = make([]float64, len(candles))
	ok = make([]bool, len(candles))
	if n <= 0 || len(candles) < n {
		return series, ok
	}

	k := 2.0 / (float64(n) + 1.0)

	var seed float64
	for i := 0; i < n; i++ {
		seed += candles[i].Close
	}
	seed /= float64(n)
	series[n-1] = seed
	ok[n-1] = finite(seed)

	prev := seed
	for i := n; i < len(candles); i++ {
		v := candles[i].Close*k + prev*(1-k)
		series[i] = v
		ok[i] = finite(v)
		prev = v
	}
	return series, ok
}

// LastEMA returns the final EMA value for the series, or ok=false if the
// window is shorter than n.
func LastEMA(candles []Candle, n int) (float64, bool) {
	series, ok := EMA(candles, n)
	if len(series) == 0 {
		return 0, false
	}
	last := len(series) - 1
	return series[last], ok[last]
}

// SMA returns the simple moving average of the last n closes.
func SMA(candles []Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n {
		return 0, false
	}
	var sum float64
	for i := len(candles) - n; i < len(candles); i++ {
		sum += candles[i].Close
	}
	v := sum / float64(n)
	return v, finite(v)
}

// StdDev returns the sample standard deviation of the last n closes
// around their mean.
func StdDev(candles []Candle, n int) (float64, bool) {
	if n <= 1 || len(candles) < n {
		return 0, false
	}
	mean, ok := SMA(candles, n)
	if !ok {
		return 0, false
	}
	var sumSq float64
	for i := len(candles) - n; i < len(candles); i++ {
		d := candles[i].Close - mean
		sumSq += d * d
	}
	v := math.Sqrt(sumSq / float64(n-1))
	return v, finite(v)
}

// trueRange computes the true range of candle i given candle i-1.
func trueRange(curr, prev Candle) float64 {
	tr1 := curr.High - curr.Low
	tr2 := math.Abs(curr.High - prev.Close)
	tr3 := math.Abs(curr.Low - prev.Close)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// ATR computes the Wilder-smoothed Average True Range over period.
// Requires period+1 candles (the extra candle supplies the seed's
// previous close).
func ATR(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var seed float64
	for i := 1; i <= period; i++ {
		seed += trueRange(candles[i], candles[i-1])
	}
	atr := seed / float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, finite(atr)
}

// RSI computes the Wilder-smoothed Relative Strength Index over period,
// in [0, 100].
func RSI(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return v, finite(v)
}

// ADX computes the Wilder-smoothed Average Directional Index over period.
// Requires 2*period+1 candles for the smoothed series to stabilize.
func ADX(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < 2*period+1 {
		return 0, false
	}

	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	// Wilder-smoothed sums, seeded over the first `period` values.
	var smoothTR, smoothPlusDM, smoothMinusDM float64
	for i := 1; i <= period; i++ {
		smoothTR += tr[i]
		smoothPlusDM += plusDM[i]
		smoothMinusDM += minusDM[i]
	}

	dxValues := make([]float64, 0, n)
	for i := period + 1; i < n; i++ {
		smoothTR = smoothTR - (smoothTR / float64(period)) + tr[i]
		smoothPlusDM = smoothPlusDM - (smoothPlusDM / float64(period)) + plusDM[i]
		smoothMinusDM = smoothMinusDM - (smoothMinusDM / float64(period)) + minusDM[i]

		if smoothTR == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM / smoothTR
		minusDI := 100 * smoothMinusDM / smoothTR
		sumDI := plusDI + minusDI
		if sumDI == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / sumDI
		dxValues = append(dxValues, dx)
	}

	if len(dxValues) < period {
		return 0, false
	}

	var adx float64
	for i := 0; i < period; i++ {
		adx += dxValues[i]
	}
	adx /= float64(period)
	for i := period; i < len(dxValues); i++ {
		adx = (adx*float64(period-1) + dxValues[i]) / float64(period)
	}
	return adx, finite(adx)
}

// BollingerBands returns the middle (SMA), upper, and lower bands using
// `width` sample standard deviations.
func BollingerBands(candles []Candle, period int, width float64) (mid, upper, lower float64, ok bool) {
	sma, okSMA := SMA(candles, period)
	sd, okSD := StdDev(candles, period)
	if !okSMA || !okSD {
		return 0, 0, 0, false
	}
	upper = sma + width*sd
	lower = sma - width*sd
	return sma, upper, lower, finite(upper) && finite(lower)
}

// DonchianHigh returns the highest high over the last `period` candles.
func DonchianHigh(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	highest := candles[start].High
	for i := start + 1; i < len(candles); i++ {
		if candles[i].High > highest {
			highest = candles[i].High
		}
	}
	return highest, finite(highest)
}

// DonchianLow returns the lowest low over the last `period` candles.
func DonchianLow(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	lowest := candles[start].Low
	for i := start + 1; i < len(candles); i++ {
		if candles[i].Low < lowest {
			lowest = candles[i].Low
		}
	}
	return lowest, finite(lowest)
}

// VWAP computes the volume-weighted average price over the last `period`
// candles using typical price (H+L+C)/3.
func VWAP(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	var pvSum, volSum float64
	for i := start; i < len(candles); i++ {
		typical := (candles[i].High + candles[i].Low + candles[i].Close) / 3
		pvSum += typical * candles[i].Volume
		volSum += candles[i].Volume
	}
	if volSum <= 0 {
		return 0, false
	}
	v := pvSum / volSum
	return v, finite(v)
}

// MACD returns the MACD line, signal line, and histogram using the
// standard fast/slow/signal EMA periods.
func MACD(candles []Candle, fast, slow, signal int) (macdLine, signalLine, histogram float64, ok bool) {
	if len(candles) < slow+signal {
		return 0, 0, 0, false
	}

	fastSeries, fastOK := EMA(candles, fast)
	slowSeries, slowOK := EMA(candles, slow)

	macdSeries := make([]Candle, 0, len(candles))
	for i := 0; i < len(candles); i++ {
		if !fastOK[i] || !slowOK[i] {
			continue
		}
		macdSeries = append(macdSeries, Candle{Close: fastSeries[i] - slowSeries[i]})
	}
	if len(macdSeries) < signal {
		return 0, 0, 0, false
	}

	signalSeries, signalOK := EMA(macdSeries, signal)
	last := len(macdSeries) - 1
	if !signalOK[last] {
		return 0, 0, 0, false
	}

	macdLine = macdSeries[last].Close
	signalLine = signalSeries[last]
	histogram = macdLine - signalLine
	return macdLine, signalLine, histogram, finite(macdLine) && finite(signalLine)
}

// OBV computes the On-Balance Volume accumulator over the whole series.
// Requires at least 2 candles.
func OBV(candles []Candle) (float64, bool) {
	if len(candles) < 2 {
		return 0, false
	}
	var obv float64
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
	}
	return obv, finite(obv)
}

// AverageVolume returns the mean volume over the last `period` candles.
func AverageVolume(candles []Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	v := sum / float64(period)
	return v, finite(v)
}
