package indicator

import (
	"math"
	"testing"
)

func makeCandles(closes []float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{
			TimestampUnix: int64(i) * 60,
			Open:          c - 1,
			High:          c + 2,
			Low:           c - 2,
			Close:         c,
			Volume:        100000 + float64(i*1000),
		}
	}
	return candles
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestATR_InsufficientData(t *testing.T) {
	candles := makeCandles([]float64{100, 102, 104})
	_, ok := ATR(candles, 14)
	if ok {
		t.Error("expected insufficient-data for ATR with 3 candles and period 14")
	}
}

func TestATR_Basic(t *testing.T) {
	candles := makeCandles([]float64{
		100, 102, 104, 103, 105, 107, 106, 108, 110, 109,
		111, 113, 112, 114, 116, 115,
	})
	atr, ok := ATR(candles, 14)
	if !ok {
		t.Fatal("expected ok=true for 16 candles with period 14")
	}
	if atr <= 0 {
		t.Errorf("expected positive ATR, got %.4f", atr)
	}
}

func TestRSI_InsufficientData(t *testing.T) {
	candles := makeCandles([]float64{100, 102, 104})
	_, ok := RSI(candles, 14)
	if ok {
		t.Error("expected insufficient-data for RSI with 3 candles and period 14")
	}
}

func TestRSI_AllGains(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100 + float64(i)*2
	}
	candles := makeCandles(prices)
	rsi, ok := RSI(candles, 14)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if rsi < 95 {
		t.Errorf("expected RSI near 100 for all gains, got %.2f", rsi)
	}
}

func TestRSI_AllLosses(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 200 - float64(i)*2
	}
	candles := makeCandles(prices)
	rsi, ok := RSI(candles, 14)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if rsi > 5 {
		t.Errorf("expected RSI near 0 for all losses, got %.2f", rsi)
	}
}

func TestSMA_Basic(t *testing.T) {
	candles := makeCandles([]float64{10, 20, 30, 40, 50})
	sma, ok := SMA(candles, 5)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !almostEqual(sma, 30, 1e-9) {
		t.Errorf("expected SMA=30, got %.4f", sma)
	}
}

func TestSMA_InsufficientData(t *testing.T) {
	candles := makeCandles([]float64{10, 20})
	if _, ok := SMA(candles, 5); ok {
		t.Error("expected insufficient-data")
	}
}

func TestEMA_SeedsFromSMA(t *testing.T) {
	candles := makeCandles([]float64{10, 20, 30, 40, 50, 60})
	v, ok := LastEMA(candles, 3)
	if !ok {
		t.Fatal("expected ok=true")
	}
	// seed = SMA(10,20,30) = 20, k = 0.5: 30, 40, then 50.
	if !almostEqual(v, 50, 1e-9) {
		t.Errorf("expected EMA=50, got %.4f", v)
	}
}

func TestBollingerBands_Ordering(t *testing.T) {
	candles := makeCandles([]float64{
		100, 102, 98, 101, 99, 103, 97, 104, 96, 105,
		95, 106, 94, 107, 93, 108, 92, 109, 91, 110,
	})
	mid, upper, lower, ok := BollingerBands(candles, 20, 2.0)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !(lower < mid && mid < upper) {
		t.Errorf("expected lower < mid < upper, got lower=%.2f mid=%.2f upper=%.2f", lower, mid, upper)
	}
}

func TestDonchianHighLow(t *testing.T) {
	candles := makeCandles([]float64{10, 50, 20, 5, 30})
	high, ok := DonchianHigh(candles, 5)
	if !ok || high != 52 { // close+2 == high
		t.Errorf("expected high=52, got %.2f (ok=%v)", high, ok)
	}
	low, ok := DonchianLow(candles, 5)
	if !ok || low != 3 { // close-2 == low for the 5 value
		t.Errorf("expected low=3, got %.2f (ok=%v)", low, ok)
	}
}

func TestVWAP_NoVolume(t *testing.T) {
	candles := makeCandles([]float64{100, 101, 102})
	for i := range candles {
		candles[i].Volume = 0
	}
	if _, ok := VWAP(candles, 3); ok {
		t.Error("expected insufficient-data when volume sums to zero")
	}
}

func TestMACD_InsufficientData(t *testing.T) {
	candles := makeCandles([]float64{100, 101, 102})
	if _, _, _, ok := MACD(candles, 12, 26, 9); ok {
		t.Error("expected insufficient-data for short series")
	}
}

func TestOBV_Direction(t *testing.T) {
	candles := makeCandles([]float64{100, 105, 103, 108})
	obv, ok := OBV(candles)
	if !ok {
		t.Fatal("expected ok=true")
	}
	// up, down, up -> +vol2 -vol3 +vol4
	expected := candles[1].Volume - candles[2].Volume + candles[3].Volume
	if !almostEqual(obv, expected, 1e-6) {
		t.Errorf("expected OBV=%.2f, got %.2f", expected, obv)
	}
}

func TestADX_InsufficientData(t *testing.T) {
	candles := makeCandles([]float64{100, 101, 102})
	if _, ok := ADX(candles, 14); ok {
		t.Error("expected insufficient-data for short series")
	}
}

func TestNoNaNSurfaced(t *testing.T) {
	// A degenerate all-flat series must never surface NaN/Inf through RSI.
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	candles := makeCandles(flat)
	rsi, ok := RSI(candles, 14)
	if ok && math.IsNaN(rsi) {
		t.Error("RSI must never surface NaN")
	}
}
