// Package marketdata - binance.go implements CandleProvider against a
// Binance-compatible spot REST API.
//
// This is intentionally separate from the executor's exchange client:
// market data fetching is a data concern, not an execution concern.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quantspot/engine/internal/indicator"
)

const (
	binanceRateLimitInterval = 110 * time.Millisecond
	binanceMaxKlines         = 1000
)

// BinanceConfig configures the REST candle provider.
type BinanceConfig struct {
	BaseURL  string
	Interval string // e.g. "1m", "5m", "1h"
}

// BinanceCandleProvider fetches kline data from a Binance-compatible
// /api/v3/klines endpoint.
type BinanceCandleProvider struct {
	cfg    BinanceConfig
	client *http.Client

	rateMu      sync.Mutex
	lastRequest time.Time
}

// NewBinanceCandleProvider creates a provider against cfg.BaseURL. An
// empty BaseURL defaults to the public Binance spot API, and an empty
// Interval defaults to 1-minute candles.
func NewBinanceCandleProvider(cfg BinanceConfig) *BinanceCandleProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &BinanceCandleProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *BinanceCandleProvider) throttle() {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()
	if elapsed := time.Since(p.lastRequest); elapsed < binanceRateLimitInterval {
		time.Sleep(binanceRateLimitInterval - elapsed)
	}
	p.lastRequest = time.Now()
}

// klineEntry mirrors one row of Binance's kline array-of-arrays response.
// Only the fields used here are decoded; the rest are discarded via
// json.RawMessage passthrough in the raw slice.
type klineEntry [12]json.RawMessage

// FetchCandles implements CandleProvider with a single request, so it
// returns at most binanceMaxKlines candles from the start of the range;
// later candles in the range are not fetched.
func (p *BinanceCandleProvider) FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]indicator.Candle, error) {
	binanceSymbol := toBinanceSymbol(symbol)
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
		p.cfg.BaseURL, binanceSymbol, p.cfg.Interval, from.UnixMilli(), to.UnixMilli(), binanceMaxKlines)

	p.throttle()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: fetch klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketdata: binance returned status %d", resp.StatusCode)
	}

	var rows []klineEntry
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("marketdata: decode klines: %w", err)
	}

	candles := make([]indicator.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return candles, fmt.Errorf("marketdata: parse kline: %w", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(row klineEntry) (indicator.Candle, error) {
	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return indicator.Candle{}, err
	}
	open, err := parseQuotedFloat(row[1])
	if err != nil {
		return indicator.Candle{}, err
	}
	high, err := parseQuotedFloat(row[2])
	if err != nil {
		return indicator.Candle{}, err
	}
	low, err := parseQuotedFloat(row[3])
	if err != nil {
		return indicator.Candle{}, err
	}
	close, err := parseQuotedFloat(row[4])
	if err != nil {
		return indicator.Candle{}, err
	}
	volume, err := parseQuotedFloat(row[5])
	if err != nil {
		return indicator.Candle{}, err
	}

	return indicator.Candle{
		TimestampUnix: openTimeMs / 1000,
		Open:          open,
		High:          high,
		Low:           low,
		Close:         close,
		Volume:        volume,
	}, nil
}

func parseQuotedFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// toBinanceSymbol converts an internal "BTC-USDT" style symbol to
// Binance's concatenated "BTCUSDT" form.
func toBinanceSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '-' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}
