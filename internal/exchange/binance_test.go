package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Binance, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := New(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL})
	return b, srv
}

func TestPlaceOrder_SnapsQtyAndPriceToFilters(t *testing.T) {
	var gotQty, gotPrice string
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/exchangeInfo":
			_, _ = w.Write([]byte(`{"symbols":[{"filters":[
				{"filterType":"LOT_SIZE","stepSize":"0.001"},
				{"filterType":"PRICE_FILTER","tickSize":"0.01"}
			]}]}`))
		case r.URL.Path == "/api/v3/order":
			_ = r.ParseForm()
			gotQty = r.Form.Get("quantity")
			gotPrice = r.Form.Get("price")
			_, _ = w.Write([]byte(`{"orderId":42,"status":"NEW"}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	})

	id, status, err := b.PlaceOrder(context.Background(), "idem-1", "BTC-USDT", "buy", "limit",
		decimal.NewFromFloat(100.005), decimal.NewFromFloat(0.12345))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "42" {
		t.Errorf("expected exchange order id 42, got %s", id)
	}
	if status != "PLACED" {
		t.Errorf("expected PLACED, got %s", status)
	}
	if gotQty != "0.123" {
		t.Errorf("expected quantity snapped to 0.123, got %s", gotQty)
	}
	if gotPrice != "100" {
		t.Errorf("expected price snapped to 100, got %s", gotPrice)
	}
}

func TestPlaceOrder_RejectsQtyThatSnapsToZero(t *testing.T) {
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"filters":[{"filterType":"LOT_SIZE","stepSize":"1"}]}]}`))
	})

	_, _, err := b.PlaceOrder(context.Background(), "idem-2", "BTC-USDT", "buy", "limit",
		decimal.NewFromFloat(100), decimal.NewFromFloat(0.4))
	if err == nil {
		t.Fatal("expected error when quantity snaps to zero")
	}
}

func TestEnsureSymbol_CachesAcrossCalls(t *testing.T) {
	calls := 0
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"symbols":[{"filters":[{"filterType":"LOT_SIZE","stepSize":"0.01"}]}]}`))
	})

	ctx := context.Background()
	if _, err := b.ensureSymbol(ctx, "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := b.ensureSymbol(ctx, "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exchangeInfo fetched once, got %d calls", calls)
	}
}

func TestCancelOrder_SendsOrderID(t *testing.T) {
	var gotMethod, gotOrderID string
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotOrderID = r.URL.Query().Get("orderId")
		_, _ = w.Write([]byte(`{}`))
	})

	if err := b.CancelOrder(context.Background(), "99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", gotMethod)
	}
	if gotOrderID != "99" {
		t.Errorf("expected orderId=99, got %s", gotOrderID)
	}
}

func TestOpenPositions_FiltersZeroBalances(t *testing.T) {
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"balances": []map[string]string{
				{"asset": "BTC", "free": "0.5", "locked": "0"},
				{"asset": "USDT", "free": "0", "locked": "0"},
				{"asset": "ETH", "free": "1", "locked": "0.5"},
			},
		}
		body, _ := json.Marshal(resp)
		_, _ = w.Write(body)
	})

	positions, err := b.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 non-zero positions, got %d: %+v", len(positions), positions)
	}
	if !positions["ETH"].Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("expected ETH position 1.5 (free+locked), got %s", positions["ETH"])
	}
}

func TestOrderStatusByIdempotencyKey_NotFoundReturnsFalse(t *testing.T) {
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, _, found, err := b.OrderStatusByIdempotencyKey(context.Background(), "missing-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false when lookup fails")
	}
}

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]string{
		"FILLED":           "FILLED",
		"CANCELED":         "CANCELLED",
		"NEW":              "PLACED",
		"PARTIALLY_FILLED": "PLACED",
		"REJECTED":         "CANCELLED",
	}
	for in, want := range cases {
		if got := string(mapOrderStatus(in)); got != want {
			t.Errorf("mapOrderStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
