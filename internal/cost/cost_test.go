package cost

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/strategy"
)

func bookWithAsks(levels ...strategy.PriceLevel) strategy.OrderBookSnapshot {
	return strategy.OrderBookSnapshot{Symbol: "BTC-USDT", Asks: levels}
}

func TestEstimate_SingleLevelFill(t *testing.T) {
	book := bookWithAsks(strategy.PriceLevel{Price: 100, Size: 10})
	fees := Fees{TakerBps: decimal.NewFromInt(10), MakerBps: decimal.NewFromInt(5)}

	b, err := Estimate("BTC-USDT", book, SideBuy, OrderTypeMarket, decimal.NewFromInt(2), decimal.NewFromInt(5), fees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.AvgFillPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected avg fill 100, got %s", b.AvgFillPrice)
	}
	if !b.SlippageUSD.IsZero() {
		t.Errorf("expected zero slippage for single-level fill within best price, got %s", b.SlippageUSD)
	}
	wantFee := decimal.NewFromInt(200).Mul(decimal.NewFromInt(10)).Div(ten000)
	if !b.Fee.Equal(wantFee) {
		t.Errorf("expected fee %s, got %s", wantFee, b.Fee)
	}
}

func TestEstimate_WalksMultipleLevelsForSlippage(t *testing.T) {
	book := bookWithAsks(
		strategy.PriceLevel{Price: 100, Size: 1},
		strategy.PriceLevel{Price: 101, Size: 5},
	)
	fees := Fees{TakerBps: decimal.NewFromInt(10), MakerBps: decimal.NewFromInt(5)}

	b, err := Estimate("BTC-USDT", book, SideBuy, OrderTypeMarket, decimal.NewFromInt(2), decimal.NewFromInt(5), fees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// avg fill = (100*1 + 101*1) / 2 = 100.5
	want := decimal.NewFromFloat(100.5)
	if !b.AvgFillPrice.Equal(want) {
		t.Errorf("expected avg fill %s, got %s", want, b.AvgFillPrice)
	}
	if b.SlippageUSD.IsZero() {
		t.Error("expected nonzero slippage when walking past best price")
	}
}

func TestEstimate_InsufficientDepthReturnsError(t *testing.T) {
	book := bookWithAsks(strategy.PriceLevel{Price: 100, Size: 1})
	fees := Fees{TakerBps: decimal.NewFromInt(10), MakerBps: decimal.NewFromInt(5)}

	_, err := Estimate("BTC-USDT", book, SideBuy, OrderTypeMarket, decimal.NewFromInt(5), decimal.NewFromInt(5), fees)
	if err == nil {
		t.Fatal("expected insufficient liquidity error")
	}
	var liqErr *ErrInsufficientLiquidity
	if !isInsufficientLiquidity(err, &liqErr) {
		t.Errorf("expected ErrInsufficientLiquidity, got %T", err)
	}
}

func isInsufficientLiquidity(err error, target **ErrInsufficientLiquidity) bool {
	e, ok := err.(*ErrInsufficientLiquidity)
	if ok {
		*target = e
	}
	return ok
}

func TestEstimate_LimitOrderHalvesSpreadAndUsesMakerFee(t *testing.T) {
	book := bookWithAsks(strategy.PriceLevel{Price: 100, Size: 10})
	fees := Fees{TakerBps: decimal.NewFromInt(10), MakerBps: decimal.NewFromInt(4)}

	market, _ := Estimate("BTC-USDT", book, SideBuy, OrderTypeMarket, decimal.NewFromInt(1), decimal.NewFromInt(8), fees)
	limit, _ := Estimate("BTC-USDT", book, SideBuy, OrderTypeLimit, decimal.NewFromInt(1), decimal.NewFromInt(8), fees)

	if !limit.SpreadCost.Equal(market.SpreadCost.Div(decimal.NewFromInt(2))) {
		t.Errorf("expected limit spread cost to be half of market, got limit=%s market=%s", limit.SpreadCost, market.SpreadCost)
	}
	if limit.Fee.GreaterThanOrEqual(market.Fee) {
		t.Errorf("expected maker fee below taker fee, got maker=%s taker=%s", limit.Fee, market.Fee)
	}
}

func TestEstimate_NoValueSilentlyClamped(t *testing.T) {
	book := bookWithAsks(strategy.PriceLevel{Price: 100, Size: 10})
	fees := Fees{TakerBps: decimal.NewFromInt(0), MakerBps: decimal.NewFromInt(0)}

	b, err := Estimate("BTC-USDT", book, SideBuy, OrderTypeMarket, decimal.NewFromInt(1), decimal.Zero, fees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Fee.IsZero() || !b.SpreadCost.IsZero() {
		t.Error("expected zero fee and spread with zero bps inputs, not a floor value")
	}
}
