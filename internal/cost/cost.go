// Package cost estimates the all-in execution cost of a candidate trade:
// exchange fee, spread cost, and order-book slippage. Money math uses
// decimal.Decimal throughout so costs never accumulate binary float error.
package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/strategy"
)

// OrderType distinguishes the fee/spread treatment of the entry order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Side is the direction of the walk against the book.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fees configures the exchange's taker/maker schedule, in basis points.
type Fees struct {
	TakerBps decimal.Decimal
	MakerBps decimal.Decimal
}

// ErrInsufficientLiquidity is returned when the book cannot fill the
// requested quantity in full; callers surface this as a gate.liquidity
// rejection and abort the entry attempt.
type ErrInsufficientLiquidity struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *ErrInsufficientLiquidity) Error() string {
	return fmt.Sprintf("cost: insufficient liquidity for %s: requested %s, book had %s", e.Symbol, e.Requested, e.Available)
}

// Breakdown is the complete, unrounded cost estimate for one candidate fill.
type Breakdown struct {
	Notional    decimal.Decimal
	Fee         decimal.Decimal
	SpreadCost  decimal.Decimal
	SlippageUSD decimal.Decimal
	AvgFillPrice decimal.Decimal
	BestPrice   decimal.Decimal
	Total       decimal.Decimal
}

var ten000 = decimal.NewFromInt(10000)

// Estimate walks the given side of the book to fill qty, then computes fee,
// spread cost, and slippage against it. side selects bids (SELL/exit) or
// asks (BUY/entry) of the book.
func Estimate(symbol string, book strategy.OrderBookSnapshot, side Side, orderType OrderType, qty decimal.Decimal, spreadBps decimal.Decimal, fees Fees) (Breakdown, error) {
	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return Breakdown{}, &ErrInsufficientLiquidity{Symbol: symbol, Requested: qty, Available: decimal.Zero}
	}

	bestPrice := decimal.NewFromFloat(levels[0].Price)
	remaining := qty
	var filledNotional decimal.Decimal
	var filledQty decimal.Decimal

	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		price := decimal.NewFromFloat(lvl.Price)
		size := decimal.NewFromFloat(lvl.Size)
		take := size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		filledNotional = filledNotional.Add(price.Mul(take))
		filledQty = filledQty.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return Breakdown{}, &ErrInsufficientLiquidity{Symbol: symbol, Requested: qty, Available: filledQty}
	}

	avgFill := filledNotional.Div(qty)
	notional := avgFill.Mul(qty)

	feeBps := fees.TakerBps
	spreadFactor := decimal.NewFromInt(1)
	if orderType == OrderTypeLimit {
		feeBps = fees.MakerBps
		spreadFactor = decimal.NewFromFloat(0.5)
	}
	fee := notional.Mul(feeBps).Div(ten000)
	spreadCost := notional.Mul(spreadBps).Div(ten000).Mul(spreadFactor)

	slippage := avgFill.Sub(bestPrice).Abs().Mul(qty)

	total := fee.Add(spreadCost).Add(slippage)

	return Breakdown{
		Notional:     notional,
		Fee:          fee,
		SpreadCost:   spreadCost,
		SlippageUSD:  slippage,
		AvgFillPrice: avgFill,
		BestPrice:    bestPrice,
		Total:        total,
	}, nil
}
