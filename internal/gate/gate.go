// Package gate implements the profitability gate: a pure function that
// decides whether a candidate trade plan clears its minimum-profit bar
// once fees, spread, and slippage are accounted for.
package gate

import (
	"github.com/shopspring/decimal"

	"github.com/quantspot/engine/internal/cost"
)

// Plan is the candidate trade the gate evaluates. It never consults state
// beyond these fields and the config-derived MinProfitUSD threshold.
type Plan struct {
	Symbol     string
	Entry      decimal.Decimal
	TakeProfit decimal.Decimal
	Qty        decimal.Decimal
}

// Breakdown records every term of the expected-net calculation so a
// rejected or passed gate can be fully explained downstream.
type Breakdown struct {
	ExpectedGross decimal.Decimal
	Fee           decimal.Decimal
	SpreadCost    decimal.Decimal
	SlippageUSD   decimal.Decimal
	ExpectedNet   decimal.Decimal
	MinProfitUSD  decimal.Decimal
	Passed        bool
}

// Evaluate computes expected_net = expected_gross - fee - slippage - spread
// and passes iff expected_net >= minProfitUSD.
func Evaluate(plan Plan, costs cost.Breakdown, minProfitUSD decimal.Decimal) Breakdown {
	expectedGross := plan.TakeProfit.Sub(plan.Entry).Mul(plan.Qty)
	expectedNet := expectedGross.Sub(costs.Fee).Sub(costs.SlippageUSD).Sub(costs.SpreadCost)

	return Breakdown{
		ExpectedGross: expectedGross,
		Fee:           costs.Fee,
		SpreadCost:    costs.SpreadCost,
		SlippageUSD:   costs.SlippageUSD,
		ExpectedNet:   expectedNet,
		MinProfitUSD:  minProfitUSD,
		Passed:        expectedNet.GreaterThanOrEqual(minProfitUSD),
	}
}
