// Package analytics computes performance metrics from closed trades.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 365 trading days — spot markets
//     never close)
//   - Profit factor (gross profits / gross losses)
//   - Average hold time, min/max hold duration
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of executor.Trade.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/quantspot/engine/internal/executor"
)

// tradingDaysPerYear annualizes the Sharpe ratio for a market that trades
// every calendar day, unlike the teacher's 252-session equity year.
const tradingDaysPerYear = 365

// PerformanceReport holds all computed performance metrics for one run
// (live, dry-run, or backtest) of closed trades.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	TotalPnL    float64
	AveragePnL  float64
	GrossProfit float64
	GrossLoss   float64

	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss

	AverageHoldTime time.Duration
	MaxHoldTime     time.Duration
	MinHoldTime     time.Duration
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	At       time.Time
	Equity   float64
	Drawdown float64
}

// Analyze computes the full performance report from a slice of closed
// trades. initialCapital is the starting equity. Returns an empty report
// (not nil) if no trades are provided. Trades must have Status ==
// executor.TradeStatusClosed; callers filter before calling Analyze.
func Analyze(trades []executor.Trade, initialCapital float64) *PerformanceReport {
	report := &PerformanceReport{}
	if len(trades) == 0 {
		return report
	}

	sorted := sortedByClose(trades)

	var totalHold time.Duration
	var pnls []float64
	report.MinHoldTime = time.Duration(math.MaxInt64)

	for _, t := range sorted {
		pnl := t.RealizedPnL.InexactFloat64()
		pnls = append(pnls, pnl)
		report.TotalTrades++
		report.TotalPnL += pnl

		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}

		hold := t.ClosedAt.Sub(t.OpenedAt)
		if hold < 0 {
			hold = 0
		}
		totalHold += hold
		if hold > report.MaxHoldTime {
			report.MaxHoldTime = hold
		}
		if hold < report.MinHoldTime {
			report.MinHoldTime = hold
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)
	report.AverageHoldTime = totalHold / time.Duration(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	report.SharpeRatio = computeSharpeRatio(pnls)
	return report
}

// EquityCurve generates the equity curve from trades sorted by close time.
func EquityCurve(trades []executor.Trade, initialCapital float64) []EquityCurvePoint {
	if len(trades) == 0 {
		return nil
	}
	sorted := sortedByClose(trades)

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sorted)+1)
	points = append(points, EquityCurvePoint{At: sorted[0].OpenedAt, Equity: equity})

	for _, t := range sorted {
		equity += t.RealizedPnL.InexactFloat64()
		if equity > peak {
			peak = equity
		}
		points = append(points, EquityCurvePoint{
			At:       t.ClosedAt,
			Equity:   equity,
			Drawdown: peak - equity,
		})
	}
	return points
}

// FormatReport returns a human-readable text summary of the performance
// report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "no closed trades to analyze"
	}

	var b strings.Builder
	b.WriteString("performance report\n")
	b.WriteString("-------------------\n")
	fmt.Fprintf(&b, "total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "losing trades:   %d\n\n", report.LosingTrades)

	fmt.Fprintf(&b, "total pnl:       %.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "average pnl:     %.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "gross profit:    %.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "gross loss:      %.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "profit factor:   %.2f\n\n", report.ProfitFactor)

	fmt.Fprintf(&b, "max drawdown:    %.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "sharpe ratio:    %.2f\n\n", report.SharpeRatio)

	fmt.Fprintf(&b, "avg hold time:   %s\n", report.AverageHoldTime.Round(time.Minute))
	fmt.Fprintf(&b, "min hold time:   %s\n", report.MinHoldTime.Round(time.Minute))
	fmt.Fprintf(&b, "max hold time:   %s\n", report.MaxHoldTime.Round(time.Minute))

	return b.String()
}

func sortedByClose(trades []executor.Trade) []executor.Trade {
	sorted := make([]executor.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })
	return sorted
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a slice
// of per-trade P&L values, assuming a zero risk-free rate.
func computeSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	return (mean / stdDev) * math.Sqrt(tradingDaysPerYear)
}
