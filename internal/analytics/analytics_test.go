package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/quantspot/engine/internal/executor"
	"github.com/shopspring/decimal"
)

func closedTrade(symbol string, pnl float64, opened, closed time.Time) executor.Trade {
	return executor.Trade{
		Symbol:      symbol,
		Status:      executor.TradeStatusClosed,
		RealizedPnL: decimal.NewFromFloat(pnl),
		OpenedAt:    opened,
		ClosedAt:    closed,
	}
}

func TestAnalyze_EmptyTradesReturnsZeroReport(t *testing.T) {
	report := Analyze(nil, 10000)
	if report == nil {
		t.Fatal("expected a non-nil empty report")
	}
	if report.TotalTrades != 0 {
		t.Errorf("expected 0 total trades, got %d", report.TotalTrades)
	}
}

func TestAnalyze_ComputesWinRateAndPnL(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []executor.Trade{
		closedTrade("BTC-USDT", 100, base, base.Add(time.Hour)),
		closedTrade("ETH-USDT", -50, base.Add(time.Hour), base.Add(2*time.Hour)),
		closedTrade("BTC-USDT", 200, base.Add(2*time.Hour), base.Add(5*time.Hour)),
	}

	report := Analyze(trades, 10000)

	if report.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 2 || report.LosingTrades != 1 {
		t.Errorf("expected 2 wins / 1 loss, got %d/%d", report.WinningTrades, report.LosingTrades)
	}
	if report.TotalPnL != 250 {
		t.Errorf("expected total pnl 250, got %.2f", report.TotalPnL)
	}
	wantWinRate := float64(2) / float64(3) * 100
	if report.WinRate != wantWinRate {
		t.Errorf("expected win rate %.4f, got %.4f", wantWinRate, report.WinRate)
	}
	if report.GrossProfit != 300 {
		t.Errorf("expected gross profit 300, got %.2f", report.GrossProfit)
	}
	if report.GrossLoss != 50 {
		t.Errorf("expected gross loss 50, got %.2f", report.GrossLoss)
	}
	wantProfitFactor := 300.0 / 50.0
	if report.ProfitFactor != wantProfitFactor {
		t.Errorf("expected profit factor %.2f, got %.2f", wantProfitFactor, report.ProfitFactor)
	}
}

func TestAnalyze_TracksMaxDrawdown(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []executor.Trade{
		closedTrade("BTC-USDT", 500, base, base.Add(time.Hour)),
		closedTrade("BTC-USDT", -300, base.Add(time.Hour), base.Add(2*time.Hour)),
		closedTrade("BTC-USDT", -100, base.Add(2*time.Hour), base.Add(3*time.Hour)),
	}

	report := Analyze(trades, 1000)

	if report.MaxDrawdown != 400 {
		t.Errorf("expected max drawdown 400, got %.2f", report.MaxDrawdown)
	}
}

func TestAnalyze_HoldTimeStats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []executor.Trade{
		closedTrade("BTC-USDT", 10, base, base.Add(30*time.Minute)),
		closedTrade("BTC-USDT", 10, base.Add(time.Hour), base.Add(time.Hour+3*time.Hour)),
	}

	report := Analyze(trades, 10000)

	if report.MinHoldTime != 30*time.Minute {
		t.Errorf("expected min hold 30m, got %v", report.MinHoldTime)
	}
	if report.MaxHoldTime != 3*time.Hour {
		t.Errorf("expected max hold 3h, got %v", report.MaxHoldTime)
	}
}

func TestEquityCurve_TracksRunningEquityAndDrawdown(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []executor.Trade{
		closedTrade("BTC-USDT", 100, base, base.Add(time.Hour)),
		closedTrade("BTC-USDT", -50, base.Add(time.Hour), base.Add(2*time.Hour)),
	}

	curve := EquityCurve(trades, 1000)

	if len(curve) != 3 {
		t.Fatalf("expected 3 curve points (initial + 2 trades), got %d", len(curve))
	}
	if curve[0].Equity != 1000 {
		t.Errorf("expected starting equity 1000, got %.2f", curve[0].Equity)
	}
	if curve[1].Equity != 1100 {
		t.Errorf("expected equity after first trade 1100, got %.2f", curve[1].Equity)
	}
	if curve[2].Equity != 1050 {
		t.Errorf("expected equity after second trade 1050, got %.2f", curve[2].Equity)
	}
	if curve[2].Drawdown != 50 {
		t.Errorf("expected drawdown 50 at final point, got %.2f", curve[2].Drawdown)
	}
}

func TestFormatReport_EmptyReport(t *testing.T) {
	out := FormatReport(&PerformanceReport{})
	if !strings.Contains(out, "no closed trades") {
		t.Errorf("expected empty-report message, got %q", out)
	}
}

func TestFormatReport_IncludesKeyMetrics(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []executor.Trade{
		closedTrade("BTC-USDT", 100, base, base.Add(time.Hour)),
	}
	report := Analyze(trades, 10000)

	out := FormatReport(report)
	for _, want := range []string{"total trades:", "winning trades:", "total pnl:", "sharpe ratio:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q, got:\n%s", want, out)
		}
	}
}
