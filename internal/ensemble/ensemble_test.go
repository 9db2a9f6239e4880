package ensemble

import (
	"testing"

	"github.com/quantspot/engine/internal/strategy"
)

func output(id string, sig strategy.Signal, conf float64) strategy.Output {
	return strategy.Output{StrategyID: id, Signal: sig, Confidence: conf, Rationale: map[string]float64{}}
}

func TestCombine_EntersOnQuorum(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalEnterLong, 0.8),
		output("breakout_v1", strategy.SignalEnterLong, 0.7),
		output("mean_reversion_v1", strategy.SignalNoTrade, 0),
	}
	d, err := Combine("BTC-USDT", outputs, Params{MinAgreement: 2, ConfidenceThreshold: 0.6}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionEnterLong {
		t.Fatalf("expected ENTER_LONG, got %s", d.Action)
	}
	if len(d.AgreeingStrategies) != 2 {
		t.Errorf("expected 2 agreeing strategies, got %d", len(d.AgreeingStrategies))
	}
	want := (0.8 + 0.7) / 2
	if d.AggregateConfidence != want {
		t.Errorf("expected aggregate confidence %v, got %v", want, d.AggregateConfidence)
	}
}

func TestCombine_NoTradeBelowQuorum(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalEnterLong, 0.8),
		output("breakout_v1", strategy.SignalNoTrade, 0),
		output("mean_reversion_v1", strategy.SignalNoTrade, 0),
	}
	d, err := Combine("BTC-USDT", outputs, Params{MinAgreement: 2, ConfidenceThreshold: 0.6}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionNoTrade {
		t.Errorf("expected NO_TRADE, got %s", d.Action)
	}
}

func TestCombine_LowConfidenceDoesNotQualify(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalEnterLong, 0.5),
		output("breakout_v1", strategy.SignalEnterLong, 0.55),
	}
	d, err := Combine("BTC-USDT", outputs, Params{MinAgreement: 2, ConfidenceThreshold: 0.6}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionNoTrade {
		t.Errorf("expected NO_TRADE when confidence below threshold, got %s", d.Action)
	}
}

func TestCombine_ExitsOnSingleVoteWhenInPosition(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalHold, 0),
		output("breakout_v1", strategy.SignalExit, 0),
	}
	d, err := Combine("BTC-USDT", outputs, Params{MinAgreement: 2, ConfidenceThreshold: 0.6}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionExit {
		t.Errorf("expected EXIT, got %s", d.Action)
	}
}

func TestCombine_HoldsWhenInPositionAndNoExitVotes(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalHold, 0),
		output("breakout_v1", strategy.SignalEnterLong, 0.9),
	}
	d, err := Combine("BTC-USDT", outputs, Params{MinAgreement: 1, ConfidenceThreshold: 0.6}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action != ActionHold {
		t.Errorf("expected HOLD while in position with no exit votes, got %s", d.Action)
	}
}

func TestCombine_RejectsInvalidParams(t *testing.T) {
	if _, err := Combine("BTC-USDT", nil, Params{MinAgreement: 0, ConfidenceThreshold: 0.5}, false); err == nil {
		t.Error("expected error for min_agreement < 1")
	}
	if _, err := Combine("BTC-USDT", nil, Params{MinAgreement: 1, ConfidenceThreshold: 1.5}, false); err == nil {
		t.Error("expected error for confidence_threshold out of range")
	}
}

func TestCombine_InvariantEnterLongImpliesQuorum(t *testing.T) {
	outputs := []strategy.Output{
		output("trend_v1", strategy.SignalEnterLong, 0.9),
		output("breakout_v1", strategy.SignalEnterLong, 0.9),
		output("mean_reversion_v1", strategy.SignalEnterLong, 0.9),
	}
	params := Params{MinAgreement: 2, ConfidenceThreshold: 0.6}
	d, err := Combine("BTC-USDT", outputs, params, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Action == ActionEnterLong && len(d.AgreeingStrategies) < params.MinAgreement {
		t.Error("invariant violated: ENTER_LONG without quorum")
	}
}
