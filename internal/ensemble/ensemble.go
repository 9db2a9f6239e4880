// Package ensemble combines the votes of several strategies into a single
// decision for a symbol.
//
// Design rules:
//   - The combiner is a pure function of its inputs — no state, no I/O.
//   - ENTER_LONG requires at least MinAgreement confident votes; a single
//     strategy is enough only when MinAgreement is 1.
//   - EXIT is fail-safe: any one strategy voting EXIT is enough to leave a
//     position, since the cost of staying in too long outweighs the cost
//     of leaving too early.
package ensemble

import (
	"fmt"

	"github.com/quantspot/engine/internal/strategy"
)

// Action is the combiner's verdict for one symbol at one tick.
type Action string

const (
	ActionEnterLong Action = "ENTER_LONG"
	ActionHold      Action = "HOLD"
	ActionExit      Action = "EXIT"
	ActionNoTrade   Action = "NO_TRADE"
)

// Vote records one strategy's contribution to a Decision, and whether it
// qualified toward the agreement count.
type Vote struct {
	StrategyID string
	Signal     strategy.Signal
	Confidence float64
	Qualified  bool
}

// Decision is the ensemble's output for one symbol at one tick.
type Decision struct {
	Symbol             string
	Action             Action
	AgreeingStrategies []string
	AggregateConfidence float64
	Votes              []Vote
	Rationale          map[string]any
}

// Params configures the combiner. MinAgreement and ConfidenceThreshold are
// read from the active config snapshot.
type Params struct {
	MinAgreement        int
	ConfidenceThreshold float64
}

// Combine applies Params to a symbol's strategy outputs for one tick.
// inPosition reflects whether the symbol currently has an open position,
// which governs whether the "nothing qualifies" fallback is HOLD or NO_TRADE.
func Combine(symbol string, outputs []strategy.Output, params Params, inPosition bool) (Decision, error) {
	if params.MinAgreement < 1 {
		return Decision{}, fmt.Errorf("ensemble: min_agreement must be >= 1, got %d", params.MinAgreement)
	}
	if params.ConfidenceThreshold < 0 || params.ConfidenceThreshold > 1 {
		return Decision{}, fmt.Errorf("ensemble: confidence_threshold must be in [0,1], got %v", params.ConfidenceThreshold)
	}

	votes := make([]Vote, 0, len(outputs))
	var agreeing []string
	var confidenceSum float64
	exitVotes := 0

	for _, o := range outputs {
		v := Vote{StrategyID: o.StrategyID, Signal: o.Signal, Confidence: o.Confidence}
		if o.Signal == strategy.SignalEnterLong && o.Confidence >= params.ConfidenceThreshold {
			v.Qualified = true
			agreeing = append(agreeing, o.StrategyID)
			confidenceSum += o.Confidence
		}
		if o.Signal == strategy.SignalExit {
			exitVotes++
		}
		votes = append(votes, v)
	}

	d := Decision{
		Symbol:    symbol,
		Votes:     votes,
		Rationale: map[string]any{"min_agreement": params.MinAgreement, "confidence_threshold": params.ConfidenceThreshold},
	}

	if inPosition {
		if exitVotes >= 1 {
			d.Action = ActionExit
			d.Rationale["exit_votes"] = exitVotes
			return d, nil
		}
		d.Action = ActionHold
		return d, nil
	}

	if len(agreeing) >= params.MinAgreement {
		d.Action = ActionEnterLong
		d.AgreeingStrategies = agreeing
		d.AggregateConfidence = confidenceSum / float64(len(agreeing))
		return d, nil
	}

	d.Action = ActionNoTrade
	return d, nil
}
