package policy

import (
	"fmt"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
)

// Rule names for the ordering checks that run before any condition.
const (
	RuleNonceMonotonicity = "nonce_monotonicity"
	RuleTemporalCausality = "temporal_causality"
)

// Policy is an ordered sequence of conditions plus the tier escalation table.
// Policies are configuration: loaded once, immutable during evaluation.
type Policy struct {
	Name       string
	Conditions []Condition
	Tiers      TierBreakpoints
}

// Engine evaluates candidates against a chain snapshot and a policy.
type Engine struct {
	skew time.Duration
}

// NewEngine creates an Engine with the given clock skew tolerance.
// Zero means the 500ms default.
func NewEngine(skew time.Duration) *Engine {
	if skew == 0 {
		skew = 500 * time.Millisecond
	}
	return &Engine{skew: skew}
}

// Evaluate decides whether a candidate may proceed. Pure: no hidden state,
// no I/O; it may run reentrantly across candidates as long as each call gets
// a consistent snapshot of its chain.
//
// The order is fixed: nonce monotonicity, then temporal causality, then the
// policy's conditions in declared order. The first failure halts evaluation;
// later conditions are not run and do not contribute to the reason.
//
// The risk tier is computed from the candidate's value regardless of which
// check fails, so a rejection still reports the tier the action would carry.
func (en *Engine) Evaluate(chain []*eventlog.Event, p *Policy, candidate *eventlog.Event) Decision {
	d := Decision{
		Compliant:       true,
		FailedCondition: -1,
		Tier:            p.Tiers.ForValue(candidate.Value),
		EvaluatedNonce:  candidate.Nonce,
	}

	if len(chain) > 0 {
		prev := chain[len(chain)-1]

		if candidate.Nonce <= prev.Nonce {
			d.Compliant = false
			d.Violation = &Violation{
				Rule:   RuleNonceMonotonicity,
				Reason: fmt.Sprintf("nonce %d is not greater than previous %d", candidate.Nonce, prev.Nonce),
			}
			return d
		}

		if bound := prev.Timestamp.Add(-en.skew); candidate.Timestamp.Before(bound) {
			d.Compliant = false
			d.Violation = &Violation{
				Rule: RuleTemporalCausality,
				Reason: fmt.Sprintf("timestamp %s predates previous event by more than %s",
					candidate.Timestamp.Format(time.RFC3339Nano), en.skew),
			}
			return d
		}
	}

	for i, cond := range p.Conditions {
		if v := cond.Evaluate(chain, candidate); v != nil {
			d.Compliant = false
			d.Violation = v
			d.FailedCondition = i
			return d
		}
	}

	return d
}
