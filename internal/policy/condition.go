package policy

import (
	"fmt"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
)

// Condition is one deterministic behavioral rule. Conditions are data:
// evaluation dispatches through this single entry point, so new kinds can be
// added without touching the engine's control flow.
//
// Evaluate returns nil on pass, or a *Violation describing the failure.
// chain is the candidate's scope history in append order, excluding the
// candidate itself.
type Condition interface {
	Name() string
	Evaluate(chain []*eventlog.Event, candidate *eventlog.Event) *Violation
}

// MaxDailyOutflow caps the cumulative value of signature requests within a
// rolling window ending at the candidate's timestamp.
type MaxDailyOutflow struct {
	Cap uint64
	// Window is the half-open rolling window (T_candidate − Window, T_candidate].
	// Defaults to 24h.
	Window time.Duration
	// NominalValue is charged for signature requests that carry no explicit
	// valuation. Defaults to 1000 USD, matching the verifier's conservative
	// weighting of unvalued requests.
	NominalValue uint64
}

// Name implements Condition.
func (c *MaxDailyOutflow) Name() string { return "max_daily_outflow" }

// Evaluate implements Condition.
func (c *MaxDailyOutflow) Evaluate(chain []*eventlog.Event, candidate *eventlog.Event) *Violation {
	window := c.Window
	if window == 0 {
		window = 24 * time.Hour
	}
	nominal := c.NominalValue
	if nominal == 0 {
		nominal = 1000
	}

	weight := func(e *eventlog.Event) uint64 {
		if e.Value == 0 {
			return nominal
		}
		return e.Value
	}

	start := candidate.Timestamp.Add(-window)
	total := weight(candidate)
	for _, e := range chain {
		if e.Type != eventlog.TypeSignatureRequest {
			continue
		}
		// Half-open window: strictly after start, up to and including T_candidate.
		if e.Timestamp.After(start) && !e.Timestamp.After(candidate.Timestamp) {
			total += weight(e)
		}
	}

	if total > c.Cap {
		return &Violation{
			Rule:   c.Name(),
			Reason: fmt.Sprintf("cumulative outflow %d exceeds cap %d within %s window", total, c.Cap, window),
		}
	}
	return nil
}

// MinTimeBetweenActions requires a minimum gap since the most recent prior
// event of a given type. Trivially passes when no prior event of that type exists.
type MinTimeBetweenActions struct {
	Type   eventlog.EventType
	MinGap time.Duration
}

// Name implements Condition.
func (c *MinTimeBetweenActions) Name() string { return "min_time_between_actions" }

// Evaluate implements Condition.
func (c *MinTimeBetweenActions) Evaluate(chain []*eventlog.Event, candidate *eventlog.Event) *Violation {
	var last *eventlog.Event
	for _, e := range chain {
		if e.Type == c.Type {
			last = e
		}
	}
	if last == nil {
		return nil
	}

	if gap := candidate.Timestamp.Sub(last.Timestamp); gap < c.MinGap {
		return &Violation{
			Rule:   c.Name(),
			Reason: fmt.Sprintf("only %s since last %s, minimum is %s", gap, c.Type, c.MinGap),
		}
	}
	return nil
}

// NoConcurrentRequests rejects cross-type bursts: any event of a different
// type than the candidate inside the open window (T_candidate − Window,
// T_candidate) is treated as suspicious concurrency.
type NoConcurrentRequests struct {
	Window time.Duration
}

// Name implements Condition.
func (c *NoConcurrentRequests) Name() string { return "no_concurrent_requests" }

// Evaluate implements Condition.
func (c *NoConcurrentRequests) Evaluate(chain []*eventlog.Event, candidate *eventlog.Event) *Violation {
	start := candidate.Timestamp.Add(-c.Window)
	for _, e := range chain {
		if e.Type == candidate.Type {
			continue
		}
		if e.Timestamp.After(start) && e.Timestamp.Before(candidate.Timestamp) {
			return &Violation{
				Rule:   c.Name(),
				Reason: fmt.Sprintf("%s event at %s within %s concurrency window", e.Type, e.Timestamp.Format(time.RFC3339), c.Window),
			}
		}
	}
	return nil
}

// MinVerificationCount gates high-value candidates on accumulated
// verification history. The count is chain-wide, not windowed.
type MinVerificationCount struct {
	// ThresholdAmount is the candidate value (USD) at or above which the
	// condition applies; below it the condition trivially passes.
	ThresholdAmount uint64
	// Type is the event kind that counts as a verification.
	// Defaults to address verification.
	Type          eventlog.EventType
	RequiredCount int
}

// Name implements Condition.
func (c *MinVerificationCount) Name() string { return "min_verification_count" }

// Evaluate implements Condition.
func (c *MinVerificationCount) Evaluate(chain []*eventlog.Event, candidate *eventlog.Event) *Violation {
	if candidate.Value < c.ThresholdAmount {
		return nil
	}

	typ := c.Type
	if typ == "" {
		typ = eventlog.TypeAddressVerification
	}

	count := 0
	for _, e := range chain {
		if e.Type == typ {
			count++
		}
	}
	if count < c.RequiredCount {
		return &Violation{
			Rule:   c.Name(),
			Reason: fmt.Sprintf("%d %s events on record, %d required for value >= %d", count, typ, c.RequiredCount, c.ThresholdAmount),
		}
	}
	return nil
}
