// Package policy implements the Behavioral Policy Engine. Evaluation is a
// pure function of (chain snapshot, policy, candidate): same inputs always
// yield the same decision, which is what makes every rejection reproducible
// for audit.
package policy

// RiskTier is a coarse classification of an action's required trust level.
// Higher tiers demand more independent validator signatures.
type RiskTier int

const (
	TierLow RiskTier = iota
	TierMedium
	TierHigh
)

// String returns the lowercase tier label used in API responses and logs.
func (t RiskTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// TierBreakpoints maps a candidate's monetary value to a baseline risk tier.
// Injected at startup; immutable during evaluation.
type TierBreakpoints struct {
	// LowMax is the exclusive upper bound of the low tier in USD.
	LowMax uint64
	// HighMin is the inclusive lower bound of the high tier in USD. At or
	// above it the tier is High regardless of condition outcomes.
	HighMin uint64
}

// DefaultBreakpoints: below $100 → Low, $100–$1,000 → Medium, ≥$1,000 → High.
var DefaultBreakpoints = TierBreakpoints{LowMax: 100, HighMin: 1000}

// ForValue returns the value-derived baseline tier.
func (b TierBreakpoints) ForValue(value uint64) RiskTier {
	switch {
	case value >= b.HighMin:
		return TierHigh
	case value >= b.LowMax:
		return TierMedium
	default:
		return TierLow
	}
}

// Violation is the user-visible reason a candidate failed evaluation.
// It is deterministic given the same chain snapshot.
type Violation struct {
	// Rule is the failing condition name, or "nonce_monotonicity"/"temporal_causality".
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// Error implements error.
func (v *Violation) Error() string {
	return v.Rule + ": " + v.Reason
}

// Decision is the outcome of one evaluation. Produced fresh per evaluation,
// never mutated, consumed once by the orchestrator.
type Decision struct {
	Compliant bool       `json:"compliant"`
	Violation *Violation `json:"violation,omitempty"`

	// FailedCondition is the index of the first failing condition in the
	// policy's declared order, or -1 (including ordering failures, which run
	// before any condition).
	FailedCondition int `json:"failed_condition"`

	// Tier is the maximum of the value-derived tier and the High-breakpoint
	// override; it is computed independently of condition outcomes.
	Tier RiskTier `json:"tier"`

	// EvaluatedNonce is the candidate nonce the decision was made for.
	EvaluatedNonce uint64 `json:"evaluated_nonce"`
}
