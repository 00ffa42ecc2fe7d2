package orchestrator

import "github.com/causalguard-labs/causalguard/internal/policy"

// RequiredThreshold maps a risk tier to the number of independent validator
// signatures that must be collected before execution: Low→2, Medium→3, High→5.
//
// This function is the single source of truth for the mapping. No API in this
// module accepts a caller-supplied threshold; a threshold that arrives from
// agent-controlled input would let a non-compliant action downgrade its own
// signing requirement.
func RequiredThreshold(tier policy.RiskTier) uint16 {
	switch tier {
	case policy.TierHigh:
		return 5
	case policy.TierMedium:
		return 3
	default:
		return 2
	}
}
