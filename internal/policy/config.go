package policy

import (
	"fmt"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
)

// ConditionSpec is the serialised form of a condition, as it appears in the
// policy section of the daemon's config file. Kind selects the variant; the
// remaining fields are that variant's parameters.
type ConditionSpec struct {
	Kind string `mapstructure:"kind"`

	// max_daily_outflow
	Cap          uint64 `mapstructure:"cap"`
	WindowS      int64  `mapstructure:"window_s"`
	NominalValue uint64 `mapstructure:"nominal_value"`

	// min_time_between_actions / min_verification_count
	ActionType string `mapstructure:"action_type"`
	MinGapS    int64  `mapstructure:"min_gap_s"`

	// min_verification_count
	ThresholdAmount uint64 `mapstructure:"threshold_amount"`
	RequiredCount   int    `mapstructure:"required_count"`
}

// Build turns condition specs into a Policy, preserving declaration order.
func Build(name string, specs []ConditionSpec, tiers TierBreakpoints) (*Policy, error) {
	if tiers == (TierBreakpoints{}) {
		tiers = DefaultBreakpoints
	}

	conditions := make([]Condition, 0, len(specs))
	for i, s := range specs {
		c, err := s.condition()
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conditions = append(conditions, c)
	}

	return &Policy{Name: name, Conditions: conditions, Tiers: tiers}, nil
}

func (s ConditionSpec) condition() (Condition, error) {
	switch s.Kind {
	case "max_daily_outflow":
		if s.Cap == 0 {
			return nil, fmt.Errorf("max_daily_outflow requires a cap")
		}
		return &MaxDailyOutflow{
			Cap:          s.Cap,
			Window:       time.Duration(s.WindowS) * time.Second,
			NominalValue: s.NominalValue,
		}, nil

	case "min_time_between_actions":
		if s.ActionType == "" || s.MinGapS <= 0 {
			return nil, fmt.Errorf("min_time_between_actions requires action_type and min_gap_s")
		}
		return &MinTimeBetweenActions{
			Type:   eventlog.EventType(s.ActionType),
			MinGap: time.Duration(s.MinGapS) * time.Second,
		}, nil

	case "no_concurrent_requests":
		if s.WindowS <= 0 {
			return nil, fmt.Errorf("no_concurrent_requests requires window_s")
		}
		return &NoConcurrentRequests{Window: time.Duration(s.WindowS) * time.Second}, nil

	case "min_verification_count":
		if s.RequiredCount <= 0 {
			return nil, fmt.Errorf("min_verification_count requires required_count")
		}
		return &MinVerificationCount{
			ThresholdAmount: s.ThresholdAmount,
			Type:            eventlog.EventType(s.ActionType),
			RequiredCount:   s.RequiredCount,
		}, nil

	default:
		return nil, fmt.Errorf("unknown condition kind %q", s.Kind)
	}
}
