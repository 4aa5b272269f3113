package budget

import (
	"fmt"
	"time"
)

// Limits defines hard stop limits on the cumulative spend of a search run.
// A zero field is unlimited.
type Limits struct {
	// MaxTokens caps the tokens consumed by all simulations.
	MaxTokens int64 `json:"max_tokens" yaml:"max_tokens"`

	// MaxCost caps the summed dollar cost of all simulations.
	MaxCost float64 `json:"max_cost" yaml:"max_cost"`

	// MaxWallTime caps the run's elapsed wall-clock time.
	MaxWallTime time.Duration `json:"max_wall_time" yaml:"max_wall_time"`

	// WarningThreshold (0-1) reports a soft violation once a limit is this close.
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold"`
}

// Unlimited reports whether no limit is set.
func (l Limits) Unlimited() bool {
	return l.MaxTokens <= 0 && l.MaxCost <= 0 && l.MaxWallTime <= 0
}

// Validate rejects negative limits and thresholds outside [0,1].
func (l Limits) Validate() error {
	switch {
	case l.MaxTokens < 0:
		return fmt.Errorf("max_tokens must be >= 0, got %d", l.MaxTokens)
	case l.MaxCost < 0:
		return fmt.Errorf("max_cost must be >= 0, got %v", l.MaxCost)
	case l.MaxWallTime < 0:
		return fmt.Errorf("max_wall_time must be >= 0, got %v", l.MaxWallTime)
	case l.WarningThreshold < 0 || l.WarningThreshold > 1:
		return fmt.Errorf("warning_threshold must be in [0,1], got %v", l.WarningThreshold)
	}
	return nil
}

// Violation represents a limit that has been reached or is close to it.
type Violation struct {
	Metric  string  `json:"metric"`
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Percent float64 `json:"percent"`
	Hard    bool    `json:"hard"`
	Warning bool    `json:"warning"`
	Message string  `json:"message"`
}

func (v Violation) Error() string {
	return v.Message
}

// Check evaluates the state against the limits.
func (l Limits) Check(state State) []Violation {
	var violations []Violation

	if l.MaxTokens > 0 {
		violations = l.appendCheck(violations, "tokens",
			float64(state.Tokens), float64(l.MaxTokens),
			fmt.Sprintf("%d/%d tokens", state.Tokens, l.MaxTokens))
	}

	if l.MaxCost > 0 {
		violations = l.appendCheck(violations, "cost",
			state.Cost, l.MaxCost,
			fmt.Sprintf("$%.4f/$%.2f", state.Cost, l.MaxCost))
	}

	if l.MaxWallTime > 0 {
		elapsed := state.Elapsed()
		violations = l.appendCheck(violations, "wall_time",
			float64(elapsed), float64(l.MaxWallTime),
			fmt.Sprintf("%v/%v", elapsed.Round(time.Millisecond), l.MaxWallTime))
	}

	return violations
}

func (l Limits) appendCheck(violations []Violation, metric string, current, limit float64, detail string) []Violation {
	ratio := current / limit
	switch {
	case ratio >= 1:
		return append(violations, Violation{
			Metric:  metric,
			Current: current,
			Limit:   limit,
			Percent: ratio * 100,
			Hard:    true,
			Message: fmt.Sprintf("%s limit reached: %s", metric, detail),
		})
	case l.WarningThreshold > 0 && ratio >= l.WarningThreshold:
		return append(violations, Violation{
			Metric:  metric,
			Current: current,
			Limit:   limit,
			Percent: ratio * 100,
			Warning: true,
			Message: fmt.Sprintf("%s at %.0f%% of limit: %s", metric, ratio*100, detail),
		})
	default:
		return violations
	}
}

// HasHardViolation returns true if any violation is a hard limit.
func HasHardViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Hard {
			return true
		}
	}
	return false
}
