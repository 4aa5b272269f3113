// Package budget tracks the cumulative spend of a search run against
// optional hard stop limits.
package budget

import (
	"sync"
	"time"

	"github.com/rand/planner/internal/tree"
)

// State is the cumulative spend recorded so far.
type State struct {
	// Simulations counts successful executor calls.
	Simulations int `json:"simulations"`

	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`

	// ExecutionTime sums the executor-reported pipeline time.
	ExecutionTime time.Duration `json:"execution_time"`

	Start time.Time `json:"start"`

	// Now is when the state was read.
	Now time.Time `json:"now"`
}

// Elapsed returns the wall-clock time between Start and Now.
func (s State) Elapsed() time.Duration {
	if s.Start.IsZero() || s.Now.Before(s.Start) {
		return 0
	}
	return s.Now.Sub(s.Start)
}

// Tracker records spend for one run. It is safe for concurrent use so that
// several runs can share one limit.
type Tracker struct {
	mu     sync.RWMutex
	state  State
	limits Limits
	now    func() time.Time

	onLimit func(Violation)
}

// NewTracker creates a tracker whose wall clock starts now.
func NewTracker(limits Limits) *Tracker {
	t := &Tracker{limits: limits, now: time.Now}
	t.state.Start = t.now()
	return t
}

// SetLimitCallback sets a callback invoked for each violation found by Record.
func (t *Tracker) SetLimitCallback(cb func(Violation)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLimit = cb
}

// Limits returns the configured limits.
func (t *Tracker) Limits() Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limits
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.state
	s.Now = t.now()
	return s
}

// Record adds the metrics of one successful simulation. It returns the first
// hard violation, if any, as an error.
func (t *Tracker) Record(m tree.Metrics) error {
	t.mu.Lock()
	t.state.Simulations++
	t.state.Tokens += int64(m.Tokens)
	t.state.Cost += m.Cost
	t.state.ExecutionTime += m.ExecutionTime
	state := t.state
	state.Now = t.now()
	limits := t.limits
	cb := t.onLimit
	t.mu.Unlock()

	violations := limits.Check(state)
	if cb != nil {
		for _, v := range violations {
			cb(v)
		}
	}
	for _, v := range violations {
		if v.Hard {
			return v
		}
	}
	return nil
}

// Violations checks the current state against the limits.
func (t *Tracker) Violations() []Violation {
	return t.Limits().Check(t.State())
}

// Exhausted reports whether any hard limit has been reached.
func (t *Tracker) Exhausted() bool {
	return HasHardViolation(t.Violations())
}

// Usage returns the current spend as percentages of the set limits.
func (t *Tracker) Usage() Usage {
	s := t.State()
	l := t.Limits()

	var u Usage
	if l.MaxTokens > 0 {
		u.TokensPercent = float64(s.Tokens) / float64(l.MaxTokens) * 100
	}
	if l.MaxCost > 0 {
		u.CostPercent = s.Cost / l.MaxCost * 100
	}
	if l.MaxWallTime > 0 {
		u.WallTimePercent = float64(s.Elapsed()) / float64(l.MaxWallTime) * 100
	}
	return u
}

// Usage represents spend as percentages of limits.
type Usage struct {
	TokensPercent   float64 `json:"tokens_percent"`
	CostPercent     float64 `json:"cost_percent"`
	WallTimePercent float64 `json:"wall_time_percent"`
}
