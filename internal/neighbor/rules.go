// Package neighbor generates neighboring pipeline configurations for the
// search. Each Rule is one kind of structural transformation; the Generator
// picks one applicable rule per expansion.
package neighbor

import (
	"fmt"

	"github.com/rand/planner/internal/pipeline"
)

// Variant is one configuration produced by a rule.
type Variant struct {
	// Config is a fresh clone; the source configuration is never modified.
	Config *pipeline.Config

	// Action describes the transformation, for logs and reports.
	Action string
}

// Rule transforms a configuration into neighboring configurations.
type Rule interface {
	// Name identifies the rule.
	Name() string

	// Applicable reports whether Apply would produce at least one variant.
	Applicable(cfg *pipeline.Config) bool

	// Apply returns every variant of cfg this rule can produce.
	Apply(cfg *pipeline.Config) []Variant
}

// DefaultRules returns the standard rule list, in order.
func DefaultRules() []Rule {
	return []Rule{SwitchImplementation{}, ReorderAdjacent{}}
}

// SwitchImplementation produces one variant per alternative implementation
// of every stage with more than one candidate.
type SwitchImplementation struct{}

func (SwitchImplementation) Name() string { return "switch_implementation" }

func (SwitchImplementation) Applicable(cfg *pipeline.Config) bool {
	for _, s := range cfg.Stages {
		if len(s.Candidates) > 1 {
			return true
		}
	}
	return false
}

func (r SwitchImplementation) Apply(cfg *pipeline.Config) []Variant {
	var out []Variant
	for i, s := range cfg.Stages {
		if len(s.Candidates) < 2 {
			continue
		}
		for _, alt := range s.Alternatives() {
			next := cfg.Clone()
			stage, err := next.Stages[i].WithSelected(alt)
			if err != nil {
				// alt came from the stage's own candidates.
				panic(fmt.Sprintf("neighbor: %v", err))
			}
			next.Stages[i] = stage
			out = append(out, Variant{
				Config: next,
				Action: fmt.Sprintf("%s %s: %s -> %s", r.Name(), s.Name, s.Selected, alt),
			})
		}
	}
	return out
}

// CanSwap is the reordering legality table: a filter directly after a map may
// move ahead of it, and adjacent transforms commute. Nothing else is swappable.
func CanSwap(first, second pipeline.Kind) bool {
	switch {
	case first == pipeline.KindMap && second == pipeline.KindFilter:
		return true
	case first == pipeline.KindTransform && second == pipeline.KindTransform:
		return true
	default:
		return false
	}
}

// ReorderAdjacent produces one variant per legally swappable adjacent pair.
type ReorderAdjacent struct{}

func (ReorderAdjacent) Name() string { return "reorder_adjacent" }

func (ReorderAdjacent) Applicable(cfg *pipeline.Config) bool {
	for i := 0; i+1 < len(cfg.Stages); i++ {
		if CanSwap(cfg.Stages[i].Kind, cfg.Stages[i+1].Kind) {
			return true
		}
	}
	return false
}

func (r ReorderAdjacent) Apply(cfg *pipeline.Config) []Variant {
	var out []Variant
	for i := 0; i+1 < len(cfg.Stages); i++ {
		a, b := cfg.Stages[i], cfg.Stages[i+1]
		if !CanSwap(a.Kind, b.Kind) {
			continue
		}
		next := cfg.Clone()
		if err := next.SwapStages(i, i+1); err != nil {
			panic(fmt.Sprintf("neighbor: %v", err))
		}
		out = append(out, Variant{
			Config: next,
			Action: fmt.Sprintf("%s: %s <-> %s", r.Name(), a.Name, b.Name),
		})
	}
	return out
}
