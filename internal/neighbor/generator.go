package neighbor

import (
	"math/rand/v2"
	"slices"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Generator expands search nodes by applying one randomly chosen applicable rule.
type Generator struct {
	rules []Rule
	rng   *rand.Rand
}

// NewGenerator creates a generator over rules, in order. No rules means
// DefaultRules. rng must not be shared with another goroutine.
func NewGenerator(rng *rand.Rand, rules ...Rule) *Generator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Generator{rules: slices.Clone(rules), rng: rng}
}

// Rules returns the rule list.
func (g *Generator) Rules() []Rule {
	return slices.Clone(g.rules)
}

// Applicable returns the rules that apply to cfg, in rule-list order.
func (g *Generator) Applicable(cfg *pipeline.Config) []Rule {
	var out []Rule
	for _, r := range g.rules {
		if r.Applicable(cfg) {
			out = append(out, r)
		}
	}
	return out
}

// Generate builds up to maxChildren unattached child nodes of parent.
// maxChildren <= 0 means no cap. The caller de-duplicates and attaches.
func (g *Generator) Generate(parent *tree.Node, maxChildren int) []*tree.Node {
	applicable := g.Applicable(parent.Config())
	if len(applicable) == 0 {
		return nil
	}

	rule := applicable[g.rng.IntN(len(applicable))]
	variants := rule.Apply(parent.Config())
	variants = g.sample(variants, maxChildren)

	children := make([]*tree.Node, len(variants))
	for i, v := range variants {
		children[i] = tree.NewChild(parent, v.Config, v.Action)
	}
	return children
}

// sample keeps k variants chosen uniformly without replacement, preserving
// their generation order.
func (g *Generator) sample(variants []Variant, k int) []Variant {
	if k <= 0 || len(variants) <= k {
		return variants
	}
	idx := g.rng.Perm(len(variants))[:k]
	slices.Sort(idx)

	out := make([]Variant, k)
	for i, j := range idx {
		out[i] = variants[j]
	}
	return out
}
