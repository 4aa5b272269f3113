package neighbor

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

var kinds = []pipeline.Kind{pipeline.KindMap, pipeline.KindFilter, pipeline.KindReduce, pipeline.KindTransform}

func drawConfig(t *rapid.T) *pipeline.Config {
	n := rapid.IntRange(1, 6).Draw(t, "stages")
	stages := make([]pipeline.Stage, n)
	for i := range stages {
		kind := rapid.SampledFrom(kinds).Draw(t, fmt.Sprintf("kind%d", i))
		k := rapid.IntRange(1, 4).Draw(t, fmt.Sprintf("candidates%d", i))
		candidates := make([]string, k)
		for j := range candidates {
			candidates[j] = fmt.Sprintf("impl%d", j)
		}
		sel := candidates[rapid.IntRange(0, k-1).Draw(t, fmt.Sprintf("selected%d", i))]
		stages[i] = pipeline.MustStage(fmt.Sprintf("s%d", i), kind, candidates, pipeline.WithSelected(sel))
	}
	return pipeline.MustNew("prop", stages...)
}

// TestProperty_VariantsStayValid verifies every chain of transformations
// yields valid configurations and leaves its source unchanged.
func TestProperty_VariantsStayValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := drawConfig(t)
		g := NewGenerator(seeded(rapid.Uint64().Draw(t, "seed")))
		node := tree.NewRoot(cfg)

		steps := rapid.IntRange(1, 8).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := node.Config().Digest()
			children := g.Generate(node, rapid.IntRange(0, 4).Draw(t, "cap"))
			if node.Config().Digest() != before {
				t.Fatalf("generate mutated its parent")
			}
			if len(children) == 0 {
				return
			}
			for _, c := range children {
				if err := c.Config().Validate(); err != nil {
					t.Fatalf("invalid variant %s: %v", c.Action(), err)
				}
				if c.Config().Len() != cfg.Len() {
					t.Fatalf("stage count changed: %d != %d", c.Config().Len(), cfg.Len())
				}
				if c.ID() == node.ID() {
					t.Fatalf("variant %q equals its parent", c.Action())
				}
			}
			node = children[rapid.IntRange(0, len(children)-1).Draw(t, "pick")]
		}
	})
}
