package pipeline

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var kinds = []Kind{KindMap, KindFilter, KindReduce, KindTransform}

// genStage draws a valid stage with 1-5 distinct candidates.
func genStage(t *rapid.T, label string) Stage {
	n := rapid.IntRange(1, 5).Draw(t, label+"_candidates")
	candidates := make([]string, n)
	for i := range candidates {
		candidates[i] = fmt.Sprintf("%s_impl_%d", label, i)
	}
	kind := rapid.SampledFrom(kinds).Draw(t, label+"_kind")
	selected := rapid.SampledFrom(candidates).Draw(t, label+"_selected")
	return MustStage(label, kind, candidates, WithSelected(selected))
}

// TestProperty_SelectedInCandidates verifies construction and reselection keep the invariant.
func TestProperty_SelectedInCandidates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genStage(t, "s")
		if !s.HasCandidate(s.Selected) {
			t.Fatalf("selected %q not in %v", s.Selected, s.Candidates)
		}

		for _, alt := range s.Alternatives() {
			next, err := s.WithSelected(alt)
			if err != nil {
				t.Fatalf("WithSelected(%q): %v", alt, err)
			}
			if !next.HasCandidate(next.Selected) {
				t.Fatalf("invariant broken after reselect: %q", next.Selected)
			}
		}

		bogus := rapid.StringMatching(`zz[a-z]{1,4}`).Draw(t, "bogus")
		if _, err := s.WithSelected(bogus); err == nil {
			t.Fatalf("selecting %q outside candidates should fail", bogus)
		}
	})
}

// TestProperty_DigestStableUnderClone verifies digest depends only on content.
func TestProperty_DigestStableUnderClone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "stages")
		stages := make([]Stage, n)
		for i := range stages {
			stages[i] = genStage(t, fmt.Sprintf("stage%d", i))
		}
		c := MustNew("p", stages...)

		if c.Digest() != c.Clone().Digest() {
			t.Fatalf("clone changed digest")
		}

		i := rapid.IntRange(0, n-1).Draw(t, "i")
		alts := c.Stages[i].Alternatives()
		if len(alts) == 0 {
			return
		}
		changed := c.Clone()
		next, err := changed.Stages[i].WithSelected(alts[0])
		if err != nil {
			t.Fatal(err)
		}
		if err := changed.ReplaceStage(i, next); err != nil {
			t.Fatal(err)
		}
		if changed.Digest() == c.Digest() {
			t.Fatalf("changing stage %d selection did not change digest", i)
		}
	})
}
