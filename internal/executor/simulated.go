// Package executor provides pipeline executors for the search and the
// middlewares that wrap them.
//
// Simulated is a deterministic stand-in that prices a configuration from
// per-model profiles instead of running it. The middlewares (Evaluated,
// WithTimeout, Throttled, Guarded, Counting) compose around any
// search.Executor.
package executor

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Profile describes how one implementation behaves when simulated.
type Profile struct {
	// Accuracy is the baseline output quality in [0, 1].
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`

	// CostPer1K is the USD price per 1000 tokens.
	CostPer1K float64 `json:"cost_per_1k" yaml:"cost_per_1k"`

	// LatencyPer1K is the processing time per 1000 tokens.
	LatencyPer1K time.Duration `json:"latency_per_1k" yaml:"latency_per_1k"`
}

// Fallback profile for implementations without an entry.
var unknownProfile = Profile{Accuracy: 0.75, CostPer1K: 0.001, LatencyPer1K: time.Second}

// DefaultProfiles returns the built-in model profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"gpt-4o":                     {Accuracy: 0.92, CostPer1K: 0.005, LatencyPer1K: 2 * time.Second},
		"gpt-4o-mini":                {Accuracy: 0.85, CostPer1K: 0.0005, LatencyPer1K: 800 * time.Millisecond},
		"claude-3-5-sonnet-20241022": {Accuracy: 0.90, CostPer1K: 0.003, LatencyPer1K: 1800 * time.Millisecond},
		"gpt-3.5-turbo":              {Accuracy: 0.80, CostPer1K: 0.0005, LatencyPer1K: 600 * time.Millisecond},
		"rule_based":                 {Accuracy: 0.70, CostPer1K: 0, LatencyPer1K: 50 * time.Millisecond},
	}
}

// Token usage per stage kind.
const (
	modelBaseTokens     = 500
	tokensPerPromptByte = 2
	transformTokens     = 50
	reduceTokens        = 200

	// Accuracy reported when no stage calls a model.
	noModelAccuracy = 0.8
)

// Simulated prices configurations from model profiles. It is safe for
// concurrent use; the jitter source is the only shared state.
type Simulated struct {
	profiles map[string]Profile
	jitter   float64
	overhead [2]time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedOption configures a Simulated executor.
type SimulatedOption func(*Simulated)

// WithProfiles merges profiles over the defaults.
func WithProfiles(p map[string]Profile) SimulatedOption {
	return func(s *Simulated) {
		maps.Copy(s.profiles, p)
	}
}

// WithJitter sets the accuracy jitter amplitude. Zero makes accuracy exact.
func WithJitter(amplitude float64) SimulatedOption {
	return func(s *Simulated) {
		s.jitter = max(amplitude, 0)
	}
}

// WithOverhead sets the range of fixed per-run time added to the latency.
func WithOverhead(lo, hi time.Duration) SimulatedOption {
	return func(s *Simulated) {
		if hi < lo {
			lo, hi = hi, lo
		}
		s.overhead = [2]time.Duration{max(lo, 0), max(hi, 0)}
	}
}

// NewSimulated creates a simulated executor whose jitter is drawn from seed.
func NewSimulated(seed uint64, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		profiles: DefaultProfiles(),
		jitter:   0.05,
		overhead: [2]time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the profile used for an implementation id.
func (s *Simulated) Profile(id string) Profile {
	if p, ok := s.profiles[id]; ok {
		return p
	}
	return unknownProfile
}

// maxSuggestions bounds Suggest.
const maxSuggestions = 3

// Unknown returns the candidates of model-backed stages in cfg that have no
// profile, in stage order without duplicates. They are priced with a
// generic fallback.
func (s *Simulated) Unknown(cfg *pipeline.Config) []string {
	var ids []string
	for _, st := range cfg.Stages {
		if !st.Kind.UsesModel() {
			continue
		}
		for _, id := range st.Candidates {
			if _, ok := s.profiles[id]; !ok && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Suggest returns profiled implementation ids that fuzzily match id, best
// first.
func (s *Simulated) Suggest(id string) []string {
	names := slices.Sorted(maps.Keys(s.profiles))
	matches := fuzzy.Find(id, names)

	out := make([]string, 0, min(len(matches), maxSuggestions))
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// Execute prices cfg.
func (s *Simulated) Execute(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
	_, m, err := s.Run(ctx, cfg)
	return m, err
}

// Run prices cfg and returns a synthetic output naming the selected
// implementations, for evaluators that inspect output.
func (s *Simulated) Run(ctx context.Context, cfg *pipeline.Config) (any, tree.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, tree.Metrics{}, err
	}
	if cfg == nil {
		return nil, tree.Metrics{}, fmt.Errorf("simulate: nil pipeline")
	}

	var (
		m        tree.Metrics
		latency  time.Duration
		accuracy []float64
		selected = make([]string, 0, cfg.Len())
	)
	for _, st := range cfg.Stages {
		p := s.Profile(st.Selected)
		tokens := stageTokens(st)

		m.Tokens += tokens
		latency += time.Duration(float64(p.LatencyPer1K) * float64(tokens) / 1000)
		if st.Kind.UsesModel() || st.Kind == pipeline.KindReduce {
			m.Cost += float64(tokens) / 1000 * p.CostPer1K
		}
		if st.Kind.UsesModel() {
			accuracy = append(accuracy, p.Accuracy)
		}
		selected = append(selected, st.Selected)
	}

	base := noModelAccuracy
	if len(accuracy) > 0 {
		var sum float64
		for _, a := range accuracy {
			sum += a
		}
		base = sum / float64(len(accuracy))
	}

	jitter, overhead := s.draw()
	m.Accuracy = clamp01(base + jitter)
	m.ExecutionTime = latency + overhead
	return selected, m, nil
}

func (s *Simulated) draw() (float64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jitter float64
	if s.jitter > 0 {
		jitter = (s.rng.Float64()*2 - 1) * s.jitter
	}
	overhead := s.overhead[0]
	if span := s.overhead[1] - s.overhead[0]; span > 0 {
		overhead += time.Duration(s.rng.Int64N(int64(span)))
	}
	return jitter, overhead
}

func stageTokens(st pipeline.Stage) int {
	switch st.Kind {
	case pipeline.KindMap, pipeline.KindFilter:
		return modelBaseTokens + tokensPerPromptByte*len(st.Prompt)
	case pipeline.KindTransform:
		return transformTokens
	case pipeline.KindReduce:
		return reduceTokens
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
