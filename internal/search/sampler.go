package search

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rand/planner/internal/budget"
	"github.com/rand/planner/internal/observability"
	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Strategy names a search strategy.
type Strategy string

const (
	// StrategyTree is the Monte Carlo tree search run by Engine.
	StrategyTree Strategy = "mcts"

	// StrategySample draws independent random configurations with RunSampled.
	StrategySample Strategy = "sample"
)

// ParseStrategy parses a strategy name. Empty means StrategyTree.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyTree:
		return StrategyTree, nil
	case StrategySample:
		return StrategySample, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
	}
}

// Sampling configures RunSampled.
type Sampling struct {
	// Trials is the number of configurations drawn.
	Trials int

	// Parallelism bounds concurrent executions. Values below 1 mean 1.
	Parallelism int

	// Seed seeds the draws; zero draws a random seed.
	Seed uint64

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Budget stops launching trials once a hard limit is reached.
	Budget *budget.Tracker
}

// Trial is one sampled configuration and its outcome.
type Trial struct {
	Number int
	Config *pipeline.Config
	Digest string

	// Status is StatusUnevaluated when the trial never ran to completion.
	Status  tree.Status
	Metrics tree.Metrics

	// DuplicateOf is the number of the earlier trial that drew the same
	// configuration, or -1. Duplicates reuse that trial's outcome.
	DuplicateOf int
}

// SampleResult is the outcome of RunSampled.
type SampleResult struct {
	Frontier *pareto.Frontier
	Trials   []Trial
	Stats    Stats
}

// RunSampled draws s.Trials configurations of initial, each selecting one
// candidate per stage uniformly at random, evaluates every distinct
// configuration once and folds the results into a frontier in trial order.
// Stage order is kept. exec must be safe for concurrent use when
// Parallelism > 1. A cancelled ctx returns the partial result and ctx.Err().
func RunSampled(ctx context.Context, initial *pipeline.Config, exec Executor, s Sampling) (*SampleResult, error) {
	if initial == nil {
		return nil, ErrNilPipeline
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if s.Trials < 0 {
		return nil, fmt.Errorf("%w: trials must be >= 0, got %d", ErrInvalidConfig, s.Trials)
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial pipeline: %w", err)
	}

	seed := s.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("seed", seed, "strategy", StrategySample)

	trials := drawTrials(initial, s.Trials, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	log.Info("sampling started", "pipeline", initial.Name, "trials", len(trials))

	start := time.Now()
	stats := Stats{Seed: seed, TerminatedBy: TerminatedMaxIter}

	var g errgroup.Group
	g.SetLimit(max(s.Parallelism, 1))

	failed := make([]bool, len(trials))
	ran := make([]bool, len(trials))
	launched := 0
	for i := range trials {
		if ctx.Err() != nil {
			stats.TerminatedBy = TerminatedCancelled
			break
		}
		if s.Budget != nil && s.Budget.Exhausted() {
			stats.TerminatedBy = TerminatedBudget
			log.Info("budget exhausted", "trial", i)
			break
		}
		launched++
		s.Metrics.RecordIteration()
		if trials[i].DuplicateOf >= 0 {
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			t := &trials[i]
			begin := time.Now()
			m, err := execute(ctx, exec, t.Config)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			ran[i] = true
			s.Metrics.RecordSimulation(time.Since(begin), err != nil)
			if err != nil {
				failed[i] = true
				t.Status = tree.StatusFailed
				log.Warn("trial failed", "trial", t.Number, "pipeline", t.Config.String(), "error", err)
				return nil
			}
			t.Status = tree.StatusEvaluated
			t.Metrics = m
			if s.Budget != nil {
				_ = s.Budget.Record(m)
			}
			log.Debug("trial", "trial", t.Number, "pipeline", t.Config.String(), "accuracy", m.Accuracy, "tokens", m.Tokens)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		stats.TerminatedBy = TerminatedCancelled
	}

	frontier := pareto.New()
	for i := range trials[:launched] {
		t := &trials[i]
		if t.DuplicateOf >= 0 {
			first := trials[t.DuplicateOf]
			t.Status, t.Metrics = first.Status, first.Metrics
			continue
		}
		if ran[i] {
			stats.Simulations++
		}
		if failed[i] {
			stats.Failures++
		}
		if t.Status != tree.StatusEvaluated {
			continue
		}
		node := tree.NewChild(nil, t.Config, fmt.Sprintf("trial %d", t.Number))
		node.RecordMetrics(t.Metrics)
		frontier.Insert(node)
	}
	s.Metrics.SetFrontierSize(frontier.Len())

	stats.Iterations = launched
	stats.Nodes = stats.Simulations
	stats.FrontierSize = frontier.Len()
	stats.Elapsed = time.Since(start)

	log.Info("sampling finished",
		"terminated_by", stats.TerminatedBy,
		"trials", stats.Iterations,
		"simulations", stats.Simulations,
		"failures", stats.Failures,
		"frontier_size", stats.FrontierSize,
		"elapsed", stats.Elapsed,
	)

	res := &SampleResult{Frontier: frontier, Trials: trials[:launched], Stats: stats}
	return res, ctx.Err()
}

// drawTrials draws n configurations up front so the draws do not depend on
// execution order.
func drawTrials(initial *pipeline.Config, n int, rng *rand.Rand) []Trial {
	trials := make([]Trial, n)
	first := make(map[string]int, n)
	for i := range trials {
		cfg := initial.Clone()
		for j, st := range cfg.Stages {
			if len(st.Candidates) < 2 {
				continue
			}
			next, err := st.WithSelected(st.Candidates[rng.IntN(len(st.Candidates))])
			if err != nil {
				panic(fmt.Sprintf("search: %v", err))
			}
			cfg.Stages[j] = next
		}

		digest := cfg.Digest()
		trials[i] = Trial{Number: i, Config: cfg, Digest: digest, DuplicateOf: -1}
		if j, seen := first[digest]; seen {
			trials[i].DuplicateOf = j
		} else {
			first[digest] = i
		}
	}
	return trials
}
