package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
)

// MultiStart configures RunMany.
type MultiStart struct {
	// Restarts is the number of independent runs. Values below 1 mean 1.
	Restarts int

	// Parallelism bounds concurrent runs. Values below 1 mean Restarts.
	Parallelism int

	// Seed is the base seed; run i uses Seed+i. Zero draws a random base.
	Seed uint64

	// Options are applied to every engine. They must be safe to share across
	// goroutines: loggers, budget trackers and metrics are, an observer must
	// be, a generator is not.
	Options []Option
}

// MultiResult is the outcome of RunMany.
type MultiResult struct {
	// Frontier merges every run's frontier in run order.
	Frontier *pareto.Frontier

	// Runs holds each run's result in run order. Runs that never started are nil.
	Runs []*Result

	// Stats aggregates the runs.
	Stats Stats
}

// RunMany runs independent searches with distinct seeds and merges their
// frontiers. exec must be safe for concurrent use. Each run owns its tree,
// visited set and frontier.
func RunMany(ctx context.Context, initial *pipeline.Config, exec Executor, cfg Config, ms MultiStart) (*MultiResult, error) {
	restarts := max(ms.Restarts, 1)
	parallel := ms.Parallelism
	if parallel < 1 || parallel > restarts {
		parallel = restarts
	}
	base := ms.Seed
	if base == 0 {
		base = rand.Uint64()
	}

	engines := make([]*Engine, restarts)
	for i := range engines {
		opts := append([]Option{WithSeed(base + uint64(i))}, ms.Options...)
		e, err := New(initial, exec, cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		engines[i] = e
	}

	start := time.Now()
	results := make([]*Result, restarts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, e := range engines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Run(gctx)
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	out := &MultiResult{
		Frontier: pareto.New(),
		Runs:     results,
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		out.Frontier.Merge(res.Frontier)
	}
	out.Stats = aggregate(results, out.Frontier.Len(), time.Since(start), base)
	return out, err
}

func aggregate(results []*Result, frontierSize int, elapsed time.Duration, seed uint64) Stats {
	s := Stats{
		FrontierSize: frontierSize,
		Elapsed:      elapsed,
		Seed:         seed,
	}

	var branching float64
	var ran int
	reasons := make(map[TerminationReason]bool)
	for _, r := range results {
		if r == nil {
			reasons[TerminatedCancelled] = true
			continue
		}
		ran++
		s.Iterations += r.Stats.Iterations
		s.Simulations += r.Stats.Simulations
		s.Failures += r.Stats.Failures
		s.DeadEnds += r.Stats.DeadEnds
		s.RootVisits += r.Stats.RootVisits
		s.Nodes += r.Stats.Nodes
		s.MaxDepth = max(s.MaxDepth, r.Stats.MaxDepth)
		branching += r.Stats.AvgBranching
		reasons[r.Stats.TerminatedBy] = true
	}
	if ran > 0 {
		s.AvgBranching = branching / float64(ran)
	}

	for _, reason := range []TerminationReason{TerminatedCancelled, TerminatedBudget, TerminatedMaxIter, TerminatedExhausted} {
		if reasons[reason] {
			s.TerminatedBy = reason
			break
		}
	}
	return s
}
