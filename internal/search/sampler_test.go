package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/planner/internal/budget"
	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

func sampling(trials int) Sampling {
	return Sampling{Trials: trials, Seed: 42, Logger: quietLogger()}
}

func digests(trials []Trial) []string {
	out := make([]string, len(trials))
	for i, t := range trials {
		out[i] = t.Digest
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyTree, "mcts": StrategyTree, "sample": StrategySample} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStrategy("grid")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunSampled_Errors(t *testing.T) {
	exec := ExecutorFunc(tableExecutor)

	_, err := RunSampled(context.Background(), nil, exec, sampling(1))
	assert.ErrorIs(t, err, ErrNilPipeline)

	_, err = RunSampled(context.Background(), testPipeline(), nil, sampling(1))
	assert.ErrorIs(t, err, ErrNilExecutor)

	_, err = RunSampled(context.Background(), testPipeline(), exec, sampling(-1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunSampled_DrawsValidConfigurations(t *testing.T) {
	initial := testPipeline()
	res, err := RunSampled(context.Background(), initial, ExecutorFunc(tableExecutor), sampling(40))
	require.NoError(t, err)

	require.Len(t, res.Trials, 40)
	assert.Equal(t, 40, res.Stats.Iterations)
	assert.Equal(t, TerminatedMaxIter, res.Stats.TerminatedBy)
	assert.Equal(t, uint64(42), res.Stats.Seed)

	for _, tr := range res.Trials {
		require.NoError(t, tr.Config.Validate())
		require.Equal(t, initial.Len(), tr.Config.Len())
		for i, st := range tr.Config.Stages {
			assert.Equal(t, initial.Stages[i].Name, st.Name, "stage order is kept")
			assert.True(t, st.HasCandidate(st.Selected))
		}
		assert.Equal(t, tree.StatusEvaluated, tr.Status)
	}
}

func TestRunSampled_DuplicatesRunOnce(t *testing.T) {
	cfg := pipeline.MustNew("small", pipeline.MustStage("only", pipeline.KindMap, []string{"x", "y", "z"}))
	counting := &countingExecutor{next: ExecutorFunc(tableExecutor)}

	res, err := RunSampled(context.Background(), cfg, counting, sampling(30))
	require.NoError(t, err)

	distinct := make(map[string]bool)
	for _, tr := range res.Trials {
		if tr.DuplicateOf >= 0 {
			first := res.Trials[tr.DuplicateOf]
			assert.Equal(t, first.Digest, tr.Digest)
			assert.Equal(t, first.Metrics, tr.Metrics)
			assert.Less(t, tr.DuplicateOf, tr.Number)
			continue
		}
		assert.False(t, distinct[tr.Digest], "first occurrence recorded once")
		distinct[tr.Digest] = true
	}

	assert.Len(t, distinct, 3)
	assert.Equal(t, int32(3), counting.calls.Load())
	assert.Equal(t, 3, res.Stats.Simulations)
}

func TestRunSampled_FrontierIsNonDominated(t *testing.T) {
	res, err := RunSampled(context.Background(), testPipeline(), ExecutorFunc(tableExecutor), sampling(60))
	require.NoError(t, err)
	require.Positive(t, res.Frontier.Len())

	var all []pareto.Point
	for _, tr := range res.Trials {
		all = append(all, pareto.Point{
			NodeID:        tr.Digest,
			Accuracy:      tr.Metrics.Accuracy,
			Tokens:        tr.Metrics.Tokens,
			ExecutionTime: tr.Metrics.ExecutionTime,
		})
	}
	for _, p := range res.Frontier.Points() {
		for _, q := range all {
			assert.False(t, q.Dominates(p), "%s is dominated by %s", p.NodeID, q.NodeID)
		}
	}
}

func TestRunSampled_Deterministic(t *testing.T) {
	run := func(parallel int) *SampleResult {
		s := sampling(50)
		s.Parallelism = parallel
		res, err := RunSampled(context.Background(), testPipeline(), ExecutorFunc(tableExecutor), s)
		require.NoError(t, err)
		return res
	}

	serial := run(1)
	again := run(1)
	parallel := run(4)

	assert.Equal(t, digests(serial.Trials), digests(again.Trials))
	assert.Equal(t, digests(serial.Trials), digests(parallel.Trials))

	frontierIDs := func(f *pareto.Frontier) []string {
		var ids []string
		for _, p := range f.Points() {
			ids = append(ids, p.NodeID)
		}
		return ids
	}
	assert.Equal(t, frontierIDs(serial.Frontier), frontierIDs(parallel.Frontier))
}

func TestRunSampled_FailuresAreLocal(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, c *pipeline.Config) (tree.Metrics, error) {
		if c.Stages[0].Selected == "rules" {
			return tree.Metrics{}, errors.New("boom")
		}
		return tableExecutor(ctx, c)
	})

	res, err := RunSampled(context.Background(), testPipeline(), exec, sampling(40))
	require.NoError(t, err)
	assert.Positive(t, res.Stats.Failures)

	for _, tr := range res.Trials {
		if tr.Config.Stages[0].Selected == "rules" {
			assert.Equal(t, tree.StatusFailed, tr.Status)
			_, ok := res.Frontier.Get(tr.Digest)
			assert.False(t, ok, "failed trial never enters the frontier")
		}
	}
}

func TestRunSampled_CancelledDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, c *pipeline.Config) (tree.Metrics, error) {
		if calls.Add(1) == 3 {
			cancel()
			return tree.Metrics{}, ctx.Err()
		}
		return tableExecutor(ctx, c)
	})

	res, err := RunSampled(ctx, testPipeline(), exec, sampling(40))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, TerminatedCancelled, res.Stats.TerminatedBy)
	assert.Zero(t, res.Stats.Failures)
	assert.Equal(t, 2, res.Stats.Simulations)
	assert.Less(t, len(res.Trials), 40)
}

func TestRunSampled_Budget(t *testing.T) {
	s := sampling(200)
	s.Budget = budget.NewTracker(budget.Limits{MaxTokens: 20000})

	res, err := RunSampled(context.Background(), testPipeline(), ExecutorFunc(tableExecutor), s)
	require.NoError(t, err)
	assert.Equal(t, TerminatedBudget, res.Stats.TerminatedBy)
	assert.Less(t, res.Stats.Iterations, 200)
}

type countingExecutor struct {
	next  Executor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
	c.calls.Add(1)
	return c.next.Execute(ctx, cfg)
}
