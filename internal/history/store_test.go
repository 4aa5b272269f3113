package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/report"
	"github.com/rand/planner/internal/search"
	"github.com/rand/planner/internal/tree"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pipelineNamed(name string, candidates ...string) *pipeline.Config {
	return pipeline.MustNew(name,
		pipeline.MustStage("extract", pipeline.KindMap, candidates),
		pipeline.MustStage("merge", pipeline.KindReduce, []string{"concat"}),
	)
}

func sampleReport(t *testing.T, cfg *pipeline.Config, created time.Time, accuracy float64) *report.Report {
	t.Helper()
	f := pareto.New()
	if accuracy > 0 {
		n := tree.NewRoot(cfg)
		n.RecordMetrics(tree.Metrics{Accuracy: accuracy, Tokens: 1200, ExecutionTime: 2 * time.Second, Cost: 0.01})
		require.True(t, f.Insert(n))
	}

	r := report.Build(cfg, f, search.Stats{
		Iterations:   10,
		Simulations:  9,
		FrontierSize: f.Len(),
		Elapsed:      250 * time.Millisecond,
		Seed:         1<<63 | 7,
		TerminatedBy: search.TerminatedMaxIter,
	})
	r.CreatedAt = created
	return r
}

func TestOpen_InMemory(t *testing.T) {
	store := newTestStore(t)
	assert.Empty(t, store.Path())
	assert.Equal(t, int64(2), store.SchemaVersion())

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	store, err := Open(Options{Path: path, CreateIfNotExists: true})
	require.NoError(t, err)
	r := sampleReport(t, pipelineNamed("docs", "a", "b"), time.Now(), 0.9)
	require.NoError(t, store.Save(ctx, r))
	require.NoError(t, store.Close())

	reopened, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, path, reopened.Path())
	assert.Equal(t, int64(2), reopened.SchemaVersion(), "reopening applies nothing new")
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	r := sampleReport(t, pipelineNamed("docs", "a", "b"), time.Now(), 0.87)

	require.NoError(t, store.Save(ctx, r))

	got, err := store.Get(ctx, r.RunID)
	require.NoError(t, err)
	assert.Equal(t, r.Pipeline.Digest, got.Pipeline.Digest)
	assert.Equal(t, r.Stats, got.Stats)
	require.Equal(t, 1, got.Frontier.Size)
	assert.Equal(t, 0.87, got.Frontier.Points[0].Accuracy)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_SaveErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, nil), ErrNilReport)

	r := sampleReport(t, pipelineNamed("docs", "a"), time.Now(), 0.5)
	require.NoError(t, store.Save(ctx, r))
	assert.ErrorIs(t, store.Save(ctx, r), ErrDuplicate)
}

func TestStore_GetNotFound(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	docs := pipelineNamed("docs", "a", "b")
	mail := pipelineNamed("mail", "x")

	var ids []string
	for i, cfg := range []*pipeline.Config{docs, mail, docs} {
		r := sampleReport(t, cfg, base.Add(time.Duration(i)*time.Minute), 0.6+0.1*float64(i))
		require.NoError(t, store.Save(ctx, r))
		ids = append(ids, r.RunID)
	}
	require.NoError(t, store.Save(ctx, sampleReport(t, mail, base.Add(-time.Hour), 0)))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, ids[2], runs[0].RunID, "newest first")
	assert.Equal(t, ids[1], runs[1].RunID)
	assert.Equal(t, ids[0], runs[2].RunID)
	assert.Zero(t, runs[3].BestAccuracy, "empty frontier")

	first := runs[0]
	assert.Equal(t, "docs", first.PipelineName)
	assert.Equal(t, docs.Digest(), first.PipelineDigest)
	assert.Equal(t, 10, first.Iterations)
	assert.Equal(t, 9, first.Simulations)
	assert.Equal(t, 1, first.FrontierSize)
	assert.Equal(t, 0.25, first.ElapsedSeconds)
	assert.Equal(t, "max_iterations", first.TerminatedBy)
	assert.Equal(t, uint64(1<<63|7), first.Seed, "high bit survives the INTEGER column")
	assert.InDelta(t, 0.8, first.BestAccuracy, 1e-12)
	assert.True(t, base.Add(2*time.Minute).Equal(first.CreatedAt))

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byDocs, err := store.ListByPipeline(ctx, docs.Digest(), 0)
	require.NoError(t, err)
	require.Len(t, byDocs, 2)
	for _, r := range byDocs {
		assert.Equal(t, "docs", r.PipelineName)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	r := sampleReport(t, pipelineNamed("docs", "a"), time.Now(), 0.7)
	require.NoError(t, store.Save(ctx, r))

	require.NoError(t, store.Delete(ctx, r.RunID))
	assert.ErrorIs(t, store.Delete(ctx, r.RunID), ErrNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_SeparateInMemoryStores(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, a.Save(ctx, sampleReport(t, pipelineNamed("docs", "a"), time.Now(), 0.7)))

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
