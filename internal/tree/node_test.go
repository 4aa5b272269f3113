package tree

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/planner/internal/pipeline"
)

func testConfig(selected string) *pipeline.Config {
	return pipeline.MustNew("t",
		pipeline.MustStage("s", pipeline.KindMap, []string{"a", "b", "c"}, pipeline.WithSelected(selected)),
	)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusUnevaluated, "unevaluated"},
		{StatusEvaluated, "evaluated"},
		{StatusFailed, "failed"},
		{Status(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.status.String())
	}
}

func TestMetrics_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Metrics
		wantErr bool
	}{
		{"valid", Metrics{Accuracy: 0.9, Tokens: 100, ExecutionTime: time.Second, Cost: 0.1}, false},
		{"zero", Metrics{}, false},
		{"accuracy above one", Metrics{Accuracy: 1.1}, true},
		{"accuracy negative", Metrics{Accuracy: -0.1}, true},
		{"accuracy nan", Metrics{Accuracy: math.NaN()}, true},
		{"negative tokens", Metrics{Tokens: -1}, true},
		{"negative time", Metrics{ExecutionTime: -time.Second}, true},
		{"negative cost", Metrics{Cost: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMetrics)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNode_AddChild(t *testing.T) {
	root := NewRoot(testConfig("a"))
	child := NewChild(root, testConfig("b"), "switch")

	assert.True(t, root.IsLeaf())
	assert.Same(t, root, child.Parent(), "parent set before attach")
	assert.Empty(t, root.Children(), "NewChild must not attach")

	root.AddChild(child)
	assert.False(t, root.IsLeaf())
	assert.Len(t, root.Children(), 1)
	assert.Same(t, root, child.Parent())

	// No uniqueness check at this level.
	root.AddChild(child)
	assert.Len(t, root.Children(), 2)
}

func TestNode_IsFullyExpanded(t *testing.T) {
	root := NewRoot(testConfig("a"))
	root.visits = 100
	assert.False(t, root.IsFullyExpanded(), "leaf is never fully expanded")

	root.AddChild(NewChild(root, testConfig("b"), ""))
	root.AddChild(NewChild(root, testConfig("c"), ""))

	root.visits = 4
	assert.False(t, root.IsFullyExpanded(), "visits == 2*children")

	root.visits = 5
	assert.True(t, root.IsFullyExpanded())
}

func TestNode_UCB(t *testing.T) {
	tests := []struct {
		name         string
		visits       int
		totalReward  float64
		parentVisits int
		hasParent    bool
		expected     float64
	}{
		{"unvisited", 0, 0, 10, true, math.Inf(1)},
		{"no parent", 4, 2, 0, false, 0.5},
		{"unvisited parent", 4, 2, 0, true, 0.5},
		{"explored", 4, 2, 16, true, 0.5 + 1.414*math.Sqrt(math.Log(16)/4)},
		{"parent visited once", 1, 1.5, 1, true, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewRoot(testConfig("a"))
			n.visits = tt.visits
			n.totalReward = tt.totalReward
			if tt.hasParent {
				p := NewRoot(testConfig("b"))
				p.visits = tt.parentVisits
				p.AddChild(n)
			}
			got := n.UCB(1.414)
			if math.IsInf(tt.expected, 1) {
				assert.True(t, math.IsInf(got, 1))
				return
			}
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestNode_RecordMetricsAndFailure(t *testing.T) {
	n := NewRoot(testConfig("a"))
	_, ok := n.Metrics()
	assert.False(t, ok)
	assert.False(t, n.Evaluated())

	m := Metrics{Accuracy: 0.8, Tokens: 900, ExecutionTime: 2 * time.Second, Cost: 0.01}
	n.RecordMetrics(m)
	got, ok := n.Metrics()
	require.True(t, ok)
	assert.Equal(t, m, got)
	assert.Equal(t, StatusEvaluated, n.Status())
	assert.False(t, n.EvaluatedAt().IsZero())

	f := NewRoot(testConfig("b"))
	f.RecordFailure()
	got, ok = f.Metrics()
	require.True(t, ok)
	assert.Equal(t, Metrics{}, got)
	assert.True(t, f.Failed())
	assert.True(t, f.Evaluated())
}

func TestNode_Backpropagate(t *testing.T) {
	root := NewRoot(testConfig("a"))
	mid := NewChild(root, testConfig("b"), "")
	root.AddChild(mid)
	leaf := NewChild(mid, testConfig("c"), "")
	mid.AddChild(leaf)
	sibling := NewChild(root, testConfig("c"), "")
	root.AddChild(sibling)

	leaf.Backpropagate(1.5)
	leaf.Backpropagate(0.5)

	for _, n := range []*Node{root, mid, leaf} {
		assert.Equal(t, 2, n.Visits())
		assert.InDelta(t, 2.0, n.TotalReward(), 1e-9)
		assert.InDelta(t, 1.0, n.MeanReward(), 1e-9)
	}
	assert.Equal(t, 0, sibling.Visits(), "siblings untouched")
	assert.Equal(t, 0.0, sibling.MeanReward())
}

func TestNode_PathAndDepth(t *testing.T) {
	root := NewRoot(testConfig("a"))
	mid := NewChild(root, testConfig("b"), "")
	root.AddChild(mid)
	leaf := NewChild(mid, testConfig("c"), "")
	mid.AddChild(leaf)

	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 2, leaf.Depth())
	assert.Equal(t, []*Node{root, mid, leaf}, leaf.PathFromRoot())
	assert.Equal(t, []*Node{root}, root.PathFromRoot())
}

func TestNode_Stats(t *testing.T) {
	root := NewRoot(testConfig("a"))
	c1 := NewChild(root, testConfig("b"), "")
	c2 := NewChild(root, testConfig("c"), "")
	root.AddChild(c1)
	root.AddChild(c2)
	gc := NewChild(c1, testConfig("a"), "")
	c1.AddChild(gc)

	root.RecordMetrics(Metrics{Accuracy: 0.5})
	c1.RecordFailure()

	stats := root.Stats()
	assert.Equal(t, 4, stats.Nodes)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.MaxDepth)
	assert.InDelta(t, 1.5, stats.AvgBranching, 1e-9)

	var seen int
	root.Walk(func(n *Node) bool {
		seen++
		return n != c1
	})
	assert.Equal(t, 3, seen, "walk skips c1's subtree")
}
