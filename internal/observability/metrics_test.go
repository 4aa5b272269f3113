package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m, reg := NewRegistry()

	m.RecordIteration()
	m.RecordIteration()
	m.RecordSimulation(10*time.Millisecond, false)
	m.RecordSimulation(20*time.Millisecond, true)
	m.RecordDeadEnd()
	m.RecordReward(0.75)
	m.SetFrontierSize(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Iterations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Simulations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadEnds))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FrontierSize))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIteration()
		m.RecordSimulation(time.Second, true)
		m.RecordDeadEnd()
		m.RecordReward(1)
		m.SetFrontierSize(3)
	})
}

func TestMetrics_RegistriesAreIsolated(t *testing.T) {
	a, _ := NewRegistry()
	b, _ := NewRegistry()
	a.RecordIteration()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Iterations))
}

func TestWriteTextfile(t *testing.T) {
	m, reg := NewRegistry()
	m.RecordIteration()
	m.SetFrontierSize(2)

	path := filepath.Join(t.TempDir(), "planner.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "planner_search_iterations_total 1"))
	assert.True(t, strings.Contains(text, "planner_search_frontier_size 2"))
}
