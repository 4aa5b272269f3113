package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/planner/internal/search"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, search.DefaultConfig(), cfg.SearchConfig())
	assert.Equal(t, 1, cfg.Search.Restarts)
	assert.Zero(t, cfg.Search.Seed)
	assert.Equal(t, "mcts", cfg.Search.Strategy)
	assert.Equal(t, search.Sampling{Trials: 50}, cfg.Sampling())
	assert.True(t, cfg.Budget.Unlimited())
	assert.Equal(t, 0.05, cfg.Executor.Jitter)

	_, ok := cfg.BreakerConfig()
	assert.False(t, ok, "breaker disabled by default")
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Setenv(EnvSeed, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv(EnvSeed, "")
	path := writeConfig(t, `
search:
  max_iterations: 250
  seed: 7
  restarts: 4
  parallelism: 2
reward:
  accuracy_weight: 3
  time_budget: 2m
budget:
  max_tokens: 50000
  max_wall_time: 30s
executor:
  timeout: 5s
  rate_limit: 20
  burst: 4
  breaker:
    enabled: true
    failure_threshold: 3
    cooldown: 10s
  profiles:
    local-llama:
      accuracy: 0.72
      cost_per_1k: 0
      latency_per_1k: 3s
output:
  dir: results
  history: runs.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	sc := cfg.SearchConfig()
	assert.Equal(t, 250, sc.MaxIterations)
	assert.Equal(t, 5, sc.MaxChildren, "unset fields keep defaults")
	assert.Equal(t, 3.0, sc.Reward.AccuracyWeight)
	assert.Equal(t, 0.5, sc.Reward.TokenWeight)
	assert.Equal(t, 2*time.Minute, sc.Reward.TimeBudget)

	ms := cfg.MultiStart()
	assert.Equal(t, uint64(7), ms.Seed)
	assert.Equal(t, 4, ms.Restarts)
	assert.Equal(t, 2, ms.Parallelism)

	assert.Equal(t, int64(50000), cfg.Budget.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Budget.MaxWallTime)

	assert.Equal(t, 5*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, 20.0, cfg.Executor.RateLimit)
	bc, ok := cfg.BreakerConfig()
	require.True(t, ok)
	assert.Equal(t, 3, bc.FailureThreshold)
	assert.Equal(t, 10*time.Second, bc.Cooldown)

	require.Contains(t, cfg.Executor.Profiles, "local-llama")
	assert.Equal(t, 3*time.Second, cfg.Executor.Profiles["local-llama"].LatencyPer1K)
	assert.Len(t, cfg.SimulatedOptions(), 2)

	assert.Equal(t, "results", cfg.Output.Dir)
	assert.Equal(t, "runs.db", cfg.Output.History)
	assert.Equal(t, "text", cfg.Output.Format)
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Setenv(EnvSeed, "")
	cfg, err := Load(filepath.Join("..", "..", "examples", "planner.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Search.MaxIterations)
	assert.Equal(t, 2, cfg.Search.Restarts)
	assert.Equal(t, 60*time.Second, cfg.Reward.TimeBudget)
	assert.False(t, cfg.Budget.Unlimited())

	bc, ok := cfg.BreakerConfig()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, bc.Cooldown)
}

func TestLoad_EnvSeed(t *testing.T) {
	path := writeConfig(t, "search:\n  seed: 7\n")

	t.Setenv(EnvSeed, "12345")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), cfg.Search.Seed)

	t.Setenv(EnvSeed, "-1")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeConfig(t, "search:\n  max_iteration: 10\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative iterations", func(c *Config) { c.Search.MaxIterations = -1 }},
		{"negative exploration", func(c *Config) { c.Search.ExplorationWeight = -0.1 }},
		{"zero token budget", func(c *Config) { c.Reward.TokenBudget = 0 }},
		{"negative restarts", func(c *Config) { c.Search.Restarts = -2 }},
		{"negative parallelism", func(c *Config) { c.Search.Parallelism = -1 }},
		{"unknown strategy", func(c *Config) { c.Search.Strategy = "grid" }},
		{"negative trials", func(c *Config) { c.Search.Trials = -1 }},
		{"negative max cost", func(c *Config) { c.Budget.MaxCost = -1 }},
		{"negative timeout", func(c *Config) { c.Executor.Timeout = -time.Second }},
		{"negative rate", func(c *Config) { c.Executor.RateLimit = -5 }},
		{"jitter above one", func(c *Config) { c.Executor.Jitter = 1.5 }},
		{"unknown output format", func(c *Config) { c.Output.Format = "xml" }},
		{"breaker without threshold", func(c *Config) {
			c.Executor.Breaker.Enabled = true
			c.Executor.Breaker.FailureThreshold = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Search.Restarts = -1
	cfg.Executor.Jitter = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.restarts")
	assert.Contains(t, err.Error(), "executor.jitter")
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Search.Seed = 99
	cfg.Executor.Breaker.Enabled = true

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "cooldown: 30s")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestSchema(t *testing.T) {
	data, err := SchemaJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaID, doc["$id"])

	prop := func(m map[string]any, path ...string) map[string]any {
		t.Helper()
		for _, key := range path {
			props, ok := m["properties"].(map[string]any)
			require.True(t, ok, "no properties at %s", key)
			m, ok = props[key].(map[string]any)
			require.True(t, ok, "missing property %s", key)
		}
		return m
	}

	for _, section := range []string{"search", "reward", "budget", "executor", "output"} {
		prop(doc, section)
	}
	assert.Equal(t, "string", prop(doc, "executor", "timeout")["type"], "durations are strings")
	assert.Equal(t, "string", prop(doc, "reward", "time_budget")["type"])
	assert.Equal(t, "integer", prop(doc, "search", "max_iterations")["type"])
	assert.ElementsMatch(t, []any{"text", "json", "yaml"}, prop(doc, "output", "format")["enum"])
}
