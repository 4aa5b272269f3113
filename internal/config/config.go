// Package config loads the planner's YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rand/planner/internal/budget"
	"github.com/rand/planner/internal/executor"
	"github.com/rand/planner/internal/resilience"
	"github.com/rand/planner/internal/search"
)

// EnvSeed overrides search.seed when set.
const EnvSeed = "PLANNER_SEED"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete planner configuration.
type Config struct {
	Search   SearchConfig        `json:"search" yaml:"search"`
	Reward   search.RewardConfig `json:"reward" yaml:"reward"`
	Budget   budget.Limits       `json:"budget" yaml:"budget"`
	Executor ExecutorConfig      `json:"executor" yaml:"executor"`
	Output   OutputConfig        `json:"output" yaml:"output"`
}

// SearchConfig configures the tree search.
type SearchConfig struct {
	MaxIterations     int     `json:"max_iterations" yaml:"max_iterations" jsonschema:"description=Maximum search iterations per run,minimum=0"`
	MaxChildren       int     `json:"max_children" yaml:"max_children" jsonschema:"description=Children generated per expansion,minimum=1"`
	ExplorationWeight float64 `json:"exploration_weight" yaml:"exploration_weight" jsonschema:"description=UCB exploration constant,minimum=0"`

	// Seed fixes the random source; zero draws one per run.
	Seed uint64 `json:"seed" yaml:"seed" jsonschema:"description=Random seed; 0 draws one per run"`

	// Restarts is the number of independent runs merged into one frontier.
	Restarts int `json:"restarts" yaml:"restarts" jsonschema:"description=Independent runs merged into one frontier,minimum=0,default=1"`

	// Parallelism bounds concurrent restarts, or concurrent trials when
	// sampling; zero runs all restarts at once and trials one at a time.
	Parallelism int `json:"parallelism" yaml:"parallelism" jsonschema:"description=Concurrent restarts or trials,minimum=0"`

	// Strategy is mcts (tree search) or sample (independent random trials).
	Strategy string `json:"strategy" yaml:"strategy" jsonschema:"enum=mcts,enum=sample,default=mcts"`

	// Trials is the number of configurations drawn by the sample strategy.
	Trials int `json:"trials" yaml:"trials" jsonschema:"description=Configurations drawn by the sample strategy,minimum=0,default=50"`
}

// ExecutorConfig configures the simulated executor and its middlewares.
type ExecutorConfig struct {
	// Timeout bounds each execution; zero disables it.
	Timeout time.Duration `json:"timeout" yaml:"timeout" jsonschema:"description=Per-execution timeout such as 30s; 0 disables"`

	// RateLimit is the maximum executions per second; zero disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" jsonschema:"description=Maximum executions per second; 0 disables,minimum=0"`
	Burst     int     `json:"burst" yaml:"burst" jsonschema:"description=Rate limiter burst,minimum=0"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`

	// Jitter is the accuracy noise amplitude of the simulated executor.
	Jitter float64 `json:"jitter" yaml:"jitter" jsonschema:"description=Accuracy noise amplitude of the simulated executor,minimum=0,maximum=1"`

	// Profiles override or extend the built-in model profiles.
	Profiles map[string]executor.Profile `json:"profiles,omitempty" yaml:"profiles,omitempty" jsonschema:"description=Model profiles merged over the built-in ones"`
}

// BreakerConfig configures the executor circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled" jsonschema:"description=Guard executions with a circuit breaker,default=false"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
}

// OutputConfig sets default destinations for run artifacts.
type OutputConfig struct {
	// Dir receives the exported result files; empty skips export.
	Dir string `json:"dir" yaml:"dir" jsonschema:"description=Directory receiving the exported result files"`

	// Format of the report printed to stdout: text, json or yaml.
	Format string `json:"format" yaml:"format" jsonschema:"enum=text,enum=json,enum=yaml,default=text"`

	// History is the SQLite history database; empty disables recording.
	History string `json:"history" yaml:"history" jsonschema:"description=SQLite history database path"`
}

// Default returns the default configuration.
func Default() *Config {
	sc := search.DefaultConfig()
	bc := resilience.DefaultConfig()
	return &Config{
		Search: SearchConfig{
			MaxIterations:     sc.MaxIterations,
			MaxChildren:       sc.MaxChildren,
			ExplorationWeight: sc.ExplorationWeight,
			Restarts:          1,
			Strategy:          string(search.StrategyTree),
			Trials:            50,
		},
		Reward: sc.Reward,
		Budget: budget.Limits{WarningThreshold: 0.8},
		Executor: ExecutorConfig{
			Timeout: 30 * time.Second,
			Burst:   1,
			Breaker: BreakerConfig{
				FailureThreshold: bc.FailureThreshold,
				Cooldown:         bc.Cooldown,
				SuccessThreshold: bc.SuccessThreshold,
			},
			Jitter: 0.05,
		},
		Output: OutputConfig{Format: "text"},
	}
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	v, ok := os.LookupEnv(EnvSeed)
	if !ok || v == "" {
		return nil
	}
	seed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an unsigned integer", ErrInvalid, EnvSeed, v)
	}
	c.Search.Seed = seed
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.SearchConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Search.Restarts < 0 {
		errs = append(errs, fmt.Errorf("search.restarts must be >= 0, got %d", c.Search.Restarts))
	}
	if c.Search.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("search.parallelism must be >= 0, got %d", c.Search.Parallelism))
	}
	if _, err := search.ParseStrategy(c.Search.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("search.strategy: %w", err))
	}
	if c.Search.Trials < 0 {
		errs = append(errs, fmt.Errorf("search.trials must be >= 0, got %d", c.Search.Trials))
	}
	if err := c.Budget.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("budget: %w", err))
	}
	errs = append(errs, c.Executor.validate()...)
	switch c.Output.Format {
	case "", "text", "json", "yaml", "yml":
	default:
		errs = append(errs, fmt.Errorf("output.format must be text, json or yaml, got %q", c.Output.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (e ExecutorConfig) validate() []error {
	var errs []error
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("executor.timeout must be >= 0, got %s", e.Timeout))
	}
	if e.RateLimit < 0 || math.IsNaN(e.RateLimit) {
		errs = append(errs, fmt.Errorf("executor.rate_limit must be >= 0, got %v", e.RateLimit))
	}
	if e.Burst < 0 {
		errs = append(errs, fmt.Errorf("executor.burst must be >= 0, got %d", e.Burst))
	}
	if e.Jitter < 0 || e.Jitter > 1 {
		errs = append(errs, fmt.Errorf("executor.jitter must be in [0,1], got %v", e.Jitter))
	}
	if e.Breaker.Enabled && e.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("executor.breaker.failure_threshold must be > 0, got %d", e.Breaker.FailureThreshold))
	}
	for name, p := range e.Profiles {
		if p.Accuracy < 0 || p.Accuracy > 1 || p.CostPer1K < 0 || p.LatencyPer1K < 0 {
			errs = append(errs, fmt.Errorf("executor.profiles.%s: accuracy must be in [0,1] and cost, latency >= 0", name))
		}
	}
	return errs
}

// SearchConfig converts to the engine configuration.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		MaxIterations:     c.Search.MaxIterations,
		MaxChildren:       c.Search.MaxChildren,
		ExplorationWeight: c.Search.ExplorationWeight,
		Reward:            c.Reward,
	}
}

// MultiStart converts to the multi-start settings. Engine options are left
// to the caller.
func (c *Config) MultiStart() search.MultiStart {
	return search.MultiStart{
		Restarts:    c.Search.Restarts,
		Parallelism: c.Search.Parallelism,
		Seed:        c.Search.Seed,
	}
}

// Sampling converts to the sample strategy settings. Logger, metrics and
// budget are left to the caller.
func (c *Config) Sampling() search.Sampling {
	return search.Sampling{
		Trials:      c.Search.Trials,
		Parallelism: c.Search.Parallelism,
		Seed:        c.Search.Seed,
	}
}

// BreakerConfig converts to the circuit breaker configuration. ok is false
// when the breaker is disabled.
func (c *Config) BreakerConfig() (cfg resilience.Config, ok bool) {
	b := c.Executor.Breaker
	if !b.Enabled {
		return resilience.Config{}, false
	}
	return resilience.Config{
		FailureThreshold: b.FailureThreshold,
		Cooldown:         b.Cooldown,
		SuccessThreshold: b.SuccessThreshold,
	}, true
}

// SimulatedOptions converts to the simulated executor options.
func (c *Config) SimulatedOptions() []executor.SimulatedOption {
	opts := []executor.SimulatedOption{executor.WithJitter(c.Executor.Jitter)}
	if len(c.Executor.Profiles) > 0 {
		opts = append(opts, executor.WithProfiles(c.Executor.Profiles))
	}
	return opts
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
