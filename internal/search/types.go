// Package search implements the Monte Carlo tree search over pipeline
// configurations.
//
// Each iteration selects a node by UCB, expands it with the neighborhood
// generator, evaluates one new child through an Executor, folds the result
// into a Pareto frontier and backpropagates a scalar reward to the root.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Executor runs a pipeline configuration and measures it. Any error is a
// failure local to the simulated node.
type Executor interface {
	Execute(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
	return f(ctx, cfg)
}

// Errors for search operations.
var (
	ErrAlreadyRun    = errors.New("engine has already run")
	ErrNilExecutor   = errors.New("executor is nil")
	ErrNilPipeline   = errors.New("initial pipeline is nil")
	ErrInvalidConfig = errors.New("invalid search config")
)

// RewardConfig weights the objectives folded into the scalar reward.
// TokenBudget and TimeBudget only normalize; they do not stop the search.
type RewardConfig struct {
	AccuracyWeight float64       `json:"accuracy_weight" yaml:"accuracy_weight"`
	TokenWeight    float64       `json:"token_weight" yaml:"token_weight"`
	TimeWeight     float64       `json:"time_weight" yaml:"time_weight"`
	TokenBudget    int           `json:"token_budget" yaml:"token_budget"`
	TimeBudget     time.Duration `json:"time_budget" yaml:"time_budget"`
}

// DefaultRewardConfig returns the standard weights.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		AccuracyWeight: 2.0,
		TokenWeight:    0.5,
		TimeWeight:     0.5,
		TokenBudget:    10000,
		TimeBudget:     60 * time.Second,
	}
}

// Reward computes
//
//	AccuracyWeight*acc - TokenWeight*min(tokens/TokenBudget, 1) - TimeWeight*min(time/TimeBudget, 1)
func (r RewardConfig) Reward(m tree.Metrics) float64 {
	tokenPenalty := math.Min(float64(m.Tokens)/float64(r.TokenBudget), 1)
	timePenalty := math.Min(float64(m.ExecutionTime)/float64(r.TimeBudget), 1)
	return r.AccuracyWeight*m.Accuracy - r.TokenWeight*tokenPenalty - r.TimeWeight*timePenalty
}

// Validate checks that both normalization budgets are positive.
func (r RewardConfig) Validate() error {
	if r.TokenBudget <= 0 {
		return fmt.Errorf("%w: token_budget must be > 0, got %d", ErrInvalidConfig, r.TokenBudget)
	}
	if r.TimeBudget <= 0 {
		return fmt.Errorf("%w: time_budget must be > 0, got %v", ErrInvalidConfig, r.TimeBudget)
	}
	return nil
}

// Config configures one search run.
type Config struct {
	// MaxIterations is the iteration budget.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// MaxChildren caps the children generated per expansion; <= 0 is no cap.
	MaxChildren int `json:"max_children" yaml:"max_children"`

	// ExplorationWeight is the UCB exploration constant (typically sqrt(2)).
	ExplorationWeight float64 `json:"exploration_weight" yaml:"exploration_weight"`

	Reward RewardConfig `json:"reward" yaml:"reward"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     100,
		MaxChildren:       5,
		ExplorationWeight: 1.414,
		Reward:            DefaultRewardConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be >= 0, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.ExplorationWeight < 0 || math.IsNaN(c.ExplorationWeight) {
		return fmt.Errorf("%w: exploration_weight must be >= 0, got %v", ErrInvalidConfig, c.ExplorationWeight)
	}
	return c.Reward.Validate()
}

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// TerminationReason indicates why a run stopped.
type TerminationReason string

const (
	TerminatedMaxIter   TerminationReason = "max_iterations"
	TerminatedExhausted TerminationReason = "tree_exhausted"
	TerminatedBudget    TerminationReason = "budget_exhausted"
	TerminatedCancelled TerminationReason = "cancelled"
)

// Stats contains statistics about a run.
type Stats struct {
	// Iterations is the number of iterations started.
	Iterations int

	// Simulations counts executor invocations, including the root's.
	Simulations int

	// Failures counts failed executor invocations.
	Failures int

	// DeadEnds counts expansions that yielded no new configuration.
	DeadEnds int

	// FrontierSize is the final number of Pareto points.
	FrontierSize int

	// Elapsed is the wall-clock run time.
	Elapsed time.Duration

	RootVisits   int
	Nodes        int
	MaxDepth     int
	AvgBranching float64

	// Seed is the random seed the run used.
	Seed uint64

	TerminatedBy TerminationReason
}

// IterationEvent describes one finished iteration, for observers.
type IterationEvent struct {
	Iteration int

	// Selected is the node chosen for expansion.
	Selected *tree.Node

	// Simulated is the evaluated child; nil on a dead end.
	Simulated *tree.Node

	DeadEnd  bool
	Failed   bool
	Reward   float64
	Accepted bool

	FrontierSize int
}

// Observer is called after every iteration on the run's goroutine.
type Observer func(IterationEvent)
