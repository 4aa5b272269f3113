package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rand/planner/internal/budget"
	"github.com/rand/planner/internal/neighbor"
	"github.com/rand/planner/internal/observability"
	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Engine runs one search over the configurations reachable from an initial
// pipeline. An Engine is single-use and not safe for concurrent use; run
// several engines for parallel search.
type Engine struct {
	config   Config
	executor Executor
	root     *tree.Node

	seed      uint64
	seeded    bool
	rng       *rand.Rand
	generator *neighbor.Generator

	frontier *pareto.Frontier
	visited  map[string]struct{}

	logger   *slog.Logger
	budget   *budget.Tracker
	metrics  *observability.Metrics
	observer Observer

	state State
	stats Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSeed seeds the engine's random source. Without it a random seed is
// drawn and reported in Stats.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.seeded = true
	}
}

// WithGenerator replaces the default neighborhood generator. The generator
// carries its own random source.
func WithGenerator(g *neighbor.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithBudget stops the run once the tracker reports a hard violation.
func WithBudget(t *budget.Tracker) Option {
	return func(e *Engine) { e.budget = t }
}

// WithMetrics records Prometheus metrics for the run.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver registers a per-iteration callback.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an engine rooted at initial.
func New(initial *pipeline.Config, exec Executor, cfg Config, opts ...Option) (*Engine, error) {
	if initial == nil {
		return nil, ErrNilPipeline
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial pipeline: %w", err)
	}

	e := &Engine{
		config:   cfg,
		executor: exec,
		root:     tree.NewRoot(initial.Clone()),
		frontier: pareto.New(),
		visited:  make(map[string]struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.seeded {
		e.seed = rand.Uint64()
	}
	e.rng = rand.New(rand.NewPCG(e.seed, e.seed^0x9e3779b97f4a7c15))
	if e.generator == nil {
		e.generator = neighbor.NewGenerator(e.rng)
	}
	e.stats.Seed = e.seed

	return e, nil
}

// Root returns the root node of the search tree.
func (e *Engine) Root() *tree.Node { return e.root }

// Frontier returns the engine's frontier.
func (e *Engine) Frontier() *pareto.Frontier { return e.frontier }

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// Seed returns the random seed in use.
func (e *Engine) Seed() uint64 { return e.seed }

// Result is the outcome of a run.
type Result struct {
	Root     *tree.Node
	Frontier *pareto.Frontier
	Stats    Stats
}

// Run executes the search. It returns the frontier found so far on every
// path; when ctx is cancelled it also returns ctx.Err(). The context is only
// checked between iterations and passed to the executor.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.state != StateIdle {
		return nil, ErrAlreadyRun
	}
	e.state = StateRunning
	start := time.Now()

	log := e.logger.With("seed", e.seed)
	log.Info("search started",
		"pipeline", e.root.Config().Name,
		"stages", e.root.Config().Len(),
		"max_iterations", e.config.MaxIterations,
		"max_children", e.config.MaxChildren,
	)

	reason, err := e.loop(ctx, log)

	e.state = StateDone
	result := e.buildResult(start, reason)
	log.Info("search finished",
		"terminated_by", reason,
		"iterations", result.Stats.Iterations,
		"simulations", result.Stats.Simulations,
		"failures", result.Stats.Failures,
		"frontier_size", result.Stats.FrontierSize,
		"nodes", result.Stats.Nodes,
		"elapsed", result.Stats.Elapsed,
	)
	return result, err
}

func (e *Engine) loop(ctx context.Context, log *slog.Logger) (TerminationReason, error) {
	if err := ctx.Err(); err != nil {
		return TerminatedCancelled, err
	}

	e.visited[e.root.ID()] = struct{}{}
	if _, ok := e.simulate(ctx, e.root, log); ok {
		e.insert(e.root)
	}

	if len(e.generator.Applicable(e.root.Config())) == 0 {
		log.Info("initial pipeline has no neighbors")
		return TerminatedExhausted, nil
	}

	for iter := 0; iter < e.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return TerminatedCancelled, err
		}
		if e.budget != nil && e.budget.Exhausted() {
			for _, v := range e.budget.Violations() {
				if v.Hard {
					log.Info("budget exhausted", "metric", v.Metric, "detail", v.Message)
				}
			}
			return TerminatedBudget, nil
		}

		e.stats.Iterations++
		e.metrics.RecordIteration()
		ev := e.iterate(ctx, iter, log)
		if e.observer != nil {
			e.observer(ev)
		}
	}
	return TerminatedMaxIter, nil
}

// iterate runs one select, expand, simulate, backpropagate step.
func (e *Engine) iterate(ctx context.Context, iter int, log *slog.Logger) IterationEvent {
	selected := e.selectNode()
	ev := IterationEvent{Iteration: iter, Selected: selected}

	children := e.expand(selected)
	if len(children) == 0 {
		selected.Visit()
		e.stats.DeadEnds++
		e.metrics.RecordDeadEnd()
		log.Debug("dead end", "iteration", iter, "node", selected.String())
		ev.DeadEnd = true
		ev.FrontierSize = e.frontier.Len()
		return ev
	}

	child := children[e.rng.IntN(len(children))]
	ev.Simulated = child

	metrics, ok := e.simulate(ctx, child, log)
	if !ok {
		if !child.Evaluated() {
			// Cancelled mid-call; the loop stops before the next iteration.
			ev.FrontierSize = e.frontier.Len()
			return ev
		}
		child.Visit()
		ev.Failed = true
		ev.FrontierSize = e.frontier.Len()
		return ev
	}

	reward := e.config.Reward.Reward(metrics)
	child.Backpropagate(reward)
	e.metrics.RecordReward(reward)

	ev.Reward = reward
	ev.Accepted = e.insert(child)
	ev.FrontierSize = e.frontier.Len()

	log.Debug("iteration",
		"iteration", iter,
		"depth", child.Depth(),
		"action", child.Action(),
		"reward", reward,
		"accepted", ev.Accepted,
		"frontier_size", ev.FrontierSize,
	)
	return ev
}

// selectNode descends from the root. It stops at a leaf or at a node that is
// not fully expanded; otherwise it follows the child with the highest UCB,
// treating failed children as never preferred.
func (e *Engine) selectNode() *tree.Node {
	node := e.root
	for !node.IsLeaf() {
		if !node.IsFullyExpanded() {
			return node
		}
		next := e.bestChild(node)
		if next == nil {
			return node
		}
		node = next
	}
	return node
}

// bestChild returns the first child with the highest UCB, or nil when every
// child failed.
func (e *Engine) bestChild(node *tree.Node) *tree.Node {
	var (
		best  *tree.Node
		score = math.Inf(-1)
	)
	for _, c := range node.Children() {
		if c.Failed() {
			continue
		}
		if s := c.UCB(e.config.ExplorationWeight); best == nil || s > score {
			best, score = c, s
		}
	}
	return best
}

// expand generates children of node, drops configurations already seen in
// this run, and attaches the survivors.
func (e *Engine) expand(node *tree.Node) []*tree.Node {
	candidates := e.generator.Generate(node, e.config.MaxChildren)

	var fresh []*tree.Node
	for _, c := range candidates {
		id := c.ID()
		if _, seen := e.visited[id]; seen {
			continue
		}
		e.visited[id] = struct{}{}
		node.AddChild(c)
		fresh = append(fresh, c)
	}
	return fresh
}

// simulate evaluates node once. Previously recorded metrics are reused. A
// call interrupted by ctx leaves the node unevaluated and is not counted.
func (e *Engine) simulate(ctx context.Context, node *tree.Node, log *slog.Logger) (tree.Metrics, bool) {
	if node.Evaluated() {
		m, _ := node.Metrics()
		return m, !node.Failed()
	}

	start := time.Now()
	m, err := execute(ctx, e.executor, node.Config())
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		log.Debug("simulation interrupted", "node", node.String(), "error", err)
		return tree.Metrics{}, false
	}

	e.stats.Simulations++
	e.metrics.RecordSimulation(latency, err != nil)

	if err != nil {
		e.stats.Failures++
		node.RecordFailure()
		log.Warn("simulation failed", "node", node.String(), "action", node.Action(), "error", err)
		return tree.Metrics{}, false
	}

	node.RecordMetrics(m)
	if e.budget != nil {
		if err := e.budget.Record(m); err != nil {
			var v budget.Violation
			if errors.As(err, &v) {
				log.Debug("budget limit reached", "metric", v.Metric)
			}
		}
	}
	return m, true
}

// execute calls exec, turning a panic or out-of-range metrics into an error.
func execute(ctx context.Context, exec Executor, cfg *pipeline.Config) (m tree.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	m, err = exec.Execute(ctx, cfg)
	if err != nil {
		return tree.Metrics{}, err
	}
	if err := m.Validate(); err != nil {
		return tree.Metrics{}, err
	}
	return m, nil
}

func (e *Engine) insert(n *tree.Node) bool {
	accepted := e.frontier.Insert(n)
	if accepted {
		e.metrics.SetFrontierSize(e.frontier.Len())
	}
	return accepted
}

func (e *Engine) buildResult(start time.Time, reason TerminationReason) *Result {
	ts := e.root.Stats()

	e.stats.FrontierSize = e.frontier.Len()
	e.stats.Elapsed = time.Since(start)
	e.stats.RootVisits = e.root.Visits()
	e.stats.Nodes = ts.Nodes
	e.stats.MaxDepth = ts.MaxDepth
	e.stats.AvgBranching = ts.AvgBranching
	e.stats.TerminatedBy = reason

	return &Result{
		Root:     e.root,
		Frontier: e.frontier,
		Stats:    e.stats,
	}
}
