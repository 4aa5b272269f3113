package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rand/planner/internal/budget"
	"github.com/rand/planner/internal/config"
	"github.com/rand/planner/internal/executor"
	"github.com/rand/planner/internal/history"
	"github.com/rand/planner/internal/observability"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/report"
	"github.com/rand/planner/internal/resilience"
	"github.com/rand/planner/internal/search"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <pipeline.yaml>",
		Short: "Search configurations of a pipeline",
		Long: `Search runs Monte Carlo tree search over the implementation choices and stage
order of a pipeline, using the simulated executor, and prints the Pareto
frontier with four recommendations: best accuracy, lowest cost, fastest and
balanced.

With --strategy sample it instead draws independent trials, each selecting one
implementation per stage at random with the stage order kept, and folds every
trial into the frontier.`,
		Example: `
# Search with defaults
planner search examples/medical_summary.yaml

# Reproducible run with more iterations, exported results and history
planner search --iterations 300 --seed 42 --out results/medical --history runs.db examples/medical_summary.yaml

# Four parallel restarts merged into one frontier, report as YAML
planner search --restarts 4 --parallel 2 --format yaml examples/medical_summary.yaml

# 80 random trials, four at a time
planner search --strategy sample --trials 80 --parallel 4 examples/medical_summary.yaml
`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	f := cmd.Flags()
	f.IntP("iterations", "n", 0, "Maximum search iterations (default from config)")
	f.Uint64("seed", 0, "Random seed; 0 draws one")
	f.Int("max-children", 0, "Children generated per expansion (default from config)")
	f.Float64("exploration", 0, "UCB exploration weight (default from config)")
	f.Int("restarts", 0, "Independent runs merged into one frontier (default from config)")
	f.Int("parallel", 0, "Restarts or trials run concurrently; 0 runs all restarts at once, trials one at a time")
	f.String("strategy", "", "Search strategy: mcts or sample (default from config)")
	f.Int("trials", 0, "Configurations drawn by the sample strategy (default from config)")
	f.Duration("timeout", 0, "Stop the search after this long and report what was found")
	f.StringP("out", "o", "", "Directory for pareto_frontier.json, search_stats.json and recommendations.json")
	f.StringP("format", "f", "", "Report printed to stdout: text, json or yaml (default from config)")
	f.String("history", "", "SQLite database recording the run")
	f.String("metrics-file", "", "Write Prometheus metrics in text format to this file")
	f.String("trace-file", "", "Write OpenTelemetry spans as JSON lines to this file")
	f.BoolP("quiet", "q", false, "Only print warnings and the encoded report")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySearchFlags(cmd, cfg); err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	logger, closeLog := newLogger(cmd, quiet)
	defer closeLog()

	initial, err := pipeline.LoadFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	seed := cfg.Search.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	metrics, registry := observability.NewRegistry()
	var tracker *budget.Tracker
	if !cfg.Budget.Unlimited() {
		tracker = budget.NewTracker(cfg.Budget)
		tracker.SetLimitCallback(func(v budget.Violation) {
			logger.Warn("budget limit", "metric", v.Metric, "detail", v.Message, "hard", v.Hard)
		})
	}

	ms := cfg.MultiStart()
	ms.Seed = seed
	ms.Options = []search.Option{
		search.WithLogger(logger),
		search.WithMetrics(metrics),
	}
	if tracker != nil {
		ms.Options = append(ms.Options, search.WithBudget(tracker))
	}

	strategy, err := search.ParseStrategy(cfg.Search.Strategy)
	if err != nil {
		return err
	}

	logger.Info("planning",
		"pipeline", initial.Name,
		"stages", initial.Len(),
		"strategy", strategy,
		"iterations", cfg.Search.MaxIterations,
		"restarts", max(ms.Restarts, 1),
		"seed", seed,
	)

	var tracer trace.Tracer
	if path, _ := cmd.Flags().GetString("trace-file"); path != "" {
		var stop func()
		tracer, stop, err = startTracing(ctx, path, logger)
		if err != nil {
			return err
		}
		defer stop()

		var span trace.Span
		ctx, span = tracer.Start(ctx, "planner.search", trace.WithAttributes(
			attribute.String("pipeline.name", initial.Name),
			attribute.String("search.seed", fmt.Sprint(seed)),
			attribute.Int("search.max_iterations", cfg.Search.MaxIterations),
		))
		defer span.End()
	}

	sim := executor.NewSimulated(seed, cfg.SimulatedOptions()...)
	for _, id := range sim.Unknown(initial) {
		logger.Warn("implementation has no profile, simulating with defaults", "id", id, "suggestions", sim.Suggest(id))
	}

	exec := buildExecutor(sim, cfg, tracer, logger)

	var (
		rep    *report.Report
		runErr error
	)
	switch strategy {
	case search.StrategySample:
		sp := cfg.Sampling()
		sp.Seed = seed
		sp.Logger = logger
		sp.Metrics = metrics
		sp.Budget = tracker
		var res *search.SampleResult
		res, runErr = search.RunSampled(ctx, initial, exec, sp)
		if res != nil {
			rep = report.FromSample(initial, res)
		}
	default:
		var res *search.MultiResult
		res, runErr = search.RunMany(ctx, initial, exec, cfg.SearchConfig(), ms)
		if res != nil {
			rep = report.FromMulti(initial, res)
		}
	}
	if runErr != nil && (rep == nil || !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded)) {
		return fmt.Errorf("search: %w", runErr)
	}
	if runErr != nil {
		logger.Warn("search interrupted, reporting partial results", "reason", runErr)
	}

	if err := emitReport(cmd.OutOrStdout(), rep, cfg.Output.Format, quiet); err != nil {
		return err
	}
	if tracker != nil && !quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), budget.NewReport(tracker).Detailed())
	}

	if cfg.Output.Dir != "" {
		paths, err := rep.WriteDir(cfg.Output.Dir)
		if err != nil {
			return err
		}
		logger.Info("results written", "dir", cfg.Output.Dir, "files", len(paths))
	}

	if cfg.Output.History != "" {
		if err := recordHistory(cmd.Context(), cfg.Output.History, rep); err != nil {
			return err
		}
		logger.Info("run recorded", "run_id", rep.RunID, "history", cfg.Output.History)
	}

	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := observability.WriteTextfile(path, registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// applySearchFlags overrides config values with explicitly set flags.
func applySearchFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("iterations") {
		cfg.Search.MaxIterations, _ = f.GetInt("iterations")
	}
	if f.Changed("seed") {
		cfg.Search.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("max-children") {
		cfg.Search.MaxChildren, _ = f.GetInt("max-children")
	}
	if f.Changed("exploration") {
		cfg.Search.ExplorationWeight, _ = f.GetFloat64("exploration")
	}
	if f.Changed("restarts") {
		cfg.Search.Restarts, _ = f.GetInt("restarts")
	}
	if f.Changed("parallel") {
		cfg.Search.Parallelism, _ = f.GetInt("parallel")
	}
	if f.Changed("strategy") {
		cfg.Search.Strategy, _ = f.GetString("strategy")
	}
	if f.Changed("trials") {
		cfg.Search.Trials, _ = f.GetInt("trials")
	}
	if f.Changed("out") {
		cfg.Output.Dir, _ = f.GetString("out")
	}
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("history") {
		cfg.Output.History, _ = f.GetString("history")
	}
	return cfg.Validate()
}

// buildExecutor wraps the simulated executor in the configured middlewares.
// The breaker sits outside the limiter so an open circuit never waits on it.
// Tracing is outermost so rejected calls get spans too.
func buildExecutor(sim *executor.Simulated, cfg *config.Config, tracer trace.Tracer, logger *slog.Logger) search.Executor {
	exec := executor.WithTimeout(sim, cfg.Executor.Timeout)
	exec = executor.Throttled(exec, executor.NewLimiter(cfg.Executor.RateLimit, cfg.Executor.Burst))

	if bc, ok := cfg.BreakerConfig(); ok {
		bc.OnStateChange = func(from, to resilience.State) {
			logger.Warn("executor circuit", "from", from.String(), "to", to.String())
		}
		exec = executor.Guarded(exec, resilience.New(bc))
	}
	return executor.Traced(exec, tracer)
}

// startTracing exports spans to path. stop flushes the exporter and closes
// the file; call it after the last span ends.
func startTracing(ctx context.Context, path string, logger *slog.Logger) (trace.Tracer, func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace file: %w", err)
	}
	tracing, err := observability.NewTracing(f, version)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
		if err := f.Close(); err != nil {
			logger.Warn("close trace file", "error", err)
		}
	}
	return tracing.Tracer(), stop, nil
}

// emitReport prints rep to w: the terminal summary for "text" (nothing when
// quiet), otherwise the encoded report.
func emitReport(w io.Writer, rep *report.Report, format string, quiet bool) error {
	if format == "" || format == "text" {
		if quiet {
			return nil
		}
		return rep.Summary(w)
	}
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	return rep.Encode(w, f)
}

// recordHistory saves rep to the history database at path. The save is not
// cancelled by an interrupt that already stopped the search.
func recordHistory(ctx context.Context, path string, rep *report.Report) error {
	store, err := history.Open(history.Options{Path: path, CreateIfNotExists: true})
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.Save(ctx, rep); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
