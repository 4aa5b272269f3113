package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/search"
	"github.com/rand/planner/internal/tree"
)

// Backend runs a configuration and returns its output along with the
// measured metrics.
type Backend interface {
	Run(ctx context.Context, cfg *pipeline.Config) (any, tree.Metrics, error)
}

// Evaluator scores an output against ground truth.
type Evaluator interface {
	Evaluate(groundTruth, output any) (float64, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(groundTruth, output any) (float64, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(groundTruth, output any) (float64, error) {
	return f(groundTruth, output)
}

// Evaluated replaces the backend's accuracy with the evaluator's score for
// the backend output. Backend errors pass through. An evaluator error or
// panic scores 0 and is logged; scores are clamped to [0, 1].
func Evaluated(backend Backend, evaluator Evaluator, groundTruth any, logger *slog.Logger) search.Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return search.ExecutorFunc(func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
		output, m, err := backend.Run(ctx, cfg)
		if err != nil {
			return tree.Metrics{}, err
		}

		score, err := safeEvaluate(evaluator, groundTruth, output)
		if err != nil {
			logger.Warn("evaluation failed, scoring 0",
				"pipeline", cfg.Name,
				"digest", cfg.Digest(),
				"error", err,
			)
			score = 0
		}
		m.Accuracy = clamp01(score)
		return m, nil
	})
}

func safeEvaluate(ev Evaluator, groundTruth, output any) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	score, err = ev.Evaluate(groundTruth, output)
	if err == nil && math.IsNaN(score) {
		err = fmt.Errorf("evaluator returned NaN")
	}
	return score, err
}
