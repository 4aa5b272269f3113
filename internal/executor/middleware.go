package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/resilience"
	"github.com/rand/planner/internal/search"
	"github.com/rand/planner/internal/tree"
)

// ErrTimeout is returned when an execution exceeds its WithTimeout deadline.
var ErrTimeout = errors.New("execution timed out")

// WithTimeout bounds each call to d. Non-positive d returns next unchanged.
// The deadline applies through ctx, so next must honour cancellation.
func WithTimeout(next search.Executor, d time.Duration) search.Executor {
	if d <= 0 {
		return next
	}
	return search.ExecutorFunc(func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		m, err := next.Execute(callCtx, cfg)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return tree.Metrics{}, fmt.Errorf("%w after %s: %w", ErrTimeout, d, err)
		}
		return m, err
	})
}

// Throttled waits on limiter before each call. A nil limiter returns next
// unchanged.
func Throttled(next search.Executor, limiter *rate.Limiter) search.Executor {
	if limiter == nil {
		return next
	}
	return search.ExecutorFunc(func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
		if err := limiter.Wait(ctx); err != nil {
			return tree.Metrics{}, fmt.Errorf("rate limit wait: %w", err)
		}
		return next.Execute(ctx, cfg)
	})
}

// NewLimiter returns a limiter allowing perSecond calls with the given burst.
// Non-positive perSecond means no limiter.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// SpanExecute names the span Traced opens for each execution.
const SpanExecute = "pipeline.execute"

// Traced opens a span around each call and records the metrics or the error
// on it. A nil tracer returns next unchanged.
func Traced(next search.Executor, tracer trace.Tracer) search.Executor {
	if tracer == nil {
		return next
	}
	return search.ExecutorFunc(func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
		var attrs []attribute.KeyValue
		if cfg != nil {
			attrs = []attribute.KeyValue{
				attribute.String("pipeline.name", cfg.Name),
				attribute.String("pipeline.digest", cfg.Digest()),
				attribute.String("pipeline.config", cfg.String()),
				attribute.Int("pipeline.stages", cfg.Len()),
			}
		}
		ctx, span := tracer.Start(ctx, SpanExecute, trace.WithAttributes(attrs...))
		defer span.End()

		m, err := next.Execute(ctx, cfg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return m, err
		}
		span.SetAttributes(
			attribute.Float64("metrics.accuracy", m.Accuracy),
			attribute.Int("metrics.tokens", m.Tokens),
			attribute.Float64("metrics.execution_time_seconds", m.ExecutionTime.Seconds()),
			attribute.Float64("metrics.cost", m.Cost),
		)
		return m, nil
	})
}

// Guarded runs next through breaker. While the circuit is open calls fail
// with resilience.ErrOpen without reaching next. A nil breaker returns next
// unchanged.
func Guarded(next search.Executor, breaker *resilience.Breaker) search.Executor {
	if breaker == nil {
		return next
	}
	return search.ExecutorFunc(func(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
		var m tree.Metrics
		err := breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			m, err = next.Execute(ctx, cfg)
			return err
		})
		if err != nil {
			return tree.Metrics{}, err
		}
		return m, nil
	})
}

// Counting counts calls and failures of the wrapped executor.
type Counting struct {
	next     search.Executor
	calls    atomic.Int64
	failures atomic.Int64
}

// NewCounting wraps next.
func NewCounting(next search.Executor) *Counting {
	return &Counting{next: next}
}

// Execute calls the wrapped executor.
func (c *Counting) Execute(ctx context.Context, cfg *pipeline.Config) (tree.Metrics, error) {
	c.calls.Add(1)
	m, err := c.next.Execute(ctx, cfg)
	if err != nil {
		c.failures.Add(1)
	}
	return m, err
}

// Calls returns the number of calls.
func (c *Counting) Calls() int64 { return c.calls.Load() }

// Failures returns the number of calls that returned an error.
func (c *Counting) Failures() int64 { return c.failures.Load() }
