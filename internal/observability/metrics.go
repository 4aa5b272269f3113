// Package observability provides Prometheus metrics and OpenTelemetry traces
// for search runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "planner"

// Metric names, without the namespace.
const (
	MetricIterations      = "search_iterations_total"
	MetricSimulations     = "search_simulations_total"
	MetricFailures        = "search_failures_total"
	MetricDeadEnds        = "search_dead_end_expansions_total"
	MetricFrontierSize    = "search_frontier_size"
	MetricReward          = "search_reward"
	MetricExecutorLatency = "executor_latency_seconds"
)

// Metrics holds the collectors for search runs. Engines running in parallel
// share one Metrics. A nil *Metrics records nothing.
type Metrics struct {
	Iterations      prometheus.Counter
	Simulations     prometheus.Counter
	Failures        prometheus.Counter
	DeadEnds        prometheus.Counter
	FrontierSize    prometheus.Gauge
	Reward          prometheus.Histogram
	ExecutorLatency prometheus.Histogram
}

// New registers the search collectors on reg. Registering twice on the same
// registerer panics, as promauto does.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricIterations,
			Help:      "Search iterations started.",
		}),
		Simulations: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricSimulations,
			Help:      "Executor invocations made by the search.",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricFailures,
			Help:      "Executor invocations that failed.",
		}),
		DeadEnds: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricDeadEnds,
			Help:      "Expansions that produced no new configuration.",
		}),
		FrontierSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      MetricFrontierSize,
			Help:      "Points on the most recently updated Pareto frontier.",
		}),
		Reward: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      MetricReward,
			Help:      "Scalar reward of simulated configurations.",
			Buckets:   prometheus.LinearBuckets(-1, 0.25, 13),
		}),
		ExecutorLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      MetricExecutorLatency,
			Help:      "Wall-clock latency of executor calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
}

// NewRegistry creates an isolated registry with the search collectors.
func NewRegistry() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

// RecordIteration counts one iteration.
func (m *Metrics) RecordIteration() {
	if m == nil {
		return
	}
	m.Iterations.Inc()
}

// RecordSimulation counts one executor call and its latency.
func (m *Metrics) RecordSimulation(latency time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.Simulations.Inc()
	m.ExecutorLatency.Observe(latency.Seconds())
	if failed {
		m.Failures.Inc()
	}
}

// RecordDeadEnd counts an expansion that yielded nothing new.
func (m *Metrics) RecordDeadEnd() {
	if m == nil {
		return
	}
	m.DeadEnds.Inc()
}

// RecordReward observes one backpropagated reward.
func (m *Metrics) RecordReward(r float64) {
	if m == nil {
		return
	}
	m.Reward.Observe(r)
}

// SetFrontierSize publishes the current frontier size.
func (m *Metrics) SetFrontierSize(n int) {
	if m == nil {
		return
	}
	m.FrontierSize.Set(float64(n))
}

// WriteTextfile writes everything g gathers in the text exposition format,
// for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
