// Package report turns a finished search into a serializable run report,
// exports it to files and renders a terminal summary.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/search"
)

// Output file names written by WriteDir.
const (
	FrontierFile        = "pareto_frontier.json"
	StatsFile           = "search_stats.json"
	RecommendationsFile = "recommendations.json"
	TrialsFile          = "trials.json"
)

// Format is an encoding for Encode.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for unsupported encodings.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat parses a format name, case-insensitively. "yml" means yaml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Stats is the serializable form of search.Stats.
type Stats struct {
	Iterations     int     `json:"iterations" yaml:"iterations"`
	Simulations    int     `json:"simulations" yaml:"simulations"`
	Failures       int     `json:"failures" yaml:"failures"`
	DeadEnds       int     `json:"dead_ends" yaml:"dead_ends"`
	FrontierSize   int     `json:"frontier_size" yaml:"frontier_size"`
	ElapsedSeconds float64 `json:"total_time" yaml:"total_time"`
	RootVisits     int     `json:"root_visits" yaml:"root_visits"`
	Nodes          int     `json:"tree_nodes" yaml:"tree_nodes"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	AvgBranching   float64 `json:"avg_branching" yaml:"avg_branching"`
	Seed           uint64  `json:"seed" yaml:"seed"`
	TerminatedBy   string  `json:"terminated_by" yaml:"terminated_by"`
}

// StatsFrom converts run statistics.
func StatsFrom(s search.Stats) Stats {
	return Stats{
		Iterations:     s.Iterations,
		Simulations:    s.Simulations,
		Failures:       s.Failures,
		DeadEnds:       s.DeadEnds,
		FrontierSize:   s.FrontierSize,
		ElapsedSeconds: s.Elapsed.Seconds(),
		RootVisits:     s.RootVisits,
		Nodes:          s.Nodes,
		MaxDepth:       s.MaxDepth,
		AvgBranching:   s.AvgBranching,
		Seed:           s.Seed,
		TerminatedBy:   string(s.TerminatedBy),
	}
}

// Pipeline describes the initial configuration of a run.
type Pipeline struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Digest      string           `json:"digest" yaml:"digest"`
	Stages      []pipeline.Stage `json:"stages" yaml:"stages"`
}

// TrialRecord is the serializable form of one sampled trial.
type TrialRecord struct {
	Number               int     `json:"trial_number" yaml:"trial_number"`
	NodeID               string  `json:"node_id" yaml:"node_id"`
	Pipeline             string  `json:"pipeline" yaml:"pipeline"`
	Status               string  `json:"status" yaml:"status"`
	Accuracy             float64 `json:"accuracy" yaml:"accuracy"`
	Tokens               int     `json:"tokens" yaml:"tokens"`
	ExecutionTimeSeconds float64 `json:"execution_time" yaml:"execution_time"`
	Cost                 float64 `json:"cost" yaml:"cost"`
	DuplicateOf          *int    `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
}

// TrialFrom converts a sampled trial.
func TrialFrom(t search.Trial) TrialRecord {
	r := TrialRecord{
		Number:               t.Number,
		NodeID:               t.Digest,
		Pipeline:             t.Config.String(),
		Status:               t.Status.String(),
		Accuracy:             t.Metrics.Accuracy,
		Tokens:               t.Metrics.Tokens,
		ExecutionTimeSeconds: t.Metrics.ExecutionTime.Seconds(),
		Cost:                 t.Metrics.Cost,
	}
	if t.DuplicateOf >= 0 {
		d := t.DuplicateOf
		r.DuplicateOf = &d
	}
	return r
}

// Report is the complete record of one planner run.
type Report struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	Strategy  string          `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Pipeline  Pipeline        `json:"pipeline" yaml:"pipeline"`
	Stats     Stats           `json:"stats" yaml:"stats"`
	Frontier  pareto.Snapshot `json:"frontier" yaml:"frontier"`

	// Trials lists every sampled trial; empty for tree search.
	Trials []TrialRecord `json:"trials,omitempty" yaml:"trials,omitempty"`
}

// Build assembles a report for a run that started from initial.
func Build(initial *pipeline.Config, frontier *pareto.Frontier, stats search.Stats) *Report {
	r := &Report{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Stats:     StatsFrom(stats),
	}
	if initial != nil {
		r.Pipeline = Pipeline{
			Name:        initial.Name,
			Description: initial.String(),
			Digest:      initial.Digest(),
			Stages:      initial.Clone().Stages,
		}
	}
	if frontier != nil {
		r.Frontier = frontier.Snapshot()
	} else {
		r.Frontier = pareto.New().Snapshot()
	}
	return r
}

// FromResult builds a report from a single run.
func FromResult(initial *pipeline.Config, res *search.Result) *Report {
	r := Build(initial, res.Frontier, res.Stats)
	r.Strategy = string(search.StrategyTree)
	return r
}

// FromMulti builds a report from a multi-start run.
func FromMulti(initial *pipeline.Config, res *search.MultiResult) *Report {
	r := Build(initial, res.Frontier, res.Stats)
	r.Strategy = string(search.StrategyTree)
	return r
}

// FromSample builds a report from a sampling run, trials included.
func FromSample(initial *pipeline.Config, res *search.SampleResult) *Report {
	r := Build(initial, res.Frontier, res.Stats)
	r.Strategy = string(search.StrategySample)
	r.Trials = make([]TrialRecord, len(res.Trials))
	for i, t := range res.Trials {
		r.Trials[i] = TrialFrom(t)
	}
	return r
}

// Encode writes the report to w.
func (r *Report) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Decode reads a JSON report.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// WriteDir writes the frontier, statistics and recommendations files into
// dir, creating it if needed, plus the trials file for sampling runs. It
// returns the written paths.
func (r *Report) WriteDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	files := []struct {
		name string
		v    any
	}{
		{FrontierFile, r.Frontier},
		{StatsFile, r.Stats},
		{RecommendationsFile, r.Frontier.Recommendations},
	}
	if len(r.Trials) > 0 {
		files = append(files, struct {
			name string
			v    any
		}{TrialsFile, r.Trials})
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return paths, fmt.Errorf("marshal %s: %w", f.name, err)
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
