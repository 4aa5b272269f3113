package pareto

import (
	"github.com/rand/planner/internal/pipeline"
)

// PointRecord is the serializable form of a Point.
type PointRecord struct {
	NodeID               string           `json:"node_id" yaml:"node_id"`
	Action               string           `json:"action,omitempty" yaml:"action,omitempty"`
	Name                 string           `json:"name" yaml:"name"`
	Pipeline             string           `json:"pipeline" yaml:"pipeline"`
	Stages               []pipeline.Stage `json:"stages" yaml:"stages"`
	Accuracy             float64          `json:"accuracy" yaml:"accuracy"`
	Tokens               int              `json:"tokens" yaml:"tokens"`
	ExecutionTimeSeconds float64          `json:"execution_time" yaml:"execution_time"`
	Cost                 float64          `json:"cost" yaml:"cost"`
}

// Record converts p to its serializable form. Stages are deep copies.
func (p Point) Record() PointRecord {
	r := PointRecord{
		NodeID:               p.NodeID,
		Action:               p.Action,
		Accuracy:             p.Accuracy,
		Tokens:               p.Tokens,
		ExecutionTimeSeconds: p.ExecutionTime.Seconds(),
		Cost:                 p.Cost,
	}
	if p.Config != nil {
		r.Name = p.Config.Name
		r.Pipeline = p.Config.String()
		r.Stages = make([]pipeline.Stage, len(p.Config.Stages))
		for i, s := range p.Config.Stages {
			r.Stages[i] = s.Clone()
		}
	}
	return r
}

// Recommendations holds the four standard picks of a frontier.
type Recommendations struct {
	BestAccuracy *PointRecord `json:"best_accuracy" yaml:"best_accuracy"`
	LowestCost   *PointRecord `json:"lowest_cost" yaml:"lowest_cost"`
	Fastest      *PointRecord `json:"fastest" yaml:"fastest"`
	Balanced     *PointRecord `json:"balanced" yaml:"balanced"`
}

// Snapshot is the exportable view of a frontier.
type Snapshot struct {
	Size            int             `json:"frontier_size" yaml:"frontier_size"`
	Points          []PointRecord   `json:"points" yaml:"points"`
	Recommendations Recommendations `json:"recommendations" yaml:"recommendations"`
}

// Snapshot exports the frontier with points ordered by accuracy, best first.
func (f *Frontier) Snapshot() Snapshot {
	sorted := f.Sorted(ByAccuracy)
	s := Snapshot{
		Size:   len(sorted),
		Points: make([]PointRecord, len(sorted)),
	}
	for i, p := range sorted {
		s.Points[i] = p.Record()
	}
	s.Recommendations = Recommendations{
		BestAccuracy: recordOf(f.BestAccuracy()),
		LowestCost:   recordOf(f.LowestCost()),
		Fastest:      recordOf(f.Fastest()),
		Balanced:     recordOf(f.Balanced()),
	}
	return s
}

func recordOf(p Point, ok bool) *PointRecord {
	if !ok {
		return nil
	}
	r := p.Record()
	return &r
}
