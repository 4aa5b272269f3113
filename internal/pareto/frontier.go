// Package pareto tracks the non-dominated set of evaluated pipeline
// configurations over accuracy (maximized), tokens and execution time
// (minimized). Cost is carried along for reporting but never compared.
package pareto

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/rand/planner/internal/pipeline"
	"github.com/rand/planner/internal/tree"
)

// Point is an immutable snapshot of one evaluated configuration.
type Point struct {
	// NodeID is the digest of the configuration.
	NodeID string

	// Action is the transformation that produced the node.
	Action string

	// Config is the evaluated configuration. Configurations held by search
	// nodes are never mutated, so the pointer is shared, not cloned.
	Config *pipeline.Config

	Accuracy      float64
	Tokens        int
	ExecutionTime time.Duration
	Cost          float64

	seq uint64
}

// PointFrom builds a point from an evaluated, non-failed node.
func PointFrom(n *tree.Node) (Point, bool) {
	if n == nil || !n.Evaluated() || n.Failed() {
		return Point{}, false
	}
	m, ok := n.Metrics()
	if !ok {
		return Point{}, false
	}
	return Point{
		NodeID:        n.ID(),
		Action:        n.Action(),
		Config:        n.Config(),
		Accuracy:      m.Accuracy,
		Tokens:        m.Tokens,
		ExecutionTime: m.ExecutionTime,
		Cost:          m.Cost,
	}, true
}

// Metrics returns the objectives of p as node metrics.
func (p Point) Metrics() tree.Metrics {
	return tree.Metrics{
		Accuracy:      p.Accuracy,
		Tokens:        p.Tokens,
		ExecutionTime: p.ExecutionTime,
		Cost:          p.Cost,
	}
}

// Dominates reports whether p is at least as good as q on every compared
// objective and strictly better on at least one.
func (p Point) Dominates(q Point) bool {
	if p.Accuracy < q.Accuracy || p.Tokens > q.Tokens || p.ExecutionTime > q.ExecutionTime {
		return false
	}
	return p.Accuracy > q.Accuracy || p.Tokens < q.Tokens || p.ExecutionTime < q.ExecutionTime
}

func (p Point) sameMetrics(q Point) bool {
	return p.Accuracy == q.Accuracy && p.Tokens == q.Tokens &&
		p.ExecutionTime == q.ExecutionTime && p.Cost == q.Cost
}

func (p Point) String() string {
	return fmt.Sprintf("%s acc=%.3f tokens=%d time=%s cost=%.4f",
		p.NodeID[:min(8, len(p.NodeID))], p.Accuracy, p.Tokens, p.ExecutionTime, p.Cost)
}

// Frontier is the non-dominated set keyed by configuration digest.
// It is not safe for concurrent use.
type Frontier struct {
	points map[string]Point
	seq    uint64
}

// New creates an empty frontier.
func New() *Frontier {
	return &Frontier{points: make(map[string]Point)}
}

// Len returns the number of points.
func (f *Frontier) Len() int { return len(f.points) }

// Get returns the point for a configuration digest.
func (f *Frontier) Get(digest string) (Point, bool) {
	p, ok := f.points[digest]
	return p, ok
}

// Points returns the points in insertion order.
func (f *Frontier) Points() []Point {
	out := make([]Point, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Point) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Insert offers the node to the frontier. Unevaluated and failed nodes are
// rejected, as is any node dominated by an existing point. An accepted node
// evicts every point it dominates.
func (f *Frontier) Insert(n *tree.Node) bool {
	p, ok := PointFrom(n)
	if !ok {
		return false
	}
	return f.InsertPoint(p)
}

// InsertPoint is Insert for an existing snapshot, used when merging frontiers.
// A point whose digest is already present with identical metrics is a
// duplicate and is rejected; otherwise an accepted point replaces the
// previous representation of its digest.
func (f *Frontier) InsertPoint(p Point) bool {
	if old, ok := f.points[p.NodeID]; ok && old.sameMetrics(p) {
		return false
	}
	for _, q := range f.points {
		if q.Dominates(p) {
			return false
		}
	}
	for id, q := range f.points {
		if id == p.NodeID || p.Dominates(q) {
			delete(f.points, id)
		}
	}
	f.seq++
	p.seq = f.seq
	f.points[p.NodeID] = p
	return true
}

// Merge inserts every point of other, in its insertion order, and returns
// how many were accepted.
func (f *Frontier) Merge(other *Frontier) int {
	var accepted int
	for _, p := range other.Points() {
		if f.InsertPoint(p) {
			accepted++
		}
	}
	return accepted
}

// best returns the point maximizing score; ties go to the earliest inserted.
func (f *Frontier) best(score func(Point) float64) (Point, bool) {
	var (
		out   Point
		top   float64
		found bool
	)
	for _, p := range f.Points() {
		s := score(p)
		if !found || s > top {
			out, top, found = p, s, true
		}
	}
	return out, found
}

// BestAccuracy returns the point with the highest accuracy.
func (f *Frontier) BestAccuracy() (Point, bool) {
	return f.best(func(p Point) float64 { return p.Accuracy })
}

// LowestTokens returns the point with the fewest tokens.
func (f *Frontier) LowestTokens() (Point, bool) {
	return f.best(func(p Point) float64 { return -float64(p.Tokens) })
}

// LowestCost returns the point with the lowest dollar cost.
func (f *Frontier) LowestCost() (Point, bool) {
	return f.best(func(p Point) float64 { return -p.Cost })
}

// Fastest returns the point with the shortest execution time.
func (f *Frontier) Fastest() (Point, bool) {
	return f.best(func(p Point) float64 { return -float64(p.ExecutionTime) })
}

// Balanced returns the point with the best mean of min-max normalized
// objectives. Minimized objectives are inverted; an objective that is
// constant across the set scores 1 for every point.
func (f *Frontier) Balanced() (Point, bool) {
	if len(f.points) == 0 {
		return Point{}, false
	}

	acc := newRange()
	tok := newRange()
	dur := newRange()
	for _, p := range f.points {
		acc.add(p.Accuracy)
		tok.add(float64(p.Tokens))
		dur.add(float64(p.ExecutionTime))
	}

	return f.best(func(p Point) float64 {
		a := acc.scale(p.Accuracy)
		t := tok.inverse(float64(p.Tokens))
		d := dur.inverse(float64(p.ExecutionTime))
		return (a + t + d) / 3
	})
}

type valueRange struct {
	lo, hi float64
	seen   bool
}

func newRange() *valueRange { return &valueRange{} }

func (r *valueRange) add(v float64) {
	if !r.seen {
		r.lo, r.hi, r.seen = v, v, true
		return
	}
	r.lo = min(r.lo, v)
	r.hi = max(r.hi, v)
}

func (r *valueRange) constant() bool { return r.hi == r.lo }

// scale maps v into [0,1]; a constant range maps to 1.
func (r *valueRange) scale(v float64) float64 {
	if r.constant() {
		return 1
	}
	return (v - r.lo) / (r.hi - r.lo)
}

// inverse is scale for a minimized objective.
func (r *valueRange) inverse(v float64) float64 {
	if r.constant() {
		return 1
	}
	return (r.hi - v) / (r.hi - r.lo)
}

// Objective names a sort order for Sorted.
type Objective string

const (
	ByAccuracy Objective = "accuracy"
	ByTokens   Objective = "tokens"
	ByTime     Objective = "time"
	ByCost     Objective = "cost"
)

// Sorted returns the points ordered best-first by the objective. Equal
// values keep insertion order. An unknown objective yields insertion order.
func (f *Frontier) Sorted(by Objective) []Point {
	out := f.Points()
	var order func(a, b Point) int
	switch by {
	case ByAccuracy:
		order = func(a, b Point) int { return cmp.Compare(b.Accuracy, a.Accuracy) }
	case ByTokens:
		order = func(a, b Point) int { return cmp.Compare(a.Tokens, b.Tokens) }
	case ByTime:
		order = func(a, b Point) int { return cmp.Compare(a.ExecutionTime, b.ExecutionTime) }
	case ByCost:
		order = func(a, b Point) int { return cmp.Compare(a.Cost, b.Cost) }
	default:
		return out
	}
	slices.SortStableFunc(out, order)
	return out
}
