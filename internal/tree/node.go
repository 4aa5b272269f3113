// Package tree implements the search tree over pipeline configurations.
//
// Each Node wraps one configuration and carries the visit and reward
// statistics used by UCB selection. A node owns its children; the parent
// pointer is for upward traversal only (UCB, backpropagation, paths).
package tree

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rand/planner/internal/pipeline"
)

// Status is the evaluation state of a node.
type Status int

const (
	// StatusUnevaluated means the executor has not run this configuration.
	StatusUnevaluated Status = iota

	// StatusEvaluated means metrics were recorded.
	StatusEvaluated

	// StatusFailed means the executor failed on this configuration.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnevaluated:
		return "unevaluated"
	case StatusEvaluated:
		return "evaluated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidMetrics is returned by Metrics.Validate.
var ErrInvalidMetrics = errors.New("invalid metrics")

// Metrics is what one execution of a configuration measured.
type Metrics struct {
	// Accuracy is the output quality in [0, 1].
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`

	// Tokens is the total token consumption.
	Tokens int `json:"tokens" yaml:"tokens"`

	// ExecutionTime is the wall time of the execution.
	ExecutionTime time.Duration `json:"execution_time" yaml:"execution_time"`

	// Cost is the monetary cost in USD.
	Cost float64 `json:"cost" yaml:"cost"`
}

// Validate checks the metric ranges.
func (m Metrics) Validate() error {
	switch {
	case math.IsNaN(m.Accuracy) || m.Accuracy < 0 || m.Accuracy > 1:
		return fmt.Errorf("%w: accuracy %v outside [0,1]", ErrInvalidMetrics, m.Accuracy)
	case m.Tokens < 0:
		return fmt.Errorf("%w: negative tokens %d", ErrInvalidMetrics, m.Tokens)
	case m.ExecutionTime < 0:
		return fmt.Errorf("%w: negative execution time %s", ErrInvalidMetrics, m.ExecutionTime)
	case math.IsNaN(m.Cost) || m.Cost < 0:
		return fmt.Errorf("%w: cost %v", ErrInvalidMetrics, m.Cost)
	}
	return nil
}

func (m Metrics) String() string {
	return fmt.Sprintf("Metrics(accuracy=%.3f, tokens=%d, time=%.2fs, cost=$%.4f)",
		m.Accuracy, m.Tokens, m.ExecutionTime.Seconds(), m.Cost)
}

// Node is one configuration in the search tree.
type Node struct {
	config   *pipeline.Config
	parent   *Node
	children []*Node
	action   string

	visits      int
	totalReward float64

	status  Status
	metrics Metrics

	createdAt   time.Time
	evaluatedAt time.Time
}

// NewRoot creates a parentless node.
func NewRoot(cfg *pipeline.Config) *Node {
	return &Node{
		config:    cfg,
		action:    "root",
		createdAt: time.Now(),
	}
}

// NewChild creates a node whose parent is parent. The child is not attached;
// call AddChild once it has been accepted.
func NewChild(parent *Node, cfg *pipeline.Config, action string) *Node {
	return &Node{
		config:    cfg,
		parent:    parent,
		action:    action,
		createdAt: time.Now(),
	}
}

// Config returns the configuration this node represents. Treat it as read-only.
func (n *Node) Config() *pipeline.Config { return n.config }

// ID is the configuration digest.
func (n *Node) ID() string { return n.config.Digest() }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the attached children. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// Action describes the transformation that produced this node.
func (n *Node) Action() string { return n.action }

// Visits returns the visit count.
func (n *Node) Visits() int { return n.visits }

// TotalReward returns the running reward sum.
func (n *Node) TotalReward() float64 { return n.totalReward }

// Status returns the evaluation status.
func (n *Node) Status() Status { return n.status }

// CreatedAt is when the node was built.
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// EvaluatedAt is when metrics or a failure were recorded.
func (n *Node) EvaluatedAt() time.Time { return n.evaluatedAt }

// Metrics returns the recorded metrics. ok is false while unevaluated.
func (n *Node) Metrics() (m Metrics, ok bool) {
	if n.status == StatusUnevaluated {
		return Metrics{}, false
	}
	return n.metrics, true
}

// Evaluated reports whether an outcome, success or failure, is recorded.
func (n *Node) Evaluated() bool { return n.status != StatusUnevaluated }

// Failed reports whether the evaluation failed.
func (n *Node) Failed() bool { return n.status == StatusFailed }

// AddChild attaches child and points its parent here. Uniqueness is the
// caller's concern.
func (n *Node) AddChild(child *Node) {
	n.children = append(n.children, child)
	child.parent = n
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// IsFullyExpanded is a visit-count heuristic, not an enumeration of untried
// transformations: the node has children and more than two visits per child.
func (n *Node) IsFullyExpanded() bool {
	return len(n.children) > 0 && n.visits > 2*len(n.children)
}

// MeanReward is total reward over visits, 0 when unvisited.
func (n *Node) MeanReward() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.totalReward / float64(n.visits)
}

// UCB computes the upper confidence bound
//
//	mean + w * sqrt(ln(parent.visits) / visits)
//
// Unvisited nodes score +Inf. Without a visited parent the mean is returned.
func (n *Node) UCB(explorationWeight float64) float64 {
	if n.visits == 0 {
		return math.Inf(1)
	}
	mean := n.totalReward / float64(n.visits)
	if n.parent == nil || n.parent.visits == 0 {
		return mean
	}
	return mean + explorationWeight*math.Sqrt(math.Log(float64(n.parent.visits))/float64(n.visits))
}

// RecordMetrics marks the node evaluated with m.
func (n *Node) RecordMetrics(m Metrics) {
	n.status = StatusEvaluated
	n.metrics = m
	n.evaluatedAt = time.Now()
}

// RecordFailure marks the node failed with zero metrics.
func (n *Node) RecordFailure() {
	n.status = StatusFailed
	n.metrics = Metrics{}
	n.evaluatedAt = time.Now()
}

// Visit increments the visit count without adding reward.
func (n *Node) Visit() {
	n.visits++
}

// Backpropagate adds one visit and reward to this node and every ancestor.
func (n *Node) Backpropagate(reward float64) {
	for cur := n; cur != nil; cur = cur.parent {
		cur.visits++
		cur.totalReward += reward
	}
}

// PathFromRoot returns the nodes from the root down to n.
func (n *Node) PathFromRoot() []*Node {
	var path []*Node
	for cur := n; cur != nil; cur = cur.parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Depth is the number of edges to the root.
func (n *Node) Depth() int {
	depth := 0
	for cur := n.parent; cur != nil; cur = cur.parent {
		depth++
	}
	return depth
}

func (n *Node) String() string {
	if n.status == StatusUnevaluated {
		return fmt.Sprintf("Node(depth=%d, visits=%d, action=%q)", n.Depth(), n.visits, n.action)
	}
	return fmt.Sprintf("Node(depth=%d, visits=%d, action=%q %s)", n.Depth(), n.visits, n.action, n.metrics)
}
