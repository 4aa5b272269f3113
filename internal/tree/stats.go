package tree

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips that node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// Stats summarizes the shape of a tree.
type Stats struct {
	Nodes        int     `json:"nodes"`
	Evaluated    int     `json:"evaluated"`
	Failed       int     `json:"failed"`
	MaxDepth     int     `json:"max_depth"`
	AvgBranching float64 `json:"avg_branching"`
}

// Stats computes statistics for the subtree rooted at n. Depths are relative to n.
func (n *Node) Stats() Stats {
	var (
		stats         Stats
		totalChildren int
		internal      int
	)

	var visit func(node *Node, depth int)
	visit = func(node *Node, depth int) {
		stats.Nodes++
		switch node.status {
		case StatusEvaluated:
			stats.Evaluated++
		case StatusFailed:
			stats.Failed++
		}
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
		if len(node.children) > 0 {
			totalChildren += len(node.children)
			internal++
		}
		for _, c := range node.children {
			visit(c, depth+1)
		}
	}
	visit(n, 0)

	if internal > 0 {
		stats.AvgBranching = float64(totalChildren) / float64(internal)
	}
	return stats
}
