// planner searches the configuration space of a data-processing pipeline
// and reports the accuracy, token and latency Pareto frontier.
//
// Usage:
//
//	planner search <pipeline.yaml> [--strategy mcts|sample] [--iterations N] [--seed S] [--out DIR]
//	planner config show|validate|init
//	planner history list|show|delete
package main

import "github.com/rand/planner/internal/cmd"

func main() {
	cmd.Execute()
}
