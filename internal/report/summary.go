package report

import (
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/rand/planner/internal/pareto"
	"github.com/rand/planner/internal/search"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(16)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("8"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// maxRows bounds the frontier table; the rest is summarized in one line.
const maxRows = 10

// Summary renders a terminal summary of the report to w. Colors are
// downsampled to what w supports.
func (r *Report) Summary(w io.Writer) error {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Planner run "+r.RunID) + "\n")
	sb.WriteString(r.statsBlock() + "\n\n")

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Pareto frontier: %d solutions", r.Frontier.Size)) + "\n")
	if r.Frontier.Size == 0 {
		sb.WriteString(mutedStyle.Render("no evaluated configurations") + "\n")
	} else {
		sb.WriteString(pickBlock(r.Frontier.Recommendations) + "\n")
		sb.WriteString(frontierTable(r.Frontier.Points) + "\n")
	}

	_, err := lipgloss.Fprint(w, sb.String())
	return err
}

func (r *Report) statsBlock() string {
	s := r.Stats
	lines := []string{
		field("pipeline", r.Pipeline.Description),
	}
	if r.Strategy == string(search.StrategySample) {
		lines = append(lines,
			field("trials", fmt.Sprintf("%d (%d simulations, %d failed)", s.Iterations, s.Simulations, s.Failures)),
		)
	} else {
		lines = append(lines,
			field("iterations", fmt.Sprintf("%d (%d simulations, %d failed, %d dead ends)", s.Iterations, s.Simulations, s.Failures, s.DeadEnds)),
			field("tree", fmt.Sprintf("%d nodes, depth %d, branching %.2f", s.Nodes, s.MaxDepth, s.AvgBranching)),
		)
	}
	lines = append(lines,
		field("elapsed", fmt.Sprintf("%.2fs", s.ElapsedSeconds)),
		field("terminated by", s.TerminatedBy),
		field("seed", fmt.Sprintf("%d", s.Seed)),
	)
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func pickBlock(rec pareto.Recommendations) string {
	picks := []struct {
		label string
		p     *pareto.PointRecord
	}{
		{"best accuracy", rec.BestAccuracy},
		{"lowest cost", rec.LowestCost},
		{"fastest", rec.Fastest},
		{"balanced", rec.Balanced},
	}

	lines := make([]string, 0, len(picks))
	for _, pk := range picks {
		if pk.p == nil {
			continue
		}
		lines = append(lines, field(pk.label, fmt.Sprintf("%s  %s", metricsLine(*pk.p), pk.p.Pipeline)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func frontierTable(points []pareto.PointRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "accuracy", "tokens", "time", "cost", "pipeline").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for i, p := range points {
		if i == maxRows {
			break
		}
		t.Row(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.3f", p.Accuracy),
			fmt.Sprintf("%d", p.Tokens),
			fmt.Sprintf("%.2fs", p.ExecutionTimeSeconds),
			fmt.Sprintf("$%.4f", p.Cost),
			p.Pipeline,
		)
	}

	out := t.Render()
	if len(points) > maxRows {
		out += "\n" + mutedStyle.Render(fmt.Sprintf("... %d more", len(points)-maxRows))
	}
	return out
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func metricsLine(p pareto.PointRecord) string {
	return fmt.Sprintf("acc=%.3f tokens=%d time=%.2fs cost=$%.4f", p.Accuracy, p.Tokens, p.ExecutionTimeSeconds, p.Cost)
}
