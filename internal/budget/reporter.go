package budget

import (
	"fmt"
	"strings"
	"time"
)

// Report is a point-in-time view of a tracker.
type Report struct {
	State  State  `json:"state"`
	Limits Limits `json:"limits"`
	Usage  Usage  `json:"usage"`
}

// NewReport creates a report from a tracker.
func NewReport(t *Tracker) Report {
	return Report{
		State:  t.State(),
		Limits: t.Limits(),
		Usage:  t.Usage(),
	}
}

// Summary returns a brief one-line summary.
func (r Report) Summary() string {
	return fmt.Sprintf("Tokens: %s | Cost: %s | Wall: %s | Simulations: %d",
		ratio(fmt.Sprintf("%.1fk", float64(r.State.Tokens)/1000), r.Limits.MaxTokens > 0,
			fmt.Sprintf("%.1fk", float64(r.Limits.MaxTokens)/1000)),
		ratio(fmt.Sprintf("$%.4f", r.State.Cost), r.Limits.MaxCost > 0,
			fmt.Sprintf("$%.2f", r.Limits.MaxCost)),
		ratio(formatDuration(r.State.Elapsed()), r.Limits.MaxWallTime > 0,
			formatDuration(r.Limits.MaxWallTime)),
		r.State.Simulations,
	)
}

func ratio(current string, limited bool, limit string) string {
	if !limited {
		return current
	}
	return current + "/" + limit
}

// Detailed returns a multi-line report with progress bars for set limits.
func (r Report) Detailed() string {
	var sb strings.Builder

	sb.WriteString("Budget\n")
	fmt.Fprintf(&sb, "  Simulations:    %d\n", r.State.Simulations)
	fmt.Fprintf(&sb, "  Tokens:         %d%s\n", r.State.Tokens,
		limitSuffix(r.Limits.MaxTokens > 0, fmt.Sprint(r.Limits.MaxTokens), r.Usage.TokensPercent))
	fmt.Fprintf(&sb, "  Cost:           $%.4f%s\n", r.State.Cost,
		limitSuffix(r.Limits.MaxCost > 0, fmt.Sprintf("$%.2f", r.Limits.MaxCost), r.Usage.CostPercent))
	fmt.Fprintf(&sb, "  Wall time:      %s%s\n", formatDuration(r.State.Elapsed()),
		limitSuffix(r.Limits.MaxWallTime > 0, formatDuration(r.Limits.MaxWallTime), r.Usage.WallTimePercent))
	fmt.Fprintf(&sb, "  Pipeline time:  %s\n", formatDuration(r.State.ExecutionTime))

	return sb.String()
}

func limitSuffix(limited bool, limit string, percent float64) string {
	if !limited {
		return ""
	}
	return fmt.Sprintf(" / %s %s %.1f%%", limit, progressBar(percent, 10), percent)
}

// progressBar creates a simple ASCII progress bar.
func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent / 100 * float64(width))
	empty := width - filled

	return strings.Repeat("▓", filled) + strings.Repeat("░", empty)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
