package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/rand/planner/internal/history"
	"github.com/rand/planner/internal/report"
)

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long:  "Commands for listing and inspecting runs recorded in the history database",
	}
	historyCmd.PersistentFlags().String("db", "", "History database (default from config output.history)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Example: `
# Ten most recent runs
planner history list --db runs.db --limit 10

# Runs of one pipeline as JSON
planner history list --db runs.db --pipeline 5f0c9a1e2b3d4c6f --json
`,
		Args: cobra.NoArgs,
		RunE: runHistoryList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Maximum runs to list; 0 lists all")
	listCmd.Flags().String("pipeline", "", "Only runs of the pipeline with this digest")
	listCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Example: `
# Full report
planner history show 3f1c2b7e-... --db runs.db

# Accuracy of the most accurate frontier point
planner history show 3f1c2b7e-... --db runs.db --query frontier.recommendations.best_accuracy.accuracy
`,
		Args: cobra.ExactArgs(1),
		RunE: runHistoryShow,
	}
	showCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")
	showCmd.Flags().StringP("query", "q", "", "Print only the value at this path of the JSON report")

	deleteCmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryDelete,
	}

	historyCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return historyCmd
}

// openHistory opens the database named by --db or the config.
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.Output.History
	}
	if path == "" {
		return nil, errors.New("no history database: pass --db or set output.history")
	}

	store, err := history.Open(history.Options{Path: path})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	digest, _ := cmd.Flags().GetString("pipeline")
	asJSON, _ := cmd.Flags().GetBool("json")

	var runs []history.Run
	if digest != "" {
		runs, err = store.ListByPipeline(cmd.Context(), digest, limit)
	} else {
		runs, err = store.List(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if runs == nil {
			runs = []history.Run{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("run id", "created", "pipeline", "iterations", "frontier", "best acc", "elapsed", "terminated by")
	for _, r := range runs {
		t.Row(
			r.RunID,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.PipelineName,
			fmt.Sprintf("%d", r.Iterations),
			fmt.Sprintf("%d", r.FrontierSize),
			fmt.Sprintf("%.3f", r.BestAccuracy),
			fmt.Sprintf("%.2fs", r.ElapsedSeconds),
			r.TerminatedBy,
		)
	}
	_, err = lipgloss.Fprintln(out, t.Render())
	return err
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if query, _ := cmd.Flags().GetString("query"); query != "" {
		return queryReport(cmd, rep, query)
	}
	return emitReport(cmd.OutOrStdout(), rep, format, false)
}

// queryReport prints the value at a gjson path of the report's JSON form.
func queryReport(cmd *cobra.Command, rep *report.Report, query string) error {
	var buf bytes.Buffer
	if err := rep.Encode(&buf, report.FormatJSON); err != nil {
		return err
	}
	res := gjson.GetBytes(buf.Bytes(), query)
	if !res.Exists() {
		return fmt.Errorf("query %q matched nothing", query)
	}
	if res.IsObject() || res.IsArray() {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Raw)
		return err
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), res.String())
	return err
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}
