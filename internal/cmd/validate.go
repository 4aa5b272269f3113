package cmd

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/rand/planner/internal/executor"
	"github.com/rand/planner/internal/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml|glob>...",
		Short: "Check pipeline definitions",
		Long: heredoc.Doc(`
			Validate loads each pipeline definition and reports whether it is well formed.
			Arguments may be doublestar globs. Model candidates without a simulation
			profile are reported with the closest known names.
		`),
		Example: heredoc.Doc(`
			# One file
			planner validate examples/medical_summary.yaml

			# Every pipeline below pipelines/
			planner validate 'pipelines/**/*.yaml'
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sim := executor.NewSimulated(0, cfg.SimulatedOptions()...)
	out := cmd.OutOrStdout()

	var checked, failed int
	for _, pattern := range args {
		paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(paths) == 0 {
			fmt.Fprintf(out, "✗ %s: no files match\n", pattern)
			failed++
			continue
		}

		for _, path := range paths {
			checked++
			p, err := pipeline.LoadFile(path)
			if err != nil {
				fmt.Fprintf(out, "✗ %s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "✓ %s: %s, %d stages, %d implementation choices\n",
				path, p.Name, p.Len(), combinations(p))

			for _, id := range sim.Unknown(p) {
				msg := fmt.Sprintf("  ⚠ %q has no profile and is simulated with defaults", id)
				if s := sim.Suggest(id); len(s) > 0 {
					msg += fmt.Sprintf("; did you mean %s?", strings.Join(s, ", "))
				}
				fmt.Fprintln(out, msg)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pipeline checks failed", failed, max(checked, failed))
	}
	return nil
}

// combinations is the number of implementation assignments of p, before
// stage reordering.
func combinations(p *pipeline.Config) int {
	n := 1
	for _, st := range p.Stages {
		n *= len(st.Candidates)
	}
	return n
}
