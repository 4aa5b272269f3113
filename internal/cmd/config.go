package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rand/planner/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Commands for inspecting and checking the planner configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the effective configuration after applying the config file and environment",
		Example: `
# Show config in human-readable format
planner config show

# Show config as JSON
planner config show --json

# Show config as YAML
planner --config planner.yaml config show --yaml
`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
	showCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	showCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Check the configuration for errors",
		Example: `
# Validate configuration
planner --config planner.yaml config validate
`,
		Args: cobra.NoArgs,
		RunE: runConfigValidate,
	}

	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration",
		Long:  "Write the default configuration as YAML to a new file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		Long:  "Print the JSON schema of the configuration file, for editor completion and CI checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	configCmd.AddCommand(showCmd, validateCmd, initCmd, schemaCmd)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	if asJSON && asYAML {
		return errors.New("--json and --yaml are mutually exclusive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	if asYAML {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintln(out, "Effective Configuration")
	fmt.Fprintln(out, "=======================")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Search:")
	fmt.Fprintf(out, "  Max Iterations:    %d\n", cfg.Search.MaxIterations)
	fmt.Fprintf(out, "  Max Children:      %d\n", cfg.Search.MaxChildren)
	fmt.Fprintf(out, "  Exploration:       %g\n", cfg.Search.ExplorationWeight)
	fmt.Fprintf(out, "  Seed:              %s\n", seedLabel(cfg.Search.Seed))
	fmt.Fprintf(out, "  Restarts:          %d\n", cfg.Search.Restarts)
	fmt.Fprintf(out, "  Parallelism:       %s\n", limitLabel(cfg.Search.Parallelism))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Reward:")
	fmt.Fprintf(out, "  Weights:           accuracy %g, tokens %g, time %g\n",
		cfg.Reward.AccuracyWeight, cfg.Reward.TokenWeight, cfg.Reward.TimeWeight)
	fmt.Fprintf(out, "  Token Budget:      %d\n", cfg.Reward.TokenBudget)
	fmt.Fprintf(out, "  Time Budget:       %s\n", cfg.Reward.TimeBudget)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Budget:")
	if cfg.Budget.Unlimited() {
		fmt.Fprintln(out, "  unlimited")
	} else {
		if cfg.Budget.MaxTokens > 0 {
			fmt.Fprintf(out, "  Max Tokens:        %d\n", cfg.Budget.MaxTokens)
		}
		if cfg.Budget.MaxCost > 0 {
			fmt.Fprintf(out, "  Max Cost:          $%.4f\n", cfg.Budget.MaxCost)
		}
		if cfg.Budget.MaxWallTime > 0 {
			fmt.Fprintf(out, "  Max Wall Time:     %s\n", cfg.Budget.MaxWallTime)
		}
		fmt.Fprintf(out, "  Warn At:           %.0f%%\n", cfg.Budget.WarningThreshold*100)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Executor:")
	fmt.Fprintf(out, "  Timeout:           %s\n", cfg.Executor.Timeout)
	if cfg.Executor.RateLimit > 0 {
		fmt.Fprintf(out, "  Rate Limit:        %g/s (burst %d)\n", cfg.Executor.RateLimit, cfg.Executor.Burst)
	} else {
		fmt.Fprintln(out, "  Rate Limit:        none")
	}
	if b := cfg.Executor.Breaker; b.Enabled {
		fmt.Fprintf(out, "  Breaker:           after %d failures, cooldown %s\n", b.FailureThreshold, b.Cooldown)
	} else {
		fmt.Fprintln(out, "  Breaker:           disabled")
	}
	fmt.Fprintf(out, "  Jitter:            %g\n", cfg.Executor.Jitter)
	if len(cfg.Executor.Profiles) > 0 {
		names := make([]string, 0, len(cfg.Executor.Profiles))
		for name := range cfg.Executor.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "  Profiles:")
		for _, name := range names {
			p := cfg.Executor.Profiles[name]
			fmt.Fprintf(out, "    %-20s accuracy %.2f, $%.4f/1K, %s/1K\n", name, p.Accuracy, p.CostPer1K, p.LatencyPer1K)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Output:")
	fmt.Fprintf(out, "  Format:            %s\n", cfg.Output.Format)
	if cfg.Output.Dir != "" {
		fmt.Fprintf(out, "  Directory:         %s\n", cfg.Output.Dir)
	}
	if cfg.Output.History != "" {
		fmt.Fprintf(out, "  History:           %s\n", cfg.Output.History)
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if _, err := loadConfig(cmd); err != nil {
		fmt.Fprintln(out, "Errors:")
		for _, e := range flattenErrors(err) {
			fmt.Fprintf(out, "  ✗ %s\n", e)
		}
		return err
	}
	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}

	data, err := config.Default().Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
	return nil
}

// flattenErrors unwraps joined errors into their leaf messages.
func flattenErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			if e == config.ErrInvalid {
				continue
			}
			msgs = append(msgs, flattenErrors(e)...)
		}
		return msgs
	}
	if wrapped := errors.Unwrap(err); wrapped != nil {
		if _, ok := wrapped.(interface{ Unwrap() []error }); ok {
			return flattenErrors(wrapped)
		}
	}
	return []string{err.Error()}
}

func seedLabel(seed uint64) string {
	if seed == 0 {
		return "random"
	}
	return fmt.Sprint(seed)
}

func limitLabel(n int) string {
	if n <= 0 {
		return "unbounded"
	}
	return fmt.Sprint(n)
}
