// Package cmd implements the planner command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rand/planner/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// defaultEnvFile is loaded when present and --env-file is not given.
const defaultEnvFile = ".env"

// NewRootCmd builds the planner command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "planner",
		Short: "Search pipeline configurations for accuracy, token and latency trade-offs",
		Long: heredoc.Doc(`
			Planner explores the configuration space of a linear data-processing pipeline
			with Monte Carlo tree search and reports the Pareto frontier over accuracy,
			token usage and execution time.
		`),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("env-file")
			return loadEnv(path)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Path to a planner YAML config file")
	pf.BoolP("debug", "d", false, "Enable debug logging")
	pf.String("log-file", "", "Write logs to this file, rotated at 10 MB, instead of stderr")
	pf.String("env-file", "", "Load environment variables from this file (default .env when present)")

	root.AddCommand(
		newSearchCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newHistoryCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	err := fang.Execute(context.Background(), NewRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err != nil {
		os.Exit(1)
	}
}

// loadEnv loads path, or the default env file if it exists. Variables
// already set in the environment win.
func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// loadConfig loads the file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger returns a text logger on the command's stderr, or on the
// rotating --log-file. quiet raises the level to warnings; --debug wins over
// quiet. The returned func releases the log file.
func newLogger(cmd *cobra.Command, quiet bool) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}

	var w io.Writer = cmd.ErrOrStderr()
	closer := func() {}
	if path, _ := cmd.Flags().GetString("log-file"); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = lj
		closer = func() { _ = lj.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer
}
