package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// errFailed makes the process exit 1 without printing anything more; the
// command has already reported what went wrong.
var errFailed = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Repair Python files with an Auditor, Fixer and Judge agent loop",
	Long: `Refactoring Swarm audits every .py file under --target_dir, applies fixes,
and judges the result with pylint and pytest. Each file loops through
fix and test until the Judge accepts it or --max_iterations is reached.

Repaired files are written to <sandbox_dir>/final. Every agent call is
recorded in the experiment log (--log_file).

Exit status is 0 when at least one file was repaired.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(verbose)
	},
	RunE: runSwarm,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	addRunFlags(rootCmd)
}

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("target_dir", "", "Directory of .py files to repair (required)")
	flags.Int("max_iterations", 10, "Maximum fix/test cycles per file")
	flags.Bool("clean_logs", false, "Truncate the experiment log before the run")
	flags.String("config", defaultConfigPath, "YAML config file (optional when left at the default)")
	flags.String("log_file", "", "Experiment log path")
	flags.String("sandbox_dir", "", "Directory for fixed, work and final files")
	flags.String("model", "", "LLM model name")
	flags.String("history_db", "", "SQLite run history path")
	flags.String("metrics_file", "", "Write Prometheus metrics to this file after the run")
	flags.Int("parallel", 1, "Number of files processed concurrently")
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
