package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refactorswarm/swarm/internal/config"
	"github.com/refactorswarm/swarm/internal/events"
)

var validateLogsCmd = &cobra.Command{
	Use:   "validate-logs [path]",
	Short: "Check the experiment log for missing or malformed entries",
	Long: `Validate every entry of the experiment log: required fields, known
actions and statuses, ISO-8601 timestamps, prompt and response presence,
iteration bounds and file paths.

The log path and iteration limit default to the configured log_file and
max_iterations. Entries that record details.max_iterations are checked
against their own limit.

Exits non-zero when any error is found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		cfgPath, _ := flags.GetString("config")
		cfg, err := config.Load(cfgPath, !flags.Changed("config"))
		if err != nil {
			return err
		}
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}

		path := cfg.LogFile
		if len(args) == 1 {
			path = args[0]
		}
		v := events.NewValidator()
		v.MaxIteration = cfg.MaxIterations
		if flags.Changed("max_iterations") {
			v.MaxIteration, _ = flags.GetInt("max_iterations")
		}

		report, err := v.ValidateFile(path)
		if err != nil {
			return err
		}
		printValidation(cmd.OutOrStdout(), path, report)
		if !report.OK() {
			return errFailed
		}
		return nil
	},
}

func init() {
	flags := validateLogsCmd.Flags()
	flags.Int("max_iterations", config.Default().MaxIterations,
		"Iteration limit for entries that do not record their own (default: the configured max_iterations)")
	flags.String("config", defaultConfigPath, "YAML config file (optional when left at the default)")
	rootCmd.AddCommand(validateLogsCmd)
}

func printValidation(w io.Writer, path string, r *events.ValidationReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Log Validation: "+path+" ==="))
	fmt.Fprintf(w, "Entries: %d\n", r.Entries)

	for _, title := range []string{"Agents", "Actions", "Statuses"} {
		counts := map[string]map[string]int{
			"Agents":   r.Stats.ByAgent,
			"Actions":  r.Stats.ByAction,
			"Statuses": r.Stats.ByStatus,
		}[title]
		fmt.Fprintf(w, "%s:\n", title)
		for _, k := range events.SortedKeys(counts) {
			fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
		}
	}
	fmt.Fprintf(w, "Max iteration: %d\n", r.Stats.MaxIteration)
	fmt.Fprintf(w, "Avg prompt/response length: %.0f / %.0f\n", r.Stats.AvgPromptLen, r.Stats.AvgResponseLen)

	for _, f := range r.Errors {
		fmt.Fprintf(w, "%s %s\n", red("ERROR"), f)
	}
	for _, f := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", yellow("WARN "), f)
	}

	verdict := green("VALID")
	if !r.OK() {
		verdict = red("INVALID")
	}
	fmt.Fprintf(w, "\nQuality score: %d/100  %s\n\n", r.QualityScore(), verdict)
}
