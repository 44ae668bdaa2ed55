package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refactorswarm/swarm/internal/config"
	"github.com/refactorswarm/swarm/internal/events"
)

var reportCmd = &cobra.Command{
	Use:   "report [path]",
	Short: "Summarise the experiment log",
	Long:  `Count experiment log entries by agent, action and status, and report the success ratio.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Default().LogFile
		if len(args) == 1 {
			path = args[0]
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("experiment log: %w", err)
		}
		log, err := events.Open(path)
		if err != nil {
			return err
		}
		entries, err := log.Entries()
		if err != nil {
			return err
		}
		summary := events.Summarize(entries)

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printReport(out, path, summary)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "Print the summary as JSON")
	rootCmd.AddCommand(reportCmd)
}

func printReport(w io.Writer, path string, s events.Summary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Experiment Report: "+path+" ==="))
	if s.Total == 0 {
		fmt.Fprintf(w, "%s\n\n", gray("No entries"))
		return
	}
	fmt.Fprintf(w, "Entries: %d\n", s.Total)

	fmt.Fprintln(w, "By agent:")
	for _, k := range events.SortedKeys(s.ByAgent) {
		fmt.Fprintf(w, "  %-20s %d\n", k, s.ByAgent[k])
	}
	fmt.Fprintln(w, "By action:")
	actions := make([]string, 0, len(s.ByAction))
	for a := range s.ByAction {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "  %-20s %d\n", a, s.ByAction[events.ActionType(a)])
	}
	fmt.Fprintln(w, "By status:")
	for _, st := range []events.Status{events.StatusSuccess, events.StatusFailure, events.StatusInfo} {
		fmt.Fprintf(w, "  %-20s %d\n", st, s.ByStatus[st])
	}
	fmt.Fprintf(w, "Success rate: %.1f%%\n\n", 100*s.SuccessRate)
}
