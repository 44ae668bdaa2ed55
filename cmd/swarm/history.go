package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refactorswarm/swarm/internal/config"
	"github.com/refactorswarm/swarm/internal/storage"
	"github.com/refactorswarm/swarm/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs from the run history database",
	Long: `Without arguments, list the most recent runs. With a run ID, list that
run's per-file results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("history_db")
		limit, _ := cmd.Flags().GetInt("limit")
		if dbPath == "" {
			dbPath = config.Default().HistoryDB
		}

		store, err := storage.NewStorage(&storage.Config{Path: dbPath})
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			printRun(out, run)
			return nil
		}

		runs, err := store.RecentRuns(ctx, limit)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().String("history_db", "", "SQLite run history path (default "+config.Default().HistoryDB+")")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of recent runs to show")
	rootCmd.AddCommand(historyCmd)
}

func printRuns(w io.Writer, runs []*types.RunSummary) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	if len(runs) == 0 {
		fmt.Fprintf(w, "%s\n", gray("No runs recorded"))
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %s  %d/%d ok  %s\n",
			r.RunID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.TargetDir,
			r.FilesSuccessful, r.FilesProcessed,
			gray(r.FinishedAt.Sub(r.StartedAt).Round(time.Second)))
	}
}

func printRun(w io.Writer, run *types.RunSummary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Run "+run.RunID+" ==="))
	fmt.Fprintf(w, "Target:  %s\n", run.TargetDir)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Result:  %d/%d files repaired\n\n", run.FilesSuccessful, run.FilesProcessed)
	for _, d := range run.Details {
		mark := red("FAIL")
		if d.Success {
			mark = green("OK  ")
		}
		line := fmt.Sprintf("  %s %s (phase=%s, iterations=%d)", mark, d.File, d.FinalPhase, d.Iterations)
		if d.Error != "" {
			line += ": " + d.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}
