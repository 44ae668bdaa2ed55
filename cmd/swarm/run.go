package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/refactorswarm/swarm/internal/agents"
	"github.com/refactorswarm/swarm/internal/ai"
	"github.com/refactorswarm/swarm/internal/config"
	"github.com/refactorswarm/swarm/internal/cost"
	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/fixes"
	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/metrics"
	"github.com/refactorswarm/swarm/internal/orchestrator"
	"github.com/refactorswarm/swarm/internal/sandbox"
	"github.com/refactorswarm/swarm/internal/storage"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

const defaultConfigPath = "swarm.yaml"

func runSwarm(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	slog.Debug("configuration resolved", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	p, err := buildPipeline(cfg, out)
	if err != nil {
		return err
	}
	defer p.Close()

	summary, err := p.orch.Execute(ctx, cfg.TargetDir)
	if err != nil {
		return err
	}

	printSummary(out, summary, *p.memory.Aggregate(), p.budget.GetStats())

	if cfg.MetricsFile != "" {
		if err := p.prom.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("could not write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}
	if !summary.Success() {
		return errFailed
	}
	return nil
}

// resolveConfig layers defaults, the YAML file, SWARM_* variables and flags,
// then checks everything a run needs before any file is touched.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfgPath, _ := flags.GetString("config")
	cfg, err := config.Load(cfgPath, !flags.Changed("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("target_dir") {
		cfg.TargetDir, _ = flags.GetString("target_dir")
	}
	if flags.Changed("max_iterations") {
		cfg.MaxIterations, _ = flags.GetInt("max_iterations")
	}
	if flags.Changed("clean_logs") {
		cfg.CleanLogs, _ = flags.GetBool("clean_logs")
	}
	if flags.Changed("parallel") {
		cfg.Parallelism, _ = flags.GetInt("parallel")
	}
	for flag, field := range map[string]*string{
		"log_file":     &cfg.LogFile,
		"sandbox_dir":  &cfg.SandboxDir,
		"model":        &cfg.Model,
		"history_db":   &cfg.HistoryDB,
		"metrics_file": &cfg.MetricsFile,
	} {
		if flags.Changed(flag) {
			*field, _ = flags.GetString(flag)
		}
	}

	if cfg.TargetDir == "" {
		return nil, fmt.Errorf("--target_dir is required")
	}
	info, err := os.Stat(cfg.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("target directory %s does not exist", cfg.TargetDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %s is not a directory", cfg.TargetDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireCredential(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline is everything one run wires together.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	memory  *workflow.InMemoryCollector
	prom    *metrics.Prometheus
	budget  *cost.Tracker
	history storage.Storage
}

func (p *pipeline) Close() {
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			slog.Warn("could not close run history", "error", err)
		}
	}
}

func buildPipeline(cfg *config.Config, progress io.Writer) (*pipeline, error) {
	budget, err := cost.NewTracker(cfg.Budget)
	if err != nil {
		return nil, err
	}
	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries
	retry.Timeout = cfg.Timeouts.LLM
	retry.MaxConcurrentCalls = cfg.LLM.MaxConcurrent
	llm, err := ai.NewAnthropicClient(ai.Config{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Retry:             retry,
		Budget:            budget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	sb, err := sandbox.New(cfg.SandboxDir)
	if err != nil {
		return nil, err
	}

	log, err := events.Open(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	if cfg.CleanLogs {
		if err := log.Clear(); err != nil {
			return nil, err
		}
		slog.Info("experiment log cleared", "path", log.Path())
	}

	tools := gates.ToolConfig{
		Python:           cfg.Python,
		Pylint:           cfg.Pylint,
		Pytest:           cfg.Pytest,
		AnalysisTimeout:  cfg.Timeouts.Analysis,
		TestTimeout:      cfg.Timeouts.Tests,
		ExecutionTimeout: cfg.Timeouts.Execution,
	}
	runner := &gates.ExecRunner{}
	analyzer := gates.NewAnalyzer(runner, tools)
	tester := gates.NewTestRunner(runner, tools)

	memory := workflow.NewInMemoryCollector()
	prom := metrics.NewPrometheus()
	graph, err := workflow.NewGraph(
		agents.NewAuditor(llm, analyzer, log),
		agents.NewFixer(llm, fixes.NewEngine(llm), analyzer, sb, log),
		agents.NewJudge(analyzer, tester, sb, log),
		workflow.WithMetrics(workflow.Collectors(memory, prom)),
	)
	if err != nil {
		return nil, err
	}

	p := &pipeline{memory: memory, prom: prom, budget: budget}
	opts := orchestrator.Options{
		MaxIterations: cfg.MaxIterations,
		Parallelism:   cfg.Parallelism,
		ExcludeDirs:   cfg.ExcludeDirs,
		SkipPaths:     []string{sb.Root()},
		Progress:      progress,
	}
	if cfg.HistoryDB != "" {
		store, err := storage.NewStorage(&storage.Config{Path: cfg.HistoryDB})
		if err != nil {
			slog.Warn("run history disabled", "path", cfg.HistoryDB, "error", err)
		} else {
			p.history = store
			opts.History = store
		}
	}
	p.orch = orchestrator.New(graph, opts)
	return p, nil
}

func printSummary(w io.Writer, s *types.RunSummary, agg workflow.AggregateMetrics, usage cost.Stats) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Refactoring Swarm Summary ==="))
	fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	fmt.Fprintf(w, "Processed:  %d\n", s.FilesProcessed)
	fmt.Fprintf(w, "Successful: %s\n", green(s.FilesSuccessful))
	fmt.Fprintf(w, "Failed:     %s\n", red(s.FilesFailed))
	if agg.TotalFiles > 0 {
		fmt.Fprintf(w, "Cycles:     %d total, %.1f mean, p50 %d, p95 %d\n",
			agg.TotalCycles, agg.MeanCycles, agg.P50Cycles, agg.P95Cycles)
		if agg.MaxedOutFiles > 0 {
			fmt.Fprintf(w, "Max iterations reached: %d\n", agg.MaxedOutFiles)
		}
	}
	fmt.Fprintf(w, "Duration:   %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	if usage.Calls > 0 {
		fmt.Fprintf(w, "LLM usage:  %d calls, %d tokens, ~$%.2f (budget %s)\n",
			usage.Calls, usage.TotalTokens, usage.CostUSD, usage.Status)
	}

	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", red("Errors:"))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", gray(e))
		}
	}
	fmt.Fprintln(w)
}
