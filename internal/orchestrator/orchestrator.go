// Package orchestrator runs the workflow graph over every Python file in a
// target directory and aggregates the results.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/refactorswarm/swarm/internal/cost"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// Runner drives one file's state to a terminal phase. *workflow.Graph implements it.
type Runner interface {
	Run(ctx context.Context, s *workflow.State) (*workflow.Result, error)
}

// HistoryStore persists finished runs. storage.Storage satisfies it.
type HistoryStore interface {
	RecordRun(ctx context.Context, summary *types.RunSummary) error
}

// Options configures an Orchestrator.
type Options struct {
	// MaxIterations caps fix/test cycles per file. Default: 10
	MaxIterations int
	// Parallelism is the number of files processed at once. Default: 1
	Parallelism int
	// ExcludeDirs are directory names skipped during discovery.
	ExcludeDirs []string
	// SkipPaths are paths never processed, typically the sandbox root.
	SkipPaths []string

	// ReadFile loads a file's content. Default: os.ReadFile
	ReadFile func(path string) ([]byte, error)
	// History, when set, receives the summary after the run.
	History HistoryStore
	// Progress receives one line per file. Nil disables progress output.
	Progress io.Writer
	// RunID overrides the generated run identifier.
	RunID string
}

// Orchestrator processes a directory of files through a Runner.
type Orchestrator struct {
	runner Runner
	opts   Options

	progressMu sync.Mutex
}

// New creates an Orchestrator, filling defaults into opts.
func New(runner Runner, opts Options) *Orchestrator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	return &Orchestrator{runner: runner, opts: opts}
}

// Execute processes every .py file under targetDir. It returns an error only
// when the directory cannot be enumerated; per-file failures, including
// panics, are recorded in the summary.
func (o *Orchestrator) Execute(ctx context.Context, targetDir string) (*types.RunSummary, error) {
	files, err := DiscoverFiles(targetDir, o.opts.ExcludeDirs, o.opts.SkipPaths...)
	if err != nil {
		return nil, err
	}

	runID := o.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := &types.RunSummary{
		RunID:     runID,
		TargetDir: targetDir,
		StartedAt: time.Now(),
		Details:   make([]types.FileResult, len(files)),
	}
	slog.Info("run started", "run_id", runID, "target", targetDir, "files", len(files), "parallelism", o.opts.Parallelism)

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for i, path := range files {
		g.Go(func() error {
			summary.Details[i] = o.processFile(ctx, runID, targetDir, path)
			o.progress(i+1, len(files), summary.Details[i])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	summary.FinishedAt = time.Now()
	summary.Tally()

	if o.opts.History != nil {
		if err := o.opts.History.RecordRun(ctx, summary); err != nil {
			slog.Warn("could not record run history", "run_id", runID, "error", err)
		}
	}
	slog.Info("run finished",
		"run_id", runID,
		"processed", summary.FilesProcessed,
		"successful", summary.FilesSuccessful,
		"failed", summary.FilesFailed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// processFile runs one file. It never panics and never returns an error:
// anything that goes wrong becomes a failed FileResult.
func (o *Orchestrator) processFile(ctx context.Context, runID, root, path string) (fr types.FileResult) {
	start := time.Now()
	fr = types.FileResult{File: path, FinalPhase: types.PhaseError}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("file processing panicked", "file", path, "panic", r, "stack", string(debug.Stack()))
			fr = types.FileResult{
				File:       path,
				FinalPhase: types.PhaseError,
				Error:      fmt.Sprintf("unexpected failure: %v", r),
			}
		}
		fr.Duration = time.Since(start)
	}()

	content, err := o.opts.ReadFile(path)
	if err != nil {
		fr.Error = fmt.Sprintf("read failed: %v", err)
		slog.Warn("could not read file", "file", path, "error", err)
		return fr
	}

	state := workflow.NewState(path, string(content), o.opts.MaxIterations)
	state.RunID = runID
	state.RelPath = relativePath(root, path)
	res, err := o.runner.Run(cost.WithFile(ctx, path), state)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	return res.FileResult()
}

func (o *Orchestrator) progress(n, total int, fr types.FileResult) {
	if o.opts.Progress == nil {
		return
	}
	o.progressMu.Lock()
	defer o.progressMu.Unlock()

	mark := "FAIL"
	if fr.Success {
		mark = "OK"
	}
	line := fmt.Sprintf("[%d/%d] %-4s %s (phase=%s, iterations=%d)", n, total, mark, fr.File, fr.FinalPhase, fr.Iterations)
	if fr.Error != "" {
		line += ": " + fr.Error
	}
	fmt.Fprintln(o.opts.Progress, line)
}
