// Package agents implements the three workflow nodes: the Auditor that
// produces an audit report, the Fixer that applies it, and the Judge that
// validates the result. Each agent holds only injected collaborators, so one
// instance can serve many files, and none of them lets a collaborator
// failure escape Execute.
package agents

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// Agent names as they appear in the experiment log.
const (
	AuditorName = "Auditor"
	FixerName   = "Fixer"
	JudgeName   = "Judge"
)

// Agent output keys shared through the workflow state.
const (
	OutputOriginalScore = "original_score"
	OutputCodeMetrics   = "code_metrics"
	OutputFixedPath     = "fixed_path"
	OutputFixesApplied  = "fixes_applied"
	OutputFinalScore    = "final_score"
	OutputFinalPath     = "final_path"
)

// Analyzer is the static-analysis collaborator. *gates.Analyzer implements it.
type Analyzer interface {
	Inspect(ctx context.Context, code string) (gates.SyntaxResult, gates.CodeMetrics)
	CheckSyntax(ctx context.Context, code string) gates.SyntaxResult
	RunStaticAnalysis(ctx context.Context, path string) *gates.AnalysisResult
}

// Tester is the test collaborator. *gates.TestRunner implements it.
type Tester interface {
	RunTests(ctx context.Context, path string) *gates.TestOutcome
	RunSafely(ctx context.Context, path string) *gates.RunOutcome
}

// Workspace is the write boundary. *sandbox.Sandbox implements it.
type Workspace interface {
	WriteFile(p string, data []byte) (string, error)
}

var (
	_ Analyzer       = (*gates.Analyzer)(nil)
	_ Tester         = (*gates.TestRunner)(nil)
	_ workflow.Agent = (*Auditor)(nil)
	_ workflow.Agent = (*Fixer)(nil)
	_ workflow.Agent = (*Judge)(nil)
)

// recorder stamps entries with the file metadata and swallows log failures,
// which must never change a verdict.
type recorder struct {
	log events.Recorder
}

func (r recorder) record(s *workflow.State, e *events.Entry) {
	if r.log == nil {
		return
	}
	e.With("file", s.DisplayPath()).
		With("iteration", s.Iteration()).
		With("max_iterations", s.MaxIterations)
	if s.RunID != "" {
		e.With("run_id", s.RunID)
	}
	if err := r.log.Record(e); err != nil {
		slog.Warn("experiment log write failed", "agent", e.Agent, "file", s.TargetFile, "error", err)
	}
}

// loggedResponse makes a model reply acceptable as an output_response.
// Blank replies become a marker and placeholder replies such as "None" are
// labelled so the entry still passes validation.
func loggedResponse(s string) string {
	switch {
	case strings.TrimSpace(s) == "":
		return "(empty response)"
	case events.IsPlaceholder(s):
		return "raw response: " + strings.TrimSpace(s)
	}
	return s
}

// workspaceName is the file's sandbox-relative name: its path under the
// target directory, or its base name when that is unknown. Files with the
// same base name in different directories never share sandbox paths.
func workspaceName(s *workflow.State) string {
	if s.RelPath != "" {
		return path.Clean(s.RelPath)
	}
	return filepath.Base(s.TargetFile)
}
