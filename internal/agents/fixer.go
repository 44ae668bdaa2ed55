package agents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/refactorswarm/swarm/internal/ai"
	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/fixes"
	"github.com/refactorswarm/swarm/internal/sandbox"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// Fixer applies the audit report on the first pass and asks the LLM for a
// whole-file correction on retry passes.
type Fixer struct {
	llm       ai.Client
	engine    *fixes.Engine
	analyzer  Analyzer
	workspace Workspace
	recorder
}

// NewFixer creates a Fixer. The engine's line fixer should share llm.
func NewFixer(llm ai.Client, engine *fixes.Engine, analyzer Analyzer, workspace Workspace, log events.Recorder) *Fixer {
	return &Fixer{
		llm:       llm,
		engine:    engine,
		analyzer:  analyzer,
		workspace: workspace,
		recorder:  recorder{log: log},
	}
}

// Name implements workflow.Agent.
func (f *Fixer) Name() string { return FixerName }

// Execute implements workflow.Agent. The returned code is never empty and
// is written to fixed/<dir>/<iteration>_<name> in the workspace, where dir
// is the file's directory under the target.
func (f *Fixer) Execute(ctx context.Context, s *workflow.State) *workflow.Delta {
	code := s.CurrentContent
	iteration := s.Iteration()

	var (
		fixed     string
		attempts  []types.FixAttempt
		prompt    string
		response  string
		status    = events.StatusSuccess
		retryPass = len(s.TestErrors) > 0
	)
	if retryPass {
		prompt = buildRetryPrompt(s.TargetFile, iteration, s.MaxIterations, s.TestErrors, s.AuditReport, code)
		var err error
		fixed, response, err = f.rewrite(ctx, prompt, code)
		if err != nil {
			status = events.StatusFailure
		}
		changed := fixed != code
		attempts = make([]types.FixAttempt, 0, len(s.TestErrors))
		for _, msg := range s.TestErrors {
			attempts = append(attempts, types.FixAttempt{
				Severity:    types.SeverityCritical,
				Type:        types.IssueTestFailure,
				Description: msg,
				Applied:     changed,
			})
		}
	} else {
		fixed, attempts = f.engine.Apply(ctx, code, s.AuditReport)
		prompt = describePlan(s.TargetFile, s.AuditReport)
		response = describeAttempts(attempts)
	}
	if strings.TrimSpace(fixed) == "" {
		fixed = code
	}

	entry := events.NewEntry(FixerName, f.llm.Model(), events.ActionFix, status, prompt, loggedResponse(response)).
		With("retry", retryPass).
		With("fixes_attempted", len(attempts)).
		With("fixes_applied", types.CountApplied(attempts))

	rel := workspaceName(s)
	name := fmt.Sprintf("%d_%s", iteration, path.Base(rel))
	outPath, err := f.workspace.WriteFile(path.Join("fixed", path.Dir(rel), name), []byte(fixed))
	if err != nil {
		entry.Status = events.StatusFailure
		entry.With("write_error", err.Error())
		f.record(s, entry)
		if errors.Is(err, sandbox.ErrOutsideSandbox) {
			return &workflow.Delta{Phase: types.PhaseError, Error: err.Error()}
		}
		return &workflow.Delta{Phase: types.PhaseTest, CurrentContent: fixed, FixAttempts: attempts}
	}
	entry.With("output_path", outPath)

	// A broken result is still handed on; the Judge turns it into a retry.
	syntax := f.analyzer.CheckSyntax(ctx, fixed)
	entry.With("syntax_valid", syntax.Valid)
	if !syntax.Valid {
		entry.Status = events.StatusFailure
		entry.With("syntax_error", syntax.Error)
	}
	f.record(s, entry)

	return &workflow.Delta{
		Phase:          types.PhaseTest,
		CurrentContent: fixed,
		FixAttempts:    attempts,
		Outputs: map[string]any{
			OutputFixedPath:    outPath,
			OutputFixesApplied: types.CountApplied(attempts),
		},
	}
}

// rewrite asks the LLM for a corrected file. On failure it returns the
// original code together with a description of the failure for the log.
func (f *Fixer) rewrite(ctx context.Context, prompt, code string) (fixed, response string, err error) {
	response, err = f.llm.Call(ctx, "fix_retry", prompt)
	if err != nil {
		return code, "LLM call failed: " + err.Error(), err
	}
	candidate, fenced := ai.ExtractCodeBlock(response)
	if strings.TrimSpace(candidate) == "" {
		return code, response, nil
	}
	// Unfenced replies are often prose; only take them when they parse.
	if !fenced {
		if syntax := f.analyzer.CheckSyntax(ctx, candidate); !syntax.Valid {
			return code, response, nil
		}
	}
	return candidate, response, nil
}
