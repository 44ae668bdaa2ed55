package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/refactorswarm/swarm/internal/ai"
	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
)

// Auditor turns source code into an audit report. It scores the original
// file with pylint, asks the LLM for a categorised issue list, and falls back
// to a report built from the pylint messages when the LLM is unusable.
type Auditor struct {
	llm      ai.Client
	analyzer Analyzer
	recorder
}

// NewAuditor creates an Auditor.
func NewAuditor(llm ai.Client, analyzer Analyzer, log events.Recorder) *Auditor {
	return &Auditor{llm: llm, analyzer: analyzer, recorder: recorder{log: log}}
}

// Name implements workflow.Agent.
func (a *Auditor) Name() string { return AuditorName }

// Execute implements workflow.Agent. It always writes exactly one log entry.
func (a *Auditor) Execute(ctx context.Context, s *workflow.State) *workflow.Delta {
	code := s.CurrentContent
	if strings.TrimSpace(code) == "" {
		a.record(s, events.NewEntry(AuditorName, a.llm.Model(), events.ActionAnalysis, events.StatusFailure,
			"Audit "+s.TargetFile+": file content is empty",
			"Skipped: no code to analyze, the LLM was not called"))
		return &workflow.Delta{Phase: types.PhaseError, Error: "no code content to analyze"}
	}

	analysis := a.analyzer.RunStaticAnalysis(ctx, s.TargetFile)
	syntax, metrics := a.analyzer.Inspect(ctx, code)
	prompt := buildAuditPrompt(s.TargetFile, code, analysis, syntax, metrics)

	var report *types.AuditReport
	status := events.StatusSuccess
	response, err := a.llm.Call(ctx, "audit", prompt)
	if err != nil {
		report = fallbackReport("llm error: "+err.Error(), analysis)
		response = "LLM call failed: " + err.Error()
		status = events.StatusFailure
	} else if ext := ai.Extract[rawReport](response); ext.Ok() {
		report = ext.Data.report()
	} else {
		report = fallbackReport(ext.Reason, analysis)
		status = events.StatusInfo
	}

	a.record(s, events.NewEntry(AuditorName, a.llm.Model(), events.ActionAnalysis, status, prompt, loggedResponse(response)).
		With("pylint_score", analysis.Score).
		With("issues_found", report.Total()).
		With("fallback", report.IsFallback()))

	outputs := map[string]any{
		OutputOriginalScore: analysis.Score,
		OutputCodeMetrics:   metrics,
	}
	return &workflow.Delta{Phase: types.PhaseFix, AuditReport: report, Outputs: outputs}
}

// fallbackReport builds the minimal report, carrying over pylint's messages
// when there are any.
func fallbackReport(reason string, analysis *gates.AnalysisResult) *types.AuditReport {
	r := types.NewFallbackReport(reason)
	if analysis == nil || len(analysis.Issues) == 0 {
		return r
	}
	for _, pi := range analysis.Issues {
		r.Add(pi.Severity(), types.Issue{
			Line:        pi.Line,
			Type:        pylintIssueType(pi),
			Description: fmt.Sprintf("%s (%s)", pi.Message, pi.Symbol),
		})
	}
	r.Summary.EstimatedScore = analysis.Score
	r.Normalize()
	return r
}

// pylintIssueType maps a pylint message onto a fix strategy type.
func pylintIssueType(pi gates.PylintIssue) string {
	switch pi.Symbol {
	case "syntax-error":
		return types.IssueSyntax
	case "eval-used", "exec-used":
		return types.IssueSecurity
	case "bare-except", "broad-except", "broad-exception-caught":
		return types.IssueErrorHandling
	case "consider-using-enumerate":
		return types.IssuePerformance
	}
	switch pi.Type {
	case "convention", "refactor", "info":
		return types.IssueStyle
	}
	return types.IssueLogic
}

// rawReport is the lenient decoding target for the LLM's answer. Both the
// short keys and the *_issues keys are accepted.
type rawReport struct {
	Critical       []rawIssue `json:"critical"`
	Major          []rawIssue `json:"major"`
	Minor          []rawIssue `json:"minor"`
	CriticalIssues []rawIssue `json:"critical_issues"`
	MajorIssues    []rawIssue `json:"major_issues"`
	MinorIssues    []rawIssue `json:"minor_issues"`
	Summary        struct {
		EstimatedScore      *float64 `json:"estimated_score"`
		EstimatedPylint     *float64 `json:"estimated_pylint_score"`
		Complexity          string   `json:"complexity"`
		RefactoringPriority []string `json:"refactoring_priority"`
	} `json:"summary"`
}

type rawIssue struct {
	Line        lineNumber `json:"line"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Suggestion  string     `json:"suggestion"`
}

// lineNumber accepts 12, 12.0, "12" and null.
type lineNumber int

func (l *lineNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*l = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// An unparseable line is not worth failing the whole report.
		*l = 0
		return nil
	}
	*l = lineNumber(f)
	return nil
}

var _ json.Unmarshaler = (*lineNumber)(nil)

func (r rawReport) report() *types.AuditReport {
	out := &types.AuditReport{}
	add := func(sev types.Severity, issues ...[]rawIssue) {
		for _, list := range issues {
			for _, ri := range list {
				out.Add(sev, types.Issue{
					Line:        int(ri.Line),
					Type:        strings.ToLower(strings.TrimSpace(ri.Type)),
					Description: ri.Description,
					Suggestion:  ri.Suggestion,
				})
			}
		}
	}
	add(types.SeverityCritical, r.Critical, r.CriticalIssues)
	add(types.SeverityMajor, r.Major, r.MajorIssues)
	add(types.SeverityMinor, r.Minor, r.MinorIssues)

	switch {
	case r.Summary.EstimatedScore != nil:
		out.Summary.EstimatedScore = *r.Summary.EstimatedScore
	case r.Summary.EstimatedPylint != nil:
		out.Summary.EstimatedScore = *r.Summary.EstimatedPylint
	}
	out.Summary.Complexity = r.Summary.Complexity
	out.Summary.RefactoringPriority = r.Summary.RefactoringPriority
	out.Normalize()
	return out
}
