package types

import (
	"fmt"
	"sort"
	"time"
)

// Phase is the current node of a file's workflow.
type Phase string

const (
	PhaseAudit Phase = "audit"
	PhaseFix   Phase = "fix"
	PhaseTest  Phase = "test"
	// PhaseRetry is transient: the graph driver resolves it to fix or error
	// before the next step runs.
	PhaseRetry Phase = "retry"
	PhaseDone  Phase = "done"
	PhaseError Phase = "error"
)

// IsValid checks if the phase value is valid
func (p Phase) IsValid() bool {
	switch p {
	case PhaseAudit, PhaseFix, PhaseTest, PhaseRetry, PhaseDone, PhaseError:
		return true
	}
	return false
}

// IsTerminal reports whether no further agent may run once this phase is reached.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseError
}

// Severity classifies an audit issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// Issue types understood by the fix strategies. Anything else is routed to
// the LLM line fixer.
const (
	IssueSecurity      = "security"
	IssueSyntax        = "syntax"
	IssueErrorHandling = "error_handling"
	IssueStyle         = "style"
	IssuePerformance   = "performance"
	IssueLogic         = "logic"
	IssueTestFailure   = "test_failure"
)

// Issue is a single finding in an audit report.
type Issue struct {
	Line        int    `json:"line"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// AuditSummary carries the Auditor's overall assessment.
type AuditSummary struct {
	TotalIssues         int      `json:"total_issues"`
	EstimatedScore      float64  `json:"estimated_score,omitempty"`
	Complexity          string   `json:"complexity,omitempty"`
	RefactoringPriority []string `json:"refactoring_priority,omitempty"`
	// Note is "fallback" when the report was not produced from a parsed LLM response.
	Note           string `json:"note,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// AuditReport is the structured issue list produced by the Auditor.
type AuditReport struct {
	Critical []Issue      `json:"critical"`
	Major    []Issue      `json:"major"`
	Minor    []Issue      `json:"minor"`
	Summary  AuditSummary `json:"summary"`
}

// FallbackNote marks a report that did not come from a parsed LLM response.
const FallbackNote = "fallback"

// NewFallbackReport returns the minimal report used when the LLM response is
// unusable.
func NewFallbackReport(reason string) *AuditReport {
	return &AuditReport{
		Critical: []Issue{},
		Major:    []Issue{},
		Minor:    []Issue{},
		Summary: AuditSummary{
			Note:           FallbackNote,
			FallbackReason: reason,
		},
	}
}

// IsFallback reports whether the report was produced by a fallback path.
func (r *AuditReport) IsFallback() bool {
	return r != nil && r.Summary.Note == FallbackNote
}

// Normalize replaces nil slices with empty ones and recomputes the total.
func (r *AuditReport) Normalize() {
	if r.Critical == nil {
		r.Critical = []Issue{}
	}
	if r.Major == nil {
		r.Major = []Issue{}
	}
	if r.Minor == nil {
		r.Minor = []Issue{}
	}
	r.Summary.TotalIssues = r.Total()
}

// Total returns the number of issues across all severities.
func (r *AuditReport) Total() int {
	if r == nil {
		return 0
	}
	return len(r.Critical) + len(r.Major) + len(r.Minor)
}

// Issues returns the issues of one severity.
func (r *AuditReport) Issues(sev Severity) []Issue {
	if r == nil {
		return nil
	}
	switch sev {
	case SeverityCritical:
		return r.Critical
	case SeverityMajor:
		return r.Major
	case SeverityMinor:
		return r.Minor
	}
	return nil
}

// Add appends an issue under the given severity.
func (r *AuditReport) Add(sev Severity, issue Issue) {
	switch sev {
	case SeverityCritical:
		r.Critical = append(r.Critical, issue)
	case SeverityMajor:
		r.Major = append(r.Major, issue)
	default:
		r.Minor = append(r.Minor, issue)
	}
}

// FixAttempt records one fix the Fixer tried to apply.
type FixAttempt struct {
	Severity    Severity `json:"severity"`
	Line        int      `json:"line"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Applied     bool     `json:"applied"`
}

// CountApplied returns the number of applied attempts.
func CountApplied(attempts []FixAttempt) int {
	n := 0
	for _, a := range attempts {
		if a.Applied {
			n++
		}
	}
	return n
}

// TestResult is the Judge's verdict on one candidate.
type TestResult struct {
	Passed               bool     `json:"passed"`
	SyntaxValid          bool     `json:"syntax_valid"`
	RunsWithoutError     bool     `json:"runs_without_error"`
	Score                float64  `json:"score"`
	BaselineScore        float64  `json:"baseline_score"`
	ScoreImproved        bool     `json:"score_improved"`
	TestsPassed          bool     `json:"tests_passed"`
	TestsRun             int      `json:"tests_run"`
	GeneratedTests       bool     `json:"generated_tests"`
	Errors               []string `json:"errors,omitempty"`
	MaxIterationsReached bool     `json:"max_iterations_reached,omitempty"`
}

// FileResult is the orchestrator's record for one processed file.
type FileResult struct {
	File                 string        `json:"file"`
	Success              bool          `json:"success"`
	FinalPhase           Phase         `json:"final_phase"`
	Iterations           int           `json:"iterations"`
	MaxIterationsReached bool          `json:"max_iterations_reached,omitempty"`
	Error                string        `json:"error,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// RunSummary aggregates the results of one orchestrator run.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	TargetDir       string       `json:"target_dir"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	FilesProcessed  int          `json:"files_processed"`
	FilesSuccessful int          `json:"files_successful"`
	FilesFailed     int          `json:"files_failed"`
	Errors          []string     `json:"errors,omitempty"`
	Details         []FileResult `json:"details"`
}

// Success reports whether at least one file was repaired.
func (s *RunSummary) Success() bool {
	return s.FilesSuccessful > 0
}

// Tally recomputes the aggregate counts and error list from Details.
func (s *RunSummary) Tally() {
	s.FilesProcessed = len(s.Details)
	s.FilesSuccessful = 0
	s.Errors = nil
	for _, d := range s.Details {
		if d.Success {
			s.FilesSuccessful++
			continue
		}
		if d.Error != "" {
			s.Errors = append(s.Errors, fmt.Sprintf("%s: %s", d.File, d.Error))
		}
	}
	s.FilesFailed = s.FilesProcessed - s.FilesSuccessful
}

// SortDetails orders file results lexicographically by path.
func (s *RunSummary) SortDetails() {
	sort.SliceStable(s.Details, func(i, j int) bool {
		return s.Details[i].File < s.Details[j].File
	})
}
