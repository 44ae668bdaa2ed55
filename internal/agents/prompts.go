package agents

import (
	"fmt"
	"strings"

	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/types"
)

const auditPromptTemplate = `You are a senior Python code auditor.

STATIC ANALYSIS RESULTS:
- Pylint score: %s
- Syntax valid: %t%s
- Functions: %d
- Classes: %d
- Lines: %d

TASK: Analyze the code below and produce a refactoring plan.

CODE TO ANALYZE (%s):
` + "```python\n%s\n```" + `

Classify every issue by severity:
- critical: syntax errors, security vulnerabilities, crashes, infinite loops
- major: runtime errors, missing error handling, logic errors, performance
- minor: style, naming, documentation

Use one of these types: security, syntax, error_handling, logic, performance, style.

Respond with ONLY a JSON object of this shape:
{
  "critical": [{"line": 1, "type": "syntax", "description": "...", "suggestion": "..."}],
  "major": [],
  "minor": [],
  "summary": {
    "total_issues": 0,
    "estimated_score": 0.0,
    "complexity": "low|medium|high",
    "refactoring_priority": ["..."]
  }
}`

func buildAuditPrompt(file, code string, analysis *gates.AnalysisResult, syntax gates.SyntaxResult, metrics gates.CodeMetrics) string {
	score := fmt.Sprintf("%.2f/10", analysis.Score)
	if analysis.Error != "" {
		score = "unavailable (" + analysis.Error + ")"
	}
	syntaxNote := ""
	if !syntax.Valid && syntax.Error != "" {
		syntaxNote = fmt.Sprintf(" (%s, line %d)", syntax.Error, syntax.Line)
	}
	return fmt.Sprintf(auditPromptTemplate, score, syntax.Valid, syntaxNote,
		metrics.Functions, metrics.Classes, metrics.Lines, file, strings.TrimRight(code, "\n"))
}

const retryPromptTemplate = `You are fixing a Python file that failed validation.

FILE: %s
ATTEMPT: %d of %d

VALIDATION ERRORS FROM THE LAST ATTEMPT:
%s

AUDIT SUMMARY: %s

CURRENT CODE:
` + "```python\n%s\n```" + `

Return the complete corrected file in a single ` + "```python" + ` block.
Keep the public functions and classes. Do not add explanations.`

func buildRetryPrompt(file string, iteration, maxIterations int, testErrors []string, report *types.AuditReport, code string) string {
	var errs strings.Builder
	for i, e := range testErrors {
		fmt.Fprintf(&errs, "%d. %s\n", i+1, e)
	}
	return fmt.Sprintf(retryPromptTemplate, file, iteration, maxIterations,
		strings.TrimRight(errs.String(), "\n"), describeReport(report), strings.TrimRight(code, "\n"))
}

// describeReport renders the issue counts for prompts and log entries.
func describeReport(r *types.AuditReport) string {
	if r == nil {
		return "no audit report"
	}
	desc := fmt.Sprintf("%d critical, %d major, %d minor", len(r.Critical), len(r.Major), len(r.Minor))
	if r.IsFallback() {
		desc += " (fallback report"
		if r.Summary.FallbackReason != "" {
			desc += ": " + r.Summary.FallbackReason
		}
		desc += ")"
	}
	return desc
}

// describePlan lists the issues handed to the fix engine, for the log.
func describePlan(file string, r *types.AuditReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply audit report to %s: %s", file, describeReport(r))
	if r == nil {
		return b.String()
	}
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityMajor, types.SeverityMinor} {
		for _, issue := range r.Issues(sev) {
			fmt.Fprintf(&b, "\n- [%s] line %d %s: %s", sev, issue.Line, issue.Type, issue.Description)
		}
	}
	return b.String()
}

// describeAttempts summarises fix attempts for the log.
func describeAttempts(attempts []types.FixAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d of %d fixes", types.CountApplied(attempts), len(attempts))
	for _, a := range attempts {
		mark := "skipped"
		if a.Applied {
			mark = "applied"
		}
		fmt.Fprintf(&b, "\n- %s line %d %s", mark, a.Line, a.Type)
	}
	return b.String()
}
