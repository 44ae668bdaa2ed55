package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/refactorswarm/swarm/internal/types"
)

// syntaxHelper parses stdin with ast and reports validity plus simple counts.
const syntaxHelper = `import ast, json, sys
src = sys.stdin.read()
try:
    tree = ast.parse(src)
except (SyntaxError, ValueError) as e:
    line = getattr(e, "lineno", 0) or 0
    msg = getattr(e, "msg", str(e))
    print(json.dumps({"valid": False, "error": "%s (line %d)" % (msg, line), "line": line}))
    sys.exit(0)
nodes = list(ast.walk(tree))
print(json.dumps({
    "valid": True,
    "functions": sum(isinstance(n, (ast.FunctionDef, ast.AsyncFunctionDef)) for n in nodes),
    "classes": sum(isinstance(n, ast.ClassDef) for n in nodes),
    "lines": len(src.splitlines()),
}))
`

// SyntaxResult reports whether code parses.
type SyntaxResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// CodeMetrics are the structural counts of a parseable module.
type CodeMetrics struct {
	Functions int `json:"functions"`
	Classes   int `json:"classes"`
	Lines     int `json:"lines"`
}

// PylintIssue is one message from pylint's JSON output.
type PylintIssue struct {
	Type      string `json:"type"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
}

// AnalysisResult is the static-analysis collaborator's answer. It never
// carries a Go error: tool failures set Error and a zero score.
type AnalysisResult struct {
	Score      float64       `json:"score"`
	Issues     []PylintIssue `json:"issues"`
	IssueCount int           `json:"issue_count"`
	Error      string        `json:"error,omitempty"`
}

// Analyzer runs the syntax helper and pylint.
type Analyzer struct {
	cmd   CommandRunner
	tools ToolConfig
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cmd CommandRunner, tools ToolConfig) *Analyzer {
	return &Analyzer{cmd: cmd, tools: tools}
}

type helperOutput struct {
	SyntaxResult
	CodeMetrics
}

// Inspect parses code with the Python interpreter. A missing or crashing
// interpreter reports Valid=false with a descriptive error.
func (a *Analyzer) Inspect(ctx context.Context, code string) (SyntaxResult, CodeMetrics) {
	ctx, cancel := context.WithTimeout(ctx, a.tools.AnalysisTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := a.cmd.Run(ctx, Command{
		Name:  a.tools.Python,
		Args:  []string{"-c", syntaxHelper},
		Stdin: code,
	})
	switch {
	case isTimeout(err):
		return SyntaxResult{Error: fmt.Sprintf("syntax check timeout after %v", a.tools.AnalysisTimeout)}, CodeMetrics{}
	case err != nil:
		return SyntaxResult{Error: fmt.Sprintf("syntax check unavailable: %v", err)}, CodeMetrics{}
	case exitCode != 0:
		return SyntaxResult{Error: fmt.Sprintf("syntax check failed (exit %d): %s", exitCode, tail(stderr))}, CodeMetrics{}
	}

	var out helperOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &out); err != nil {
		return SyntaxResult{Error: fmt.Sprintf("syntax check output unreadable: %v", err)}, CodeMetrics{}
	}
	return out.SyntaxResult, out.CodeMetrics
}

// CheckSyntax reports whether code parses.
func (a *Analyzer) CheckSyntax(ctx context.Context, code string) SyntaxResult {
	res, _ := a.Inspect(ctx, code)
	return res
}

// RunStaticAnalysis runs pylint on path and scores the result.
func (a *Analyzer) RunStaticAnalysis(ctx context.Context, path string) *AnalysisResult {
	ctx, cancel := context.WithTimeout(ctx, a.tools.AnalysisTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := a.cmd.Run(ctx, Command{
		Name: a.tools.Pylint,
		Args: []string{path, "--output-format=json"},
	})
	switch {
	case isTimeout(err):
		return failedAnalysis(fmt.Sprintf("pylint timeout after %v", a.tools.AnalysisTimeout))
	case err != nil:
		return failedAnalysis(fmt.Sprintf("pylint unavailable: %v", err))
	case exitCode&32 != 0:
		// Bit 32 is pylint's usage-error flag; the other bits only encode message categories.
		return failedAnalysis(fmt.Sprintf("pylint usage error: %s", tail(stderr)))
	}

	issues := []PylintIssue{}
	if body := strings.TrimSpace(stdout); body != "" {
		if err := json.Unmarshal([]byte(body), &issues); err != nil {
			return failedAnalysis(fmt.Sprintf("pylint output unreadable: %v", err))
		}
	}
	return &AnalysisResult{
		Score:      Score(issues, combine(stdout, stderr)),
		Issues:     issues,
		IssueCount: len(issues),
	}
}

func failedAnalysis(msg string) *AnalysisResult {
	return &AnalysisResult{Score: 0, Issues: []PylintIssue{}, Error: msg}
}

var ratedRegex = regexp.MustCompile(`rated at (-?[0-9]+(?:\.[0-9]+)?)/10`)

// cleanScore is reported for a file pylint has nothing to say about.
const cleanScore = 8.0

// Score derives a 0-10 quality score. A "rated at X/10" line wins when
// present; otherwise 10 - 0.5*errors - 0.2*warnings - 0.05*conventions.
func Score(issues []PylintIssue, output string) float64 {
	if m := ratedRegex.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clampScore(v)
		}
	}
	if len(issues) == 0 {
		return cleanScore
	}

	var errs, warnings, conventions int
	for _, issue := range issues {
		switch issue.Type {
		case "error", "fatal":
			errs++
		case "warning":
			warnings++
		default:
			conventions++
		}
	}
	return clampScore(10 - 0.5*float64(errs) - 0.2*float64(warnings) - 0.05*float64(conventions))
}

func clampScore(v float64) float64 {
	v = math.Max(0, math.Min(10, v))
	return math.Round(v*100) / 100
}

// Severity maps a pylint message type onto an audit severity.
func (i PylintIssue) Severity() types.Severity {
	switch i.Type {
	case "error", "fatal":
		return types.SeverityCritical
	case "warning":
		return types.SeverityMajor
	}
	return types.SeverityMinor
}
