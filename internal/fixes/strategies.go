package fixes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/refactorswarm/swarm/internal/ai"
	"github.com/refactorswarm/swarm/internal/types"
)

// Strategy applies one issue to the document. It reports whether the target
// line changed.
type Strategy interface {
	Apply(ctx context.Context, doc *Document, issue types.Issue) bool
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, doc *Document, issue types.Issue) bool

func (f StrategyFunc) Apply(ctx context.Context, doc *Document, issue types.Issue) bool {
	return f(ctx, doc, issue)
}

var (
	evalCall       = regexp.MustCompile(`(^|[^.\w])eval\(`)
	execCall       = regexp.MustCompile(`(^|[^.\w])exec\(`)
	bareExcept     = regexp.MustCompile(`^(\s*)except\s*:`)
	eqNone         = regexp.MustCompile(`\s*==\s*None\b`)
	neNone         = regexp.MustCompile(`\s*!=\s*None\b`)
	commaNoSpace   = regexp.MustCompile(`,([^\s)\]}])`)
	colonSpaced    = regexp.MustCompile(`\s+:(\s|$)`)
	blockKeyword   = regexp.MustCompile(`^(def|class|if|elif|else|for|while|try|except|finally|with|async def|async for|async with)\b`)
	rangeLenLoop   = regexp.MustCompile(`\bfor\s+\w+\s+in\s+range\(len\(`)
	divisionMarker = regexp.MustCompile(`[^/*]/{1,2}[^/=*]`)
)

const (
	divisionWarning = "# WARNING: division by zero possible"
	longLineLimit   = 100
)

// appendComment adds a trailing comment unless the line already has it.
func appendComment(doc *Document, id int, comment string) bool {
	text, ok := doc.Text(id)
	if !ok || strings.Contains(text, comment) {
		return false
	}
	return doc.Replace(id, text+"  "+comment)
}

// replaceLine applies fn to line id and reports whether it changed.
func replaceLine(doc *Document, id int, fn func(string) string) bool {
	text, ok := doc.Text(id)
	if !ok {
		return false
	}
	fixed := fn(text)
	if fixed == text {
		return false
	}
	return doc.Replace(id, fixed)
}

func hasQuotes(s string) bool {
	return strings.ContainsAny(s, `"'`)
}

// codePart drops a trailing comment from a line without string literals.
func codePart(s string) string {
	if hasQuotes(s) {
		return s
	}
	if i := strings.Index(s, "#"); i >= 0 {
		return s[:i]
	}
	return s
}

// fixSecurity replaces eval with ast.literal_eval, disables exec and flags
// pickle loads.
func fixSecurity(_ context.Context, doc *Document, issue types.Issue) bool {
	text, ok := doc.Text(issue.Line)
	if !ok {
		return false
	}
	switch {
	case evalCall.MatchString(text):
		doc.Replace(issue.Line, evalCall.ReplaceAllString(text, "${1}ast.literal_eval("))
		doc.EnsureImport("ast")
		return true
	case execCall.MatchString(text):
		indent := indentOf(text)
		return doc.Replace(issue.Line, indent+"pass  # SECURITY: exec() disabled: "+strings.TrimSpace(text))
	case strings.Contains(text, "pickle.load"):
		return appendComment(doc, issue.Line, "# SECURITY: untrusted pickle data")
	}
	return false
}

// fixSyntax closes unbalanced parentheses and adds missing block colons.
func fixSyntax(_ context.Context, doc *Document, issue types.Issue) bool {
	return replaceLine(doc, issue.Line, func(text string) string {
		if hasQuotes(text) && strings.Contains(text, "#") {
			return text
		}
		code, comment := text, ""
		if i := strings.Index(text, "#"); i >= 0 {
			code, comment = text[:i], "  "+text[i:]
		}
		indent := indentOf(code)
		body := strings.TrimSpace(code)
		if body == "" {
			return text
		}
		hasColon := strings.HasSuffix(body, ":")
		core := strings.TrimSuffix(body, ":")

		if missing := strings.Count(core, "(") - strings.Count(core, ")"); missing > 0 && !hasQuotes(core) {
			core = strings.TrimRight(core, " ,") + strings.Repeat(")", missing)
		}
		if hasColon || blockKeyword.MatchString(core) {
			core += ":"
		}
		return indent + core + comment
	})
}

// fixErrorHandling narrows bare excepts and flags divisions.
func fixErrorHandling(_ context.Context, doc *Document, issue types.Issue) bool {
	text, ok := doc.Text(issue.Line)
	if !ok {
		return false
	}
	if bareExcept.MatchString(text) {
		return doc.Replace(issue.Line, bareExcept.ReplaceAllString(text, "${1}except Exception:"))
	}
	if divisionMarker.MatchString(" "+codePart(text)+" ") || strings.Contains(strings.ToLower(issue.Description), "division") {
		return appendComment(doc, issue.Line, divisionWarning)
	}
	return false
}

// tidyLine applies the cheap mechanical style fixes.
func tidyLine(text string) string {
	fixed := neNone.ReplaceAllString(text, " is not None")
	fixed = eqNone.ReplaceAllString(fixed, " is None")
	if !hasQuotes(fixed) {
		fixed = commaNoSpace.ReplaceAllString(fixed, ", $1")
		fixed = colonSpaced.ReplaceAllString(fixed, ":$1")
	}
	return fixed
}

// fixStyle applies tidyLine and annotates overlong lines.
func fixStyle(_ context.Context, doc *Document, issue types.Issue) bool {
	if replaceLine(doc, issue.Line, tidyLine) {
		return true
	}
	if text, ok := doc.Text(issue.Line); ok && len(text) > longLineLimit {
		return doc.InsertBefore(issue.Line, indentOf(text)+fmt.Sprintf("# NOTE: line exceeds %d characters", longLineLimit))
	}
	return false
}

// fixPerformance leaves a hint on index-based loops.
func fixPerformance(_ context.Context, doc *Document, issue types.Issue) bool {
	text, ok := doc.Text(issue.Line)
	if !ok {
		return false
	}
	if rangeLenLoop.MatchString(text) {
		return appendComment(doc, issue.Line, "# PERF: consider enumerate()")
	}
	if strings.Contains(text, "+=") && strings.Contains(strings.ToLower(issue.Description), "string") {
		return appendComment(doc, issue.Line, "# PERF: consider str.join()")
	}
	return false
}

// LineFixer asks the LLM for a single replacement line.
type LineFixer struct {
	client ai.Client
}

// NewLineFixer creates a LineFixer. A nil client makes it a no-op.
func NewLineFixer(client ai.Client) *LineFixer {
	return &LineFixer{client: client}
}

const lineFixPrompt = `Fix this single line of Python code.

Issue (%s): %s
Suggestion: %s

Surrounding code:
%s

Line to fix:
%s

Respond with only the corrected line of code, no explanation.`

func (f *LineFixer) Apply(ctx context.Context, doc *Document, issue types.Issue) bool {
	if f.client == nil {
		return false
	}
	text, ok := doc.Text(issue.Line)
	if !ok || strings.TrimSpace(text) == "" {
		return false
	}

	prompt := fmt.Sprintf(lineFixPrompt, issue.Type, issue.Description, issue.Suggestion, doc.Context(issue.Line, 3), text)
	response, err := f.client.Call(ctx, "fix_line", prompt)
	if err != nil {
		return false
	}

	fixed := strings.TrimRight(ai.ExtractCode(response), "\n")
	if fixed == "" || strings.Contains(fixed, "\n") {
		return false
	}
	if indentOf(fixed) == "" {
		fixed = indentOf(text) + fixed
	}
	if fixed == text {
		return false
	}
	return doc.Replace(issue.Line, fixed)
}
