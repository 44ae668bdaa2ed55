package fixes

import (
	"context"
	"sort"

	"github.com/refactorswarm/swarm/internal/ai"
	"github.com/refactorswarm/swarm/internal/types"
)

// Engine applies an audit report to source code.
type Engine struct {
	strategies map[string]Strategy
	fallback   Strategy
}

// NewEngine returns an Engine with the built-in strategies. Issue types
// without a heuristic (logic and anything unknown) go to the LLM line fixer.
func NewEngine(client ai.Client) *Engine {
	return &Engine{
		strategies: map[string]Strategy{
			types.IssueSecurity:      StrategyFunc(fixSecurity),
			types.IssueSyntax:        StrategyFunc(fixSyntax),
			types.IssueErrorHandling: StrategyFunc(fixErrorHandling),
			types.IssueStyle:         StrategyFunc(fixStyle),
			types.IssuePerformance:   StrategyFunc(fixPerformance),
		},
		fallback: NewLineFixer(client),
	}
}

// Register overrides or adds the strategy for an issue type.
func (e *Engine) Register(issueType string, s Strategy) {
	e.strategies[issueType] = s
}

func (e *Engine) strategyFor(issueType string) Strategy {
	if s, ok := e.strategies[issueType]; ok {
		return s
	}
	return e.fallback
}

// Step is one planned fix.
type Step struct {
	Severity types.Severity
	Issue    types.Issue
}

// Plan orders the report's issues for application: critical then major,
// each by descending line, then minor issues grouped per line (descending).
// Line identities are stable, so the order only decides which fix wins when
// two touch the same line.
func Plan(report *types.AuditReport) []Step {
	if report == nil {
		return nil
	}
	var steps []Step
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityMajor} {
		issues := append([]types.Issue(nil), report.Issues(sev)...)
		sort.SliceStable(issues, func(i, j int) bool { return issues[i].Line > issues[j].Line })
		for _, issue := range issues {
			steps = append(steps, Step{Severity: sev, Issue: issue})
		}
	}

	minor := append([]types.Issue(nil), report.Minor...)
	sort.SliceStable(minor, func(i, j int) bool { return minor[i].Line > minor[j].Line })
	for _, issue := range minor {
		steps = append(steps, Step{Severity: types.SeverityMinor, Issue: issue})
	}
	return steps
}

// Apply runs every planned step against code and returns the new code with
// one attempt record per issue.
func (e *Engine) Apply(ctx context.Context, code string, report *types.AuditReport) (string, []types.FixAttempt) {
	doc := NewDocument(code)
	steps := Plan(report)
	attempts := make([]types.FixAttempt, 0, len(steps))

	// Minor issues on one line are handled as a batch: each issue's own
	// strategy first, then a single tidy pass if none of them changed it.
	for i := 0; i < len(steps); {
		step := steps[i]
		if step.Severity != types.SeverityMinor {
			attempts = append(attempts, e.applyStep(ctx, doc, step))
			i++
			continue
		}

		j := i
		for j < len(steps) && steps[j].Issue.Line == step.Issue.Line {
			j++
		}
		batch := make([]types.FixAttempt, 0, j-i)
		anyApplied := false
		for _, s := range steps[i:j] {
			a := e.applyStep(ctx, doc, s)
			anyApplied = anyApplied || a.Applied
			batch = append(batch, a)
		}
		if !anyApplied && replaceLine(doc, step.Issue.Line, tidyLine) {
			for k := range batch {
				batch[k].Applied = true
			}
		}
		attempts = append(attempts, batch...)
		i = j
	}
	return doc.String(), attempts
}

func (e *Engine) applyStep(ctx context.Context, doc *Document, step Step) types.FixAttempt {
	attempt := types.FixAttempt{
		Severity:    step.Severity,
		Line:        step.Issue.Line,
		Type:        step.Issue.Type,
		Description: step.Issue.Description,
	}
	if ctx.Err() != nil {
		return attempt
	}
	attempt.Applied = e.strategyFor(step.Issue.Type).Apply(ctx, doc, step.Issue)
	return attempt
}
