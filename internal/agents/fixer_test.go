package agents

import (
	"context"
	"errors"
	"path"
	"testing"

	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/fixes"
	"github.com/refactorswarm/swarm/internal/types"
	"github.com/refactorswarm/swarm/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixer(llm *fakeLLM, analyzer *fakeAnalyzer, ws Workspace, log *memLog) *Fixer {
	return NewFixer(llm, fixes.NewEngine(llm), analyzer, ws, log)
}

func TestFixer_FirstPassAppliesReport(t *testing.T) {
	box := newSandbox(t)
	log := &memLog{}
	llm := &fakeLLM{}
	s := workflow.NewState("src/calc.py", divisionCode, 10)
	s.AuditReport = &types.AuditReport{
		Major: []types.Issue{{Line: 2, Type: types.IssueErrorHandling, Description: "possible division by zero"}},
	}

	d := newFixer(llm, &fakeAnalyzer{}, box, log).Execute(context.Background(), s)

	want := "def f(x,y):\n return x/y  # WARNING: division by zero possible\n"
	require.Equal(t, types.PhaseTest, d.Phase)
	assert.Equal(t, want, d.CurrentContent)
	require.Len(t, d.FixAttempts, 1)
	assert.True(t, d.FixAttempts[0].Applied)
	assert.Equal(t, types.SeverityMajor, d.FixAttempts[0].Severity)
	assert.Equal(t, 1, d.Outputs[OutputFixesApplied])
	assert.Zero(t, llm.calls(), "heuristic fixes need no LLM call")

	written, err := box.ReadFile("fixed/1_calc.py")
	require.NoError(t, err)
	assert.Equal(t, want, string(written))
	assert.Equal(t, box.Path("fixed", "1_calc.py"), d.Outputs[OutputFixedPath])

	e := log.only(t)
	assert.Equal(t, FixerName, e.Agent)
	assert.Equal(t, events.ActionFix, e.Action)
	assert.Equal(t, events.StatusSuccess, e.Status)
	assert.Contains(t, e.Prompt(), "line 2 error_handling")
	assert.Contains(t, e.Response(), "Applied 1 of 1 fixes")
	assert.Equal(t, true, e.Details["syntax_valid"])
}

func TestFixer_RetryPassRewritesFile(t *testing.T) {
	box := newSandbox(t)
	log := &memLog{}
	llm := &fakeLLM{responses: []string{"Fixed:\n```python\ndef f(x, y):\n    if y == 0:\n        return 0\n    return x / y\n```"}}
	s := workflow.NewState("src/calc.py", divisionCode, 10)
	s.RetryCount = 1
	s.TestErrors = []string{"ZeroDivisionError: division by zero", "Quality score 4.00 is below the baseline 5.00"}

	d := newFixer(llm, &fakeAnalyzer{}, box, log).Execute(context.Background(), s)

	require.Equal(t, types.PhaseTest, d.Phase)
	assert.Equal(t, "def f(x, y):\n    if y == 0:\n        return 0\n    return x / y\n", d.CurrentContent)
	require.Len(t, d.FixAttempts, 2)
	for i, a := range d.FixAttempts {
		assert.True(t, a.Applied)
		assert.Equal(t, types.SeverityCritical, a.Severity)
		assert.Equal(t, types.IssueTestFailure, a.Type)
		assert.Equal(t, s.TestErrors[i], a.Description)
	}

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "1. ZeroDivisionError: division by zero")
	assert.Contains(t, llm.prompts[0], "ATTEMPT: 2 of 10")
	assert.Contains(t, llm.prompts[0], "return x/y")

	_, err := box.ReadFile("fixed/2_calc.py")
	assert.NoError(t, err)
	assert.Equal(t, true, log.only(t).Details["retry"])
}

func TestFixer_RetryLLMFailureKeepsCode(t *testing.T) {
	log := &memLog{}
	s := workflow.NewState("calc.py", divisionCode, 10)
	s.TestErrors = []string{"boom"}

	d := newFixer(&fakeLLM{err: errors.New("timeout")}, &fakeAnalyzer{}, newSandbox(t), log).Execute(context.Background(), s)

	require.Equal(t, types.PhaseTest, d.Phase)
	assert.Equal(t, divisionCode, d.CurrentContent)
	require.Len(t, d.FixAttempts, 1)
	assert.False(t, d.FixAttempts[0].Applied)

	e := log.only(t)
	assert.Equal(t, events.StatusFailure, e.Status)
	assert.Contains(t, e.Response(), "timeout")
}

func TestFixer_RetryPlaceholderKeepsCode(t *testing.T) {
	log := &memLog{}
	s := workflow.NewState("calc.py", divisionCode, 10)
	s.TestErrors = []string{"ZeroDivisionError: division by zero"}

	d := newFixer(&fakeLLM{responses: []string{"N/A"}}, &fakeAnalyzer{}, newSandbox(t), log).Execute(context.Background(), s)

	require.Equal(t, types.PhaseTest, d.Phase)
	assert.Equal(t, divisionCode, d.CurrentContent)
	require.Len(t, d.FixAttempts, 1)
	assert.False(t, d.FixAttempts[0].Applied)

	e := log.only(t)
	assert.Equal(t, "raw response: N/A", e.Response())
	assert.NoError(t, e.Validate())
}

func TestFixer_RetryUnfencedReply(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "preamble stripped",
			response: "Here's the fixed code:\ndef f(x,y):\n return x/y if y else 0",
			want:     "def f(x,y):\n return x/y if y else 0\n",
		},
		{
			name:     "prose that does not parse",
			response: "I cannot fix this (: without more context.",
			want:     divisionCode,
		},
		{
			name:     "preamble only",
			response: "Corrected code:",
			want:     divisionCode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &memLog{}
			s := workflow.NewState("calc.py", divisionCode, 10)
			s.TestErrors = []string{"boom"}

			d := newFixer(&fakeLLM{responses: []string{tt.response}}, &fakeAnalyzer{}, newSandbox(t), log).Execute(context.Background(), s)

			require.Equal(t, types.PhaseTest, d.Phase)
			assert.Equal(t, tt.want, d.CurrentContent)
			assert.Equal(t, tt.want != divisionCode, d.FixAttempts[0].Applied)
			log.only(t)
		})
	}
}

func TestFixer_SameBaseNameInDifferentDirs(t *testing.T) {
	box := newSandbox(t)
	fixer := newFixer(&fakeLLM{}, &fakeAnalyzer{}, box, &memLog{})

	for _, rel := range []string{"a/util.py", "b/util.py"} {
		s := workflow.NewState("/proj/"+rel, "NAME = '"+rel+"'\n", 10)
		s.RelPath = rel
		s.AuditReport = types.NewFallbackReport("test")
		fixer.Execute(context.Background(), s)
	}

	for _, rel := range []string{"a/util.py", "b/util.py"} {
		got, err := box.ReadFile("fixed/" + path.Dir(rel) + "/1_util.py")
		require.NoError(t, err)
		assert.Equal(t, "NAME = '"+rel+"'\n", string(got))
	}
}

func TestFixer_BrokenOutputIsStillReturned(t *testing.T) {
	log := &memLog{}
	analyzer := &fakeAnalyzer{}
	s := workflow.NewState("broken.py", "def f(:\n pass\n", 10)
	s.AuditReport = types.NewFallbackReport("test")

	d := newFixer(&fakeLLM{}, analyzer, newSandbox(t), log).Execute(context.Background(), s)

	require.Equal(t, types.PhaseTest, d.Phase)
	assert.Equal(t, "def f(:\n pass\n", d.CurrentContent)
	assert.Equal(t, 1, analyzer.syntaxChecks)

	e := log.only(t)
	assert.Equal(t, events.StatusFailure, e.Status)
	assert.Equal(t, false, e.Details["syntax_valid"])
	assert.Equal(t, "invalid syntax", e.Details["syntax_error"])
}

func TestFixer_WorkspaceEscapeFailsFile(t *testing.T) {
	log := &memLog{}
	s := workflow.NewState("calc.py", divisionCode, 10)

	d := newFixer(&fakeLLM{}, &fakeAnalyzer{}, rejectingWorkspace{}, log).Execute(context.Background(), s)

	assert.Equal(t, types.PhaseError, d.Phase)
	assert.Contains(t, d.Error, "outside")
	assert.Equal(t, events.StatusFailure, log.only(t).Status)
}
