package gates

import (
	"context"
	"errors"
	"testing"

	"github.com/refactorswarm/swarm/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectValid(t *testing.T) {
	mock := &mockCmd{results: []mockResult{
		{Stdout: `{"valid": true, "functions": 2, "classes": 1, "lines": 9}` + "\n"},
	}}
	a := NewAnalyzer(mock, testTools())

	syntax, metrics := a.Inspect(context.Background(), "def f():\n    pass\n")
	assert.True(t, syntax.Valid)
	assert.Equal(t, CodeMetrics{Functions: 2, Classes: 1, Lines: 9}, metrics)

	require.Len(t, mock.calls, 1)
	assert.Equal(t, "python3", mock.calls[0].Name)
	assert.Equal(t, "-c", mock.calls[0].Args[0])
	assert.Equal(t, "def f():\n    pass\n", mock.calls[0].Stdin)
}

func TestCheckSyntaxFailures(t *testing.T) {
	tests := []struct {
		name    string
		result  mockResult
		wantErr string
	}{
		{
			name:    "syntax error",
			result:  mockResult{Stdout: `{"valid": false, "error": "invalid syntax (line 1)", "line": 1}`},
			wantErr: "invalid syntax",
		},
		{
			name:    "interpreter missing",
			result:  mockResult{ExitCode: -1, Err: errors.New("exec python3: not found")},
			wantErr: "syntax check unavailable",
		},
		{
			name:    "timeout",
			result:  mockResult{ExitCode: -1, Err: context.DeadlineExceeded},
			wantErr: "timeout",
		},
		{
			name:    "helper crashed",
			result:  mockResult{ExitCode: 1, Stderr: "Traceback..."},
			wantErr: "exit 1",
		},
		{
			name:    "garbage output",
			result:  mockResult{Stdout: "not json"},
			wantErr: "unreadable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(&mockCmd{results: []mockResult{tt.result}}, testTools())
			res := a.CheckSyntax(context.Background(), "def f(:\n pass\n")
			assert.False(t, res.Valid)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestRunStaticAnalysis(t *testing.T) {
	pylintJSON := `[
	  {"type": "convention", "line": 1, "column": 0, "symbol": "missing-module-docstring", "message": "Missing module docstring", "message-id": "C0114"},
	  {"type": "warning", "line": 3, "column": 4, "symbol": "bare-except", "message": "No exception type(s) specified", "message-id": "W0702"},
	  {"type": "error", "line": 5, "column": 8, "symbol": "undefined-variable", "message": "Undefined variable 'y'", "message-id": "E0602"}
	]`
	mock := &mockCmd{results: []mockResult{{Stdout: pylintJSON, ExitCode: 22}}}
	a := NewAnalyzer(mock, testTools())

	res := a.RunStaticAnalysis(context.Background(), "/tmp/work/sample.py")
	require.Empty(t, res.Error)
	assert.Equal(t, 3, res.IssueCount)
	assert.InDelta(t, 10-0.5-0.2-0.05, res.Score, 0.001)
	assert.Equal(t, []string{"/tmp/work/sample.py", "--output-format=json"}, mock.calls[0].Args)
	assert.Equal(t, types.SeverityCritical, res.Issues[2].Severity())
	assert.Equal(t, types.SeverityMajor, res.Issues[1].Severity())
	assert.Equal(t, types.SeverityMinor, res.Issues[0].Severity())
}

func TestRunStaticAnalysisFailuresScoreZero(t *testing.T) {
	tests := []struct {
		name   string
		result mockResult
	}{
		{"missing binary", mockResult{ExitCode: -1, Err: errors.New("exec pylint: not found")}},
		{"timeout", mockResult{ExitCode: -1, Err: context.DeadlineExceeded}},
		{"usage error", mockResult{ExitCode: 32, Stderr: "usage: pylint"}},
		{"unreadable", mockResult{Stdout: "*** Module sample", ExitCode: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(&mockCmd{results: []mockResult{tt.result}}, testTools())
			res := a.RunStaticAnalysis(context.Background(), "sample.py")
			assert.Equal(t, 0.0, res.Score)
			assert.NotEmpty(t, res.Error)
			assert.NotNil(t, res.Issues)
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		issues []PylintIssue
		output string
		want   float64
	}{
		{"no issues", nil, "", 8.0},
		{"rated line wins", []PylintIssue{{Type: "error"}}, "Your code has been rated at 7.50/10", 7.5},
		{"negative rating clamps", nil, "rated at -3.2/10", 0},
		{"formula", []PylintIssue{{Type: "error"}, {Type: "fatal"}, {Type: "warning"}, {Type: "refactor"}}, "", 8.75},
		{"untyped issues count as conventions", make([]PylintIssue, 30), "", 8.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.issues, tt.output), 0.001)
		})
	}

	many := make([]PylintIssue, 25)
	for i := range many {
		many[i].Type = "error"
	}
	assert.Equal(t, 0.0, Score(many, ""))
}
