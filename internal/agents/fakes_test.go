package agents

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/refactorswarm/swarm/internal/events"
	"github.com/refactorswarm/swarm/internal/gates"
	"github.com/refactorswarm/swarm/internal/sandbox"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeLLM) Call(_ context.Context, _ string, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeAnalyzer treats code containing "(:" as a syntax error.
type fakeAnalyzer struct {
	analysis      *gates.AnalysisResult
	analyzedPaths []string
	syntaxChecks  int
}

func (f *fakeAnalyzer) Inspect(ctx context.Context, code string) (gates.SyntaxResult, gates.CodeMetrics) {
	return f.CheckSyntax(ctx, code), gates.CodeMetrics{Functions: strings.Count(code, "def "), Lines: strings.Count(code, "\n")}
}

func (f *fakeAnalyzer) CheckSyntax(_ context.Context, code string) gates.SyntaxResult {
	f.syntaxChecks++
	if i := strings.Index(code, "(:"); i >= 0 {
		return gates.SyntaxResult{Error: "invalid syntax", Line: strings.Count(code[:i], "\n") + 1}
	}
	return gates.SyntaxResult{Valid: true}
}

func (f *fakeAnalyzer) RunStaticAnalysis(_ context.Context, path string) *gates.AnalysisResult {
	f.analyzedPaths = append(f.analyzedPaths, path)
	if f.analysis == nil {
		return &gates.AnalysisResult{Score: 8, Issues: []gates.PylintIssue{}}
	}
	return f.analysis
}

type fakeTester struct {
	run       *gates.RunOutcome
	tests     *gates.TestOutcome
	runPaths  []string
	testPaths []string
}

func (f *fakeTester) RunSafely(_ context.Context, path string) *gates.RunOutcome {
	f.runPaths = append(f.runPaths, path)
	if f.run == nil {
		return &gates.RunOutcome{Success: true}
	}
	return f.run
}

func (f *fakeTester) RunTests(_ context.Context, path string) *gates.TestOutcome {
	f.testPaths = append(f.testPaths, path)
	if f.tests == nil {
		return &gates.TestOutcome{Passed: true, TestsRun: 2}
	}
	return f.tests
}

// memLog is an in-memory events.Recorder that enforces the same entry rules
// as the file log.
type memLog struct {
	mu      sync.Mutex
	entries []*events.Entry
}

func (m *memLog) Record(e *events.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) only(t *testing.T) *events.Entry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.entries, 1, "expected exactly one log entry")
	return m.entries[0]
}

func newSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	return box
}

type rejectingWorkspace struct{}

func (rejectingWorkspace) WriteFile(p string, _ []byte) (string, error) {
	return "", sandbox.ErrOutsideSandbox
}
