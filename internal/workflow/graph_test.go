package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/refactorswarm/swarm/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAgent is a test implementation of the Agent interface
type mockAgent struct {
	name      string
	execute   func(ctx context.Context, s *State) *Delta
	calls     int
	retrySeen []int
}

func (m *mockAgent) Name() string { return m.name }

func (m *mockAgent) Execute(ctx context.Context, s *State) *Delta {
	m.calls++
	m.retrySeen = append(m.retrySeen, s.RetryCount)
	return m.execute(ctx, s)
}

func auditorOK() *mockAgent {
	return &mockAgent{name: "Auditor", execute: func(context.Context, *State) *Delta {
		return &Delta{Phase: types.PhaseFix, AuditReport: types.NewFallbackReport("test")}
	}}
}

func fixerAppending() *mockAgent {
	return &mockAgent{name: "Fixer", execute: func(_ context.Context, s *State) *Delta {
		return &Delta{Phase: types.PhaseTest, CurrentContent: s.CurrentContent + fmt.Sprintf("# pass %d\n", s.Iteration())}
	}}
}

func judgeAlwaysFails() *mockAgent {
	return &mockAgent{name: "Judge", execute: func(_ context.Context, s *State) *Delta {
		return &Delta{Phase: types.PhaseRetry, TestResult: &types.TestResult{
			Errors: []string{fmt.Sprintf("failure on iteration %d", s.Iteration())},
		}}
	}}
}

func judgePassesOn(iteration int) *mockAgent {
	return &mockAgent{name: "Judge", execute: func(_ context.Context, s *State) *Delta {
		if s.Iteration() >= iteration {
			return &Delta{Phase: types.PhaseDone, TestResult: &types.TestResult{Passed: true, Score: 9}}
		}
		return &Delta{Phase: types.PhaseRetry, TestResult: &types.TestResult{Errors: []string{"not yet"}}}
	}}
}

func newTestGraph(t *testing.T, a, f, j Agent, opts ...Option) *Graph {
	t.Helper()
	g, err := NewGraph(a, f, j, opts...)
	require.NoError(t, err)
	return g
}

func TestRun_TerminatesWithinCap(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("max_iterations=%d", n), func(t *testing.T) {
			fixer, judge := fixerAppending(), judgeAlwaysFails()
			g := newTestGraph(t, auditorOK(), fixer, judge)

			res, err := g.Run(context.Background(), NewState("a.py", "x = 1\n", n))
			require.NoError(t, err)

			s := res.State
			assert.Equal(t, types.PhaseError, s.Phase)
			assert.True(t, s.MaxIterationsReached)
			assert.True(t, s.TestResult.MaxIterationsReached)
			assert.Equal(t, n, res.Cycles)
			assert.Equal(t, n, s.RetryCount)
			assert.Equal(t, n, fixer.calls)
			assert.Equal(t, n, judge.calls)
			assert.Len(t, res.Trace, n)
			assert.Equal(t, types.PhaseError, res.Trace[n-1].Next)
			assert.Contains(t, s.Error, "max iterations")
		})
	}
}

func TestRun_DoneOnFirstPass(t *testing.T) {
	fixer, judge := fixerAppending(), judgePassesOn(1)
	res, err := newTestGraph(t, auditorOK(), fixer, judge).Run(context.Background(), NewState("a.py", "x = 1\n", 10))
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, res.State.Phase)
	assert.Equal(t, 1, res.Cycles)
	assert.Equal(t, 0, res.State.RetryCount)
	assert.False(t, res.State.MaxIterationsReached)
	require.Len(t, res.Trace, 1)
	assert.Equal(t, types.PhaseDone, res.Trace[0].Verdict)
	assert.Equal(t, 1, res.Trace[0].DiffLines)

	fr := res.FileResult()
	assert.True(t, fr.Success)
	assert.Equal(t, 1, fr.Iterations)
}

func TestRun_RetryCounterIsMonotonic(t *testing.T) {
	var errorsSeen [][]string
	fixer := &mockAgent{name: "Fixer", execute: func(_ context.Context, s *State) *Delta {
		errorsSeen = append(errorsSeen, append([]string(nil), s.TestErrors...))
		return &Delta{Phase: types.PhaseTest, CurrentContent: s.CurrentContent}
	}}
	judge := judgeAlwaysFails()

	res, err := newTestGraph(t, auditorOK(), fixer, judge).Run(context.Background(), NewState("a.py", "x = 1\n", 4))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, judge.retrySeen)
	assert.Equal(t, []int{0, 1, 2, 3}, fixer.retrySeen)
	assert.Equal(t, 4, res.State.RetryCount)

	// The Fixer only ever sees the latest failure set.
	assert.Equal(t, [][]string{
		nil,
		{"failure on iteration 1"},
		{"failure on iteration 2"},
		{"failure on iteration 3"},
	}, errorsSeen)
}

func TestRun_DoneAfterRetries(t *testing.T) {
	judge := judgePassesOn(3)
	res, err := newTestGraph(t, auditorOK(), fixerAppending(), judge).Run(context.Background(), NewState("a.py", "x = 1\n", 10))
	require.NoError(t, err)

	assert.Equal(t, types.PhaseDone, res.State.Phase)
	assert.Equal(t, 3, res.Cycles)
	assert.Equal(t, 2, res.State.RetryCount)
	assert.Empty(t, res.State.TestErrors)
	assert.Equal(t, "x = 1\n# pass 1\n# pass 2\n# pass 3\n", res.State.CurrentContent)
}

// TestRun_GuardIgnoresAgentCounters runs a Judge that tampers with the
// counters it can see; the driver's own cycle count still stops the file.
func TestRun_GuardIgnoresAgentCounters(t *testing.T) {
	judge := &mockAgent{name: "Judge", execute: func(_ context.Context, s *State) *Delta {
		s.RetryCount = 0
		s.MaxIterations = 1000
		return &Delta{Phase: types.PhaseRetry, TestResult: &types.TestResult{Errors: []string{"boom"}}}
	}}
	fixer := fixerAppending()

	res, err := newTestGraph(t, auditorOK(), fixer, judge).Run(context.Background(), NewState("a.py", "x = 1\n", 3))
	require.NoError(t, err)

	assert.Equal(t, types.PhaseError, res.State.Phase)
	assert.True(t, res.State.MaxIterationsReached)
	assert.Equal(t, 3, res.Cycles)
	assert.Equal(t, 3, fixer.calls)
	assert.Equal(t, 3, judge.calls)
	assert.Contains(t, res.State.Error, "iteration cap of 3")
}

func TestRun_AuditErrorIsTerminal(t *testing.T) {
	auditor := &mockAgent{name: "Auditor", execute: func(context.Context, *State) *Delta {
		return &Delta{Phase: types.PhaseError, Error: "empty file"}
	}}
	fixer, judge := fixerAppending(), judgeAlwaysFails()

	res, err := newTestGraph(t, auditor, fixer, judge).Run(context.Background(), NewState("a.py", "", 10))
	require.NoError(t, err)

	assert.Equal(t, types.PhaseError, res.State.Phase)
	assert.Equal(t, "empty file", res.State.Error)
	assert.Equal(t, 0, res.Cycles)
	assert.Zero(t, fixer.calls)
	assert.Zero(t, judge.calls)
	assert.False(t, res.State.MaxIterationsReached)
}

func TestRun_InvalidPhaseFromAgent(t *testing.T) {
	tests := []struct {
		name   string
		fixer  *mockAgent
		judge  *mockAgent
		judged bool
	}{
		{
			name: "fixer claims done",
			fixer: &mockAgent{name: "Fixer", execute: func(context.Context, *State) *Delta {
				return &Delta{Phase: types.PhaseDone}
			}},
			judge: judgePassesOn(1),
		},
		{
			name:  "judge routes itself",
			fixer: fixerAppending(),
			judge: &mockAgent{name: "Judge", execute: func(context.Context, *State) *Delta {
				return &Delta{Phase: types.PhaseFix}
			}},
			judged: true,
		},
		{
			name:  "judge returns unknown phase",
			fixer: fixerAppending(),
			judge: &mockAgent{name: "Judge", execute: func(context.Context, *State) *Delta {
				return &Delta{Phase: "maybe"}
			}},
			judged: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestGraph(t, auditorOK(), tt.fixer, tt.judge).Run(context.Background(), NewState("a.py", "x = 1\n", 5))
			require.NoError(t, err)
			assert.Equal(t, types.PhaseError, res.State.Phase)
			assert.Contains(t, res.State.Error, "invalid phase")
			assert.Equal(t, 1, res.Cycles)
			assert.Equal(t, tt.judged, tt.judge.calls > 0)
		})
	}
}

func TestRun_NilDelta(t *testing.T) {
	fixer := &mockAgent{name: "Fixer", execute: func(context.Context, *State) *Delta { return nil }}
	res, err := newTestGraph(t, auditorOK(), fixer, judgePassesOn(1)).Run(context.Background(), NewState("a.py", "x = 1\n", 5))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseError, res.State.Phase)
	assert.Equal(t, "Fixer returned no update", res.State.Error)
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	auditor := auditorOK()
	res, err := newTestGraph(t, auditor, fixerAppending(), judgePassesOn(1)).Run(ctx, NewState("a.py", "x = 1\n", 5))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseError, res.State.Phase)
	assert.Contains(t, res.State.Error, "canceled before Auditor")
	assert.Zero(t, auditor.calls)
}

func TestRun_CanceledMidLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	judge := &mockAgent{name: "Judge", execute: func(context.Context, *State) *Delta {
		cancel()
		return &Delta{Phase: types.PhaseRetry, TestResult: &types.TestResult{Errors: []string{"x"}}}
	}}

	res, err := newTestGraph(t, auditorOK(), fixerAppending(), judge).Run(ctx, NewState("a.py", "x = 1\n", 5))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseError, res.State.Phase)
	assert.Contains(t, res.State.Error, "canceled before Fixer")
	assert.Equal(t, 2, res.Cycles)
	assert.False(t, res.State.MaxIterationsReached)
}

func TestRun_RejectsUnstartableState(t *testing.T) {
	g := newTestGraph(t, auditorOK(), fixerAppending(), judgePassesOn(1))

	_, err := g.Run(context.Background(), nil)
	assert.Error(t, err)

	_, err = g.Run(context.Background(), NewState("a.py", "x = 1\n", 0))
	assert.Error(t, err)

	s := NewState("a.py", "x = 1\n", 3)
	s.Phase = types.PhaseDone
	_, err = g.Run(context.Background(), s)
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestNewGraph_RequiresAgents(t *testing.T) {
	_, err := NewGraph(nil, fixerAppending(), judgePassesOn(1))
	assert.Error(t, err)
}

func TestRun_RecordsMetrics(t *testing.T) {
	collector := NewInMemoryCollector()
	g := newTestGraph(t, auditorOK(), fixerAppending(), judgePassesOn(2), WithMetrics(collector))

	_, err := g.Run(context.Background(), NewState("a.py", "x = 1\n", 5))
	require.NoError(t, err)
	_, err = newTestGraph(t, auditorOK(), fixerAppending(), judgeAlwaysFails(), WithMetrics(collector)).
		Run(context.Background(), NewState("b.py", "y = 1\n", 2))
	require.NoError(t, err)

	agg := collector.Aggregate()
	assert.Equal(t, 2, agg.TotalFiles)
	assert.Equal(t, 1, agg.DoneFiles)
	assert.Equal(t, 1, agg.MaxedOutFiles)
	assert.Equal(t, 4, agg.TotalCycles)
	assert.Equal(t, 2, agg.P50Cycles)
	assert.Equal(t, map[string]int{"Auditor": 2, "Fixer": 4, "Judge": 4}, agg.AgentRuns)

	files := collector.Files()
	require.Len(t, files, 2)
	assert.Equal(t, 2, files[0].DiffLines)
}
