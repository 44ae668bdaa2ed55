package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/refactorswarm/swarm/internal/types"
)

// Agent is one node of the graph. Execute must not return until its
// collaborators have finished and must report every failure through the
// returned delta.
type Agent interface {
	Name() string
	Execute(ctx context.Context, s *State) *Delta
}

// CycleRecord traces one fix/test cycle.
type CycleRecord struct {
	Cycle     int
	Verdict   types.Phase // done, retry or error, as returned by the Judge
	Next      types.Phase // what Route chose
	Errors    int
	Score     float64
	DiffLines int
	Duration  time.Duration
}

// Result is the outcome of one graph run.
type Result struct {
	State    *State
	Cycles   int
	Trace    []CycleRecord
	Duration time.Duration
}

// FileResult summarises the run for the orchestrator.
func (r *Result) FileResult() types.FileResult {
	fr := r.State.FileResult(r.Cycles)
	fr.Duration = r.Duration
	return fr
}

// Graph sequences the Auditor, Fixer and Judge for one file.
type Graph struct {
	auditor Agent
	fixer   Agent
	judge   Agent
	metrics MetricsCollector
}

// Option configures a Graph.
type Option func(*Graph)

// WithMetrics attaches a collector. A nil collector disables metrics.
func WithMetrics(m MetricsCollector) Option {
	return func(g *Graph) { g.metrics = m }
}

// NewGraph wires the three agents into a graph.
func NewGraph(auditor, fixer, judge Agent, opts ...Option) (*Graph, error) {
	if auditor == nil || fixer == nil || judge == nil {
		return nil, errors.New("auditor, fixer and judge are all required")
	}
	g := &Graph{auditor: auditor, fixer: fixer, judge: judge}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Run drives s from audit to a terminal phase. The fix/test cycle runs at
// most s.MaxIterations times, counted by Run itself. Agent misbehaviour and
// context cancellation end the run in the error phase; Run only returns an
// error for a state it cannot start.
func (g *Graph) Run(ctx context.Context, s *State) (*Result, error) {
	if s == nil {
		return nil, errors.New("nil state")
	}
	if s.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1 (got %d)", s.MaxIterations)
	}
	if s.Phase != types.PhaseAudit && s.Phase != types.PhaseFix {
		return nil, fmt.Errorf("%w: cannot start from %q", ErrInvalidPhase, s.Phase)
	}

	start := time.Now()
	res := &Result{State: s}
	limit := s.MaxIterations

	if s.Phase == types.PhaseAudit {
		g.runNode(ctx, s, g.auditor, types.PhaseFix, types.PhaseError)
	}

	for !s.Phase.IsTerminal() {
		if res.Cycles >= limit {
			s.fail(fmt.Sprintf("iteration cap of %d reached", limit))
			s.MaxIterationsReached = true
			slog.Warn("cycle guard stopped a file", "file", s.TargetFile, "cycles", res.Cycles)
			break
		}
		res.Cycles++
		cycleStart := time.Now()
		before := s.CurrentContent

		if !g.runNode(ctx, s, g.fixer, types.PhaseTest, types.PhaseError) {
			break
		}
		if !g.runNode(ctx, s, g.judge, types.PhaseDone, types.PhaseRetry, types.PhaseError) {
			if s.Phase.IsTerminal() {
				res.Trace = append(res.Trace, g.record(res.Cycles, s, s.Phase, s.Phase, before, cycleStart))
			}
			break
		}

		// Only a retry verdict reaches this point.
		s.RetryCount++
		next := Route(s)
		res.Trace = append(res.Trace, g.record(res.Cycles, s, types.PhaseRetry, next, before, cycleStart))
		if next == types.PhaseError {
			s.MaxIterationsReached = true
			if s.TestResult != nil {
				s.TestResult.MaxIterationsReached = true
			}
			s.fail(fmt.Sprintf("max iterations (%d) reached", s.MaxIterations))
			break
		}
		s.Phase = next
	}

	res.Duration = time.Since(start)
	if g.metrics != nil {
		g.metrics.RecordFileComplete(res)
	}
	slog.Debug("workflow finished",
		"file", s.TargetFile,
		"phase", s.Phase,
		"cycles", res.Cycles,
		"retries", s.RetryCount,
		"duration", res.Duration)
	return res, nil
}

// runNode executes one agent and merges its delta. It reports whether the
// graph may continue.
func (g *Graph) runNode(ctx context.Context, s *State, agent Agent, allowed ...types.Phase) bool {
	if err := ctx.Err(); err != nil {
		s.fail(fmt.Sprintf("canceled before %s: %v", agent.Name(), err))
		return false
	}

	delta := agent.Execute(ctx, s)
	if g.metrics != nil {
		phase := types.PhaseError
		if delta != nil {
			phase = delta.Phase
		}
		g.metrics.RecordAgentRun(agent.Name(), phase)
	}

	switch {
	case delta == nil:
		s.fail(fmt.Sprintf("%s returned no update", agent.Name()))
	case !slices.Contains(allowed, delta.Phase):
		s.fail(fmt.Errorf("%s: %w: %q", agent.Name(), ErrInvalidPhase, delta.Phase).Error())
	default:
		if err := s.Apply(delta); err != nil {
			s.fail(fmt.Sprintf("%s: %v", agent.Name(), err))
		}
	}
	return !s.Phase.IsTerminal()
}

func (g *Graph) record(cycle int, s *State, verdict, next types.Phase, before string, start time.Time) CycleRecord {
	rec := CycleRecord{
		Cycle:     cycle,
		Verdict:   verdict,
		Next:      next,
		Errors:    len(s.TestErrors),
		DiffLines: countDiffLines(before, s.CurrentContent),
		Duration:  time.Since(start),
	}
	if s.TestResult != nil {
		rec.Score = s.TestResult.Score
	}
	if g.metrics != nil {
		g.metrics.RecordCycleEnd(s.TargetFile, rec)
	}
	return rec
}
