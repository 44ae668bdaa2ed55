// Package workflow drives one file through the audit, fix and test agents.
//
// State is the per-file record threaded through the loop. Agents never
// mutate it directly; each returns a Delta that the driver merges with
// State.Apply, which validates the phase and refuses updates once the state
// is terminal. Route decides the next node from the Judge's verdict without
// touching state, and Graph.Run enforces the cycle cap on its own counter so
// a misbehaving agent can never keep a file looping.
package workflow

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/refactorswarm/swarm/internal/types"
)

var (
	// ErrInvalidPhase is returned when a delta carries an unknown phase or a
	// phase its node may not produce.
	ErrInvalidPhase = errors.New("invalid phase")
	// ErrTerminal is returned when a delta is applied to a done or errored state.
	ErrTerminal = errors.New("state is terminal")
)

// State is the mutable per-file record. One is created per input file and
// discarded when the graph run ends.
type State struct {
	RunID      string
	TargetFile string
	// RelPath is TargetFile relative to the run's target directory, with
	// forward slashes. Empty when the file was not discovered under a root.
	RelPath         string
	OriginalContent string
	CurrentContent  string
	Phase           types.Phase

	// RetryCount is the number of failed Judge verdicts so far. Only the
	// graph driver increments it.
	RetryCount    int
	MaxIterations int

	AuditReport *types.AuditReport
	// TestErrors holds the failures of the most recent Judge run only.
	TestErrors  []string
	TestResult  *types.TestResult
	FixAttempts []types.FixAttempt

	// Error is the reason for a terminal error phase.
	Error                string
	MaxIterationsReached bool

	outputs map[string][]any
}

// NewState builds the initial state for a file.
func NewState(targetFile, content string, maxIterations int) *State {
	return &State{
		TargetFile:      targetFile,
		OriginalContent: content,
		CurrentContent:  content,
		Phase:           types.PhaseAudit,
		MaxIterations:   maxIterations,
		outputs:         map[string][]any{},
	}
}

// DisplayPath is the path recorded in logs: RelPath when known, otherwise
// TargetFile.
func (s *State) DisplayPath() string {
	if s.RelPath != "" {
		return s.RelPath
	}
	return filepath.ToSlash(s.TargetFile)
}

// Iteration is the 1-based number of the fix/test cycle in progress.
func (s *State) Iteration() int {
	return s.RetryCount + 1
}

// Output returns the latest value recorded under key, or nil.
func (s *State) Output(key string) any {
	values := s.outputs[key]
	if len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

// Outputs returns every value recorded under key, oldest first.
func (s *State) Outputs(key string) []any {
	return append([]any(nil), s.outputs[key]...)
}

// OutputKeys returns the keys that have at least one recorded value.
func (s *State) OutputKeys() []string {
	keys := make([]string, 0, len(s.outputs))
	for k := range s.outputs {
		keys = append(keys, k)
	}
	return keys
}

// Delta is a partial update returned by an agent.
type Delta struct {
	// Phase is required.
	Phase types.Phase
	// CurrentContent replaces the working code when non-empty.
	CurrentContent string
	AuditReport    *types.AuditReport
	FixAttempts    []types.FixAttempt
	// TestResult replaces the last verdict; its Errors become the new TestErrors.
	TestResult *types.TestResult
	// Outputs are appended to the state's agent outputs.
	Outputs map[string]any
	Error   string
}

// Apply merges d into the state. The state is left untouched when an error
// is returned.
func (s *State) Apply(d *Delta) error {
	if s.Phase.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Phase)
	}
	if d == nil {
		return fmt.Errorf("%w: nil delta", ErrInvalidPhase)
	}
	if !d.Phase.IsValid() || d.Phase == types.PhaseAudit {
		return fmt.Errorf("%w: %q", ErrInvalidPhase, d.Phase)
	}

	if d.CurrentContent != "" {
		s.CurrentContent = d.CurrentContent
	}
	if d.AuditReport != nil {
		s.AuditReport = d.AuditReport
	}
	if d.FixAttempts != nil {
		s.FixAttempts = d.FixAttempts
	}
	if d.TestResult != nil {
		s.TestResult = d.TestResult
		s.TestErrors = append([]string(nil), d.TestResult.Errors...)
	}
	if len(d.Outputs) > 0 && s.outputs == nil {
		s.outputs = map[string][]any{}
	}
	for k, v := range d.Outputs {
		s.outputs[k] = append(s.outputs[k], v)
	}
	if d.Error != "" {
		s.Error = d.Error
	}
	s.Phase = d.Phase
	return nil
}

// fail forces the state into the error phase. It is a no-op on a state that
// is already terminal.
func (s *State) fail(reason string) {
	if s.Phase.IsTerminal() {
		return
	}
	s.Phase = types.PhaseError
	s.Error = reason
}

// FileResult summarises the state for the orchestrator.
func (s *State) FileResult(cycles int) types.FileResult {
	return types.FileResult{
		File:                 s.TargetFile,
		Success:              s.Phase == types.PhaseDone,
		FinalPhase:           s.Phase,
		Iterations:           cycles,
		MaxIterationsReached: s.MaxIterationsReached,
		Error:                s.Error,
	}
}
