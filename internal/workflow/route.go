package workflow

import "github.com/refactorswarm/swarm/internal/types"

// Route returns the node that follows a Judge verdict. It reads the state
// and never changes it: done and error are absorbing, a retry goes back to
// the Fixer while RetryCount is under the cap and to error once it is not.
// Any other phase is returned unchanged.
func Route(s *State) types.Phase {
	switch s.Phase {
	case types.PhaseRetry:
		if s.RetryCount < s.MaxIterations {
			return types.PhaseFix
		}
		return types.PhaseError
	default:
		return s.Phase
	}
}
