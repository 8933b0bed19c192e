package lifecycle

import "github.com/mini-maxit/judge/pkg/submission"

// CanTransition reports whether the lifecycle allows moving from one visible
// state to another. Rejudge (terminal -> Queued) is only reachable through
// Machine.Rejudge.
func CanTransition(from, to submission.State) bool {
	switch from {
	case submission.StateQueued:
		return to == submission.StateRunning || to == submission.StateCancelled
	case submission.StateRunning:
		return submission.IsVerdictStatus(to)
	default:
		return false
	}
}
