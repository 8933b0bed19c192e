package submission

import "time"

// Verdict is the final classification of a submission. Status is one of the
// terminal states.
type Verdict struct {
	Status           State         `json:"status"`
	Score            float64       `json:"score"`
	MaxTime          time.Duration `json:"max_time"`
	MaxMemoryKB      int64         `json:"max_memory_kb"`
	FirstFailingCase *int          `json:"first_failing_case,omitempty"`
	Message          string        `json:"message,omitempty"`
	CompileOutput    string        `json:"compile_output,omitempty"`
}

func (v Verdict) Clone() Verdict {
	if v.FirstFailingCase != nil {
		idx := *v.FirstFailingCase
		v.FirstFailingCase = &idx
	}
	return v
}

// Severity orders verdict statuses from loosest (Accepted) to strictest.
// A case-level failure never yields an overall status with lower severity.
func Severity(s State) int {
	switch s {
	case StateAccepted:
		return 0
	case StateWrongAnswer:
		return 1
	case StateOutputLimitExceeded, StateRuntimeError, StateMemoryLimitExceeded, StateTimeLimitExceeded:
		return 2
	case StateCompileError:
		return 3
	case StateInternalError, StateCancelled:
		return 4
	default:
		return -1
	}
}

// IsVerdictStatus reports whether s may appear as Verdict.Status.
func IsVerdictStatus(s State) bool {
	return s.IsTerminal() && Severity(s) >= 0
}

// InternalErrorVerdict builds the verdict for judge-side failures.
func InternalErrorVerdict(message string) Verdict {
	return Verdict{Status: StateInternalError, Message: message}
}

// CancelledVerdict is recorded when an administrator cancels a submission.
func CancelledVerdict() Verdict {
	return Verdict{Status: StateCancelled, Message: "cancelled"}
}
