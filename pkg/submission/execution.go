package submission

import "time"

// TestCase is one (input, expected output) pair of a problem.
type TestCase struct {
	ProblemID      string `json:"problem_id"`
	Position       int    `json:"position"`
	Input          []byte `json:"input"`
	ExpectedOutput []byte `json:"expected_output"`
	IsSample       bool   `json:"is_sample"`
}

// ProblemLimits bounds a single run of a submitted program.
type ProblemLimits struct {
	CPUTime time.Duration `json:"cpu_time"`
	// WallTimeGrace is added to CPUTime to get the hard wall-clock bound.
	WallTimeGrace time.Duration `json:"wall_time_grace"`
	MemoryKB      int64         `json:"memory_kb"`
	OutputBytes   int64         `json:"output_bytes"`
}

// WallTime is the hard wall-clock bound of one run.
func (l ProblemLimits) WallTime() time.Duration {
	return l.CPUTime + l.WallTimeGrace
}

// Scaled returns limits with CPU time multiplied by factor. Factors <= 0 are
// ignored.
func (l ProblemLimits) Scaled(factor float64) ProblemLimits {
	if factor <= 0 || factor == 1 {
		return l
	}
	l.CPUTime = time.Duration(float64(l.CPUTime) * factor)
	return l
}

type Outcome int

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeTimedOut
	OutcomeMemoryExceeded
	OutcomeOutputExceeded
	OutcomeRuntimeCrash
	OutcomeSandboxFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeTimedOut:
		return "TimedOut"
	case OutcomeMemoryExceeded:
		return "MemoryExceeded"
	case OutcomeOutputExceeded:
		return "OutputExceeded"
	case OutcomeRuntimeCrash:
		return "RuntimeCrash"
	case OutcomeSandboxFailure:
		return "SandboxFailure"
	default:
		return "Unknown"
	}
}

// VerdictState maps a non-completed execution outcome to its verdict status.
// Completed and SandboxFailure have no direct mapping.
func (o Outcome) VerdictState() (State, bool) {
	switch o {
	case OutcomeTimedOut:
		return StateTimeLimitExceeded, true
	case OutcomeMemoryExceeded:
		return StateMemoryLimitExceeded, true
	case OutcomeOutputExceeded:
		return StateOutputLimitExceeded, true
	case OutcomeRuntimeCrash:
		return StateRuntimeError, true
	default:
		return "", false
	}
}

// ExecutionResult is the outcome of running a program on one test case.
type ExecutionResult struct {
	Outcome      Outcome       `json:"outcome"`
	ExitCode     int           `json:"exit_code"`
	Stdout       []byte        `json:"-"`
	Stderr       []byte        `json:"-"`
	CPUTime      time.Duration `json:"cpu_time"`
	WallTime     time.Duration `json:"wall_time"`
	PeakMemoryKB int64         `json:"peak_memory_kb"`
}

// CompileResult is the outcome of the compile step.
type CompileResult struct {
	OK       bool          `json:"ok"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}
