package submission

import "time"

// State is the externally visible lifecycle state of a submission.
type State string

const (
	StateQueued              State = "Queued"
	StateRunning             State = "Running"
	StateAccepted            State = "Accepted"
	StateWrongAnswer         State = "WrongAnswer"
	StateTimeLimitExceeded   State = "TimeLimitExceeded"
	StateMemoryLimitExceeded State = "MemoryLimitExceeded"
	StateRuntimeError        State = "RuntimeError"
	StateCompileError        State = "CompileError"
	StateOutputLimitExceeded State = "OutputLimitExceeded"
	StateInternalError       State = "InternalError"
	StateCancelled           State = "Cancelled"
)

// IsTerminal reports whether no further transition can leave the state
// (administrative rejudge aside).
func (s State) IsTerminal() bool {
	switch s {
	case StateQueued, StateRunning, "":
		return false
	default:
		return true
	}
}

// SlotState tracks the queue slot of a submission, independently of the
// lifecycle state shown to clients.
type SlotState string

const (
	SlotPending   SlotState = "Pending"
	SlotAssigned  SlotState = "Assigned"
	SlotCompleted SlotState = "Completed"
)

// Lane selects the queue lane a submission waits in.
type Lane int

const (
	LaneNormal Lane = iota
	LanePriority
)

func (l Lane) String() string {
	if l == LanePriority {
		return "priority"
	}
	return "normal"
}

type Submission struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ProblemID  string    `json:"problem_id"`
	LanguageID string    `json:"language_id"`
	Source     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	State State     `json:"state"`
	Slot  SlotState `json:"slot"`
	Lane  Lane      `json:"lane"`

	// EnqueuedAt orders the FIFO lanes. Requeue and rejudge reset it.
	EnqueuedAt      time.Time `json:"enqueued_at"`
	WorkerID        string    `json:"worker_id,omitempty"`
	Attempts        int       `json:"attempts"`
	LeaseUntil      time.Time `json:"lease_until"`
	CancelRequested bool      `json:"cancel_requested"`

	Verdict *Verdict `json:"verdict,omitempty"`
	// Version increases by one on every committed transition.
	Version int64 `json:"version"`
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	if s.Verdict != nil {
		v := s.Verdict.Clone()
		out.Verdict = &v
	}
	return &out
}

// Status is the polling view of a submission. Verdict fields stay nil until
// the submission is terminal.
type Status struct {
	SubmissionID     string    `json:"submission_id"`
	OwnerID          string    `json:"owner_id"`
	ProblemID        string    `json:"problem_id"`
	LanguageID       string    `json:"language_id"`
	State            State     `json:"state"`
	Verdict          *State    `json:"verdict,omitempty"`
	Score            *float64  `json:"score,omitempty"`
	TimeMs           *int64    `json:"time_ms,omitempty"`
	MemoryKB         *int64    `json:"memory_kb,omitempty"`
	FirstFailingCase *int      `json:"first_failing_case,omitempty"`
	Message          string    `json:"message,omitempty"`
	CompileOutput    string    `json:"compile_output,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusOf builds the polling view of s.
func StatusOf(s *Submission) Status {
	st := Status{
		SubmissionID: s.ID,
		OwnerID:      s.OwnerID,
		ProblemID:    s.ProblemID,
		LanguageID:   s.LanguageID,
		State:        s.State,
		Version:      s.Version,
		UpdatedAt:    s.UpdatedAt,
	}
	if !s.State.IsTerminal() || s.Verdict == nil {
		return st
	}
	v := s.Verdict
	status := v.Status
	score := v.Score
	timeMs := v.MaxTime.Milliseconds()
	memKB := v.MaxMemoryKB
	st.Verdict = &status
	st.Score = &score
	st.TimeMs = &timeMs
	st.MemoryKB = &memKB
	if v.FirstFailingCase != nil {
		idx := *v.FirstFailingCase
		st.FirstFailingCase = &idx
	}
	st.Message = v.Message
	st.CompileOutput = v.CompileOutput
	return st
}
