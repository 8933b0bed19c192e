package lifecycle

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/store"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Transition is a committed change of a submission. Previous equals
// Submission.State when only queue bookkeeping changed.
type Transition struct {
	Previous   submission.State
	Submission *submission.Submission
}

func (t Transition) StateChanged() bool {
	return t.Previous != t.Submission.State
}

// Observer is notified after every committed transition. Observers must not
// block for long; failures are theirs to log.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

// Machine owns every state change of a submission.
type Machine interface {
	Create(ctx context.Context, sub *submission.Submission, maxActive int) (*submission.Submission, error)
	Get(ctx context.Context, id string) (*submission.Submission, error)
	Claim(ctx context.Context, lane submission.Lane, workerID string, leaseUntil time.Time) (*submission.Submission, error)
	Heartbeat(ctx context.Context, id, workerID string, leaseUntil time.Time) (cancelRequested bool, err error)
	Complete(ctx context.Context, id, workerID string, verdict submission.Verdict) (*submission.Submission, error)
	// Requeue returns a crashed submission to the queue while attempts remain
	// and fails it with InternalError otherwise. The visible state stays
	// Running while it waits.
	Requeue(ctx context.Context, id, workerID string, maxAttempts int, reason string) (*submission.Submission, error)
	Cancel(ctx context.Context, id string) (*submission.Submission, error)
	Rejudge(ctx context.Context, id string) (*submission.Submission, error)
	Subscribe(o Observer)
}

type machine struct {
	store     store.Store
	observers []Observer
	now       func() time.Time
	logger    *zap.SugaredLogger
}

func NewMachine(s store.Store, observers ...Observer) Machine {
	return &machine{
		store:     s,
		observers: observers,
		now:       time.Now,
		logger:    logger.NewNamedLogger("lifecycle"),
	}
}

// Subscribe registers an observer. It must be called before the machine is
// shared between goroutines.
func (m *machine) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *machine) Create(ctx context.Context, sub *submission.Submission, maxActive int) (*submission.Submission, error) {
	now := m.now()
	created := sub.Clone()
	created.State = submission.StateQueued
	created.Slot = submission.SlotPending
	created.CreatedAt = now
	created.UpdatedAt = now
	created.EnqueuedAt = now
	created.Version = 1

	if err := m.store.Insert(ctx, created, maxActive); err != nil {
		return nil, err
	}
	m.logger.Infof("Submission queued [SubID: %s]", created.ID)
	m.publish(ctx, "", created)
	return created, nil
}

func (m *machine) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return m.store.Get(ctx, id)
}

func (m *machine) Claim(
	ctx context.Context,
	lane submission.Lane,
	workerID string,
	leaseUntil time.Time,
) (*submission.Submission, error) {
	sub, err := m.store.ClaimNext(ctx, lane, workerID, leaseUntil)
	if err != nil {
		return nil, err
	}
	previous := submission.StateRunning
	if sub.Attempts == 1 {
		previous = submission.StateQueued
	}
	m.logger.Infof("Submission claimed by %s, attempt %d [SubID: %s]", workerID, sub.Attempts, sub.ID)
	m.publish(ctx, previous, sub)
	return sub, nil
}

func (m *machine) Heartbeat(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error) {
	return m.store.ExtendLease(ctx, id, workerID, leaseUntil)
}

func (m *machine) Complete(
	ctx context.Context,
	id, workerID string,
	verdict submission.Verdict,
) (*submission.Submission, error) {
	if !submission.IsVerdictStatus(verdict.Status) {
		return nil, fmt.Errorf("%w: %q is not a verdict status", errors.ErrInvalidTransition, verdict.Status)
	}
	return m.update(ctx, id, func(s *submission.Submission) error {
		if s.Slot != submission.SlotAssigned || s.WorkerID != workerID {
			return fmt.Errorf("%w: %s does not hold %s", errors.ErrConflict, workerID, id)
		}
		if !CanTransition(s.State, verdict.Status) {
			return invalid(s.State, verdict.Status)
		}
		v := verdict.Clone()
		s.State = v.Status
		s.Verdict = &v
		s.Slot = submission.SlotCompleted
		s.LeaseUntil = time.Time{}
		return nil
	})
}

func (m *machine) Requeue(
	ctx context.Context,
	id, workerID string,
	maxAttempts int,
	reason string,
) (*submission.Submission, error) {
	sub, err := m.update(ctx, id, func(s *submission.Submission) error {
		if s.Slot != submission.SlotAssigned || (workerID != "" && s.WorkerID != workerID) {
			return fmt.Errorf("%w: %s is not assigned to %q", errors.ErrConflict, id, workerID)
		}
		s.LeaseUntil = time.Time{}

		switch {
		case s.CancelRequested:
			v := submission.CancelledVerdict()
			s.State = submission.StateCancelled
			s.Verdict = &v
			s.Slot = submission.SlotCompleted
		case s.Attempts < maxAttempts:
			s.Slot = submission.SlotPending
			s.WorkerID = ""
			s.EnqueuedAt = m.now()
		default:
			v := submission.InternalErrorVerdict(fmt.Sprintf(constants.VerdictMessageAttempts, s.Attempts))
			s.State = submission.StateInternalError
			s.Verdict = &v
			s.Slot = submission.SlotCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Warnf("Recovered submission after %s, attempt %d: slot %s, state %s [SubID: %s]",
		reason, sub.Attempts, sub.Slot, sub.State, id)
	return sub, nil
}

func (m *machine) Cancel(ctx context.Context, id string) (*submission.Submission, error) {
	return m.update(ctx, id, func(s *submission.Submission) error {
		switch s.State {
		case submission.StateQueued:
			v := submission.CancelledVerdict()
			s.State = submission.StateCancelled
			s.Verdict = &v
			s.Slot = submission.SlotCompleted
		case submission.StateRunning:
			if s.Slot == submission.SlotPending {
				// Waiting for a retry: nobody runs it, settle now.
				v := submission.CancelledVerdict()
				s.State = submission.StateCancelled
				s.Verdict = &v
				s.Slot = submission.SlotCompleted
				return nil
			}
			s.CancelRequested = true
		default:
			return invalid(s.State, submission.StateCancelled)
		}
		return nil
	})
}

func (m *machine) Rejudge(ctx context.Context, id string) (*submission.Submission, error) {
	return m.update(ctx, id, func(s *submission.Submission) error {
		if !s.State.IsTerminal() {
			return invalid(s.State, submission.StateQueued)
		}
		s.State = submission.StateQueued
		s.Slot = submission.SlotPending
		s.Lane = submission.LanePriority
		s.EnqueuedAt = m.now()
		s.WorkerID = ""
		s.Attempts = 0
		s.LeaseUntil = time.Time{}
		s.CancelRequested = false
		s.Verdict = nil
		return nil
	})
}

// update runs a guarded transition, retrying when a concurrent writer won
// the compare-and-set, and publishes the result.
func (m *machine) update(
	ctx context.Context,
	id string,
	mutate func(*submission.Submission) error,
) (*submission.Submission, error) {
	const maxRetries = 5
	for attempt := 0; ; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		previous := cur.State
		next, err := m.store.Update(ctx, id, cur.Version, mutate)
		if stdErrors.Is(err, errors.ErrStaleVersion) && attempt < maxRetries && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.publish(ctx, previous, next)
		return next, nil
	}
}

func (m *machine) publish(ctx context.Context, previous submission.State, sub *submission.Submission) {
	t := Transition{Previous: previous, Submission: sub}
	for _, o := range m.observers {
		o.OnTransition(ctx, t)
	}
}

func invalid(from, to submission.State) error {
	return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, from, to)
}
