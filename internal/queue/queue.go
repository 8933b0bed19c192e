package queue

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/store"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Queue hands submissions to workers. A submission is held by at most one
// worker at a time; the holder keeps its lease alive with Heartbeat.
type Queue interface {
	// Enqueue admits a new submission or fails fast with errors.ErrBusy.
	Enqueue(ctx context.Context, sub *submission.Submission) (*submission.Submission, error)
	// TryClaim assigns the next pending submission to workerID without
	// waiting. errors.ErrQueueEmpty when nothing is pending.
	TryClaim(ctx context.Context, workerID string) (*submission.Submission, error)
	// Claim blocks until a submission is assigned or ctx is done.
	Claim(ctx context.Context, workerID string) (*submission.Submission, error)
	Heartbeat(ctx context.Context, id, workerID string) (cancelRequested bool, err error)
	// Requeue gives back a submission whose processing crashed.
	Requeue(ctx context.Context, id, workerID, reason string) (*submission.Submission, error)
	// Notify wakes waiting workers, e.g. after a rejudge.
	Notify()
	ReapExpired(ctx context.Context) (int, error)
	RecoverOrphans(ctx context.Context, nodeID string) (int, error)
	// RunReaper reaps expired leases every lease TTL until ctx is done.
	RunReaper(ctx context.Context) error
	Capacity() int
}

type Options struct {
	// MaxActive bounds Pending plus Assigned slots (pool size + queue capacity).
	MaxActive     int
	MaxAttempts   int
	LeaseTTL      time.Duration
	PollInterval  time.Duration
	PriorityBurst int
}

type queue struct {
	store   store.Store
	machine lifecycle.Machine
	opts    Options
	now     func() time.Time
	wake    chan struct{}

	mu sync.Mutex
	// priorityStreak counts consecutive priority claims.
	priorityStreak int

	logger *zap.SugaredLogger
}

func NewQueue(s store.Store, machine lifecycle.Machine, opts Options) Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PriorityBurst < 1 {
		opts.PriorityBurst = 1
	}
	return &queue{
		store:   s,
		machine: machine,
		opts:    opts,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		logger:  logger.NewNamedLogger("queue"),
	}
}

func (q *queue) Capacity() int {
	return q.opts.MaxActive
}

func (q *queue) Enqueue(ctx context.Context, sub *submission.Submission) (*submission.Submission, error) {
	created, err := q.machine.Create(ctx, sub, q.opts.MaxActive)
	if err != nil {
		if stdErrors.Is(err, errors.ErrBusy) {
			q.logger.Warnf("Queue is full, rejecting submission [SubID: %s]", sub.ID)
		}
		return nil, err
	}
	q.Notify()
	return created, nil
}

func (q *queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) TryClaim(ctx context.Context, workerID string) (*submission.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lanes := [2]submission.Lane{submission.LanePriority, submission.LaneNormal}
	if q.priorityStreak >= q.opts.PriorityBurst {
		lanes = [2]submission.Lane{submission.LaneNormal, submission.LanePriority}
	}

	for _, lane := range lanes {
		sub, err := q.machine.Claim(ctx, lane, workerID, q.now().Add(q.opts.LeaseTTL))
		if stdErrors.Is(err, errors.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if lane == submission.LanePriority {
			q.priorityStreak++
		} else {
			q.priorityStreak = 0
		}
		return sub, nil
	}
	return nil, errors.ErrQueueEmpty
}

func (q *queue) Claim(ctx context.Context, workerID string) (*submission.Submission, error) {
	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()

	for {
		sub, err := q.TryClaim(ctx, workerID)
		if err == nil {
			return sub, nil
		}
		if !stdErrors.Is(err, errors.ErrQueueEmpty) {
			return nil, err
		}

		timer.Reset(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *queue) Heartbeat(ctx context.Context, id, workerID string) (bool, error) {
	return q.machine.Heartbeat(ctx, id, workerID, q.now().Add(q.opts.LeaseTTL))
}

func (q *queue) Requeue(ctx context.Context, id, workerID, reason string) (*submission.Submission, error) {
	sub, err := q.machine.Requeue(ctx, id, workerID, q.opts.MaxAttempts, reason)
	if err != nil {
		return nil, err
	}
	if sub.Slot == submission.SlotPending {
		q.Notify()
	}
	return sub, nil
}

func (q *queue) ReapExpired(ctx context.Context) (int, error) {
	expired, err := q.store.ListExpiredLeases(ctx, q.now())
	if err != nil {
		return 0, err
	}
	return q.recover(ctx, expired, "lease expiry"), nil
}

// RecoverOrphans requeues submissions this node held before a restart, plus
// any submission whose lease already expired.
func (q *queue) RecoverOrphans(ctx context.Context, nodeID string) (int, error) {
	owned, err := q.store.ListAssigned(ctx, nodeID+"/")
	if err != nil {
		return 0, err
	}
	n := q.recover(ctx, owned, "restart")

	reaped, err := q.ReapExpired(ctx)
	if err != nil {
		return n, err
	}
	return n + reaped, nil
}

func (q *queue) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(q.opts.LeaseTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := q.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				q.logger.Errorf("Failed to reap expired leases: %s", err)
			}
		}
	}
}

func (q *queue) recover(ctx context.Context, subs []*submission.Submission, reason string) int {
	n := 0
	for _, sub := range subs {
		// The holder is matched so a submission reassigned in between is left alone.
		_, err := q.Requeue(ctx, sub.ID, sub.WorkerID, reason)
		if err != nil {
			if !stdErrors.Is(err, errors.ErrConflict) {
				q.logger.Errorf("Failed to recover submission: %s [SubID: %s]", err, sub.ID)
			}
			continue
		}
		n++
	}
	return n
}
