package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

type memoryStore struct {
	mu   sync.Mutex
	subs map[string]*submission.Submission
	now  func() time.Time
}

// NewMemoryStore keeps submissions in process memory. State is lost on exit.
func NewMemoryStore() Store {
	return &memoryStore{
		subs: make(map[string]*submission.Submission),
		now:  time.Now,
	}
}

func (m *memoryStore) Insert(_ context.Context, sub *submission.Submission, maxActive int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.ID]; exists {
		return errors.ErrConflict
	}
	if m.activeLocked() >= maxActive {
		return errors.ErrBusy
	}
	m.subs[sub.ID] = sub.Clone()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *memoryStore) Update(
	_ context.Context,
	id string,
	version int64,
	mutate func(*submission.Submission) error,
) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.subs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if cur.Version != version {
		return nil, errors.ErrStaleVersion
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.UpdatedAt = m.now()
	m.subs[id] = next
	return next.Clone(), nil
}

func (m *memoryStore) ClaimNext(
	_ context.Context,
	lane submission.Lane,
	workerID string,
	leaseUntil time.Time,
) (*submission.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *submission.Submission
	for _, sub := range m.subs {
		if sub.Slot != submission.SlotPending || sub.Lane != lane {
			continue
		}
		if next == nil || before(sub, next) {
			next = sub
		}
	}
	if next == nil {
		return nil, errors.ErrQueueEmpty
	}

	next.Slot = submission.SlotAssigned
	next.State = submission.StateRunning
	next.WorkerID = workerID
	next.LeaseUntil = leaseUntil
	next.Attempts++
	next.Version++
	next.UpdatedAt = m.now()
	return next.Clone(), nil
}

func (m *memoryStore) ExtendLease(_ context.Context, id, workerID string, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return false, errors.ErrNotFound
	}
	if sub.Slot != submission.SlotAssigned || sub.WorkerID != workerID {
		return sub.CancelRequested, errors.ErrConflict
	}
	sub.LeaseUntil = leaseUntil
	return sub.CancelRequested, nil
}

func (m *memoryStore) ListExpiredLeases(_ context.Context, now time.Time) ([]*submission.Submission, error) {
	return m.list(func(s *submission.Submission) bool {
		return s.Slot == submission.SlotAssigned && s.LeaseUntil.Before(now)
	}), nil
}

func (m *memoryStore) ListAssigned(_ context.Context, workerPrefix string) ([]*submission.Submission, error) {
	return m.list(func(s *submission.Submission) bool {
		return s.Slot == submission.SlotAssigned && strings.HasPrefix(s.WorkerID, workerPrefix)
	}), nil
}

func (m *memoryStore) CountActive(context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending, assigned int
	for _, sub := range m.subs {
		switch sub.Slot {
		case submission.SlotPending:
			pending++
		case submission.SlotAssigned:
			assigned++
		}
	}
	return pending, assigned, nil
}

func (m *memoryStore) list(match func(*submission.Submission) bool) []*submission.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*submission.Submission
	for _, sub := range m.subs {
		if match(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

func (m *memoryStore) activeLocked() int {
	n := 0
	for _, sub := range m.subs {
		if sub.Slot == submission.SlotPending || sub.Slot == submission.SlotAssigned {
			n++
		}
	}
	return n
}

// before orders by enqueue time, then id for a stable FIFO.
func before(a, b *submission.Submission) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
