package store

import (
	"context"
	"time"

	"github.com/mini-maxit/judge/pkg/submission"
)

// Store persists submissions. Every mutating call is atomic; Update is a
// compare-and-set on Version.
type Store interface {
	// Insert stores a new submission unless the number of Pending and
	// Assigned slots already reached maxActive (errors.ErrBusy).
	Insert(ctx context.Context, sub *submission.Submission, maxActive int) error
	Get(ctx context.Context, id string) (*submission.Submission, error)
	// Update applies mutate to the stored submission if its version still
	// equals version (errors.ErrStaleVersion otherwise). Version and UpdatedAt
	// are bumped by the store.
	Update(
		ctx context.Context,
		id string,
		version int64,
		mutate func(*submission.Submission) error,
	) (*submission.Submission, error)
	// ClaimNext assigns the oldest Pending submission of lane to workerID,
	// moving it to Running and counting one attempt. errors.ErrQueueEmpty
	// when the lane has nothing pending.
	ClaimNext(
		ctx context.Context,
		lane submission.Lane,
		workerID string,
		leaseUntil time.Time,
	) (*submission.Submission, error)
	// ExtendLease renews the lease of an Assigned submission held by
	// workerID and reports whether cancellation was requested.
	// errors.ErrConflict when workerID no longer holds it.
	ExtendLease(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error)
	ListExpiredLeases(ctx context.Context, now time.Time) ([]*submission.Submission, error)
	// ListAssigned returns the Assigned submissions whose worker id starts
	// with workerPrefix.
	ListAssigned(ctx context.Context, workerPrefix string) ([]*submission.Submission, error)
	CountActive(ctx context.Context) (pending, assigned int, err error)
}
