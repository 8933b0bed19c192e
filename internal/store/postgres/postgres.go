package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-maxit/judge/internal/store"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

//go:embed schema.sql
var schema string

// insertLockKey serializes capacity checks across nodes.
const insertLockKey = 0x6a75646765

const columns = `id, owner_id, problem_id, language_id, source, created_at, updated_at,
	state, slot, lane, enqueued_at, worker_id, attempts, lease_until,
	cancel_requested, verdict, version`

type postgresStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) store.Store {
	return &postgresStore{pool: pool}
}

// Migrate creates the tables used by the judge when they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

func (p *postgresStore) Insert(ctx context.Context, sub *submission.Submission, maxActive int) error {
	verdict, err := marshalVerdict(sub.Verdict)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, insertLockKey); err != nil {
			return err
		}
		var active int
		err := tx.QueryRow(ctx,
			`SELECT count(*) FROM submissions WHERE slot IN ('Pending', 'Assigned')`).Scan(&active)
		if err != nil {
			return err
		}
		if active >= maxActive {
			return errors.ErrBusy
		}

		_, err = tx.Exec(ctx, `INSERT INTO submissions (`+columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			sub.ID, sub.OwnerID, sub.ProblemID, sub.LanguageID, sub.Source, sub.CreatedAt, sub.UpdatedAt,
			string(sub.State), string(sub.Slot), int16(sub.Lane), sub.EnqueuedAt, sub.WorkerID, sub.Attempts,
			nullTime(sub.LeaseUntil), sub.CancelRequested, verdict, sub.Version)
		var pgErr *pgconn.PgError
		if stdErrors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.ErrConflict
		}
		return err
	})
}

func (p *postgresStore) Get(ctx context.Context, id string) (*submission.Submission, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+columns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

func (p *postgresStore) Update(
	ctx context.Context,
	id string,
	version int64,
	mutate func(*submission.Submission) error,
) (*submission.Submission, error) {
	var updated *submission.Submission
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		cur, err := scanSubmission(tx.QueryRow(ctx,
			`SELECT `+columns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if cur.Version != version {
			return errors.ErrStaleVersion
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now()

		verdict, err := marshalVerdict(next.Verdict)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE submissions SET
				updated_at = $2, state = $3, slot = $4, lane = $5, enqueued_at = $6, worker_id = $7,
				attempts = $8, lease_until = $9, cancel_requested = $10, verdict = $11, version = $12
			WHERE id = $1`,
			next.ID, next.UpdatedAt, string(next.State), string(next.Slot), int16(next.Lane), next.EnqueuedAt,
			next.WorkerID, next.Attempts, nullTime(next.LeaseUntil), next.CancelRequested, verdict, next.Version)
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *postgresStore) ClaimNext(
	ctx context.Context,
	lane submission.Lane,
	workerID string,
	leaseUntil time.Time,
) (*submission.Submission, error) {
	row := p.pool.QueryRow(ctx, `UPDATE submissions SET
			slot = 'Assigned', state = 'Running', worker_id = $2, lease_until = $3,
			attempts = attempts + 1, version = version + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM submissions
			WHERE slot = 'Pending' AND lane = $1
			ORDER BY enqueued_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+columns, int16(lane), workerID, leaseUntil)

	sub, err := scanSubmission(row)
	if stdErrors.Is(err, errors.ErrNotFound) {
		return nil, errors.ErrQueueEmpty
	}
	return sub, err
}

func (p *postgresStore) ExtendLease(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error) {
	var cancelRequested bool
	err := p.pool.QueryRow(ctx, `UPDATE submissions SET lease_until = $3
		WHERE id = $1 AND worker_id = $2 AND slot = 'Assigned'
		RETURNING cancel_requested`, id, workerID, leaseUntil).Scan(&cancelRequested)
	if stdErrors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, errors.ErrConflict
	}
	return cancelRequested, err
}

func (p *postgresStore) ListExpiredLeases(ctx context.Context, now time.Time) ([]*submission.Submission, error) {
	return p.list(ctx, `SELECT `+columns+` FROM submissions
		WHERE slot = 'Assigned' AND lease_until < $1
		ORDER BY enqueued_at, id`, now)
}

func (p *postgresStore) ListAssigned(ctx context.Context, workerPrefix string) ([]*submission.Submission, error) {
	return p.list(ctx, `SELECT `+columns+` FROM submissions
		WHERE slot = 'Assigned' AND starts_with(worker_id, $1)
		ORDER BY enqueued_at, id`, workerPrefix)
}

func (p *postgresStore) CountActive(ctx context.Context) (int, int, error) {
	var pending, assigned int
	err := p.pool.QueryRow(ctx, `SELECT
			count(*) FILTER (WHERE slot = 'Pending'),
			count(*) FILTER (WHERE slot = 'Assigned')
		FROM submissions`).Scan(&pending, &assigned)
	return pending, assigned, err
}

func (p *postgresStore) list(ctx context.Context, query string, args ...any) ([]*submission.Submission, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var (
		sub        submission.Submission
		state      string
		slot       string
		lane       int16
		leaseUntil *time.Time
		verdict    []byte
	)
	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.ProblemID, &sub.LanguageID, &sub.Source, &sub.CreatedAt, &sub.UpdatedAt,
		&state, &slot, &lane, &sub.EnqueuedAt, &sub.WorkerID, &sub.Attempts, &leaseUntil,
		&sub.CancelRequested, &verdict, &sub.Version,
	)
	if stdErrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.State = submission.State(state)
	sub.Slot = submission.SlotState(slot)
	sub.Lane = submission.Lane(lane)
	if leaseUntil != nil {
		sub.LeaseUntil = *leaseUntil
	}
	if len(verdict) > 0 {
		var v submission.Verdict
		if err := json.Unmarshal(verdict, &v); err != nil {
			return nil, fmt.Errorf("decode verdict of %s: %w", sub.ID, err)
		}
		sub.Verdict = &v
	}
	return &sub, nil
}

func marshalVerdict(v *submission.Verdict) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
