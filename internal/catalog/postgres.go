package catalog

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// postgresCatalog reads problems and test cases from the catalog tables.
// Language commands come from the registry; the languages table only
// switches registered languages on and off.
type postgresCatalog struct {
	pool     *pgxpool.Pool
	registry *languages.Registry
}

func NewPostgresCatalog(pool *pgxpool.Pool, registry *languages.Registry) Catalog {
	return &postgresCatalog{pool: pool, registry: registry}
}

func (c *postgresCatalog) Problem(ctx context.Context, id string) (submission.Problem, error) {
	var (
		p         submission.Problem
		cpuTimeMs int64
		mode      string
		scoring   string
	)
	err := c.pool.QueryRow(ctx, `
		SELECT id, title, cpu_time_ms, memory_kb, output_bytes, compare_mode, epsilon, scoring, is_active
		FROM problems WHERE id = $1`, id).Scan(
		&p.ID, &p.Title, &cpuTimeMs, &p.Limits.MemoryKB, &p.Limits.OutputBytes,
		&mode, &p.Compare.Epsilon, &scoring, &p.Active,
	)
	if stdErrors.Is(err, pgx.ErrNoRows) {
		return submission.Problem{}, errors.ErrProblemNotFound
	}
	if err != nil {
		return submission.Problem{}, fmt.Errorf("load problem %s: %w", id, err)
	}

	p.Limits.CPUTime = time.Duration(cpuTimeMs) * time.Millisecond
	p.Compare.Mode = submission.CompareMode(mode)
	p.Scoring = submission.ScoringPolicy(scoring)
	if err := p.Compare.Validate(); err != nil {
		return submission.Problem{}, fmt.Errorf("problem %s: %w", id, err)
	}
	return p, nil
}

func (c *postgresCatalog) TestCases(ctx context.Context, problemID string) ([]submission.TestCase, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT problem_id, position, input, expected_output, is_sample
		FROM test_cases WHERE problem_id = $1 ORDER BY position`, problemID)
	if err != nil {
		return nil, fmt.Errorf("load test cases of %s: %w", problemID, err)
	}
	cases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (submission.TestCase, error) {
		var tc submission.TestCase
		err := row.Scan(&tc.ProblemID, &tc.Position, &tc.Input, &tc.ExpectedOutput, &tc.IsSample)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("load test cases of %s: %w", problemID, err)
	}
	return cases, nil
}

func (c *postgresCatalog) Language(ctx context.Context, id string) (languages.Language, error) {
	lang, err := c.registry.Get(id)
	if err != nil {
		return languages.Language{}, err
	}
	active, err := c.languageActive(ctx, lang.ID)
	if err != nil {
		return languages.Language{}, err
	}
	if !active {
		return languages.Language{}, errors.ErrLanguageNotFound
	}
	return lang, nil
}

func (c *postgresCatalog) Languages(ctx context.Context) ([]languages.Language, error) {
	rows, err := c.pool.Query(ctx, `SELECT id FROM languages WHERE NOT is_active`)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	inactive, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	off := make(map[string]bool, len(inactive))
	for _, id := range inactive {
		off[id] = true
	}

	var out []languages.Language
	for _, l := range c.registry.List() {
		if !off[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

// languageActive treats a language without a row as active.
func (c *postgresCatalog) languageActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := c.pool.QueryRow(ctx, `SELECT is_active FROM languages WHERE id = $1`, id).Scan(&active)
	if stdErrors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load language %s: %w", id, err)
	}
	return active, nil
}
