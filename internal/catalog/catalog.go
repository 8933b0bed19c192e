package catalog

import (
	"context"

	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Catalog is the read-only view of problems, test cases and languages the
// judge needs. Problems and languages are returned even when inactive; the
// caller decides whether that rejects a request.
type Catalog interface {
	// Problem returns errors.ErrProblemNotFound for unknown ids.
	Problem(ctx context.Context, id string) (submission.Problem, error)
	// TestCases returns the cases of a problem ordered by position.
	TestCases(ctx context.Context, problemID string) ([]submission.TestCase, error)
	// Language returns errors.ErrLanguageNotFound for unknown or inactive ids.
	Language(ctx context.Context, id string) (languages.Language, error)
	Languages(ctx context.Context) ([]languages.Language, error)
}

// Snapshot is everything one evaluation reads from the catalog.
type Snapshot struct {
	Problem   submission.Problem
	TestCases []submission.TestCase
	Language  languages.Language
}

// Load reads a consistent snapshot for one submission.
func Load(ctx context.Context, c Catalog, problemID, languageID string) (Snapshot, error) {
	problem, err := c.Problem(ctx, problemID)
	if err != nil {
		return Snapshot{}, err
	}
	lang, err := c.Language(ctx, languageID)
	if err != nil {
		return Snapshot{}, err
	}
	cases, err := c.TestCases(ctx, problemID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Problem: problem, TestCases: cases, Language: lang}, nil
}
