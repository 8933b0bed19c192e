package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// StaticCatalog serves problems held in memory and languages from a
// registry. It backs single-node setups and tests.
type StaticCatalog struct {
	registry *languages.Registry

	mu       sync.RWMutex
	problems map[string]submission.Problem
	cases    map[string][]submission.TestCase
}

func NewStaticCatalog(registry *languages.Registry) *StaticCatalog {
	return &StaticCatalog{
		registry: registry,
		problems: make(map[string]submission.Problem),
		cases:    make(map[string][]submission.TestCase),
	}
}

// Put replaces a problem and its test cases.
func (c *StaticCatalog) Put(problem submission.Problem, cases []submission.TestCase) {
	sorted := make([]submission.TestCase, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.problems[problem.ID] = problem
	c.cases[problem.ID] = sorted
}

func (c *StaticCatalog) Problem(_ context.Context, id string) (submission.Problem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.problems[id]
	if !ok {
		return submission.Problem{}, errors.ErrProblemNotFound
	}
	return p, nil
}

func (c *StaticCatalog) TestCases(_ context.Context, problemID string) ([]submission.TestCase, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cases, ok := c.cases[problemID]
	if !ok {
		return nil, errors.ErrProblemNotFound
	}
	out := make([]submission.TestCase, len(cases))
	copy(out, cases)
	return out, nil
}

func (c *StaticCatalog) Language(_ context.Context, id string) (languages.Language, error) {
	return c.registry.Get(id)
}

func (c *StaticCatalog) Languages(context.Context) ([]languages.Language, error) {
	return c.registry.List(), nil
}

type problemCase struct {
	Input    string `yaml:"input"`
	Expected string `yaml:"expected"`
	Sample   bool   `yaml:"sample"`
}

type problemEntry struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	CPUTimeMs   int64         `yaml:"cpu_time_ms"`
	MemoryKB    int64         `yaml:"memory_kb"`
	OutputBytes int64         `yaml:"output_bytes"`
	Compare     string        `yaml:"compare"`
	Scoring     string        `yaml:"scoring"`
	Inactive    bool          `yaml:"inactive"`
	TestCases   []problemCase `yaml:"test_cases"`
}

type problemFile struct {
	Problems []problemEntry `yaml:"problems"`
}

// LoadStatic reads problems from a YAML document:
//
//	problems:
//	  - id: sum
//	    cpu_time_ms: 1000
//	    memory_kb: 65536
//	    compare: numeric_tolerance:1e-6
//	    scoring: proportional
//	    test_cases:
//	      - {input: "1 2\n", expected: "3\n"}
func LoadStatic(r io.Reader, registry *languages.Registry) (*StaticCatalog, error) {
	var file problemFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode problem catalog: %w", err)
	}

	c := NewStaticCatalog(registry)
	for _, p := range file.Problems {
		if p.ID == "" {
			return nil, fmt.Errorf("decode problem catalog: problem without id")
		}
		compare, err := submission.ParseComparePolicy(p.Compare)
		if err != nil {
			return nil, fmt.Errorf("problem %s: %w", p.ID, err)
		}
		scoring := submission.ScoringPolicy(p.Scoring)
		if scoring == "" {
			scoring = submission.ScoringNone
		}

		problem := submission.Problem{
			ID:    p.ID,
			Title: p.Title,
			Limits: submission.ProblemLimits{
				CPUTime:     time.Duration(p.CPUTimeMs) * time.Millisecond,
				MemoryKB:    p.MemoryKB,
				OutputBytes: p.OutputBytes,
			},
			Compare: compare,
			Scoring: scoring,
			Active:  !p.Inactive,
		}
		cases := make([]submission.TestCase, len(p.TestCases))
		for i, tc := range p.TestCases {
			cases[i] = submission.TestCase{
				ProblemID:      p.ID,
				Position:       i,
				Input:          []byte(tc.Input),
				ExpectedOutput: []byte(tc.Expected),
				IsSample:       tc.Sample,
			}
		}
		c.Put(problem, cases)
	}
	return c, nil
}

func LoadStaticFile(path string, registry *languages.Registry) (*StaticCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadStatic(f, registry)
}
