package submission

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareMode selects how a program's output is matched against the expected output.
type CompareMode string

const (
	CompareExact            CompareMode = "exact"
	CompareTrimmedLines     CompareMode = "trimmed_lines"
	CompareNumericTolerance CompareMode = "numeric_tolerance"
)

type ComparePolicy struct {
	Mode    CompareMode `json:"mode" yaml:"mode"`
	Epsilon float64     `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
}

func (p ComparePolicy) Validate() error {
	switch p.Mode {
	case CompareExact, CompareTrimmedLines:
		return nil
	case CompareNumericTolerance:
		if p.Epsilon < 0 {
			return fmt.Errorf("epsilon must not be negative, got %g", p.Epsilon)
		}
		return nil
	default:
		return fmt.Errorf("unknown compare mode %q", p.Mode)
	}
}

// ParseComparePolicy reads "exact", "trimmed_lines" or "numeric_tolerance:<eps>".
func ParseComparePolicy(raw string) (ComparePolicy, error) {
	mode, eps, hasEps := strings.Cut(strings.TrimSpace(raw), ":")
	p := ComparePolicy{Mode: CompareMode(mode)}
	if p.Mode == "" {
		p.Mode = CompareTrimmedLines
	}
	if hasEps {
		v, err := strconv.ParseFloat(strings.TrimSpace(eps), 64)
		if err != nil {
			return ComparePolicy{}, fmt.Errorf("parse epsilon %q: %w", eps, err)
		}
		p.Epsilon = v
	}
	return p, p.Validate()
}

func (p ComparePolicy) String() string {
	if p.Mode == CompareNumericTolerance {
		return fmt.Sprintf("%s:%g", p.Mode, p.Epsilon)
	}
	return string(p.Mode)
}

// ScoringPolicy decides the score of a submission that is not accepted.
type ScoringPolicy string

const (
	ScoringNone         ScoringPolicy = "none"
	ScoringProportional ScoringPolicy = "proportional"
)

// Problem is the judge-relevant part of a catalog problem.
type Problem struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Limits  ProblemLimits `json:"limits"`
	Compare ComparePolicy `json:"compare"`
	Scoring ScoringPolicy `json:"scoring"`
	Active  bool          `json:"active"`
}
