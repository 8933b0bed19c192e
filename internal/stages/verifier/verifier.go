package verifier

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/mini-maxit/judge/pkg/submission"
)

// Verifier decides whether a program's output matches the expected output.
// Implementations are pure: inputs are never modified.
type Verifier interface {
	Compare(actual, expected []byte, policy submission.ComparePolicy) bool
}

type verifier struct{}

func NewVerifier() Verifier {
	return verifier{}
}

func (verifier) Compare(actual, expected []byte, policy submission.ComparePolicy) bool {
	switch policy.Mode {
	case submission.CompareExact:
		return bytes.Equal(actual, expected)
	case submission.CompareNumericTolerance:
		return numericEqual(string(actual), string(expected), policy.Epsilon)
	default:
		return trimmedLinesEqual(string(actual), string(expected))
	}
}

// trimmedLinesEqual ignores trailing whitespace on each line, a carriage
// return included, and trailing blank lines.
func trimmedLinesEqual(actual, expected string) bool {
	a := normalizedLines(actual)
	e := normalizedLines(expected)
	if len(a) != len(e) {
		return false
	}
	for i := range a {
		if a[i] != e[i] {
			return false
		}
	}
	return true
}

func normalizedLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return lines[:end]
}

func numericEqual(actual, expected string, eps float64) bool {
	a := strings.Fields(actual)
	e := strings.Fields(expected)
	if len(a) != len(e) {
		return false
	}
	for i := range a {
		if !tokenEqual(a[i], e[i], eps) {
			return false
		}
	}
	return true
}

func tokenEqual(actual, expected string, eps float64) bool {
	x, errX := strconv.ParseFloat(actual, 64)
	y, errY := strconv.ParseFloat(expected, 64)
	if errX != nil || errY != nil {
		return actual == expected
	}
	if !isFinite(x) || !isFinite(y) {
		return actual == expected
	}
	diff := math.Abs(x - y)
	if diff <= eps {
		return true
	}
	return diff <= eps*math.Max(math.Abs(x), math.Abs(y))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
