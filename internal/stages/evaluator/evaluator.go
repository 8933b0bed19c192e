package evaluator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/internal/stages/verifier"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Request is one evaluation: the test cases of a problem, the effective
// limits for the submission's language and the problem's policies.
type Request struct {
	SubmissionID string
	TestCases    []submission.TestCase
	Limits       submission.ProblemLimits
	Compare      submission.ComparePolicy
	Scoring      submission.ScoringPolicy
}

type Evaluator interface {
	// Evaluate runs the compiled program in sess against every test case and
	// derives the verdict. The only error returned is cancellation.
	Evaluate(ctx context.Context, sess sandbox.Session, req Request) (submission.Verdict, error)
}

type evaluator struct {
	verifier verifier.Verifier
	logger   *zap.SugaredLogger
}

func NewEvaluator(v verifier.Verifier) Evaluator {
	return &evaluator{
		verifier: v,
		logger:   logger.NewNamedLogger("evaluator"),
	}
}

func (e *evaluator) Evaluate(ctx context.Context, sess sandbox.Session, req Request) (submission.Verdict, error) {
	if len(req.TestCases) == 0 {
		e.logger.Errorf("Problem has no test cases [SubID: %s]", req.SubmissionID)
		return submission.InternalErrorVerdict(constants.VerdictMessageNoTestCases), nil
	}

	cases := make([]submission.TestCase, len(req.TestCases))
	copy(cases, req.TestCases)
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].Position < cases[j].Position })

	total := len(cases)
	verdict := submission.Verdict{Status: submission.StateAccepted}
	accepted := 0

	for idx, tc := range cases {
		res, err := e.runWithRetry(ctx, sess, tc, idx, req)
		if err != nil {
			if stdErrors.Is(err, errors.ErrCancelled) {
				return submission.Verdict{}, err
			}
			failing := idx
			verdict.Status = submission.StateInternalError
			verdict.FirstFailingCase = &failing
			verdict.Message = fmt.Sprintf(constants.VerdictMessageSandboxFailure, idx+1)
			verdict.Score = 0
			return verdict, nil
		}

		if res.CPUTime > verdict.MaxTime {
			verdict.MaxTime = res.CPUTime
		}
		if res.PeakMemoryKB > verdict.MaxMemoryKB {
			verdict.MaxMemoryKB = res.PeakMemoryKB
		}

		status, message := e.classify(res, tc, idx, req)
		if status == submission.StateAccepted {
			accepted++
			continue
		}

		failing := idx
		verdict.Status = status
		verdict.FirstFailingCase = &failing
		verdict.Message = message
		verdict.Score = partialScore(req.Scoring, accepted, total)
		e.logger.Infof("Test %d failed with %s [SubID: %s]", idx, status, req.SubmissionID)
		return verdict, nil
	}

	verdict.Score = 100 * float64(accepted) / float64(total)
	verdict.Message = constants.VerdictMessageAccepted
	return verdict, nil
}

// runWithRetry runs one case, retrying a sandbox failure once on a fresh
// attempt. A second failure is returned as ErrSandboxFailure.
func (e *evaluator) runWithRetry(
	ctx context.Context,
	sess sandbox.Session,
	tc submission.TestCase,
	idx int,
	req Request,
) (submission.ExecutionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		res, err := sess.Run(ctx, tc.Input, req.Limits)
		if stdErrors.Is(err, errors.ErrCancelled) {
			return res, err
		}
		if err == nil && res.Outcome != submission.OutcomeSandboxFailure {
			return res, nil
		}
		if err == nil {
			err = errors.ErrSandboxFailure
		}
		lastErr = err
		e.logger.Warnf("Sandbox failure on test %d, attempt %d: %s [SubID: %s]", idx, attempt, err, req.SubmissionID)
	}
	e.logger.Errorf("Giving up on test %d after repeated sandbox failures: %s [SubID: %s]", idx, lastErr, req.SubmissionID)
	return submission.ExecutionResult{Outcome: submission.OutcomeSandboxFailure}, fmt.Errorf("%w: %v", errors.ErrSandboxFailure, lastErr)
}

func (e *evaluator) classify(
	res submission.ExecutionResult,
	tc submission.TestCase,
	idx int,
	req Request,
) (submission.State, string) {
	if status, ok := res.Outcome.VerdictState(); ok {
		return status, outcomeMessage(status, res, idx, req.Limits)
	}
	if !e.verifier.Compare(res.Stdout, tc.ExpectedOutput, req.Compare) {
		return submission.StateWrongAnswer, fmt.Sprintf(constants.VerdictMessageWrongAnswer, idx+1)
	}
	return submission.StateAccepted, ""
}

func outcomeMessage(status submission.State, res submission.ExecutionResult, idx int, limits submission.ProblemLimits) string {
	test := idx + 1
	switch status {
	case submission.StateTimeLimitExceeded:
		return fmt.Sprintf(constants.VerdictMessageTimeout, limits.CPUTime.Milliseconds(), test)
	case submission.StateMemoryLimitExceeded:
		return fmt.Sprintf(constants.VerdictMessageMemory, limits.MemoryKB, test)
	case submission.StateOutputLimitExceeded:
		return fmt.Sprintf(constants.VerdictMessageOutput, limits.OutputBytes, test)
	default:
		return fmt.Sprintf(constants.VerdictMessageRuntimeError, res.ExitCode, test)
	}
}

func partialScore(policy submission.ScoringPolicy, accepted, total int) float64 {
	if policy == submission.ScoringProportional && total > 0 {
		return 100 * float64(accepted) / float64(total)
	}
	return 0
}
