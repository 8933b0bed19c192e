package compiler

import (
	"context"
	stdErrors "errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

type Compiler interface {
	// CompileIfNeeded builds the program inside sess. A nil verdict means the
	// program is ready to run; otherwise it is the terminal verdict
	// (CompileError or InternalError). The only error returned is cancellation.
	CompileIfNeeded(ctx context.Context, sess sandbox.Session, submissionID string) (*submission.Verdict, error)
}

type compiler struct {
	logger *zap.SugaredLogger
}

func NewCompiler() Compiler {
	return &compiler{logger: logger.NewNamedLogger("compiler")}
}

func (c *compiler) CompileIfNeeded(
	ctx context.Context,
	sess sandbox.Session,
	submissionID string,
) (*submission.Verdict, error) {
	var (
		res submission.CompileResult
		err error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		res, err = sess.Compile(ctx)
		if err == nil || !stdErrors.Is(err, errors.ErrSandboxFailure) {
			break
		}
		c.logger.Warnf("Compile attempt %d failed: %s [SubID: %s]", attempt, err, submissionID)
	}

	switch {
	case err == nil:
	case stdErrors.Is(err, errors.ErrCancelled):
		return nil, err
	default:
		c.logger.Errorf("Compilation could not be run: %s [SubID: %s]", err, submissionID)
		v := submission.InternalErrorVerdict("judge failure while compiling")
		return &v, nil
	}

	if res.OK {
		c.logger.Infof("Compilation finished in %s [SubID: %s]", res.Duration, submissionID)
		return nil, nil
	}

	c.logger.Infof("Compilation failed with exit code %d [SubID: %s]", res.ExitCode, submissionID)
	return &submission.Verdict{
		Status:        submission.StateCompileError,
		Message:       constants.VerdictMessageCompilationError,
		CompileOutput: truncate(strings.TrimSpace(res.Output), constants.CompileOutputCapBytes),
	}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
