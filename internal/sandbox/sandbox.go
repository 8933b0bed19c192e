package sandbox

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mini-maxit/judge/internal/docker"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Program is everything a sandbox needs to build and run one submission.
type Program struct {
	SubmissionID string
	Language     languages.Language
	Source       string
	// Limits sizes the execution context. Each Run receives its own limits.
	Limits submission.ProblemLimits
}

// Sandbox creates disposable execution contexts.
type Sandbox interface {
	Open(ctx context.Context, program Program) (Session, error)
}

// Session is one execution context. Close must be called on every exit path.
//
// Run never reports program faults as errors: those are encoded in the
// returned Outcome. A non-nil error means the sandbox itself failed (the
// outcome is then SandboxFailure) or ctx was cancelled.
type Session interface {
	Compile(ctx context.Context) (submission.CompileResult, error)
	Run(ctx context.Context, input []byte, limits submission.ProblemLimits) (submission.ExecutionResult, error)
	Close() error
}

type Options struct {
	// OutputCapBytes caps stdout when the problem limits leave it unset.
	OutputCapBytes int64
	StderrCapBytes int64
	// ScratchDir is where the process driver creates its work directories.
	ScratchDir string
	// AllowUnconfined lets the process driver run without namespaces when
	// the host does not support them.
	AllowUnconfined bool
}

func (o Options) withDefaults() Options {
	if o.OutputCapBytes <= 0 {
		o.OutputCapBytes = constants.DefaultOutputCapBytes
	}
	if o.StderrCapBytes <= 0 {
		o.StderrCapBytes = constants.CompileOutputCapBytes
	}
	return o
}

func (o Options) outputCap(limits submission.ProblemLimits) int64 {
	if limits.OutputBytes > 0 {
		return limits.OutputBytes
	}
	return o.OutputCapBytes
}

// New returns the sandbox for driver. The docker client is only used by the
// docker driver and may be nil otherwise.
func New(driver string, opts Options, cli docker.DockerClient) (Sandbox, error) {
	switch driver {
	case constants.SandboxDriverDocker:
		if cli == nil {
			return nil, fmt.Errorf("%w: docker driver needs a docker client", errors.ErrUnknownSandboxDriver)
		}
		return NewDockerSandbox(cli, opts), nil
	case constants.SandboxDriverProcess:
		return NewProcessSandbox(opts)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownSandboxDriver, driver)
	}
}

func sandboxFailure(err error) (submission.ExecutionResult, error) {
	return submission.ExecutionResult{Outcome: submission.OutcomeSandboxFailure, ExitCode: -1},
		fmt.Errorf("%w: %v", errors.ErrSandboxFailure, err)
}

// classify turns the raw facts about a finished run into an outcome.
// Preemption by the judge takes precedence over what the program reported.
func classify(r rawRun, limits submission.ProblemLimits) submission.Outcome {
	switch {
	case r.outputExceeded, r.exitCode == constants.ExitCodeSigXFSZ:
		return submission.OutcomeOutputExceeded
	case r.timedOut,
		limits.CPUTime > 0 && r.cpuTime > limits.CPUTime,
		r.exitCode == constants.ExitCodeSigXCPU:
		return submission.OutcomeTimedOut
	case limits.MemoryKB > 0 && r.peakMemoryKB > limits.MemoryKB,
		r.oomKilled:
		return submission.OutcomeMemoryExceeded
	case r.exitCode != constants.ExitCodeSuccess:
		return submission.OutcomeRuntimeCrash
	default:
		return submission.OutcomeCompleted
	}
}

type rawRun struct {
	exitCode       int
	timedOut       bool
	outputExceeded bool
	oomKilled      bool
	cpuTime        time.Duration
	peakMemoryKB   int64
}

// limitScript applies the rlimits inside the child before running body, so
// limits hold from the first instruction of the program. Each extra entry is
// one more limit statement.
func limitScript(limits submission.ProblemLimits, body string, extra ...string) string {
	fail := fmt.Sprintf("{ echo %s >&2; exit %d; }", constants.SandboxSetupMarker, constants.ExitCodeSandboxSetup)
	parts := []string{"ulimit -c 0 || " + fail}
	if limits.CPUTime > 0 {
		seconds := int64(math.Ceil(limits.CPUTime.Seconds())) + 1
		parts = append(parts, fmt.Sprintf("ulimit -t %d || %s", seconds, fail))
	}
	if limits.MemoryKB > 0 {
		parts = append(parts, fmt.Sprintf("ulimit -v %d || %s", limits.MemoryKB+constants.AddressSpaceHeadroomKB, fail))
	}
	for _, stmt := range extra {
		parts = append(parts, stmt+" || "+fail)
	}
	parts = append(parts, body)
	return strings.Join(parts, "; ")
}

func setupFailed(exitCode int, stderr []byte) bool {
	return exitCode == constants.ExitCodeSandboxSetup &&
		strings.Contains(string(stderr), constants.SandboxSetupMarker)
}
