//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

const shellPath = "/bin/sh"

var unsafeNameChars = regexp.MustCompile("[^a-zA-Z0-9_.-]")

type processSandbox struct {
	opts     Options
	confined bool
	logger   *zap.SugaredLogger
}

var (
	namespacesOnce      sync.Once
	namespacesSupported bool
)

// NamespacesSupported reports whether this host lets the judge create user,
// pid, network, mount, ipc and uts namespaces for its children.
func NamespacesSupported() bool {
	namespacesOnce.Do(func() {
		cmd := exec.Command(shellPath, "-c", "exit 0")
		cmd.SysProcAttr = sysProcAttr(true)
		namespacesSupported = cmd.Run() == nil
	})
	return namespacesSupported
}

// NewProcessSandbox runs programs as local processes in a throwaway
// directory, each in its own process group and namespaces under rlimits.
// Without namespace support it fails unless opts.AllowUnconfined is set.
func NewProcessSandbox(opts Options) (Sandbox, error) {
	if _, err := os.Stat(shellPath); err != nil {
		return nil, fmt.Errorf("process sandbox needs %s: %w", shellPath, err)
	}
	log := logger.NewNamedLogger("process-sandbox")
	confined := NamespacesSupported()
	if !confined {
		if !opts.AllowUnconfined {
			return nil, fmt.Errorf("%w: process sandbox cannot create namespaces on this host", errors.ErrSandboxFailure)
		}
		log.Warn("Namespaces are unavailable, programs run without network and pid isolation")
	}
	return &processSandbox{
		opts:     opts.withDefaults(),
		confined: confined,
		logger:   log,
	}, nil
}

func (p *processSandbox) Open(ctx context.Context, program Program) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCancelled, err)
	}

	prefix := "judge-" + unsafeNameChars.ReplaceAllString(program.SubmissionID, "-") + "-"
	dir, err := os.MkdirTemp(p.opts.ScratchDir, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", errors.ErrSandboxFailure, err)
	}

	srcPath := program.Language.SourcePath(dir)
	if err := os.WriteFile(srcPath, []byte(program.Source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: write source: %v", errors.ErrSandboxFailure, err)
	}

	p.logger.Debugf("Opened session in %s [SubID: %s]", dir, program.SubmissionID)
	return &processSession{
		dir:      dir,
		program:  program,
		opts:     p.opts,
		confined: p.confined,
		logger:   p.logger,
	}, nil
}

type processSession struct {
	dir      string
	program  Program
	opts     Options
	confined bool
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func (s *processSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSessionClosed
	}
	return nil
}

func (s *processSession) Compile(ctx context.Context) (submission.CompileResult, error) {
	if err := s.checkOpen(); err != nil {
		return submission.CompileResult{}, err
	}
	lang := s.program.Language
	if !lang.RequiresCompilation() {
		return submission.CompileResult{OK: true}, nil
	}

	args, err := lang.CompileCommand(s.dir)
	if err != nil {
		return submission.CompileResult{}, fmt.Errorf("%w: %v", errors.ErrSandboxFailure, err)
	}

	output := newCappedBuffer(constants.CompileOutputCapBytes, nil)
	cmd := s.command(args)
	cmd.Stdout = output
	cmd.Stderr = output

	raw, wall, err := s.execute(ctx, cmd, constants.CompileTimeout)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return submission.CompileResult{}, fmt.Errorf("%w: %v", errors.ErrCancelled, ctxErr)
	}
	if err != nil {
		return submission.CompileResult{}, fmt.Errorf("%w: start compiler: %v", errors.ErrSandboxFailure, err)
	}

	res := submission.CompileResult{
		OK:       raw.exitCode == constants.ExitCodeSuccess && !raw.timedOut,
		ExitCode: raw.exitCode,
		Output:   string(output.Bytes()),
		Duration: wall,
	}
	if raw.timedOut {
		res.Output += fmt.Sprintf("\ncompilation exceeded %s", constants.CompileTimeout)
	}
	return res, nil
}

func (s *processSession) Run(
	ctx context.Context,
	input []byte,
	limits submission.ProblemLimits,
) (submission.ExecutionResult, error) {
	if err := s.checkOpen(); err != nil {
		return submission.ExecutionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return submission.ExecutionResult{}, fmt.Errorf("%w: %v", errors.ErrCancelled, err)
	}

	args, err := s.program.Language.RunCommand(s.dir)
	if err != nil {
		return sandboxFailure(err)
	}

	// The shell stays the parent of the program so that, inside a pid
	// namespace, the program is never its init process.
	script := limitScript(limits, `"$@"; exit $?`, s.extraLimits()...)
	cmd := s.command(append([]string{shellPath, "-c", script, "sh"}, args...))
	stdout := newCappedBuffer(s.opts.outputCap(limits), func() {
		killGroup(cmd.Process.Pid)
	})
	stderr := newCappedBuffer(s.opts.StderrCapBytes, nil)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	wallLimit := limits.WallTime()
	if wallLimit <= 0 {
		wallLimit = constants.CompileTimeout
	}

	raw, wall, err := s.execute(ctx, cmd, wallLimit)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return submission.ExecutionResult{}, fmt.Errorf("%w: %v", errors.ErrCancelled, ctxErr)
	}
	if err != nil {
		return sandboxFailure(err)
	}

	errOut := stderr.Bytes()
	if setupFailed(raw.exitCode, errOut) {
		return sandboxFailure(fmt.Errorf("limit wrapper failed: %s", strings.TrimSpace(string(errOut))))
	}
	raw.outputExceeded = stdout.Exceeded()

	return submission.ExecutionResult{
		Outcome:      classify(raw, limits),
		ExitCode:     raw.exitCode,
		Stdout:       stdout.Bytes(),
		Stderr:       errOut,
		CPUTime:      raw.cpuTime,
		WallTime:     wall,
		PeakMemoryKB: raw.peakMemoryKB,
	}, nil
}

func (s *processSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Errorf("Failed to remove work dir %s: %s [SubID: %s]", s.dir, err, s.program.SubmissionID)
		return err
	}
	return nil
}

// extraLimits caps files written by the program and, inside a user
// namespace where the count is private to the sandbox, its process count.
func (s *processSession) extraLimits() []string {
	blocks := (constants.SandboxMaxFileBytes + 511) / 512
	extra := []string{fmt.Sprintf("ulimit -f %d", blocks)}
	if s.confined {
		extra = append(extra, fmt.Sprintf("{ ulimit -u %[1]d 2>/dev/null || ulimit -p %[1]d; }", constants.SandboxProcessLimit))
	}
	return extra
}

func (s *processSession) command(args []string) *exec.Cmd {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = s.dir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + s.dir,
		"TMPDIR=" + s.dir,
		"LANG=C.UTF-8",
	}
	cmd.SysProcAttr = sysProcAttr(s.confined)
	cmd.WaitDelay = time.Second
	return cmd
}

// sysProcAttr puts the child in its own process group and, when confined, in
// fresh namespaces: no network, a private pid space whose processes all die
// with the child, and a user namespace mapping its root to the judge user.
func sysProcAttr(confined bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !confined {
		return attr
	}
	attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET | syscall.CLONE_NEWPID |
		syscall.CLONE_NEWNS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}

// execute starts cmd and waits for it. The whole process group is killed
// when wall elapses, when ctx is cancelled and once cmd has exited, so no
// background child outlives the call.
func (s *processSession) execute(ctx context.Context, cmd *exec.Cmd, wall time.Duration) (rawRun, time.Duration, error) {
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return rawRun{}, 0, err
	}
	pid := cmd.Process.Pid

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(wall)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			killGroup(pid)
		case <-timer.C:
			timedOut.Store(true)
			killGroup(pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	elapsed := time.Since(start)
	killGroup(pid)

	state := cmd.ProcessState
	if state == nil {
		return rawRun{}, elapsed, waitErr
	}

	raw := rawRun{
		exitCode: state.ExitCode(),
		timedOut: timedOut.Load(),
		cpuTime:  state.UserTime() + state.SystemTime(),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		raw.exitCode = 128 + int(ws.Signal())
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		raw.peakMemoryKB = ru.Maxrss
	}
	return raw, elapsed, nil
}

func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}
