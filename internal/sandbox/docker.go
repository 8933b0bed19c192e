package sandbox

import (
	"context"
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/docker"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

const (
	runStatsMarker = "judge-run-stats"
	execPollEvery  = 20 * time.Millisecond
	// execBackstop is added to the in-container timeout before the host
	// gives up on an exec and kills the container.
	execBackstop = 5 * time.Second
)

var (
	containerNameRegex = regexp.MustCompile("[^a-zA-Z0-9_.-]")
	shellTimesRegex    = regexp.MustCompile(`(\d+)m([\d.]+)s\s+(\d+)m([\d.]+)s`)
	memStatsRegex      = regexp.MustCompile(`(?m)^mem (\d+) (\d+) (\d+)$`)
)

// memStatsScript runs the program between two reads of the container cgroup.
// Paths cover cgroup v2 and the v1 memory controller; missing files read as 0.
const memStatsScript = `cg=/sys/fs/cgroup; ` +
	`b=$(cat $cg/memory.current $cg/memory/memory.usage_in_bytes 2>/dev/null | head -n 1); ` +
	`%s "$@"; rc=$?; ` +
	`printf '\n%s\n' >&2; times >&2; ` +
	`p=$(cat $cg/memory.peak $cg/memory/memory.max_usage_in_bytes 2>/dev/null | head -n 1); ` +
	`o=$(sed -n 's/^oom_kill //p' $cg/memory.events $cg/memory/memory.oom_control 2>/dev/null | head -n 1); ` +
	`echo "mem ${b:-0} ${p:-0} ${o:-0}" >&2; exit $rc`

type dockerSandbox struct {
	cli    docker.DockerClient
	opts   Options
	logger *zap.SugaredLogger
}

// NewDockerSandbox runs submissions in throwaway containers with no network
// and a tmpfs work dir. Compilation gets its own build container and every
// run starts from a fresh one holding only the compiled artifact.
func NewDockerSandbox(cli docker.DockerClient, opts Options) Sandbox {
	return &dockerSandbox{
		cli:    cli,
		opts:   opts.withDefaults(),
		logger: logger.NewNamedLogger("docker-sandbox"),
	}
}

func (d *dockerSandbox) Open(ctx context.Context, program Program) (Session, error) {
	lang := program.Language
	if lang.Image == "" {
		return nil, fmt.Errorf("%w: language %s has no image", errors.ErrSandboxFailure, lang.ID)
	}
	if err := d.cli.EnsureImage(ctx, lang.Image); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: ensure image %s: %v", errors.ErrSandboxFailure, lang.Image, err)
	}
	return &dockerSession{
		cli:     d.cli,
		program: program,
		opts:    d.opts,
		logger:  d.logger,
	}, nil
}

type dockerSession struct {
	cli     docker.DockerClient
	program Program
	opts    Options
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	closed   bool
	artifact []byte
}

func (s *dockerSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSessionClosed
	}
	return nil
}

func (s *dockerSession) Compile(ctx context.Context) (submission.CompileResult, error) {
	if err := s.checkOpen(); err != nil {
		return submission.CompileResult{}, err
	}
	lang := s.program.Language
	if !lang.RequiresCompilation() {
		return submission.CompileResult{OK: true}, nil
	}
	args, err := lang.CompileCommand(constants.SandboxWorkDir)
	if err != nil {
		return submission.CompileResult{}, fmt.Errorf("%w: %v", errors.ErrSandboxFailure, err)
	}

	containerID, err := s.start(ctx, "build", submission.ProblemLimits{MemoryKB: constants.CompileMemoryKB})
	if err != nil {
		return submission.CompileResult{}, err
	}
	defer s.remove(containerID)

	src := lang.SourcePath(constants.SandboxWorkDir)
	if err := s.writeFile(ctx, containerID, src, []byte(s.program.Source), false); err != nil {
		return submission.CompileResult{}, err
	}

	output := newCappedBuffer(constants.CompileOutputCapBytes, nil)
	cmd := append(timeoutPrefix(constants.CompileTimeout), args...)
	res, err := s.exec(ctx, containerID, cmd, nil, output, output, constants.CompileTimeout)
	if err != nil {
		return submission.CompileResult{}, err
	}

	result := submission.CompileResult{
		OK:       res.exitCode == constants.ExitCodeSuccess,
		ExitCode: res.exitCode,
		Output:   string(output.Bytes()),
		Duration: res.wall,
	}
	if !result.OK {
		if res.wall >= constants.CompileTimeout {
			result.Output += fmt.Sprintf("\ncompilation exceeded %s", constants.CompileTimeout)
		}
		return result, nil
	}

	bin := filepath.Join(constants.SandboxWorkDir, lang.BinaryFile)
	artifact := newCappedBuffer(constants.ArtifactCapBytes, nil)
	errOut := newCappedBuffer(constants.CompileOutputCapBytes, nil)
	copied, err := s.exec(ctx, containerID, []string{"cat", bin}, nil, artifact, errOut, constants.CompileTimeout)
	if err != nil {
		return submission.CompileResult{}, err
	}
	if copied.exitCode != constants.ExitCodeSuccess {
		return submission.CompileResult{}, fmt.Errorf("%w: read artifact: %s", errors.ErrSandboxFailure, errOut.Bytes())
	}
	if artifact.Exceeded() {
		result.OK = false
		result.Output += fmt.Sprintf("\ncompiled binary exceeds %d bytes", constants.ArtifactCapBytes)
		return result, nil
	}

	binary := artifact.Bytes()
	s.mu.Lock()
	s.artifact = binary
	s.mu.Unlock()
	s.logger.Debugf("Stored %d byte artifact [SubID: %s]", len(binary), s.program.SubmissionID)
	return result, nil
}

func (s *dockerSession) Run(
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

	lang := s.program.Language
	args, err := lang.RunCommand(constants.SandboxWorkDir)
	if err != nil {
		return sandboxFailure(err)
	}
	dest, content, executable := lang.SourcePath(constants.SandboxWorkDir), []byte(s.program.Source), false
	if lang.RequiresCompilation() {
		s.mu.Lock()
		content = s.artifact
		s.mu.Unlock()
		if content == nil {
			return sandboxFailure(fmt.Errorf("no compiled artifact for %s", lang.ID))
		}
		dest, executable = filepath.Join(constants.SandboxWorkDir, lang.BinaryFile), true
	}

	containerID, err := s.start(ctx, "run", limits)
	if err != nil {
		return runFailure(err)
	}
	defer s.remove(containerID)

	if err := s.writeFile(ctx, containerID, dest, content, executable); err != nil {
		return runFailure(err)
	}

	wallLimit := limits.WallTime()
	if wallLimit <= 0 {
		wallLimit = constants.CompileTimeout
	}
	cmd := append([]string{"/bin/sh", "-c", runScript(limits, wallLimit), "sh"}, args...)

	stdout := newCappedBuffer(s.opts.outputCap(limits), nil)
	stderr := newCappedBuffer(s.opts.StderrCapBytes, nil)
	res, err := s.exec(ctx, containerID, cmd, input, stdout, stderr, wallLimit)
	if err != nil {
		return runFailure(err)
	}

	errOut, stats, ok := splitRunStats(stderr.Bytes())
	if setupFailed(res.exitCode, errOut) {
		return sandboxFailure(fmt.Errorf("limit wrapper failed: %s", strings.TrimSpace(string(errOut))))
	}
	if !ok {
		stats.cpu = res.wall
	}

	raw := rawFromExec(res, stats, wallLimit)
	raw.outputExceeded = stdout.Exceeded()
	return submission.ExecutionResult{
		Outcome:      classify(raw, limits),
		ExitCode:     res.exitCode,
		Stdout:       stdout.Bytes(),
		Stderr:       errOut,
		CPUTime:      stats.cpu,
		WallTime:     res.wall,
		PeakMemoryKB: stats.peakKB,
	}, nil
}

// rawFromExec tells a memory kill from a wall clock kill. Both end in
// SIGKILL, so the cgroup oom counter decides when it is readable and the
// elapsed time decides otherwise.
func rawFromExec(res execResult, stats runStats, wallLimit time.Duration) rawRun {
	killed := res.exitCode == constants.ExitCodeSigKill || res.exitCode == constants.ExitCodeTimeoutTool
	oom := stats.oomKills > 0 ||
		(!stats.memKnown && res.exitCode == constants.ExitCodeSigKill && res.wall < wallLimit)
	return rawRun{
		exitCode:     res.exitCode,
		timedOut:     killed && !oom && res.wall >= wallLimit,
		oomKilled:    oom,
		cpuTime:      stats.cpu,
		peakMemoryKB: stats.peakKB,
	}
}

func runFailure(err error) (submission.ExecutionResult, error) {
	if stdErrors.Is(err, errors.ErrCancelled) {
		return submission.ExecutionResult{}, err
	}
	return submission.ExecutionResult{Outcome: submission.OutcomeSandboxFailure, ExitCode: -1}, err
}

func (s *dockerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.artifact = nil
	return nil
}

// start creates a container for one compile or run and returns its ID.
func (s *dockerSession) start(ctx context.Context, purpose string, limits submission.ProblemLimits) (string, error) {
	name := SanitizeContainerName(s.program.SubmissionID) + "-" + purpose + "-" + uuid.NewString()[:8]
	containerID, err := s.cli.CreateAndStartContainer(
		ctx,
		buildContainerConfig(s.program.Language.Image),
		buildHostConfig(limits),
		name,
	)
	if err != nil {
		return "", s.execFailure(ctx, fmt.Errorf("start container: %w", err))
	}
	s.logger.Debugf("Started %s container %s [SubID: %s]", purpose, containerID, s.program.SubmissionID)
	return containerID, nil
}

func (s *dockerSession) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ContainerStopTimeout)
	defer cancel()
	if err := s.cli.ContainerRemove(ctx, containerID); err != nil {
		s.logger.Errorf("Failed to remove container %s: %s [SubID: %s]", containerID, err, s.program.SubmissionID)
	}
}

func (s *dockerSession) writeFile(ctx context.Context, containerID, dest string, content []byte, executable bool) error {
	script := `cat > "$0"`
	if executable {
		script += ` && chmod 755 "$0"`
	}
	sink := newCappedBuffer(constants.CompileOutputCapBytes, nil)
	res, err := s.exec(ctx, containerID, []string{"/bin/sh", "-c", script, dest}, content, sink, sink, constants.CompileTimeout)
	if err != nil {
		return err
	}
	if res.exitCode != constants.ExitCodeSuccess {
		return fmt.Errorf("%w: write %s: exit code %d: %s", errors.ErrSandboxFailure, dest, res.exitCode, sink.Bytes())
	}
	return nil
}

type execResult struct {
	exitCode int
	wall     time.Duration
}

// exec runs cmd in the container and waits for it. The in-container timeout
// is the real preemption; when it does not fire in time, or ctx is
// cancelled, the container is killed.
func (s *dockerSession) exec(
	ctx context.Context,
	containerID string,
	cmd []string,
	stdin []byte,
	stdout, stderr *cappedBuffer,
	limit time.Duration,
) (execResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, limit+execBackstop)
	defer cancel()

	start := time.Now()
	execID, hijacked, err := s.cli.ExecAttach(execCtx, containerID, container.ExecOptions{
		User:         constants.RunnerUser,
		WorkingDir:   constants.SandboxWorkDir,
		Env:          []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + constants.SandboxWorkDir, "LANG=C.UTF-8"},
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return execResult{}, s.execFailure(ctx, fmt.Errorf("exec create: %w", err))
	}
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(hijacked.Close) }
	defer closeConn()

	go func() {
		if len(stdin) > 0 {
			_, _ = hijacked.Conn.Write(stdin)
		}
		_ = hijacked.CloseWrite()
	}()

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		copied <- err
	}()

	select {
	case <-copied:
	case <-execCtx.Done():
		closeConn()
		s.kill(containerID)
		return execResult{}, s.execFailure(ctx, fmt.Errorf("exec did not finish within %s", limit+execBackstop))
	}

	for {
		inspect, err := s.cli.ExecInspect(execCtx, execID)
		if err != nil {
			s.kill(containerID)
			return execResult{}, s.execFailure(ctx, fmt.Errorf("exec inspect: %w", err))
		}
		if !inspect.Running {
			return execResult{exitCode: inspect.ExitCode, wall: time.Since(start)}, nil
		}
		select {
		case <-execCtx.Done():
			s.kill(containerID)
			return execResult{}, s.execFailure(ctx, fmt.Errorf("exec still running after its output closed"))
		case <-time.After(execPollEvery):
		}
	}
}

func (s *dockerSession) execFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", errors.ErrCancelled, ctx.Err())
	}
	return fmt.Errorf("%w: %v", errors.ErrSandboxFailure, err)
}

func (s *dockerSession) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ContainerStopTimeout)
	defer cancel()
	if err := s.cli.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		s.logger.Warnf("Failed to kill container %s: %s [SubID: %s]", containerID, err, s.program.SubmissionID)
	}
}

func timeoutPrefix(limit time.Duration) []string {
	return []string{"timeout", "-s", "KILL", strconv.FormatFloat(limit.Seconds(), 'f', 3, 64)}
}

// runScript wraps the program in the rlimits and the wall clock timeout and
// appends the stats trailer read by splitRunStats.
func runScript(limits submission.ProblemLimits, wallLimit time.Duration) string {
	body := fmt.Sprintf(memStatsScript, strings.Join(timeoutPrefix(wallLimit), " "), runStatsMarker)
	return limitScript(limits, body)
}

type runStats struct {
	cpu      time.Duration
	peakKB   int64
	oomKills int64
	memKnown bool
}

// splitRunStats strips the stats trailer from stderr. CPU time is user +
// system of the shell's children; peak memory is the cgroup peak above the
// usage seen before the program started.
func splitRunStats(stderr []byte) ([]byte, runStats, bool) {
	text := string(stderr)
	idx := strings.LastIndex(text, "\n"+runStatsMarker+"\n")
	if idx < 0 {
		return stderr, runStats{}, false
	}
	trailer := text[idx+len(runStatsMarker)+2:]
	rest := []byte(text[:idx])

	matches := shellTimesRegex.FindAllStringSubmatch(trailer, -1)
	if len(matches) < 2 {
		return rest, runStats{}, false
	}
	children := matches[1]
	stats := runStats{
		cpu: parseShellTime(children[1], children[2]) + parseShellTime(children[3], children[4]),
	}

	if mem := memStatsRegex.FindStringSubmatch(trailer); mem != nil {
		baseline, _ := strconv.ParseInt(mem[1], 10, 64)
		peak, _ := strconv.ParseInt(mem[2], 10, 64)
		stats.oomKills, _ = strconv.ParseInt(mem[3], 10, 64)
		if peak > 0 {
			stats.memKnown = true
			stats.peakKB = max(peak-baseline, 0) / 1024
		}
	}
	return rest, stats, true
}

func parseShellTime(minutes, seconds string) time.Duration {
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.ParseFloat(seconds, 64)
	return time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second))
}

func SanitizeContainerName(raw string) string {
	cleaned := containerNameRegex.ReplaceAllString(raw, "-")
	if cleaned == "" {
		cleaned = "untitled"
	}
	return "submission-" + cleaned
}

func buildContainerConfig(image string) *container.Config {
	stopTimeout := 2
	return &container.Config{
		Image:           image,
		Cmd:             []string{"sleep", "infinity"},
		WorkingDir:      constants.SandboxWorkDir,
		User:            constants.RunnerUser,
		Env:             []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		NetworkDisabled: true,
		StopTimeout:     &stopTimeout,
		StopSignal:      "SIGKILL",
	}
}

func buildHostConfig(limits submission.ProblemLimits) *container.HostConfig {
	memKB := limits.MemoryKB + constants.ContainerMemHeadroomKB
	if memKB < constants.MinContainerMemoryKB {
		memKB = constants.MinContainerMemoryKB
	}
	memBytes := memKB * 1024
	pids := int64(constants.SandboxPidsLimit)

	return &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: container.NetworkMode("none"),
		Tmpfs: map[string]string{
			constants.SandboxWorkDir: "rw,exec,nosuid,size=" + constants.SandboxTmpfsSize + ",mode=1777",
			"/tmp":                   "rw,nosuid,size=" + constants.SandboxTmpfsSize + ",mode=1777",
		},
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
			PidsLimit:  &pids,
			CPUPeriod:  100_000,
			CPUQuota:   100_000,
		},
		SecurityOpt:  []string{"no-new-privileges"},
		CgroupnsMode: container.CgroupnsModePrivate,
		IpcMode:      container.IpcMode("private"),
		CapDrop:      []string{"ALL"},
	}
}
