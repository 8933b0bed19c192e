package sandbox_test

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
	"github.com/mini-maxit/judge/tests/mocks"
)

var dockerShell = languages.Language{
	ID:         "sh",
	Image:      "busybox:1.36",
	SourceFile: "main.sh",
	Run:        "/bin/sh {src}",
}

func dockerProgram() sandbox.Program {
	return sandbox.Program{
		SubmissionID: "sub-1",
		Language:     dockerShell,
		Source:       "echo 42",
		Limits:       submission.ProblemLimits{CPUTime: time.Second, WallTimeGrace: time.Second, MemoryKB: 64 * 1024},
	}
}

var dockerC = languages.Language{
	ID:         "c",
	Image:      "gcc:13",
	SourceFile: "main.c",
	BinaryFile: "main",
	Compile:    "gcc -o {bin} {src}",
	Run:        "{bin}",
}

// fakeExec serves one attached exec: it drains stdin and replies with the
// given streams multiplexed the way the docker daemon does.
func fakeExec(t *testing.T, stdout, stderr string) types.HijackedResponse {
	t.Helper()
	return fakeExecWithInput(t, "", stdout, stderr)
}

// fakeExecWithInput is fakeExec that first checks the exec received stdin.
func fakeExecWithInput(t *testing.T, stdin, stdout, stderr string) types.HijackedResponse {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		if stdin != "" {
			got := make([]byte, len(stdin))
			if _, err := io.ReadFull(server, got); err != nil || string(got) != stdin {
				t.Errorf("expected stdin %q, got %q (%v)", stdin, got, err)
			}
		}
		go func() { _, _ = io.Copy(io.Discard, server) }()
		if stdout != "" {
			_, _ = stdcopy.NewStdWriter(server, stdcopy.Stdout).Write([]byte(stdout))
		}
		if stderr != "" {
			_, _ = stdcopy.NewStdWriter(server, stdcopy.Stderr).Write([]byte(stderr))
		}
		_ = server.Close()
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}
}

func TestDockerOpenFailsWithoutImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	sb := sandbox.NewDockerSandbox(mocks.NewMockDockerClient(ctrl), sandbox.Options{})

	program := dockerProgram()
	program.Language.Image = ""
	if _, err := sb.Open(context.Background(), program); !stdErrors.Is(err, errors.ErrSandboxFailure) {
		t.Fatalf("expected ErrSandboxFailure, got %v", err)
	}
}

func TestDockerOpenFailsWhenImageIsUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	sb := sandbox.NewDockerSandbox(cli, sandbox.Options{})

	cli.EXPECT().EnsureImage(gomock.Any(), dockerShell.Image).Return(stdErrors.New("pull access denied"))

	if _, err := sb.Open(context.Background(), dockerProgram()); !stdErrors.Is(err, errors.ErrSandboxFailure) {
		t.Fatalf("expected ErrSandboxFailure, got %v", err)
	}
}

// statsTrailer is what the run wrapper appends to stderr.
func statsTrailer(cpu string, baseline, peak, oomKills int64) string {
	return fmt.Sprintf("\njudge-run-stats\n0m0.000s 0m0.000s\n%s 0m0.000s\nmem %d %d %d\n", cpu, baseline, peak, oomKills)
}

// expectRun registers one run container: the program upload, the run itself
// and the removal.
func expectRun(t *testing.T, cli *mocks.MockDockerClient, id, upload, stdout, stderr string, exitCode int) []any {
	t.Helper()
	return []any{
		cli.EXPECT().CreateAndStartContainer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(id, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), id, gomock.Any()).Return(id+"-write", fakeExecWithInput(t, upload, "", ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), id+"-write").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), id, gomock.Any()).Return(id+"-run", fakeExec(t, stdout, stderr), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), id+"-run").Return(container.ExecInspect{ExitCode: exitCode}, nil),
		cli.EXPECT().ContainerRemove(gomock.Any(), id).Return(nil),
	}
}

func openDocker(t *testing.T, cli *mocks.MockDockerClient, program sandbox.Program) sandbox.Session {
	t.Helper()
	cli.EXPECT().EnsureImage(gomock.Any(), program.Language.Image).Return(nil)
	sess, err := sandbox.NewDockerSandbox(cli, sandbox.Options{}).Open(context.Background(), program)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return sess
}

func TestDockerSessionLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	ctx := context.Background()

	sess := openDocker(t, cli, dockerProgram())

	compiled, err := sess.Compile(ctx)
	if err != nil || !compiled.OK {
		t.Fatalf("interpreted languages compile trivially, got %+v %v", compiled, err)
	}

	gomock.InOrder(
		cli.EXPECT().CreateAndStartContainer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, cfg *container.Config, hc *container.HostConfig, name string) (string, error) {
				if !cfg.NetworkDisabled || hc.NetworkMode != "none" {
					t.Errorf("container must have no network")
				}
				if !strings.HasPrefix(name, "submission-sub-1-run-") {
					t.Errorf("unexpected container name %q", name)
				}
				return "cid", nil
			}),
		cli.EXPECT().ExecAttach(gomock.Any(), "cid", gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, opts container.ExecOptions) (string, types.HijackedResponse, error) {
				if !strings.Contains(strings.Join(opts.Cmd, " "), "main.sh") {
					t.Errorf("expected the source to be written to main.sh, got %v", opts.Cmd)
				}
				return "exec-write", fakeExecWithInput(t, "echo 42", "", ""), nil
			}),
		cli.EXPECT().ExecInspect(gomock.Any(), "exec-write").Return(container.ExecInspect{ExitCode: 0}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "cid", gomock.Any()).
			Return("exec-run", fakeExec(t, "42\n", statsTrailer("0m0.120s", 1<<20, 3<<20, 0)), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "exec-run").Return(container.ExecInspect{ExitCode: 0}, nil),
		cli.EXPECT().ContainerRemove(gomock.Any(), "cid").Return(nil),
	)

	res, err := sess.Run(ctx, []byte("input"), dockerProgram().Limits)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != submission.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s", res.Outcome)
	}
	if string(res.Stdout) != "42\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if res.CPUTime != 120*time.Millisecond {
		t.Fatalf("expected 120ms CPU time from the trailer, got %s", res.CPUTime)
	}
	if res.PeakMemoryKB != 2048 {
		t.Fatalf("expected a 2048KB peak, got %d", res.PeakMemoryKB)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if _, err := sess.Run(ctx, nil, dockerProgram().Limits); !stdErrors.Is(err, errors.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after Close, got %v", err)
	}
}

func TestDockerRunPeakAboveLimitIsMemoryExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	sess := openDocker(t, cli, dockerProgram())
	defer sess.Close()

	limits := dockerProgram().Limits
	// Inside the container headroom, so the cgroup never kills the program.
	peak := int64(1<<20) + (limits.MemoryKB+16*1024)*1024
	gomock.InOrder(expectRun(t, cli, "cid", "echo 42", "42\n", statsTrailer("0m0.050s", 1<<20, peak, 0), 0)...)

	res, err := sess.Run(context.Background(), nil, limits)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != submission.OutcomeMemoryExceeded {
		t.Fatalf("expected MemoryExceeded, got %s", res.Outcome)
	}
	if res.PeakMemoryKB != limits.MemoryKB+16*1024 {
		t.Fatalf("expected peak %d, got %d", limits.MemoryKB+16*1024, res.PeakMemoryKB)
	}
}

func TestDockerRunOOMKill(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
	}{
		{"counted by the cgroup", "Killed\n" + statsTrailer("0m0.200s", 1<<20, 80<<20, 1)},
		{"wrapper killed before the trailer", "Killed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			cli := mocks.NewMockDockerClient(ctrl)
			sess := openDocker(t, cli, dockerProgram())
			defer sess.Close()

			gomock.InOrder(expectRun(t, cli, "cid", "echo 42", "", tt.stderr, 137)...)

			res, err := sess.Run(context.Background(), nil, dockerProgram().Limits)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Outcome != submission.OutcomeMemoryExceeded {
				t.Fatalf("expected MemoryExceeded, got %s", res.Outcome)
			}
		})
	}
}

func TestDockerRunAfterInspectFailureUsesFreshContainer(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	sess := openDocker(t, cli, dockerProgram())
	defer sess.Close()

	calls := []any{
		cli.EXPECT().CreateAndStartContainer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("first", nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "first", gomock.Any()).Return("w1", fakeExec(t, "", ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "w1").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "first", gomock.Any()).Return("r1", fakeExec(t, "42\n", ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "r1").Return(container.ExecInspect{}, stdErrors.New("daemon hiccup")),
		cli.EXPECT().ContainerKill(gomock.Any(), "first", "SIGKILL").Return(nil),
		cli.EXPECT().ContainerRemove(gomock.Any(), "first").Return(nil),
	}
	calls = append(calls, expectRun(t, cli, "second", "echo 42", "42\n", statsTrailer("0m0.010s", 1<<20, 2<<20, 0), 0)...)
	gomock.InOrder(calls...)

	ctx := context.Background()
	limits := dockerProgram().Limits

	failed, err := sess.Run(ctx, nil, limits)
	if !stdErrors.Is(err, errors.ErrSandboxFailure) {
		t.Fatalf("expected ErrSandboxFailure, got %v", err)
	}
	if failed.Outcome != submission.OutcomeSandboxFailure {
		t.Fatalf("expected SandboxFailure, got %s", failed.Outcome)
	}

	res, err := sess.Run(ctx, nil, limits)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Outcome != submission.OutcomeCompleted || string(res.Stdout) != "42\n" {
		t.Fatalf("expected the retry to complete, got %s %q", res.Outcome, res.Stdout)
	}
}

func TestDockerCompileStoresArtifactForRuns(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	program := dockerProgram()
	program.Language = dockerC
	program.Source = "int main(void) { return 0; }"
	sess := openDocker(t, cli, program)
	defer sess.Close()
	ctx := context.Background()

	binary := "\x7fELF compiled"
	gomock.InOrder(
		cli.EXPECT().CreateAndStartContainer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ *container.Config, hc *container.HostConfig, name string) (string, error) {
				if !strings.Contains(name, "-build-") {
					t.Errorf("unexpected build container name %q", name)
				}
				if want := (constants.CompileMemoryKB + constants.ContainerMemHeadroomKB) * 1024; hc.Resources.Memory != want {
					t.Errorf("expected compile memory %d, got %d", want, hc.Resources.Memory)
				}
				return "build", nil
			}),
		cli.EXPECT().ExecAttach(gomock.Any(), "build", gomock.Any()).Return("src", fakeExecWithInput(t, program.Source, "", ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "src").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "build", gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, opts container.ExecOptions) (string, types.HijackedResponse, error) {
				if opts.Cmd[0] != "timeout" || !strings.Contains(strings.Join(opts.Cmd, " "), "gcc -o /sandbox/main /sandbox/main.c") {
					t.Errorf("unexpected compile command %v", opts.Cmd)
				}
				return "cc", fakeExec(t, "", ""), nil
			}),
		cli.EXPECT().ExecInspect(gomock.Any(), "cc").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "build", gomock.Any()).Return("cat", fakeExec(t, binary, ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "cat").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ContainerRemove(gomock.Any(), "build").Return(nil),
	)

	compiled, err := sess.Compile(ctx)
	if err != nil || !compiled.OK {
		t.Fatalf("expected a successful compile, got %+v %v", compiled, err)
	}

	gomock.InOrder(expectRun(t, cli, "run", binary, "", statsTrailer("0m0.001s", 1<<20, 1<<20, 0), 0)...)

	res, err := sess.Run(ctx, nil, program.Limits)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != submission.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s", res.Outcome)
	}
}

func TestDockerCompileError(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := mocks.NewMockDockerClient(ctrl)
	program := dockerProgram()
	program.Language = dockerC
	sess := openDocker(t, cli, program)
	defer sess.Close()

	gomock.InOrder(
		cli.EXPECT().CreateAndStartContainer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("build", nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "build", gomock.Any()).Return("src", fakeExec(t, "", ""), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "src").Return(container.ExecInspect{}, nil),
		cli.EXPECT().ExecAttach(gomock.Any(), "build", gomock.Any()).Return("cc", fakeExec(t, "", "main.c:1: error\n"), nil),
		cli.EXPECT().ExecInspect(gomock.Any(), "cc").Return(container.ExecInspect{ExitCode: 1}, nil),
		cli.EXPECT().ContainerRemove(gomock.Any(), "build").Return(nil),
	)

	compiled, err := sess.Compile(context.Background())
	if err != nil {
		t.Fatalf("a compile error is not a sandbox failure: %v", err)
	}
	if compiled.OK || !strings.Contains(compiled.Output, "error") {
		t.Fatalf("expected a failed compile with output, got %+v", compiled)
	}

	if _, err := sess.Run(context.Background(), nil, program.Limits); !stdErrors.Is(err, errors.ErrSandboxFailure) {
		t.Fatalf("expected ErrSandboxFailure without an artifact, got %v", err)
	}
}
