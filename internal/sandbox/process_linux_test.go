//go:build linux

package sandbox_test

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

var shellLanguage = languages.Language{
	ID:         "sh",
	Name:       "Shell",
	SourceFile: "main.sh",
	Run:        "/bin/sh {src}",
}

// "Compiles" by copying the script, so the compile step can be exercised
// without a toolchain on the host.
var copyLanguage = languages.Language{
	ID:         "sh-copy",
	Name:       "Shell (copied)",
	SourceFile: "main.sh",
	BinaryFile: "main.bin",
	Compile:    "/bin/sh -c 'grep -q BROKEN {src} && { echo broken script >&2; exit 1; }; cp {src} {bin}'",
	Run:        "/bin/sh {bin}",
}

func defaultLimits() submission.ProblemLimits {
	return submission.ProblemLimits{
		CPUTime:       time.Second,
		WallTimeGrace: 500 * time.Millisecond,
		MemoryKB:      256 * 1024,
		OutputBytes:   1024,
	}
}

func openSession(t *testing.T, lang languages.Language, source string) sandbox.Session {
	t.Helper()
	sb, err := sandbox.NewProcessSandbox(sandbox.Options{ScratchDir: t.TempDir(), AllowUnconfined: true})
	if err != nil {
		t.Fatalf("failed to create sandbox: %v", err)
	}
	sess, err := sb.Open(context.Background(), sandbox.Program{
		SubmissionID: "sub-1",
		Language:     lang,
		Source:       source,
		Limits:       defaultLimits(),
	})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func run(t *testing.T, sess sandbox.Session, input string, limits submission.ProblemLimits) submission.ExecutionResult {
	t.Helper()
	res, err := sess.Run(context.Background(), []byte(input), limits)
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	return res
}

func TestProcessSandbox_Completed(t *testing.T) {
	sess := openSession(t, shellLanguage, "read x\necho $((x * 2))\n")

	res := run(t, sess, "21\n", defaultLimits())
	if res.Outcome != submission.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (exit %d, stderr %q)", res.Outcome, res.ExitCode, res.Stderr)
	}
	if string(res.Stdout) != "42\n" {
		t.Fatalf("expected stdout %q, got %q", "42\n", res.Stdout)
	}
	if res.PeakMemoryKB <= 0 {
		t.Fatalf("expected peak memory to be measured, got %d", res.PeakMemoryKB)
	}
}

func TestProcessSandbox_SessionIsReusable(t *testing.T) {
	sess := openSession(t, shellLanguage, "cat\n")
	for _, input := range []string{"a\n", "b\n", "c\n"} {
		res := run(t, sess, input, defaultLimits())
		if string(res.Stdout) != input {
			t.Fatalf("expected %q, got %q", input, res.Stdout)
		}
	}
}

func TestProcessSandbox_RuntimeCrash(t *testing.T) {
	sess := openSession(t, shellLanguage, "echo partial\nexit 3\n")

	res := run(t, sess, "", defaultLimits())
	if res.Outcome != submission.OutcomeRuntimeCrash {
		t.Fatalf("expected RuntimeCrash, got %s", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestProcessSandbox_BusyLoopIsPreempted(t *testing.T) {
	sess := openSession(t, shellLanguage, "while :; do :; done\n")
	limits := defaultLimits()
	limits.CPUTime = 200 * time.Millisecond
	limits.WallTimeGrace = 300 * time.Millisecond

	start := time.Now()
	res := run(t, sess, "", limits)
	elapsed := time.Since(start)

	if res.Outcome != submission.OutcomeTimedOut {
		t.Fatalf("expected TimedOut, got %s", res.Outcome)
	}
	if elapsed > limits.WallTime()+2*time.Second {
		t.Fatalf("run was not preempted in time: took %s", elapsed)
	}
}

func TestProcessSandbox_SleepIsPreemptedByWallClock(t *testing.T) {
	sess := openSession(t, shellLanguage, "sleep 30\n")
	limits := defaultLimits()
	limits.CPUTime = 100 * time.Millisecond
	limits.WallTimeGrace = 200 * time.Millisecond

	start := time.Now()
	res := run(t, sess, "", limits)
	if res.Outcome != submission.OutcomeTimedOut {
		t.Fatalf("expected TimedOut, got %s", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("sleeping child survived the wall clock kill: took %s", elapsed)
	}
}

func TestProcessSandbox_OutputExceeded(t *testing.T) {
	sess := openSession(t, shellLanguage, "while :; do echo aaaaaaaaaaaaaaaa; done\n")

	res := run(t, sess, "", defaultLimits())
	if res.Outcome != submission.OutcomeOutputExceeded {
		t.Fatalf("expected OutputExceeded, got %s", res.Outcome)
	}
	if len(res.Stdout) > 1024 {
		t.Fatalf("stdout was not capped: %d bytes", len(res.Stdout))
	}
}

func TestProcessSandbox_EmptyEnvironment(t *testing.T) {
	t.Setenv("JUDGE_SECRET", "leaked")
	sess := openSession(t, shellLanguage, "echo \"[$JUDGE_SECRET]\"\n")

	res := run(t, sess, "", defaultLimits())
	if strings.TrimSpace(string(res.Stdout)) != "[]" {
		t.Fatalf("host environment leaked into the sandbox: %q", res.Stdout)
	}
}

func TestProcessSandbox_Compile(t *testing.T) {
	sess := openSession(t, copyLanguage, "echo compiled\n")

	cres, err := sess.Compile(context.Background())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if !cres.OK {
		t.Fatalf("expected compilation to succeed, output: %s", cres.Output)
	}
	res := run(t, sess, "", defaultLimits())
	if string(res.Stdout) != "compiled\n" {
		t.Fatalf("expected compiled program output, got %q", res.Stdout)
	}
}

func TestProcessSandbox_CompileError(t *testing.T) {
	sess := openSession(t, copyLanguage, "BROKEN\n")

	cres, err := sess.Compile(context.Background())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	if cres.OK {
		t.Fatalf("expected compilation to fail")
	}
	if !strings.Contains(cres.Output, "broken script") {
		t.Fatalf("expected compiler output to be captured, got %q", cres.Output)
	}
}

func TestProcessSandbox_InterpretedLanguageSkipsCompile(t *testing.T) {
	sess := openSession(t, shellLanguage, "echo hi\n")
	cres, err := sess.Compile(context.Background())
	if err != nil || !cres.OK {
		t.Fatalf("expected no-op compile to succeed, got %+v, %v", cres, err)
	}
}

func TestProcessSandbox_CancelPreempts(t *testing.T) {
	sess := openSession(t, shellLanguage, "sleep 30\n")
	limits := defaultLimits()
	limits.CPUTime = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := sess.Run(ctx, nil, limits)
	if !stdErrors.Is(err, errors.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("cancellation did not preempt the run: took %s", elapsed)
	}
}

func TestProcessSandbox_CloseRemovesWorkDir(t *testing.T) {
	scratch := t.TempDir()
	sb, err := sandbox.NewProcessSandbox(sandbox.Options{ScratchDir: scratch, AllowUnconfined: true})
	if err != nil {
		t.Fatalf("failed to create sandbox: %v", err)
	}
	sess, err := sb.Open(context.Background(), sandbox.Program{SubmissionID: "sub/../2", Language: shellLanguage, Source: "true\n"})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected work dir to be removed, found %d entries", len(entries))
	}
	if _, err := sess.Run(context.Background(), nil, defaultLimits()); !stdErrors.Is(err, errors.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
}

func TestProcessSandbox_BackgroundChildrenDoNotOutliveRun(t *testing.T) {
	escaped := filepath.Join(t.TempDir(), "escaped")
	source := fmt.Sprintf("( sleep 1; echo alive > %s ) >/dev/null 2>&1 &\necho ok\n", escaped)
	sess := openSession(t, shellLanguage, source)

	res := run(t, sess, "", defaultLimits())
	if res.Outcome != submission.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s", res.Outcome)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	time.Sleep(2 * time.Second)
	if _, err := os.Stat(escaped); err == nil {
		t.Fatalf("a background child survived the run and wrote %s", escaped)
	}
}

func TestProcessSandbox_RunsInOwnNamespaces(t *testing.T) {
	if !sandbox.NamespacesSupported() {
		t.Skip("namespaces are not available on this host")
	}
	sess := openSession(t, shellLanguage, "echo $$\ncat /proc/net/dev\n")

	res := run(t, sess, "", defaultLimits())
	if res.Outcome != submission.OutcomeCompleted {
		t.Fatalf("expected Completed, got %s (stderr %q)", res.Outcome, res.Stderr)
	}
	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	pid, err := strconv.Atoi(lines[0])
	if err != nil || pid > 2 {
		t.Fatalf("expected a low pid inside a fresh pid namespace, got %q", lines[0])
	}
	for _, line := range lines[1:] {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if iface := strings.TrimSpace(name); iface != "lo" {
			t.Fatalf("expected only the loopback interface, found %q", iface)
		}
	}
}

func TestNewProcessSandboxRequiresNamespacesUnlessAllowed(t *testing.T) {
	_, err := sandbox.NewProcessSandbox(sandbox.Options{ScratchDir: t.TempDir()})
	if sandbox.NamespacesSupported() {
		if err != nil {
			t.Fatalf("expected a confined sandbox, got %v", err)
		}
		return
	}
	if !stdErrors.Is(err, errors.ErrSandboxFailure) {
		t.Fatalf("expected ErrSandboxFailure without namespaces, got %v", err)
	}
}
