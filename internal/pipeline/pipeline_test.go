package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/judge/internal/catalog"
	"github.com/mini-maxit/judge/internal/lifecycle"
	. "github.com/mini-maxit/judge/internal/pipeline"
	"github.com/mini-maxit/judge/internal/queue"
	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/internal/stages/evaluator"
	"github.com/mini-maxit/judge/internal/store"
	"github.com/mini-maxit/judge/pkg/constants"
	pkgerrors "github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
	mocks "github.com/mini-maxit/judge/tests/mocks"
)

const nodeID = "node-1"

type fixture struct {
	machine   lifecycle.Machine
	queue     queue.Queue
	sandbox   *mocks.MockSandbox
	session   *mocks.MockSession
	compiler  *mocks.MockCompiler
	evaluator *mocks.MockEvaluator
	worker    Worker
}

func newFixture(t *testing.T, ctrl *gomock.Controller, heartbeat time.Duration) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	m := lifecycle.NewMachine(s)
	q := queue.NewQueue(s, m, queue.Options{
		MaxActive:    10,
		MaxAttempts:  2,
		LeaseTTL:     time.Minute,
		PollInterval: 10 * time.Millisecond,
	})

	cat := catalog.NewStaticCatalog(languages.Default())
	cat.Put(submission.Problem{
		ID:      "p1",
		Limits:  submission.ProblemLimits{CPUTime: time.Second, MemoryKB: 65536},
		Compare: submission.ComparePolicy{Mode: submission.CompareExact},
		Active:  true,
	}, []submission.TestCase{{ProblemID: "p1", Position: 0, Input: []byte("1"), ExpectedOutput: []byte("1")}})

	f := &fixture{
		machine:   m,
		queue:     q,
		sandbox:   mocks.NewMockSandbox(ctrl),
		session:   mocks.NewMockSession(ctrl),
		compiler:  mocks.NewMockCompiler(ctrl),
		evaluator: mocks.NewMockEvaluator(ctrl),
	}
	f.worker = NewWorker(0, nodeID, q, m, cat, f.sandbox, f.compiler, f.evaluator, Options{
		HeartbeatInterval: heartbeat,
		WallTimeGrace:     500 * time.Millisecond,
	})
	return f
}

func (f *fixture) claim(t *testing.T, problemID, languageID string) *submission.Submission {
	t.Helper()
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, &submission.Submission{
		ID:         fmt.Sprintf("sub-%s-%d", problemID, time.Now().UnixNano()),
		OwnerID:    "u1",
		ProblemID:  problemID,
		LanguageID: languageID,
		Source:     "int main(){}",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	sub, err := f.queue.TryClaim(ctx, f.worker.GetName())
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	return sub
}

func (f *fixture) state(t *testing.T, id string) *submission.Submission {
	t.Helper()
	sub, err := f.machine.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return sub
}

func TestProcessSubmission_SuccessFlow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p sandbox.Program) (sandbox.Session, error) {
			if p.SubmissionID != sub.ID || p.Language.ID != "cpp17" {
				t.Fatalf("unexpected program %+v", p)
			}
			if p.Limits.WallTimeGrace != 500*time.Millisecond {
				t.Fatalf("expected wall time grace to be applied, got %s", p.Limits.WallTimeGrace)
			}
			return f.session, nil
		})
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), f.session, sub.ID).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), f.session, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ sandbox.Session, req evaluator.Request) (submission.Verdict, error) {
			if len(req.TestCases) != 1 || req.Compare.Mode != submission.CompareExact {
				t.Fatalf("unexpected request %+v", req)
			}
			return submission.Verdict{Status: submission.StateAccepted, Score: 100}, nil
		})
	f.session.EXPECT().Close().Return(nil).Times(1)

	f.worker.ProcessSubmission(context.Background(), sub)

	got := f.state(t, sub.ID)
	if got.State != submission.StateAccepted || got.Verdict.Score != 100 {
		t.Fatalf("expected Accepted with score 100, got %s %+v", got.State, got.Verdict)
	}
	if st := f.worker.GetState(); st.Status != constants.WorkerStatusIdle || st.ProcessingSubmissionID != "" {
		t.Fatalf("expected idle worker after processing, got %+v", st)
	}
}

func TestProcessSubmission_TimeFactorScalesLimits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "python3")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p sandbox.Program) (sandbox.Session, error) {
			if p.Limits.CPUTime != 2*time.Second {
				t.Fatalf("expected CPU limit scaled to 2s, got %s", p.Limits.CPUTime)
			}
			return f.session, nil
		})
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(submission.Verdict{Status: submission.StateWrongAnswer}, nil)
	f.session.EXPECT().Close().Return(nil)

	f.worker.ProcessSubmission(context.Background(), sub)

	if got := f.state(t, sub.ID); got.State != submission.StateWrongAnswer {
		t.Fatalf("expected WrongAnswer, got %s", got.State)
	}
}

func TestProcessSubmission_CompileError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), f.session, sub.ID).Return(&submission.Verdict{
		Status:        submission.StateCompileError,
		CompileOutput: "main.cpp:1: error",
	}, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	f.session.EXPECT().Close().Return(nil).Times(1)

	f.worker.ProcessSubmission(context.Background(), sub)

	got := f.state(t, sub.ID)
	if got.State != submission.StateCompileError || got.Verdict.CompileOutput != "main.cpp:1: error" {
		t.Fatalf("expected CompileError with output, got %s %+v", got.State, got.Verdict)
	}
}

func TestProcessSubmission_SandboxUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: daemon down", pkgerrors.ErrSandboxFailure)).Times(2)

	f.worker.ProcessSubmission(context.Background(), sub)

	if got := f.state(t, sub.ID); got.State != submission.StateInternalError {
		t.Fatalf("expected InternalError, got %s", got.State)
	}
}

func TestProcessSubmission_UnknownProblem(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "missing", "cpp17")

	f.worker.ProcessSubmission(context.Background(), sub)

	got := f.state(t, sub.ID)
	if got.State != submission.StateInternalError {
		t.Fatalf("expected InternalError, got %s", got.State)
	}
}

func TestProcessSubmission_PanicRequeues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, sandbox.Session, evaluator.Request) (submission.Verdict, error) {
			panic("boom")
		})
	f.session.EXPECT().Close().Return(nil).Times(1)

	f.worker.ProcessSubmission(context.Background(), sub)

	got := f.state(t, sub.ID)
	if got.State != submission.StateRunning || got.Slot != submission.SlotPending {
		t.Fatalf("expected Running/Pending after panic, got %s/%s", got.State, got.Slot)
	}
	if st := f.worker.GetState(); st.Status != constants.WorkerStatusIdle {
		t.Fatalf("expected worker idle after panic, got %v", st.Status)
	}
}

func TestProcessSubmission_CancelFlagFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 10*time.Millisecond)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ sandbox.Session, _ evaluator.Request) (submission.Verdict, error) {
			if _, err := f.machine.Cancel(context.Background(), sub.ID); err != nil {
				t.Errorf("Cancel failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return submission.Verdict{}, fmt.Errorf("%w: %v", pkgerrors.ErrCancelled, ctx.Err())
			case <-time.After(5 * time.Second):
				return submission.Verdict{Status: submission.StateAccepted}, nil
			}
		})
	f.session.EXPECT().Close().Return(nil).Times(1)

	f.worker.ProcessSubmission(context.Background(), sub)

	if got := f.state(t, sub.ID); got.State != submission.StateCancelled {
		t.Fatalf("expected Cancelled, got %s", got.State)
	}
}

func TestProcessSubmission_LocalCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ sandbox.Session, _ evaluator.Request) (submission.Verdict, error) {
			if !f.worker.Cancel(sub.ID) {
				t.Errorf("expected worker to accept cancellation of %s", sub.ID)
			}
			<-ctx.Done()
			return submission.Verdict{}, fmt.Errorf("%w: %v", pkgerrors.ErrCancelled, ctx.Err())
		})
	f.session.EXPECT().Close().Return(nil)

	f.worker.ProcessSubmission(context.Background(), sub)

	if got := f.state(t, sub.ID); got.State != submission.StateCancelled {
		t.Fatalf("expected Cancelled, got %s", got.State)
	}
	if f.worker.Cancel(sub.ID) {
		t.Fatalf("idle worker must not accept cancellation")
	}
}

func TestProcessSubmission_ShutdownRequeues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)
	sub := f.claim(t, "p1", "cpp17")
	ctx, cancel := context.WithCancel(context.Background())

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, sandbox.Session, string) (*submission.Verdict, error) {
			cancel()
			return nil, fmt.Errorf("%w: shutting down", pkgerrors.ErrCancelled)
		})
	f.session.EXPECT().Close().Return(nil)

	f.worker.ProcessSubmission(ctx, sub)

	got := f.state(t, sub.ID)
	if got.Slot != submission.SlotPending || got.State != submission.StateRunning {
		t.Fatalf("expected submission requeued, got %s/%s", got.State, got.Slot)
	}
}

func TestRunClaimsUntilCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newFixture(t, ctrl, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := f.queue.Enqueue(ctx, &submission.Submission{ID: "run-1", ProblemID: "p1", LanguageID: "cpp17"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	f.sandbox.EXPECT().Open(gomock.Any(), gomock.Any()).Return(f.session, nil)
	f.compiler.EXPECT().CompileIfNeeded(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	f.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, sandbox.Session, evaluator.Request) (submission.Verdict, error) {
			defer cancel()
			return submission.Verdict{Status: submission.StateAccepted, Score: 100}, nil
		})
	f.session.EXPECT().Close().Return(nil)

	if err := f.worker.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := f.state(t, "run-1"); got.State != submission.StateAccepted {
		t.Fatalf("expected Accepted, got %s", got.State)
	}
}

func TestWorkerName(t *testing.T) {
	if got := WorkerName("node-1", 3); got != "node-1/worker-3" {
		t.Fatalf("unexpected worker name %q", got)
	}
}
