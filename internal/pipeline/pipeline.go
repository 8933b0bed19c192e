package pipeline

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/catalog"
	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/queue"
	"github.com/mini-maxit/judge/internal/sandbox"
	"github.com/mini-maxit/judge/internal/stages/compiler"
	"github.com/mini-maxit/judge/internal/stages/evaluator"
	"github.com/mini-maxit/judge/pkg/constants"
	customErr "github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

type Worker interface {
	// Run claims and judges submissions until ctx is done.
	Run(ctx context.Context) error
	// ProcessSubmission judges one claimed submission end to end and commits
	// its verdict. A panic is recovered and treated as a crash.
	ProcessSubmission(ctx context.Context, sub *submission.Submission)
	// Cancel interrupts the submission currently processed, if it is id.
	Cancel(id string) bool
	GetState() WorkerState
	GetId() int
	GetName() string
}

type WorkerState struct {
	Status                 constants.WorkerStatus `json:"status"`
	ProcessingSubmissionID string                 `json:"processing_submission_id"`
}

type Options struct {
	HeartbeatInterval time.Duration
	WallTimeGrace     time.Duration
	// ShutdownTimeout bounds the requeue of an interrupted submission after
	// ctx is done.
	ShutdownTimeout time.Duration
}

type worker struct {
	id        int
	name      string
	queue     queue.Queue
	machine   lifecycle.Machine
	catalog   catalog.Catalog
	sandbox   sandbox.Sandbox
	compiler  compiler.Compiler
	evaluator evaluator.Evaluator
	opts      Options

	mu        sync.Mutex
	state     WorkerState
	cancel    context.CancelFunc
	cancelled bool

	logger *zap.SugaredLogger
}

// WorkerName is the id a worker claims submissions under. The node prefix
// lets a restarted node find the submissions it held.
func WorkerName(nodeID string, id int) string {
	return fmt.Sprintf("%s/worker-%d", nodeID, id)
}

func NewWorker(
	id int,
	nodeID string,
	q queue.Queue,
	machine lifecycle.Machine,
	cat catalog.Catalog,
	sb sandbox.Sandbox,
	comp compiler.Compiler,
	eval evaluator.Evaluator,
	opts Options,
) Worker {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &worker{
		id:        id,
		name:      WorkerName(nodeID, id),
		queue:     q,
		machine:   machine,
		catalog:   cat,
		sandbox:   sb,
		compiler:  comp,
		evaluator: eval,
		opts:      opts,
		state:     WorkerState{Status: constants.WorkerStatusIdle},
		logger:    logger.NewNamedLogger(fmt.Sprintf("worker-%d", id)),
	}
}

func (ws *worker) GetId() int {
	return ws.id
}

func (ws *worker) GetName() string {
	return ws.name
}

func (ws *worker) GetState() WorkerState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

func (ws *worker) Cancel(id string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state.ProcessingSubmissionID != id || ws.cancel == nil {
		return false
	}
	ws.cancelled = true
	ws.cancel()
	return true
}

func (ws *worker) cancelledLocally() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.cancelled
}

func (ws *worker) Run(ctx context.Context) error {
	for {
		sub, err := ws.queue.Claim(ctx, ws.name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ws.logger.Errorf("Failed to claim submission: %s", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		ws.ProcessSubmission(ctx, sub)
	}
}

func (ws *worker) ProcessSubmission(ctx context.Context, sub *submission.Submission) {
	jobCtx, cancel := context.WithCancel(ctx)
	ws.begin(sub.ID, cancel)
	defer ws.finish()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ws.logger.Errorf("Worker panicked: %v [SubID: %s]", r, sub.ID)
			ws.requeue(sub.ID, "panic")
		}
	}()

	ws.logger.Infof("Processing submission, attempt %d [SubID: %s]", sub.Attempts, sub.ID)

	hb := ws.startHeartbeat(jobCtx, cancel, sub.ID)
	verdict, err := ws.judge(jobCtx, sub)
	hb.stop()

	switch {
	case hb.lost():
		ws.logger.Warnf("Lost ownership while judging, dropping result [SubID: %s]", sub.ID)
		return
	case err == nil:
	case hb.cancelRequested(), ws.cancelledLocally():
		verdict = submission.CancelledVerdict()
	case ctx.Err() != nil:
		ws.logger.Warnf("Interrupted by shutdown [SubID: %s]", sub.ID)
		ws.requeue(sub.ID, "shutdown")
		return
	case stdErrors.Is(err, customErr.ErrProblemNotFound), stdErrors.Is(err, customErr.ErrLanguageNotFound):
		verdict = submission.InternalErrorVerdict(err.Error())
	default:
		ws.logger.Errorf("Failed to judge submission: %s [SubID: %s]", err, sub.ID)
		ws.requeue(sub.ID, err.Error())
		return
	}

	// A verdict reached before shutdown is still committed.
	done, err := ws.machine.Complete(context.WithoutCancel(ctx), sub.ID, ws.name, verdict)
	if err != nil {
		ws.logger.Errorf("Failed to commit verdict %s: %s [SubID: %s]", verdict.Status, err, sub.ID)
		return
	}
	ws.logger.Infof("Finished with %s, score %.2f [SubID: %s]", done.State, verdict.Score, sub.ID)
}

// judge runs the compile and evaluation stages. It returns an error only for
// cancellation and catalog failures; everything else is a verdict.
func (ws *worker) judge(ctx context.Context, sub *submission.Submission) (submission.Verdict, error) {
	snap, err := catalog.Load(ctx, ws.catalog, sub.ProblemID, sub.LanguageID)
	if err != nil {
		return submission.Verdict{}, err
	}

	limits := snap.Problem.Limits
	limits.WallTimeGrace = ws.opts.WallTimeGrace
	limits = limits.Scaled(snap.Language.TimeFactor)

	program := sandbox.Program{
		SubmissionID: sub.ID,
		Language:     snap.Language,
		Source:       sub.Source,
		Limits:       limits,
	}
	sess, err := ws.open(ctx, program)
	if err != nil {
		if stdErrors.Is(err, customErr.ErrCancelled) {
			return submission.Verdict{}, err
		}
		ws.logger.Errorf("Failed to open sandbox: %s [SubID: %s]", err, sub.ID)
		return submission.InternalErrorVerdict("judge failure while preparing the sandbox"), nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			ws.logger.Errorf("Failed to close sandbox: %s [SubID: %s]", err, sub.ID)
		}
	}()

	compileVerdict, err := ws.compiler.CompileIfNeeded(ctx, sess, sub.ID)
	if err != nil {
		return submission.Verdict{}, err
	}
	if compileVerdict != nil {
		return *compileVerdict, nil
	}

	return ws.evaluator.Evaluate(ctx, sess, evaluator.Request{
		SubmissionID: sub.ID,
		TestCases:    snap.TestCases,
		Limits:       limits,
		Compare:      snap.Problem.Compare,
		Scoring:      snap.Problem.Scoring,
	})
}

func (ws *worker) open(ctx context.Context, program sandbox.Program) (sandbox.Session, error) {
	sess, err := ws.sandbox.Open(ctx, program)
	if err == nil || !stdErrors.Is(err, customErr.ErrSandboxFailure) {
		return sess, err
	}
	ws.logger.Warnf("Retrying sandbox creation after: %s [SubID: %s]", err, program.SubmissionID)
	return ws.sandbox.Open(ctx, program)
}

func (ws *worker) requeue(id, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), ws.opts.ShutdownTimeout)
	defer cancel()
	if _, err := ws.queue.Requeue(ctx, id, ws.name, reason); err != nil {
		ws.logger.Errorf("Failed to requeue submission: %s [SubID: %s]", err, id)
	}
}

func (ws *worker) begin(id string, cancel context.CancelFunc) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state = WorkerState{Status: constants.WorkerStatusBusy, ProcessingSubmissionID: id}
	ws.cancel = cancel
	ws.cancelled = false
}

func (ws *worker) finish() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state = WorkerState{Status: constants.WorkerStatusIdle}
	ws.cancel = nil
	ws.cancelled = false
}
