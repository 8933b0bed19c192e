package service

import (
	"context"
	stdErrors "errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/cache"
	"github.com/mini-maxit/judge/internal/catalog"
	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/queue"
	"github.com/mini-maxit/judge/internal/scheduler"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/messages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Requester is the identity a request is made on behalf of.
type Requester struct {
	ID    string
	Admin bool
}

func (r Requester) canRead(sub *submission.Submission) bool {
	return r.Admin || (r.ID != "" && r.ID == sub.OwnerID)
}

// Service is the judge surface shared by the HTTP API and the AMQP consumer.
type Service interface {
	Submit(ctx context.Context, req messages.SubmitPayload) (string, error)
	GetStatus(ctx context.Context, id string, requester Requester) (submission.Status, error)
	Cancel(ctx context.Context, id string, requester Requester) (submission.Status, error)
	Rejudge(ctx context.Context, id string, requester Requester) (submission.Status, error)
	Languages(ctx context.Context) ([]languages.LanguageSpec, error)
	Workers() messages.ResponseWorkerStatusPayload
}

type Options struct {
	MaxSourceBytes int
	// OnBusy is called for every submission rejected because the queue is full.
	OnBusy func()
}

type service struct {
	queue     queue.Queue
	machine   lifecycle.Machine
	catalog   catalog.Catalog
	cache     cache.StatusCache
	scheduler scheduler.Scheduler
	opts      Options
	newID     func() string
	logger    *zap.SugaredLogger
}

// NewService wires the judge surface. The status cache and scheduler are
// optional: without a cache statuses are read from the store, without a
// scheduler cancellation relies on heartbeats only.
func NewService(
	q queue.Queue,
	machine lifecycle.Machine,
	cat catalog.Catalog,
	statusCache cache.StatusCache,
	sched scheduler.Scheduler,
	opts Options,
) Service {
	return &service{
		queue:     q,
		machine:   machine,
		catalog:   cat,
		cache:     statusCache,
		scheduler: sched,
		opts:      opts,
		newID:     uuid.NewString,
		logger:    logger.NewNamedLogger("service"),
	}
}

func (s *service) Submit(ctx context.Context, req messages.SubmitPayload) (string, error) {
	if err := s.validate(ctx, req); err != nil {
		return "", err
	}

	sub, err := s.queue.Enqueue(ctx, &submission.Submission{
		ID:         s.newID(),
		OwnerID:    req.OwnerID,
		ProblemID:  req.ProblemID,
		LanguageID: strings.ToLower(req.LanguageID),
		Source:     req.SourceCode,
	})
	if err != nil {
		if stdErrors.Is(err, errors.ErrBusy) && s.opts.OnBusy != nil {
			s.opts.OnBusy()
		}
		return "", err
	}
	return sub.ID, nil
}

func (s *service) validate(ctx context.Context, req messages.SubmitPayload) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return errors.NewValidationError("owner_id", "is required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return errors.NewValidationError("source_code", "is required")
	}
	if len(req.SourceCode) > s.opts.MaxSourceBytes {
		return errors.NewValidationError("source_code", "exceeds the maximum source size")
	}
	if !utf8.ValidString(req.SourceCode) {
		return errors.NewValidationError("source_code", "is not valid UTF-8")
	}

	problem, err := s.catalog.Problem(ctx, req.ProblemID)
	if stdErrors.Is(err, errors.ErrProblemNotFound) || (err == nil && !problem.Active) {
		return errors.NewValidationError("problem_id", "unknown or inactive problem")
	}
	if err != nil {
		return err
	}

	_, err = s.catalog.Language(ctx, req.LanguageID)
	if stdErrors.Is(err, errors.ErrLanguageNotFound) {
		return errors.NewValidationError("language_id", "unknown or inactive language")
	}
	return err
}

func (s *service) GetStatus(ctx context.Context, id string, requester Requester) (submission.Status, error) {
	if s.cache != nil {
		st, err := s.cache.Get(ctx, id)
		if err == nil {
			if !requester.Admin && (requester.ID == "" || requester.ID != st.OwnerID) {
				return submission.Status{}, errors.ErrNotFound
			}
			return st, nil
		}
		if !stdErrors.Is(err, errors.ErrNotFound) {
			s.logger.Warnf("Status cache unavailable, reading store: %s [SubID: %s]", err, id)
		}
	}

	sub, err := s.readable(ctx, id, requester)
	if err != nil {
		return submission.Status{}, err
	}
	st := submission.StatusOf(sub)
	if s.cache != nil {
		if _, err := s.cache.Put(ctx, st); err != nil {
			s.logger.Warnf("Failed to refill status cache: %s [SubID: %s]", err, id)
		}
	}
	return st, nil
}

func (s *service) Cancel(ctx context.Context, id string, requester Requester) (submission.Status, error) {
	if _, err := s.readable(ctx, id, requester); err != nil {
		return submission.Status{}, err
	}

	sub, err := s.machine.Cancel(ctx, id)
	if err != nil {
		return submission.Status{}, err
	}
	if sub.CancelRequested && s.scheduler != nil && s.scheduler.CancelSubmission(id) {
		s.logger.Infof("Interrupted local worker [SubID: %s]", id)
	}
	return submission.StatusOf(sub), nil
}

func (s *service) Rejudge(ctx context.Context, id string, requester Requester) (submission.Status, error) {
	if !requester.Admin {
		return submission.Status{}, errors.ErrForbidden
	}
	sub, err := s.machine.Rejudge(ctx, id)
	if err != nil {
		return submission.Status{}, err
	}
	s.queue.Notify()
	s.logger.Infof("Rejudge requested by %s [SubID: %s]", requester.ID, id)
	return submission.StatusOf(sub), nil
}

func (s *service) Languages(ctx context.Context) ([]languages.LanguageSpec, error) {
	langs, err := s.catalog.Languages(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]languages.LanguageSpec, len(langs))
	for i, l := range langs {
		specs[i] = l.Spec()
	}
	return specs, nil
}

func (s *service) Workers() messages.ResponseWorkerStatusPayload {
	if s.scheduler == nil {
		return messages.ResponseWorkerStatusPayload{WorkerStatus: []messages.WorkerStatus{}}
	}
	return s.scheduler.GetWorkersStatus()
}

// readable loads a submission the requester may see. Others get ErrNotFound
// so ids of foreign submissions are not disclosed.
func (s *service) readable(ctx context.Context, id string, requester Requester) (*submission.Submission, error) {
	sub, err := s.machine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requester.canRead(sub) {
		return nil, errors.ErrNotFound
	}
	return sub, nil
}
