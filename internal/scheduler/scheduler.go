package scheduler

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/pipeline"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/messages"
)

type Scheduler interface {
	// Run starts every worker and blocks until ctx is done and all workers
	// have returned.
	Run(ctx context.Context) error
	GetWorkersStatus() messages.ResponseWorkerStatusPayload
	BusyWorkers() int
	// CancelSubmission interrupts the worker processing id on this node.
	CancelSubmission(id string) bool
}

type scheduler struct {
	workers    map[int]pipeline.Worker
	maxWorkers int
	logger     *zap.SugaredLogger
}

// NewScheduler builds a pool of maxWorkers workers using newWorker.
func NewScheduler(maxWorkers int, newWorker func(id int) pipeline.Worker) Scheduler {
	workers := make(map[int]pipeline.Worker, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		workers[i] = newWorker(i)
	}
	return NewSchedulerWithWorkers(workers)
}

func NewSchedulerWithWorkers(workers map[int]pipeline.Worker) Scheduler {
	return &scheduler{
		workers:    workers,
		maxWorkers: len(workers),
		logger:     logger.NewNamedLogger("workerPool"),
	}
}

func (s *scheduler) Run(ctx context.Context) error {
	s.logger.Infof("Starting %d workers", s.maxWorkers)

	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w pipeline.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				s.logger.Errorf("Worker stopped with error: %s [WorkerID: %d]", err, w.GetId())
			}
		}(w)
	}
	wg.Wait()

	s.logger.Info("All workers stopped")
	return nil
}

func (s *scheduler) GetWorkersStatus() messages.ResponseWorkerStatusPayload {
	ids := make([]int, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	statuses := make([]messages.WorkerStatus, 0, len(ids))
	busy := 0
	for _, id := range ids {
		state := s.workers[id].GetState()
		if state.Status == constants.WorkerStatusBusy {
			busy++
		}
		statuses = append(statuses, messages.WorkerStatus{
			WorkerID:               id,
			Status:                 state.Status,
			ProcessingSubmissionID: state.ProcessingSubmissionID,
		})
	}

	return messages.ResponseWorkerStatusPayload{
		BusyWorkers:  busy,
		TotalWorkers: s.maxWorkers,
		WorkerStatus: statuses,
	}
}

func (s *scheduler) BusyWorkers() int {
	busy := 0
	for _, w := range s.workers {
		if w.GetState().Status == constants.WorkerStatusBusy {
			busy++
		}
	}
	return busy
}

func (s *scheduler) CancelSubmission(id string) bool {
	for _, w := range s.workers {
		if w.Cancel(id) {
			s.logger.Infof("Interrupted worker [WorkerID: %d] [SubID: %s]", w.GetId(), id)
			return true
		}
	}
	return false
}
