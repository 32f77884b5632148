package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// Assigner is what the scheduler needs from the coordinator.
type Assigner interface {
	PendingJobs(ctx context.Context, limit int) ([]*core.Job, error)
	IdleWorkers() []*core.Worker
	Assign(ctx context.Context, jobID, workerID uuid.UUID) (*core.Job, error)
}

// Scheduler pairs PENDING jobs, oldest first, with IDLE workers, longest
// connected first, on every tick.
type Scheduler struct {
	interval  time.Duration
	batchSize int
	assigner  Assigner
	logger    logging.Logger
}

func NewScheduler(interval time.Duration, batchSize int, assigner Assigner, logger logging.Logger) *Scheduler {
	return &Scheduler{
		interval:  interval,
		batchSize: batchSize,
		assigner:  assigner,
		logger:    logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started", "interval", s.interval, "batch_size", s.batchSize)
	return runEvery(ctx, s.interval, s.logger, func(ctx context.Context) { s.Tick(ctx) })
}

// Tick runs one assignment pass and returns how many jobs were assigned.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	workers := s.assigner.IdleWorkers()
	if len(workers) == 0 {
		return 0
	}
	jobs, err := s.assigner.PendingJobs(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list pending jobs", "error", err)
		return 0
	}

	assigned := 0
	for _, job := range jobs {
		for len(workers) > 0 {
			if ctx.Err() != nil {
				return assigned
			}
			worker := workers[0]
			_, err := s.assigner.Assign(ctx, job.ID, worker.ID)
			if err == nil {
				assigned++
				workers = workers[1:]
				break
			}
			if errors.Is(err, core.ErrWorkerUnavailable) {
				workers = workers[1:]
				continue
			}
			if !errors.Is(err, core.ErrAlreadyAssigned) && !errors.Is(err, core.ErrNotFound) {
				s.logger.Error("Failed to assign job", "job_id", job.ID, "worker_id", worker.ID, "error", err)
			}
			break
		}
		if len(workers) == 0 {
			break
		}
	}

	if assigned > 0 {
		s.logger.Debug("Scheduler pass finished", "assigned", assigned, "pending", len(jobs))
	}
	return assigned
}
