package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// Assign binds a PENDING job to an IDLE worker. The job row is claimed
// first; if the worker stopped being available in the meantime the claim
// is rolled back and ErrWorkerUnavailable is returned.
func (c *Coordinator) Assign(ctx context.Context, jobID, workerID uuid.UUID) (*core.Job, error) {
	w, err := c.registry.Get(workerID)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", workerID, core.ErrWorkerUnavailable)
	}
	if w.Status != core.WorkerStatusIdle {
		return nil, fmt.Errorf("worker %s is %s: %w", workerID, w.Status, core.ErrWorkerUnavailable)
	}

	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != core.JobStatusPending {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, core.ErrAlreadyAssigned)
	}

	now := c.now()
	assigned := job.Clone()
	assigned.Status = core.JobStatusAssigned
	assigned.AssignedWorkerID = &workerID
	assigned.StartedAt = &now
	assigned.UpdatedAt = now
	if err := c.jobs.UpdateJob(ctx, assigned, core.JobStatusPending); err != nil {
		if errors.Is(err, core.ErrStatusMismatch) {
			return nil, fmt.Errorf("job %s: %w", jobID, core.ErrAlreadyAssigned)
		}
		return nil, fmt.Errorf("assign job: %w", err)
	}

	busy, err := c.registry.MarkBusy(workerID, jobID)
	if err != nil {
		c.revertAssignment(ctx, assigned)
		if errors.Is(err, core.ErrAlreadyAssigned) {
			return nil, err
		}
		return nil, fmt.Errorf("worker %s: %w", workerID, core.ErrWorkerUnavailable)
	}
	c.saveWorker(ctx, busy)

	c.logger.Info("Job assigned", "job_id", jobID, "worker_id", workerID)
	metrics.JobsAssigned.Inc()
	c.publish(core.JobAssigned{JobID: jobID, WorkerID: workerID, Worker: busy.Clone(), AssignedAt: now})
	return assigned, nil
}

func (c *Coordinator) revertAssignment(ctx context.Context, assigned *core.Job) {
	pending := assigned.Clone()
	pending.Status = core.JobStatusPending
	pending.AssignedWorkerID = nil
	pending.StartedAt = nil
	pending.UpdatedAt = c.now()
	if err := c.jobs.UpdateJob(ctx, pending, core.JobStatusAssigned); err != nil {
		c.logger.Error("Failed to roll back assignment", "job_id", assigned.ID, "error", err)
	}
}

// PendingJobs lists up to limit PENDING jobs, oldest first.
func (c *Coordinator) PendingJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	return c.jobs.ListPendingJobs(ctx, limit)
}

// IdleWorkers lists IDLE workers, longest connected first.
func (c *Coordinator) IdleWorkers() []*core.Worker {
	return c.registry.IdleWorkers()
}
