package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// Recover reconciles the store with an empty registry after a restart.
// Every stored worker goes OFFLINE, ASSIGNED jobs return to PENDING, and
// RUNNING jobs fail because their progress is lost. It must run before
// the transports and periodic tasks start.
func (c *Coordinator) Recover(ctx context.Context) error {
	n, err := c.workers.MarkWorkersOffline(ctx)
	if err != nil {
		return fmt.Errorf("mark workers offline: %w", err)
	}

	requeued, failed := 0, 0
	for _, status := range []core.JobStatus{core.JobStatusAssigned, core.JobStatusRunning} {
		jobs, _, err := c.jobs.ListJobs(ctx, core.JobFilter{Status: &status})
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			ok, err := c.recoverJob(ctx, job, reasonRestart)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if status == core.JobStatusAssigned {
				requeued++
			} else {
				failed++
			}
		}
	}

	c.logger.Info("Recovered state after restart", "workers_offline", n, "jobs_requeued", requeued, "jobs_failed", failed)
	return nil
}

// ReconcileOrphans finds active jobs that no live worker holds and that
// have not changed since cutoff. These are left behind when a worker
// vanished between a store write and a registry update.
func (c *Coordinator) ReconcileOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	fixed := 0
	for _, status := range []core.JobStatus{core.JobStatusAssigned, core.JobStatusRunning} {
		jobs, _, err := c.jobs.ListJobs(ctx, core.JobFilter{Status: &status})
		if err != nil {
			return fixed, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if !job.UpdatedAt.Before(cutoff) {
				continue
			}
			if _, held := c.registry.AssignedWorker(job.ID); held {
				continue
			}
			ok, err := c.recoverJob(ctx, job, reasonWorkerLost)
			if err != nil {
				return fixed, err
			}
			if ok {
				c.logger.Warn("Reconciled orphaned job", "job_id", job.ID, "status", job.Status)
				fixed++
			}
		}
	}
	return fixed, nil
}

// recoverJob requeues an ASSIGNED job or fails a RUNNING one. It reports
// false when the job moved on concurrently.
func (c *Coordinator) recoverJob(ctx context.Context, job *core.Job, reason string) (bool, error) {
	now := c.now()

	var next *core.Job
	if job.Status == core.JobStatusAssigned {
		next = job.Clone()
		next.LastWorkerID = next.AssignedWorkerID
		next.Status = core.JobStatusPending
		next.AssignedWorkerID = nil
		next.StartedAt = nil
		next.UpdatedAt = now
	} else {
		next = releaseJob(job, core.JobStatusFailed, now)
		next.ErrorMessage = &reason
	}

	if err := c.jobs.UpdateJob(ctx, next, job.Status); err != nil {
		if errors.Is(err, core.ErrConflict) || errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("recover job %s: %w", job.ID, err)
	}

	if next.Status == core.JobStatusPending {
		c.publish(core.JobRequeued{Job: next.Clone(), Reason: reason, At: now})
	} else {
		metrics.JobsFinished.WithLabelValues(string(core.JobStatusFailed)).Inc()
		c.publish(core.JobFailed{Job: next.Clone(), At: now})
	}
	return true, nil
}
