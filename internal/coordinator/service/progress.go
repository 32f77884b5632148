package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// ReportProgress applies a worker's update on the job it holds. RUNNING
// reports refresh counters; COMPLETED and FAILED finish the job and free
// the worker. Counters never move backwards, and replaying the final
// report of a finished job is accepted without effect.
func (c *Coordinator) ReportProgress(ctx context.Context, report core.ProgressReport) (*core.Job, error) {
	if err := validateReport(report); err != nil {
		return nil, err
	}
	if err := c.registry.Touch(report.WorkerID); err != nil {
		return nil, err
	}

	job, err := c.jobs.GetJob(ctx, report.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		if isReplay(job, report) {
			return job, nil
		}
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, core.ErrJobTerminal)
	}
	if job.AssignedWorkerID == nil || *job.AssignedWorkerID != report.WorkerID {
		return nil, fmt.Errorf("job %s, worker %s: %w", job.ID, report.WorkerID, core.ErrNotAssignee)
	}

	now := c.now()
	c.cacheProgress(ctx, core.Progress{
		JobID:          job.ID,
		WorkerID:       report.WorkerID,
		TotalItems:     max(job.TotalItems, report.TotalItems),
		ProcessedItems: max(job.ProcessedItems, report.ProcessedItems),
		FailedItems:    max(job.FailedItems, report.FailedItems),
		CurrentItem:    report.CurrentItem,
		Message:        report.Message,
		UpdatedAt:      now,
	})

	if report.Status == core.JobStatusRunning {
		return c.applyRunning(ctx, job, report)
	}
	return c.applyFinished(ctx, job, report)
}

func (c *Coordinator) applyRunning(ctx context.Context, job *core.Job, report core.ProgressReport) (*core.Job, error) {
	now := c.now()
	next := job.Clone()
	mergeCounters(next, report)
	next.Status = core.JobStatusRunning
	if next.StartedAt == nil {
		next.StartedAt = &now
	}

	changed := job.Status != next.Status || countersChanged(job, next)
	if !changed {
		return job, nil
	}
	next.UpdatedAt = now
	if err := c.jobs.UpdateJob(ctx, next, core.JobStatusAssigned, core.JobStatusRunning); err != nil {
		return nil, c.progressConflict(job, err)
	}

	if job.Status == core.JobStatusAssigned {
		c.logger.Info("Job started", "job_id", job.ID, "worker_id", report.WorkerID)
	}
	c.publish(core.JobProgressed{Job: next.Clone(), CurrentItem: report.CurrentItem, Message: report.Message, At: now})
	return next, nil
}

func (c *Coordinator) applyFinished(ctx context.Context, job *core.Job, report core.ProgressReport) (*core.Job, error) {
	now := c.now()
	merged := job.Clone()
	mergeCounters(merged, report)
	next := releaseJob(merged, report.Status, now)
	if next.StartedAt == nil {
		next.StartedAt = &now
	}
	if report.ResultLocation != "" {
		loc := report.ResultLocation
		next.ResultLocation = &loc
	}
	if report.Status == core.JobStatusFailed {
		msg := report.ErrorMessage
		if msg == "" {
			msg = report.Message
		}
		if msg == "" {
			msg = "scrape failed"
		}
		next.ErrorMessage = &msg
	}

	if err := c.jobs.UpdateJob(ctx, next, core.JobStatusAssigned, core.JobStatusRunning); err != nil {
		return nil, c.progressConflict(job, err)
	}

	c.dropProgress(ctx, job.ID)

	var (
		w   *core.Worker
		err error
	)
	if report.Status == core.JobStatusCompleted {
		w, err = c.registry.CompleteJob(report.WorkerID, job.ID, next.ProcessedItems)
	} else {
		w, err = c.registry.MarkIdle(report.WorkerID, job.ID)
	}
	if err != nil {
		// The worker was removed after the job row was written. The job
		// outcome stands; the removal path already persisted the worker.
		c.logger.Warn("Worker gone before release", "worker_id", report.WorkerID, "job_id", job.ID, "error", err)
	} else {
		c.saveWorker(ctx, w)
	}

	metrics.JobsFinished.WithLabelValues(string(report.Status)).Inc()
	if report.Status == core.JobStatusCompleted {
		c.logger.Info("Job completed", "job_id", job.ID, "worker_id", report.WorkerID, "items", next.ProcessedItems, "duration", next.Duration())
		c.publish(core.JobCompleted{Job: next.Clone(), Worker: w.Clone(), At: now})
	} else {
		c.logger.Warn("Job failed", "job_id", job.ID, "worker_id", report.WorkerID, "error", *next.ErrorMessage)
		c.publish(core.JobFailed{Job: next.Clone(), Worker: w.Clone(), At: now})
	}
	return next, nil
}

// progressConflict maps a lost compare-and-set to the error the reporter
// should see.
func (c *Coordinator) progressConflict(job *core.Job, err error) error {
	if errors.Is(err, core.ErrStatusMismatch) {
		return fmt.Errorf("job %s changed concurrently: %w", job.ID, core.ErrJobTerminal)
	}
	return fmt.Errorf("update job %s: %w", job.ID, err)
}

func validateReport(r core.ProgressReport) error {
	switch r.Status {
	case core.JobStatusRunning, core.JobStatusCompleted, core.JobStatusFailed:
	default:
		return &core.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot report status %q", r.Status)}
	}
	if r.TotalItems < 0 || r.ProcessedItems < 0 || r.FailedItems < 0 {
		return &core.ValidationError{Field: "items", Reason: "counters must not be negative"}
	}
	return nil
}

func mergeCounters(job *core.Job, r core.ProgressReport) {
	job.TotalItems = max(job.TotalItems, r.TotalItems)
	job.ProcessedItems = max(job.ProcessedItems, r.ProcessedItems)
	job.FailedItems = max(job.FailedItems, r.FailedItems)
}

func countersChanged(a, b *core.Job) bool {
	return a.TotalItems != b.TotalItems || a.ProcessedItems != b.ProcessedItems || a.FailedItems != b.FailedItems
}

// isReplay reports whether r repeats the report that finished job.
func isReplay(job *core.Job, r core.ProgressReport) bool {
	return job.Status == r.Status && job.LastWorkerID != nil && *job.LastWorkerID == r.WorkerID
}
