package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// CreateJob validates rawURL and stores a new PENDING job. An empty label
// is derived from the URL.
func (c *Coordinator) CreateJob(ctx context.Context, rawURL, label string) (*core.Job, error) {
	url, err := core.NormalizeJobURL(rawURL, c.allowedHosts)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = core.DeriveLabel(url)
	}

	now := c.now()
	job := &core.Job{
		ID:        uuid.New(),
		URL:       url,
		Label:     label,
		Status:    core.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	c.logger.Info("Job created", "job_id", job.ID, "url", job.URL, "label", job.Label)
	metrics.JobsCreated.Inc()
	c.publish(core.JobCreated{Job: job.Clone(), At: now})
	return job, nil
}

func (c *Coordinator) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	return c.jobs.GetJob(ctx, id)
}

func (c *Coordinator) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, &core.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *filter.Status)}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, &core.ValidationError{Field: "limit", Reason: "limit and offset must not be negative"}
	}
	return c.jobs.ListJobs(ctx, filter)
}

const cancelAttempts = 3

// CancelJob moves a non-terminal job to CANCELLED and frees its worker.
// Cancelling a terminal job returns it unchanged.
func (c *Coordinator) CancelJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	for range cancelAttempts {
		job, err := c.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		now := c.now()
		cancelled := releaseJob(job, core.JobStatusCancelled, now)
		err = c.jobs.UpdateJob(ctx, cancelled, job.Status)
		if errors.Is(err, core.ErrStatusMismatch) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel job: %w", err)
		}

		var freed *core.Worker
		if job.Status.IsActive() {
			if w, ok := c.registry.ReleaseJob(id); ok {
				c.saveWorker(ctx, w)
				freed = w
			}
		}
		c.dropProgress(ctx, id)

		c.logger.Info("Job cancelled", "job_id", id, "previous_status", job.Status)
		metrics.JobsFinished.WithLabelValues(string(core.JobStatusCancelled)).Inc()
		c.publish(core.JobCancelled{Job: cancelled.Clone(), Worker: freed.Clone(), At: now})
		return cancelled, nil
	}
	return nil, fmt.Errorf("cancel job %s: %w", id, core.ErrStatusMismatch)
}

// JobProgress returns the latest transient progress detail for a job,
// falling back to the stored counters when nothing is cached.
func (c *Coordinator) JobProgress(ctx context.Context, id uuid.UUID) (*core.Progress, error) {
	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.progress != nil {
		p, err := c.progress.GetProgress(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("Failed to read cached progress", "job_id", id, "error", err)
		}
	}

	p := &core.Progress{
		JobID:          job.ID,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		FailedItems:    job.FailedItems,
		UpdatedAt:      job.UpdatedAt,
	}
	if job.AssignedWorkerID != nil {
		p.WorkerID = *job.AssignedWorkerID
	} else if job.LastWorkerID != nil {
		p.WorkerID = *job.LastWorkerID
	}
	return p, nil
}

// ResultLocation returns where a completed job's artifact lives. The
// location reported by the worker wins; otherwise the results directory
// is searched.
func (c *Coordinator) ResultLocation(ctx context.Context, id uuid.UUID) (string, error) {
	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != core.JobStatusCompleted {
		return "", fmt.Errorf("job %s is %s: %w", id, job.Status, core.ErrResultNotFound)
	}
	if job.ResultLocation != nil && *job.ResultLocation != "" {
		return *job.ResultLocation, nil
	}
	return core.FindJobArtifact(c.resultsDir, id)
}

// JobVideos pages through the records of a completed job's artifact.
func (c *Coordinator) JobVideos(ctx context.Context, id uuid.UUID, offset, limit int) ([]core.Video, int, error) {
	if offset < 0 || limit < 0 {
		return nil, 0, &core.ValidationError{Field: "limit", Reason: "limit and offset must not be negative"}
	}
	location, err := c.ResultLocation(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return core.ReadVideos(location, offset, limit)
}
