// Package service implements the coordinator's job and worker lifecycle and
// the periodic tasks that drive it.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/registry"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

const (
	reasonHeartbeatTimeout = "worker disconnected: heartbeat timeout"
	reasonWorkerLost       = "worker lost: no live worker holds the job"
	reasonRestart          = "coordinator restarted"
)

// Deps are the collaborators a Coordinator mutates. The registry is the
// fast in-memory view; Jobs and Workers are the durable path.
type Deps struct {
	Registry *registry.Registry
	Jobs     core.JobStore
	Workers  core.WorkerStore
	Events   core.Publisher
	Progress core.ProgressCache
	Logger   logging.Logger
}

type Options struct {
	AllowedHosts []string
	ResultsDir   string
	RecentLimit  int
	Now          func() time.Time
}

// Coordinator is the only writer to the registry and the store. Every
// state change it applies is published on the event bus.
type Coordinator struct {
	registry *registry.Registry
	jobs     core.JobStore
	workers  core.WorkerStore
	events   core.Publisher
	progress core.ProgressCache
	logger   logging.Logger

	allowedHosts []string
	resultsDir   string
	recentLimit  int
	now          func() time.Time
}

var (
	_ core.JobService       = (*Coordinator)(nil)
	_ core.WorkerService    = (*Coordinator)(nil)
	_ core.DashboardService = (*Coordinator)(nil)
)

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 20
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Coordinator{
		registry:     deps.Registry,
		jobs:         deps.Jobs,
		workers:      deps.Workers,
		events:       deps.Events,
		progress:     deps.Progress,
		logger:       deps.Logger,
		allowedHosts: opts.AllowedHosts,
		resultsDir:   opts.ResultsDir,
		recentLimit:  opts.RecentLimit,
		now:          opts.Now,
	}
}

func (c *Coordinator) publish(event core.Event) {
	if c.events != nil {
		c.events.Publish(event)
	}
}

// saveWorker writes the registry's view of a worker through to the store.
// A failed write is logged; the next transition of the same worker
// overwrites the row.
func (c *Coordinator) saveWorker(ctx context.Context, w *core.Worker) {
	if err := c.workers.SaveWorker(ctx, w); err != nil {
		c.logger.Error("Failed to persist worker", "worker_id", w.ID, "status", w.Status, "error", err)
	}
}

func (c *Coordinator) cacheProgress(ctx context.Context, p core.Progress) {
	if c.progress == nil {
		return
	}
	if err := c.progress.SetProgress(ctx, p); err != nil {
		c.logger.Warn("Failed to cache job progress", "job_id", p.JobID, "error", err)
	}
}

// dropProgress forgets the cached progress of a finished job. Readers fall
// back to the stored counters.
func (c *Coordinator) dropProgress(ctx context.Context, jobID uuid.UUID) {
	if c.progress == nil {
		return
	}
	if err := c.progress.DeleteProgress(ctx, jobID); err != nil {
		c.logger.Warn("Failed to drop cached job progress", "job_id", jobID, "error", err)
	}
}

// releaseJob returns an updated copy of job moved to a terminal status.
func releaseJob(job *core.Job, status core.JobStatus, now time.Time) *core.Job {
	next := job.Clone()
	if next.AssignedWorkerID != nil {
		next.LastWorkerID = next.AssignedWorkerID
	}
	next.Status = status
	next.AssignedWorkerID = nil
	next.CompletedAt = &now
	next.UpdatedAt = now
	return next
}

// failJob moves an active job to FAILED. It reports false without error
// when another transition got there first.
func (c *Coordinator) failJob(ctx context.Context, jobID uuid.UUID, holder uuid.UUID, reason string) (*core.Job, bool, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if !job.Status.IsActive() || job.AssignedWorkerID == nil || *job.AssignedWorkerID != holder {
		return job, false, nil
	}

	failed := releaseJob(job, core.JobStatusFailed, c.now())
	failed.ErrorMessage = &reason
	if err := c.jobs.UpdateJob(ctx, failed, core.JobStatusAssigned, core.JobStatusRunning); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return job, false, nil
		}
		return nil, false, err
	}
	return failed, true, nil
}
