package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

const (
	removeReasonUnregistered = "unregistered"
	removeReasonTimeout      = "heartbeat_timeout"
)

// RegisterWorker admits a worker as IDLE under a coordinator-allocated id.
func (c *Coordinator) RegisterWorker(ctx context.Context, info core.WorkerInfo) (*core.Worker, error) {
	if info.Hostname == "" {
		return nil, &core.ValidationError{Field: "hostname", Reason: "must not be empty"}
	}

	w := c.registry.Register(info)
	c.saveWorker(ctx, w)

	c.logger.Info("Worker registered", "worker_id", w.ID, "hostname", w.Hostname, "address", w.Address)
	metrics.WorkersRegistered.Inc()
	c.publish(core.WorkerConnected{Worker: w.Clone(), At: w.ConnectedAt})
	return w, nil
}

// Heartbeat refreshes liveness and returns the registry's view of the
// worker. A CurrentJobID that differs from the one the worker reported
// tells it which job it should be running.
func (c *Coordinator) Heartbeat(ctx context.Context, workerID uuid.UUID, status core.WorkerStatus, currentJobID *uuid.UUID) (*core.Worker, error) {
	if !status.Valid() {
		return nil, &core.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	w, changed, err := c.registry.Heartbeat(workerID, status)
	if err != nil {
		return nil, err
	}
	if !sameJob(w.CurrentJobID, currentJobID) {
		c.logger.Debug("Worker job out of sync", "worker_id", workerID, "reported", currentJobID, "assigned", w.CurrentJobID)
	}

	c.saveWorker(ctx, w)
	if changed {
		c.publish(core.WorkerStatusChanged{Worker: w.Clone(), At: w.LastHeartbeatAt})
	}
	return w, nil
}

// PullJob returns the job assigned to the worker, or nil when it has none.
func (c *Coordinator) PullJob(ctx context.Context, workerID uuid.UUID) (*core.Job, error) {
	if err := c.registry.Touch(workerID); err != nil {
		return nil, err
	}
	w, err := c.registry.Get(workerID)
	if err != nil {
		return nil, err
	}
	if w.CurrentJobID == nil {
		return nil, nil
	}

	job, err := c.jobs.GetJob(ctx, *w.CurrentJobID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if err != nil || !job.Status.IsActive() {
		// The job finished or was cancelled while the assignment was being
		// recorded. Free the worker so the scheduler can use it again.
		if idle, err := c.registry.MarkIdle(workerID, *w.CurrentJobID); err == nil {
			c.saveWorker(ctx, idle)
			c.publish(core.WorkerStatusChanged{Worker: idle.Clone(), At: c.now()})
		}
		return nil, nil
	}
	return job, nil
}

// UnregisterWorker removes a worker that is shutting down. A job it still
// held is failed with reason.
func (c *Coordinator) UnregisterWorker(ctx context.Context, workerID uuid.UUID, reason string) error {
	w, err := c.registry.Remove(workerID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "worker unregistered"
	}
	return c.releaseRemoved(ctx, w, reason, removeReasonUnregistered)
}

// ReapWorker removes the worker if it is still stale at cutoff. It reports
// whether the worker was removed; a worker that checked in after cutoff,
// or that is already gone, is left alone.
func (c *Coordinator) ReapWorker(ctx context.Context, workerID uuid.UUID, cutoff time.Time) (bool, error) {
	w, ok := c.registry.RemoveIfStale(workerID, cutoff)
	if !ok {
		return false, nil
	}
	c.logger.Warn("Worker heartbeat timeout", "worker_id", w.ID, "last_heartbeat_at", w.LastHeartbeatAt)
	return true, c.releaseRemoved(ctx, w, reasonHeartbeatTimeout, removeReasonTimeout)
}

// StaleWorkers lists workers whose last heartbeat is older than cutoff.
func (c *Coordinator) StaleWorkers(cutoff time.Time) []*core.Worker {
	return c.registry.Stale(cutoff)
}

// releaseRemoved finishes the removal of a worker already dropped from the
// registry: its job is failed, its row goes OFFLINE and observers are told.
func (c *Coordinator) releaseRemoved(ctx context.Context, w *core.Worker, reason, metricReason string) error {
	now := c.now()
	jobID := w.CurrentJobID

	var failed *core.Job
	if jobID != nil {
		job, ok, err := c.failJob(ctx, *jobID, w.ID, reason)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("fail job %s of worker %s: %w", *jobID, w.ID, err)
		}
		if ok {
			failed = job
		}
	}

	offline := w.Clone()
	offline.Status = core.WorkerStatusOffline
	offline.CurrentJobID = nil
	c.saveWorker(ctx, offline)

	c.logger.Info("Worker removed", "worker_id", w.ID, "reason", reason, "job_id", jobID)
	metrics.WorkersRemoved.WithLabelValues(metricReason).Inc()
	c.publish(core.WorkerDisconnected{WorkerID: w.ID, Reason: reason, JobID: jobID, At: now})
	if failed != nil {
		metrics.JobsFinished.WithLabelValues(string(core.JobStatusFailed)).Inc()
		c.publish(core.JobFailed{Job: failed.Clone(), At: now})
	}
	return nil
}

// ListWorkers returns live workers from the registry, plus OFFLINE rows
// from the store when includeOffline is set.
func (c *Coordinator) ListWorkers(ctx context.Context, includeOffline bool) ([]*core.Worker, error) {
	live := c.registry.Snapshot()
	if !includeOffline {
		return live, nil
	}

	stored, err := c.workers.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(live))
	for _, w := range live {
		seen[w.ID] = struct{}{}
	}
	out := slices.Clone(live)
	for _, w := range stored {
		if _, ok := seen[w.ID]; ok || w.Status != core.WorkerStatusOffline {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func sameJob(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
