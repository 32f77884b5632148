package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
	"github.com/nemanja-m/scrapegrid/internal/worker/core"
)

var (
	errJobRevoked    = errors.New("coordinator revoked the job")
	errReregistering = errors.New("worker re-registering")
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	unregisterTimeout        = 5 * time.Second
	finalReportAttempts      = 3
)

type Options struct {
	Registration core.Registration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

type runningJob struct {
	id     uuid.UUID
	cancel context.CancelCauseFunc
}

type workerService struct {
	client   core.CoordinatorClient
	executor core.JobExecutor
	opts     Options
	logger   logging.Logger

	mu                sync.Mutex
	workerID          uuid.UUID
	heartbeatInterval time.Duration
	current           *runningJob
}

func NewWorkerService(
	client core.CoordinatorClient,
	executor core.JobExecutor,
	opts Options,
	logger logging.Logger,
) core.WorkerService {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	return &workerService{
		client:   client,
		executor: executor,
		opts:     opts,
		logger:   logger,
	}
}

// Run registers with the coordinator, then heartbeats and executes jobs until
// ctx is cancelled. On the way out the worker unregisters itself.
func (w *workerService) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.runHeartbeatLoop(gctx) })
	g.Go(func() error { return w.runJobLoop(gctx) })
	err := g.Wait()

	uctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if uerr := w.client.UnregisterWorker(uctx, w.id(), "worker shutting down"); uerr != nil {
		w.logger.Warn("Failed to unregister worker", "worker_id", w.id(), "error", uerr)
	} else {
		w.logger.Info("Worker unregistered", "worker_id", w.id())
	}
	return err
}

// register retries until the coordinator accepts the worker or ctx ends.
func (w *workerService) register(ctx context.Context) error {
	backoff := w.opts.MinBackoff
	for {
		id, interval, err := w.client.RegisterWorker(ctx, w.opts.Registration)
		if err == nil {
			if interval <= 0 {
				interval = defaultHeartbeatInterval
			}
			w.mu.Lock()
			w.workerID = id
			w.heartbeatInterval = interval
			w.mu.Unlock()
			w.logger.Info("Worker registered", "worker_id", id, "heartbeat_interval", interval)
			return nil
		}
		w.logger.Error("Failed to register worker", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(backoff*2, w.opts.MaxBackoff)
	}
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) error {
	for {
		if !sleep(ctx, w.interval()) {
			return nil
		}
		w.heartbeat(ctx)
	}
}

func (w *workerService) heartbeat(ctx context.Context) {
	id := w.id()
	held := w.currentJob()

	status := core.WorkerStatusIdle
	var jobID *uuid.UUID
	if held != nil {
		status = core.WorkerStatusBusy
		jobID = &held.id
	}

	ack, err := w.client.SendHeartbeat(ctx, id, status, jobID)
	switch {
	case errors.Is(err, core.ErrNotRegistered):
		w.logger.Warn("Coordinator forgot this worker, registering again", "worker_id", id)
		w.cancelCurrent(errReregistering)
		if err := w.register(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Failed to re-register worker", "error", err)
		}
		return
	case err != nil:
		if ctx.Err() == nil {
			w.logger.Warn("Failed to send heartbeat", "worker_id", id, "error", err)
		}
		return
	}

	w.logger.Debug("Heartbeat acknowledged", "worker_id", id, "status", ack.Status)
	if held == nil {
		return
	}
	if ack.AssignedJobID == nil || *ack.AssignedJobID != held.id {
		w.logger.Warn("Coordinator no longer assigns the running job, cancelling",
			"worker_id", id,
			"job_id", held.id,
		)
		w.cancelJob(held.id, errJobRevoked)
	}
}

func (w *workerService) runJobLoop(ctx context.Context) error {
	backoff := w.opts.MinBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		id := w.id()
		job, err := w.client.PullJob(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("Failed to pull job", "worker_id", id, "error", err)
		}
		if err != nil || job == nil {
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, w.opts.MaxBackoff)
			continue
		}

		backoff = w.opts.MinBackoff
		w.runJob(ctx, id, job)
	}
}

func (w *workerService) runJob(ctx context.Context, workerID uuid.UUID, job *core.Assignment) {
	logger := w.logger.With("worker_id", workerID, "job_id", job.JobID)
	logger.Info("Received job", "url", job.URL, "label", job.Label)

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	w.setCurrent(&runningJob{id: job.JobID, cancel: cancel})
	defer w.clearCurrent(job.JobID)

	err := w.client.ReportProgress(ctx, workerID, job.JobID, core.Progress{Status: core.JobStatusRunning})
	if isRejection(err) {
		logger.Warn("Coordinator rejected job start", "error", err)
		metrics.WorkerJobsExecuted.WithLabelValues("rejected").Inc()
		return
	}
	if err != nil {
		logger.Warn("Failed to report job start", "error", err)
	}

	reporter := newProgressReporter(w.client, workerID, job.JobID, cancel, logger)
	go reporter.run(jobCtx)

	start := time.Now()
	result, execErr := w.executor.Execute(jobCtx, job, reporter.update)
	last := reporter.stop()
	metrics.WorkerJobDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		logger.Info("Worker stopping, abandoning job")
		metrics.WorkerJobsExecuted.WithLabelValues("interrupted").Inc()
		return
	}
	if jobCtx.Err() != nil {
		logger.Info("Job cancelled", "cause", context.Cause(jobCtx))
		metrics.WorkerJobsExecuted.WithLabelValues("cancelled").Inc()
		return
	}

	final := last
	if execErr != nil {
		logger.Error("Job failed", "error", execErr)
		final.Status = core.JobStatusFailed
		final.ErrorMessage = execErr.Error()
		metrics.WorkerJobsExecuted.WithLabelValues("failed").Inc()
	} else {
		logger.Info("Job completed", "items", result.Items, "location", result.Location)
		final.Status = core.JobStatusCompleted
		final.ResultLocation = result.Location
		final.FailedItems = max(final.FailedItems, result.FailedItems)
		final.ProcessedItems = max(final.ProcessedItems, result.Items+result.FailedItems)
		final.TotalItems = max(final.TotalItems, final.ProcessedItems)
		metrics.WorkerJobsExecuted.WithLabelValues("completed").Inc()
		metrics.WorkerItemsScraped.Add(float64(result.Items))
	}
	final.CurrentItem = ""
	w.reportFinal(ctx, workerID, job.JobID, final, logger)
}

// reportFinal retries transient failures; a rejection is final.
func (w *workerService) reportFinal(ctx context.Context, workerID, jobID uuid.UUID, p core.Progress, logger logging.Logger) {
	backoff := w.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		err := w.client.ReportProgress(ctx, workerID, jobID, p)
		if err == nil {
			return
		}
		if isRejection(err) {
			logger.Warn("Coordinator rejected final report", "status", p.Status, "error", err)
			return
		}
		if attempt == finalReportAttempts {
			logger.Error("Failed to report job outcome", "status", p.Status, "error", err)
			return
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, w.opts.MaxBackoff)
	}
}

func (w *workerService) id() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

func (w *workerService) interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heartbeatInterval
}

func (w *workerService) currentJob() *runningJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *workerService) setCurrent(j *runningJob) {
	w.mu.Lock()
	w.current = j
	w.mu.Unlock()
}

func (w *workerService) clearCurrent(jobID uuid.UUID) {
	w.mu.Lock()
	if w.current != nil && w.current.id == jobID {
		w.current = nil
	}
	w.mu.Unlock()
}

func (w *workerService) cancelJob(jobID uuid.UUID, cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil && w.current.id == jobID {
		w.current.cancel(cause)
	}
}

func (w *workerService) cancelCurrent(cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		w.current.cancel(cause)
	}
}

func isRejection(err error) bool {
	return errors.Is(err, core.ErrJobRejected) || errors.Is(err, core.ErrNotRegistered)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
