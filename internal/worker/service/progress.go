package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/worker/core"
)

// progressReporter forwards executor progress to the coordinator without
// blocking the executor. Updates arriving while a report is in flight are
// coalesced into the latest one.
type progressReporter struct {
	client   core.CoordinatorClient
	workerID uuid.UUID
	jobID    uuid.UUID
	cancel   context.CancelCauseFunc
	logger   logging.Logger

	mu     sync.Mutex
	latest core.Progress
	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newProgressReporter(
	client core.CoordinatorClient,
	workerID, jobID uuid.UUID,
	cancel context.CancelCauseFunc,
	logger logging.Logger,
) *progressReporter {
	return &progressReporter{
		client:   client,
		workerID: workerID,
		jobID:    jobID,
		cancel:   cancel,
		logger:   logger,
		latest:   core.Progress{Status: core.JobStatusRunning},
		notify:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// update records p. Counters only move forward.
func (r *progressReporter) update(p core.Progress) {
	r.mu.Lock()
	r.latest = core.Progress{
		Status:         core.JobStatusRunning,
		TotalItems:     max(r.latest.TotalItems, p.TotalItems),
		ProcessedItems: max(r.latest.ProcessedItems, p.ProcessedItems),
		FailedItems:    max(r.latest.FailedItems, p.FailedItems),
		CurrentItem:    p.CurrentItem,
		Message:        p.Message,
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *progressReporter) snapshot() core.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func (r *progressReporter) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case <-r.notify:
		}

		err := r.client.ReportProgress(ctx, r.workerID, r.jobID, r.snapshot())
		switch {
		case err == nil:
		case isRejection(err):
			r.logger.Warn("Coordinator rejected progress, cancelling job", "error", err)
			r.cancel(errJobRevoked)
			return
		case ctx.Err() == nil:
			r.logger.Warn("Failed to report progress", "error", err)
		}
	}
}

// stop ends the reporting goroutine and returns the last recorded progress.
func (r *progressReporter) stop() core.Progress {
	r.once.Do(func() { close(r.quit) })
	<-r.done
	return r.snapshot()
}
