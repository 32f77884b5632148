package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

// Stats aggregates live worker counts from the registry with job counts
// and lifetime totals from the store.
func (c *Coordinator) Stats(ctx context.Context) (core.SystemStats, error) {
	var stats core.SystemStats

	live := c.registry.Snapshot()
	byStatus := make(map[core.WorkerStatus]int)
	for _, w := range live {
		byStatus[w.Status]++
	}
	stats.ActiveWorkers = len(live)
	stats.IdleWorkers = byStatus[core.WorkerStatusIdle]
	stats.BusyWorkers = byStatus[core.WorkerStatusBusy]

	stored, err := c.workers.ListWorkers(ctx)
	if err != nil {
		return stats, fmt.Errorf("list workers: %w", err)
	}
	for _, w := range stored {
		if w.Status == core.WorkerStatusOffline {
			stats.OfflineWorkers++
		}
	}
	stats.TotalWorkers = stats.ActiveWorkers + stats.OfflineWorkers

	counts, err := c.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	for _, n := range counts {
		stats.TotalJobs += n
	}
	stats.PendingJobs = counts[core.JobStatusPending]
	stats.RunningJobs = counts[core.JobStatusAssigned] + counts[core.JobStatusRunning]
	stats.CompletedJobs = counts[core.JobStatusCompleted]
	stats.FailedJobs = counts[core.JobStatusFailed]

	items, err := c.workers.SumItemsScraped(ctx)
	if err != nil {
		return stats, fmt.Errorf("sum items: %w", err)
	}
	stats.TotalItemsScraped = items

	for _, s := range []core.WorkerStatus{core.WorkerStatusIdle, core.WorkerStatusBusy, core.WorkerStatusError} {
		metrics.WorkersByStatus.WithLabelValues(string(s)).Set(float64(byStatus[s]))
	}
	return stats, nil
}

// Snapshot is the state a new dashboard observer starts from.
func (c *Coordinator) Snapshot(ctx context.Context) (*core.DashboardSnapshot, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}

	var active []*core.Job
	for _, status := range []core.JobStatus{core.JobStatusRunning, core.JobStatusAssigned, core.JobStatusPending} {
		jobs, _, err := c.jobs.ListJobs(ctx, core.JobFilter{Status: &status})
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", status, err)
		}
		active = append(active, jobs...)
	}

	recent, _, err := c.jobs.ListJobs(ctx, core.JobFilter{Limit: c.recentLimit})
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}

	return &core.DashboardSnapshot{
		Stats:      stats,
		Workers:    c.registry.Snapshot(),
		ActiveJobs: active,
		RecentJobs: recent,
	}, nil
}

// StatsBroadcaster periodically publishes aggregate stats to observers.
type StatsBroadcaster struct {
	interval time.Duration
	stats    core.DashboardService
	events   core.Publisher
	logger   logging.Logger
	now      func() time.Time
}

func NewStatsBroadcaster(interval time.Duration, stats core.DashboardService, events core.Publisher, logger logging.Logger) *StatsBroadcaster {
	return &StatsBroadcaster{
		interval: interval,
		stats:    stats,
		events:   events,
		logger:   logger.With("component", "stats"),
		now:      time.Now,
	}
}

func (b *StatsBroadcaster) Start(ctx context.Context) error {
	return runEvery(ctx, b.interval, b.logger, b.Tick)
}

func (b *StatsBroadcaster) Tick(ctx context.Context) {
	stats, err := b.stats.Stats(ctx)
	if err != nil {
		b.logger.Error("Failed to collect stats", "error", err)
		return
	}
	b.events.Publish(core.StatsUpdated{Stats: stats, At: b.now()})
}

// runEvery calls tick on every interval until ctx is done. A panicking
// tick is logged and the loop keeps going.
func runEvery(ctx context.Context, interval time.Duration, logger logging.Logger, tick func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			safeTick(ctx, logger, tick)
		}
	}
}

func safeTick(ctx context.Context, logger logging.Logger, tick func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Periodic task panicked", "panic", r)
		}
	}()
	tick(ctx)
}
