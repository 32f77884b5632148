package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

// Reaper is what the liveness monitor needs from the coordinator.
type Reaper interface {
	StaleWorkers(cutoff time.Time) []*core.Worker
	ReapWorker(ctx context.Context, workerID uuid.UUID, cutoff time.Time) (bool, error)
	ReconcileOrphans(ctx context.Context, cutoff time.Time) (int, error)
}

// LivenessMonitor removes workers that stopped heartbeating and fails the
// jobs they held.
type LivenessMonitor struct {
	checkInterval time.Duration
	staleTimeout  time.Duration
	reaper        Reaper
	logger        logging.Logger
	now           func() time.Time
}

func NewLivenessMonitor(
	checkInterval time.Duration,
	staleTimeout time.Duration,
	reaper Reaper,
	logger logging.Logger,
) *LivenessMonitor {
	return &LivenessMonitor{
		checkInterval: checkInterval,
		staleTimeout:  staleTimeout,
		reaper:        reaper,
		logger:        logger.With("component", "liveness"),
		now:           time.Now,
	}
}

func (m *LivenessMonitor) Start(ctx context.Context) error {
	m.logger.Info("Liveness monitor started", "interval", m.checkInterval, "stale_timeout", m.staleTimeout)
	return runEvery(ctx, m.checkInterval, m.logger, func(ctx context.Context) { m.Tick(ctx) })
}

// Tick reaps every worker stale at the time of the tick and returns how
// many were removed.
func (m *LivenessMonitor) Tick(ctx context.Context) int {
	cutoff := m.now().Add(-m.staleTimeout)

	reaped := 0
	for _, worker := range m.reaper.StaleWorkers(cutoff) {
		ok, err := m.reaper.ReapWorker(ctx, worker.ID, cutoff)
		if err != nil {
			m.logger.Error("Failed to reap worker", "worker_id", worker.ID, "error", err)
			continue
		}
		if ok {
			reaped++
		}
	}

	if _, err := m.reaper.ReconcileOrphans(ctx, cutoff); err != nil {
		m.logger.Error("Failed to reconcile orphaned jobs", "error", err)
	}
	return reaped
}
