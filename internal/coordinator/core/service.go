package core

import (
	"context"

	"github.com/google/uuid"
)

// JobService is the job-submitter facing surface.
type JobService interface {
	CreateJob(ctx context.Context, url, label string) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, int, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*Job, error)
	JobProgress(ctx context.Context, id uuid.UUID) (*Progress, error)
	ResultLocation(ctx context.Context, id uuid.UUID) (string, error)
	JobVideos(ctx context.Context, id uuid.UUID, offset, limit int) ([]Video, int, error)
}

// WorkerService is the surface workers call over the transport.
type WorkerService interface {
	RegisterWorker(ctx context.Context, info WorkerInfo) (*Worker, error)
	Heartbeat(ctx context.Context, workerID uuid.UUID, status WorkerStatus, currentJobID *uuid.UUID) (*Worker, error)
	PullJob(ctx context.Context, workerID uuid.UUID) (*Job, error)
	ReportProgress(ctx context.Context, report ProgressReport) (*Job, error)
	UnregisterWorker(ctx context.Context, workerID uuid.UUID, reason string) error
}

// DashboardService serves aggregate state to observers.
type DashboardService interface {
	Stats(ctx context.Context) (SystemStats, error)
	Snapshot(ctx context.Context) (*DashboardSnapshot, error)
	ListWorkers(ctx context.Context, includeOffline bool) ([]*Worker, error)
}
