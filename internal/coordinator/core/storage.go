package core

import (
	"context"

	"github.com/google/uuid"
)

// JobStore is the durable record of jobs.
//
// UpdateJob writes job only if the stored status is one of expected
// (any status when expected is empty) and returns ErrStatusMismatch
// otherwise. This is the per-entity compare-and-set that keeps two
// concurrent assignments of the same job from both succeeding.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	UpdateJob(ctx context.Context, job *Job, expected ...JobStatus) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, int, error)
	ListPendingJobs(ctx context.Context, limit int) ([]*Job, error)
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error)
}

// WorkerStore keeps historical worker rows, including OFFLINE ones.
type WorkerStore interface {
	SaveWorker(ctx context.Context, worker *Worker) error
	GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error)
	ListWorkers(ctx context.Context) ([]*Worker, error)
	MarkWorkersOffline(ctx context.Context) (int, error)
	SumItemsScraped(ctx context.Context) (int, error)
}

// Store combines both record types.
type Store interface {
	JobStore
	WorkerStore
	Ping(ctx context.Context) error
	Close() error
}

// ProgressCache holds the latest transient progress per job.
type ProgressCache interface {
	SetProgress(ctx context.Context, progress Progress) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (*Progress, error)
	DeleteProgress(ctx context.Context, jobID uuid.UUID) error
}
