package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotRegistered means the coordinator no longer knows this worker,
	// usually because it was reaped. The worker must register again.
	ErrNotRegistered = errors.New("worker not registered with coordinator")
	// ErrJobRejected means the coordinator refused an update for the job,
	// which was cancelled, reassigned or already finished.
	ErrJobRejected = errors.New("coordinator rejected job update")
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

type WorkerStatus string

const (
	WorkerStatusIdle  WorkerStatus = "IDLE"
	WorkerStatusBusy  WorkerStatus = "BUSY"
	WorkerStatusError WorkerStatus = "ERROR"
)

type Registration struct {
	Hostname     string
	Address      string
	Capabilities map[string]string
}

// Assignment is a job the coordinator handed to this worker.
type Assignment struct {
	JobID uuid.UUID
	URL   string
	Label string
}

type Progress struct {
	Status         JobStatus
	TotalItems     int
	ProcessedItems int
	FailedItems    int
	CurrentItem    string
	Message        string
	ErrorMessage   string
	ResultLocation string
}

// HeartbeatAck is the coordinator's view of the worker. AssignedJobID is
// nil when the coordinator believes the worker holds no job.
type HeartbeatAck struct {
	Status        string
	AssignedJobID *uuid.UUID
}

type Result struct {
	Location    string
	Items       int
	FailedItems int
}

type CoordinatorClient interface {
	RegisterWorker(ctx context.Context, reg Registration) (uuid.UUID, time.Duration, error)
	SendHeartbeat(ctx context.Context, workerID uuid.UUID, status WorkerStatus, currentJobID *uuid.UUID) (*HeartbeatAck, error)
	PullJob(ctx context.Context, workerID uuid.UUID) (*Assignment, error)
	ReportProgress(ctx context.Context, workerID, jobID uuid.UUID, progress Progress) error
	UnregisterWorker(ctx context.Context, workerID uuid.UUID, reason string) error
	Close() error
}

type WorkerService interface {
	Run(ctx context.Context) error
}

// ProgressFunc receives intermediate progress while a job runs.
type ProgressFunc func(Progress)

type JobExecutor interface {
	Execute(ctx context.Context, job *Assignment, report ProgressFunc) (*Result, error)
}
