package core

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusAssigned  JobStatus = "ASSIGNED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether a job in status s is held by a worker.
func (s JobStatus) IsActive() bool {
	return s == JobStatusAssigned || s == JobStatusRunning
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusAssigned, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type WorkerStatus string

const (
	WorkerStatusConnecting WorkerStatus = "CONNECTING"
	WorkerStatusIdle       WorkerStatus = "IDLE"
	WorkerStatusBusy       WorkerStatus = "BUSY"
	WorkerStatusOffline    WorkerStatus = "OFFLINE"
	WorkerStatusError      WorkerStatus = "ERROR"
)

func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusConnecting, WorkerStatusIdle, WorkerStatusBusy,
		WorkerStatusOffline, WorkerStatusError:
		return true
	}
	return false
}

// Job is one unit of scraping work targeting a single URL.
type Job struct {
	ID     uuid.UUID
	URL    string
	Label  string
	Status JobStatus

	// AssignedWorkerID is set only while the job is ASSIGNED or RUNNING.
	AssignedWorkerID *uuid.UUID
	// LastWorkerID keeps the most recent holder after the job is released.
	LastWorkerID *uuid.UUID

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	TotalItems     int
	ProcessedItems int
	FailedItems    int

	ErrorMessage   *string
	ResultLocation *string
}

// Duration returns how long the job ran, or zero if it never started or
// has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.AssignedWorkerID = cloneUUID(j.AssignedWorkerID)
	c.LastWorkerID = cloneUUID(j.LastWorkerID)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	c.ResultLocation = cloneString(j.ResultLocation)
	return &c
}

// Worker is a remote process that executes jobs.
type Worker struct {
	ID           uuid.UUID
	Hostname     string
	Address      string
	Capabilities map[string]string
	Status       WorkerStatus

	LastHeartbeatAt time.Time
	ConnectedAt     time.Time

	// CurrentJobID is set exactly when Status is BUSY.
	CurrentJobID *uuid.UUID

	JobsCompleted int
	ItemsScraped  int

	// Version increases with every registry mutation. Stores drop writes
	// carrying an older version than the row they hold.
	Version int64
}

func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	c.Capabilities = maps.Clone(w.Capabilities)
	c.CurrentJobID = cloneUUID(w.CurrentJobID)
	return &c
}

// WorkerInfo is what a worker announces about itself on registration.
type WorkerInfo struct {
	Hostname     string
	Address      string
	Capabilities map[string]string
}

// ProgressReport is a worker's update on the job it holds.
type ProgressReport struct {
	JobID          uuid.UUID
	WorkerID       uuid.UUID
	Status         JobStatus
	TotalItems     int
	ProcessedItems int
	FailedItems    int
	CurrentItem    string
	Message        string
	ErrorMessage   string
	ResultLocation string
}

// Progress is the latest transient progress detail for a job.
type Progress struct {
	JobID          uuid.UUID `json:"job_id"`
	WorkerID       uuid.UUID `json:"worker_id"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	FailedItems    int       `json:"failed_items"`
	CurrentItem    string    `json:"current_item,omitempty"`
	Message        string    `json:"message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SystemStats struct {
	TotalWorkers      int `json:"total_workers"`
	ActiveWorkers     int `json:"active_workers"`
	IdleWorkers       int `json:"idle_workers"`
	BusyWorkers       int `json:"busy_workers"`
	OfflineWorkers    int `json:"offline_workers"`
	TotalJobs         int `json:"total_jobs"`
	PendingJobs       int `json:"pending_jobs"`
	RunningJobs       int `json:"running_jobs"`
	CompletedJobs     int `json:"completed_jobs"`
	FailedJobs        int `json:"failed_jobs"`
	TotalItemsScraped int `json:"total_items_scraped"`
}

// DashboardSnapshot is the initial state a new dashboard observer receives.
type DashboardSnapshot struct {
	Stats      SystemStats
	Workers    []*Worker
	ActiveJobs []*Job
	RecentJobs []*Job
}

type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// CheckJobInvariants returns an error describing the first violated
// invariant of job, or nil.
func CheckJobInvariants(job *Job) error {
	if !job.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", job.ID, job.Status)
	}
	if job.Status.IsActive() != (job.AssignedWorkerID != nil) {
		return fmt.Errorf("job %s: status %s with assigned worker %v", job.ID, job.Status, job.AssignedWorkerID)
	}
	if job.Status.IsTerminal() != (job.CompletedAt != nil) {
		return fmt.Errorf("job %s: status %s with completed_at %v", job.ID, job.Status, job.CompletedAt)
	}
	if job.ProcessedItems < 0 || job.FailedItems < 0 || job.TotalItems < 0 {
		return fmt.Errorf("job %s: negative counters", job.ID)
	}
	return nil
}

func CheckWorkerInvariants(worker *Worker) error {
	if !worker.Status.Valid() {
		return fmt.Errorf("worker %s: unknown status %q", worker.ID, worker.Status)
	}
	if (worker.Status == WorkerStatusBusy) != (worker.CurrentJobID != nil) {
		return fmt.Errorf("worker %s: status %s with current job %v", worker.ID, worker.Status, worker.CurrentJobID)
	}
	return nil
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
