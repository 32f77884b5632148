package core

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventWorkerConnected     EventType = "worker_connected"
	EventWorkerDisconnected  EventType = "worker_disconnected"
	EventWorkerStatusChanged EventType = "worker_status_update"
	EventJobCreated          EventType = "job_created"
	EventJobAssigned         EventType = "job_assigned"
	EventJobProgressed       EventType = "job_progress"
	EventJobCompleted        EventType = "job_completed"
	EventJobFailed           EventType = "job_failed"
	EventJobCancelled        EventType = "job_cancelled"
	EventJobRequeued         EventType = "job_requeued"
	EventStatsUpdated        EventType = "system_stats"
)

// Event is a state change published on the event bus. The set of
// implementations is closed; see the cases below.
type Event interface {
	Type() EventType
	OccurredAt() time.Time
	event()
}

type WorkerConnected struct {
	Worker *Worker
	At     time.Time
}

type WorkerDisconnected struct {
	WorkerID uuid.UUID
	Reason   string
	JobID    *uuid.UUID
	At       time.Time
}

type WorkerStatusChanged struct {
	Worker *Worker
	At     time.Time
}

type JobCreated struct {
	Job *Job
	At  time.Time
}

// JobAssigned carries the worker as it became BUSY, so observers need no
// separate worker update.
type JobAssigned struct {
	JobID      uuid.UUID
	WorkerID   uuid.UUID
	Worker     *Worker
	AssignedAt time.Time
}

type JobProgressed struct {
	Job         *Job
	CurrentItem string
	Message     string
	At          time.Time
}

// JobCompleted, JobFailed and JobCancelled carry the freed worker. Worker
// is nil when no live worker held the job.
type JobCompleted struct {
	Job    *Job
	Worker *Worker
	At     time.Time
}

type JobFailed struct {
	Job    *Job
	Worker *Worker
	At     time.Time
}

type JobCancelled struct {
	Job    *Job
	Worker *Worker
	At     time.Time
}

// JobRequeued reports a job returned to PENDING after losing its worker
// before it started running.
type JobRequeued struct {
	Job    *Job
	Reason string
	At     time.Time
}

type StatsUpdated struct {
	Stats SystemStats
	At    time.Time
}

func (WorkerConnected) Type() EventType     { return EventWorkerConnected }
func (WorkerDisconnected) Type() EventType  { return EventWorkerDisconnected }
func (WorkerStatusChanged) Type() EventType { return EventWorkerStatusChanged }
func (JobCreated) Type() EventType          { return EventJobCreated }
func (JobAssigned) Type() EventType         { return EventJobAssigned }
func (JobProgressed) Type() EventType       { return EventJobProgressed }
func (JobCompleted) Type() EventType        { return EventJobCompleted }
func (JobFailed) Type() EventType           { return EventJobFailed }
func (JobCancelled) Type() EventType        { return EventJobCancelled }
func (JobRequeued) Type() EventType         { return EventJobRequeued }
func (StatsUpdated) Type() EventType        { return EventStatsUpdated }

func (e WorkerConnected) OccurredAt() time.Time     { return e.At }
func (e WorkerDisconnected) OccurredAt() time.Time  { return e.At }
func (e WorkerStatusChanged) OccurredAt() time.Time { return e.At }
func (e JobCreated) OccurredAt() time.Time          { return e.At }
func (e JobAssigned) OccurredAt() time.Time         { return e.AssignedAt }
func (e JobProgressed) OccurredAt() time.Time       { return e.At }
func (e JobCompleted) OccurredAt() time.Time        { return e.At }
func (e JobFailed) OccurredAt() time.Time           { return e.At }
func (e JobCancelled) OccurredAt() time.Time        { return e.At }
func (e JobRequeued) OccurredAt() time.Time         { return e.At }
func (e StatsUpdated) OccurredAt() time.Time        { return e.At }

func (WorkerConnected) event()     {}
func (WorkerDisconnected) event()  {}
func (WorkerStatusChanged) event() {}
func (JobCreated) event()          {}
func (JobAssigned) event()         {}
func (JobProgressed) event()       {}
func (JobCompleted) event()        {}
func (JobFailed) event()           {}
func (JobCancelled) event()        {}
func (JobRequeued) event()         {}
func (StatsUpdated) event()        {}

// Publisher accepts events for fan-out.
type Publisher interface {
	Publish(event Event)
}
