package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

// TypeSnapshot is the message type of the initial dashboard state. It is
// never published on the bus; transports send it to each new observer.
const TypeSnapshot core.EventType = "dashboard_snapshot"

// Message is an event serialized for the wire. Payload is the complete JSON
// envelope {"type", "data", "timestamp"}.
type Message struct {
	Type    core.EventType
	Payload []byte
}

type envelope struct {
	Type      core.EventType `json:"type"`
	Data      any            `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type JobView struct {
	ID               uuid.UUID      `json:"id"`
	URL              string         `json:"url"`
	Label            string         `json:"label,omitempty"`
	Status           core.JobStatus `json:"status"`
	AssignedWorkerID *uuid.UUID     `json:"assigned_worker_id"`
	LastWorkerID     *uuid.UUID     `json:"last_worker_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
	TotalItems       int            `json:"total_items"`
	ProcessedItems   int            `json:"processed_items"`
	FailedItems      int            `json:"failed_items"`
	ErrorMessage     *string        `json:"error_message"`
	ResultLocation   *string        `json:"result_location,omitempty"`
}

type WorkerView struct {
	ID              uuid.UUID         `json:"id"`
	Hostname        string            `json:"hostname"`
	Address         string            `json:"address"`
	Capabilities    map[string]string `json:"capabilities,omitempty"`
	Status          core.WorkerStatus `json:"status"`
	CurrentJobID    *uuid.UUID        `json:"current_job_id"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
	ConnectedAt     time.Time         `json:"connected_at"`
	JobsCompleted   int               `json:"jobs_completed"`
	ItemsScraped    int               `json:"items_scraped"`
}

type SnapshotView struct {
	Stats      core.SystemStats `json:"stats"`
	Workers    []WorkerView     `json:"workers"`
	ActiveJobs []JobView        `json:"active_jobs"`
	RecentJobs []JobView        `json:"recent_jobs"`
}

func NewJobView(j *core.Job) JobView {
	return JobView{
		ID:               j.ID,
		URL:              j.URL,
		Label:            j.Label,
		Status:           j.Status,
		AssignedWorkerID: j.AssignedWorkerID,
		LastWorkerID:     j.LastWorkerID,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
		TotalItems:       j.TotalItems,
		ProcessedItems:   j.ProcessedItems,
		FailedItems:      j.FailedItems,
		ErrorMessage:     j.ErrorMessage,
		ResultLocation:   j.ResultLocation,
	}
}

func NewJobViews(jobs []*core.Job) []JobView {
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewJobView(j))
	}
	return out
}

func NewWorkerView(w *core.Worker) WorkerView {
	return WorkerView{
		ID:              w.ID,
		Hostname:        w.Hostname,
		Address:         w.Address,
		Capabilities:    w.Capabilities,
		Status:          w.Status,
		CurrentJobID:    w.CurrentJobID,
		LastHeartbeatAt: w.LastHeartbeatAt,
		ConnectedAt:     w.ConnectedAt,
		JobsCompleted:   w.JobsCompleted,
		ItemsScraped:    w.ItemsScraped,
	}
}

func workerViewOrNil(w *core.Worker) *WorkerView {
	if w == nil {
		return nil
	}
	v := NewWorkerView(w)
	return &v
}

func NewWorkerViews(workers []*core.Worker) []WorkerView {
	out := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		out = append(out, NewWorkerView(w))
	}
	return out
}

func NewSnapshotView(s *core.DashboardSnapshot) SnapshotView {
	return SnapshotView{
		Stats:      s.Stats,
		Workers:    NewWorkerViews(s.Workers),
		ActiveJobs: NewJobViews(s.ActiveJobs),
		RecentJobs: NewJobViews(s.RecentJobs),
	}
}

type workerDisconnectedData struct {
	WorkerID uuid.UUID  `json:"worker_id"`
	Reason   string     `json:"reason"`
	JobID    *uuid.UUID `json:"job_id,omitempty"`
}

type jobAssignedData struct {
	JobID      uuid.UUID   `json:"job_id"`
	WorkerID   uuid.UUID   `json:"worker_id"`
	AssignedAt time.Time   `json:"assigned_at"`
	Worker     *WorkerView `json:"worker,omitempty"`
}

type jobFinishedData struct {
	JobView
	Worker *WorkerView `json:"worker,omitempty"`
}

type jobProgressData struct {
	JobView
	CurrentItem string `json:"current_item,omitempty"`
	Message     string `json:"message,omitempty"`
}

type jobRequeuedData struct {
	JobView
	Reason string `json:"reason"`
}

// Encode serializes event into its wire envelope.
func Encode(event core.Event) (Message, error) {
	var data any
	switch e := event.(type) {
	case core.WorkerConnected:
		data = NewWorkerView(e.Worker)
	case core.WorkerDisconnected:
		data = workerDisconnectedData{WorkerID: e.WorkerID, Reason: e.Reason, JobID: e.JobID}
	case core.WorkerStatusChanged:
		data = NewWorkerView(e.Worker)
	case core.JobCreated:
		data = NewJobView(e.Job)
	case core.JobAssigned:
		data = jobAssignedData{JobID: e.JobID, WorkerID: e.WorkerID, AssignedAt: e.AssignedAt, Worker: workerViewOrNil(e.Worker)}
	case core.JobProgressed:
		data = jobProgressData{JobView: NewJobView(e.Job), CurrentItem: e.CurrentItem, Message: e.Message}
	case core.JobCompleted:
		data = jobFinishedData{JobView: NewJobView(e.Job), Worker: workerViewOrNil(e.Worker)}
	case core.JobFailed:
		data = jobFinishedData{JobView: NewJobView(e.Job), Worker: workerViewOrNil(e.Worker)}
	case core.JobCancelled:
		data = jobFinishedData{JobView: NewJobView(e.Job), Worker: workerViewOrNil(e.Worker)}
	case core.JobRequeued:
		data = jobRequeuedData{JobView: NewJobView(e.Job), Reason: e.Reason}
	case core.StatsUpdated:
		data = e.Stats
	default:
		return Message{}, fmt.Errorf("unknown event %T", event)
	}
	return encode(event.Type(), data, event.OccurredAt())
}

// EncodeSnapshot serializes the initial dashboard state.
func EncodeSnapshot(s *core.DashboardSnapshot, at time.Time) (Message, error) {
	return encode(TypeSnapshot, NewSnapshotView(s), at)
}

func encode(typ core.EventType, data any, at time.Time) (Message, error) {
	payload, err := json.Marshal(envelope{Type: typ, Data: data, Timestamp: at.UTC()})
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Message{Type: typ, Payload: payload}, nil
}
