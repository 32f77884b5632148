package rest

import (
	"time"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/events"
)

type CreateJobRequest struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

type CreateJobResponse struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Label       string    `json:"label"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	Links       Links     `json:"links"`
}

type Links struct {
	Self     string `json:"self"`
	Progress string `json:"progress,omitempty"`
	Result   string `json:"result,omitempty"`
}

// JobResponse shares its JSON shape with the job payload of live events.
type JobResponse = events.JobView

type WorkerResponse = events.WorkerView

type ListJobsResponse struct {
	Jobs       []JobResponse `json:"jobs"`
	Total      int           `json:"total"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	NextOffset *int          `json:"next_offset"`
}

type ListVideosResponse struct {
	JobID      string       `json:"job_id"`
	Videos     []core.Video `json:"videos"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	NextOffset *int         `json:"next_offset"`
}

type ListWorkersResponse struct {
	Workers []WorkerResponse `json:"workers"`
	Total   int              `json:"total"`
}

type ProgressResponse struct {
	JobID          string    `json:"job_id"`
	WorkerID       string    `json:"worker_id,omitempty"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	FailedItems    int       `json:"failed_items"`
	Percent        float64   `json:"percent"`
	CurrentItem    string    `json:"current_item,omitempty"`
	Message        string    `json:"message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ResultResponse struct {
	JobID    string `json:"job_id"`
	Location string `json:"location"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
