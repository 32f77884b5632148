package rest

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

func jobLinks(id uuid.UUID) Links {
	self := fmt.Sprintf("/api/jobs/%s", id)
	return Links{
		Self:     self,
		Progress: self + "/progress",
		Result:   self + "/result",
	}
}

func toCreateJobResponse(job *core.Job) CreateJobResponse {
	return CreateJobResponse{
		JobID:       job.ID.String(),
		URL:         job.URL,
		Label:       job.Label,
		Status:      string(job.Status),
		SubmittedAt: job.CreatedAt.UTC(),
		Links:       jobLinks(job.ID),
	}
}

func toProgressResponse(p *core.Progress) ProgressResponse {
	resp := ProgressResponse{
		JobID:          p.JobID.String(),
		TotalItems:     p.TotalItems,
		ProcessedItems: p.ProcessedItems,
		FailedItems:    p.FailedItems,
		CurrentItem:    p.CurrentItem,
		Message:        p.Message,
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
	if p.WorkerID != uuid.Nil {
		resp.WorkerID = p.WorkerID.String()
	}
	if p.TotalItems > 0 {
		resp.Percent = float64(p.ProcessedItems) / float64(p.TotalItems) * 100
	}
	return resp
}

// httpStatus maps an error kind to the response status code.
func httpStatus(err error) int {
	switch core.ErrorKind(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
