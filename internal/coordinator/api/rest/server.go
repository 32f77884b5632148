package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/events"
	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// EventSource hands out live event subscriptions.
type EventSource interface {
	Subscribe() *events.Subscription
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type API struct {
	jobs      core.JobService
	dashboard core.DashboardService
	events    EventSource
	health    HealthCheck
	logger    logging.Logger

	keepAlive time.Duration
	now       func() time.Time
}

func NewAPI(
	jobs core.JobService,
	dashboard core.DashboardService,
	source EventSource,
	health HealthCheck,
	logger logging.Logger,
) *API {
	return &API{
		jobs:      jobs,
		dashboard: dashboard,
		events:    source,
		health:    health,
		logger:    logger,
		keepAlive: 15 * time.Second,
		now:       time.Now,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", a.createJob)
	mux.HandleFunc("GET /api/jobs", a.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", a.cancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/progress", a.getJobProgress)
	mux.HandleFunc("GET /api/jobs/{id}/result", a.getJobResult)
	mux.HandleFunc("GET /api/jobs/{id}/videos", a.listJobVideos)
	mux.HandleFunc("GET /api/workers", a.listWorkers)
	mux.HandleFunc("GET /api/stats", a.getStats)
	mux.HandleFunc("GET /api/dashboard", a.getDashboard)
	mux.HandleFunc("GET /api/events", a.streamEvents)
	mux.HandleFunc("GET /healthz", a.healthz)
	mux.Handle("GET /metrics", metrics.Handler())
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, core.KindValidation, "invalid request body: "+err.Error())
		return
	}

	job, err := a.jobs.CreateJob(r.Context(), req.URL, req.Label)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", jobLinks(job.ID).Self)
	a.respondJSON(w, http.StatusCreated, toCreateJobResponse(job))
}

// getJob handles GET /api/jobs/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	job, err := a.jobs.GetJob(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, events.NewJobView(job))
}

// listJobs handles GET /api/jobs with status filter and pagination
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, offset, ok := a.pageParams(w, query)
	if !ok {
		return
	}

	filter := core.JobFilter{Limit: limit, Offset: offset}
	if s := query.Get("status"); s != "" {
		status := core.JobStatus(s)
		filter.Status = &status
	}

	jobs, total, err := a.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	a.respondJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:       events.NewJobViews(jobs),
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		NextOffset: nextOffset(offset, len(jobs), total),
	})
}

// listJobVideos handles GET /api/jobs/{id}/videos, paging through the
// records of a completed job.
func (a *API) listJobVideos(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := a.pageParams(w, r.URL.Query())
	if !ok {
		return
	}

	videos, total, err := a.jobs.JobVideos(r.Context(), id, offset, limit)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, ListVideosResponse{
		JobID:      id.String(),
		Videos:     videos,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		NextOffset: nextOffset(offset, len(videos), total),
	})
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	job, err := a.jobs.CancelJob(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, events.NewJobView(job))
}

func (a *API) getJobProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	progress, err := a.jobs.JobProgress(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, toProgressResponse(progress))
}

func (a *API) getJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	location, err := a.jobs.ResultLocation(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, ResultResponse{JobID: id.String(), Location: location})
}

func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	includeOffline := r.URL.Query().Get("include_offline") == "true"
	workers, err := a.dashboard.ListWorkers(r.Context(), includeOffline)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, ListWorkersResponse{
		Workers: events.NewWorkerViews(workers),
		Total:   len(workers),
	})
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.dashboard.Stats(r.Context())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, stats)
}

func (a *API) getDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := a.dashboard.Snapshot(r.Context())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, events.NewSnapshotView(snap))
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health(ctx); err != nil {
			a.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	a.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, core.KindValidation, fmt.Sprintf("invalid job id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) pageParams(w http.ResponseWriter, query url.Values) (limit, offset int, ok bool) {
	limit, err := intParam(query.Get("limit"), defaultLimit)
	if err != nil || limit <= 0 {
		a.respondError(w, http.StatusBadRequest, core.KindValidation, "limit must be a positive integer")
		return 0, 0, false
	}
	offset, err = intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		a.respondError(w, http.StatusBadRequest, core.KindValidation, "offset must be a non-negative integer")
		return 0, 0, false
	}
	return min(limit, maxLimit), offset, true
}

func nextOffset(offset, n, total int) *int {
	if end := offset + n; end < total {
		return &end
	}
	return nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (a *API) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
	}
	message := err.Error()
	if code == http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		message = "internal error"
	}
	a.respondError(w, code, core.ErrorKind(err), message)
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("Failed to write response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, kind string, message string) {
	a.respondJSON(w, statusCode, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    statusCode,
	})
}

// NewServer wires the API behind CORS and the recovery and logging
// middleware.
func NewServer(cfg config.RESTConfig, api *API, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)
	handler = cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Last-Event-ID", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Location"},
	}).Handler(handler)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
