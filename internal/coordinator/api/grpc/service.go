package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/rpc"
)

const DefaultHeartbeatInterval = 15 * time.Second

type CoordinatorService struct {
	heartbeatInterval time.Duration
	workerService     core.WorkerService
	logger            logging.Logger
}

var _ rpc.CoordinatorServiceServer = (*CoordinatorService)(nil)

func NewCoordinatorService(heartbeatInterval time.Duration, workerService core.WorkerService, logger logging.Logger) *CoordinatorService {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &CoordinatorService{
		heartbeatInterval: heartbeatInterval,
		workerService:     workerService,
		logger:            logger,
	}
}

func (s *CoordinatorService) RegisterWorker(
	ctx context.Context,
	req *rpc.RegisterWorkerRequest,
) (*rpc.RegisterWorkerResponse, error) {
	s.logger.Debug("Received worker registration", "hostname", req.Hostname, "address", req.Address)

	worker, err := s.workerService.RegisterWorker(ctx, core.WorkerInfo{
		Hostname:     req.Hostname,
		Address:      req.Address,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		s.logger.Error("Failed to register worker", "hostname", req.Hostname, "error", err)
		return nil, toStatus(err)
	}

	return &rpc.RegisterWorkerResponse{
		WorkerId:                 worker.ID.String(),
		HeartbeatIntervalSeconds: int64(s.heartbeatInterval / time.Second),
	}, nil
}

func (s *CoordinatorService) Heartbeat(
	ctx context.Context,
	req *rpc.HeartbeatRequest,
) (*rpc.HeartbeatResponse, error) {
	workerID, err := parseID("worker_id", req.WorkerId)
	if err != nil {
		return nil, err
	}
	var current *uuid.UUID
	if req.CurrentJobId != "" {
		id, err := parseID("current_job_id", req.CurrentJobId)
		if err != nil {
			return nil, err
		}
		current = &id
	}

	worker, err := s.workerService.Heartbeat(ctx, workerID, core.WorkerStatus(req.Status), current)
	if err != nil {
		s.logger.Debug("Heartbeat rejected", "worker_id", workerID, "error", err)
		return nil, toStatus(err)
	}

	resp := &rpc.HeartbeatResponse{
		Acknowledged: true,
		Status:       string(worker.Status),
	}
	if worker.CurrentJobID != nil {
		resp.AssignedJobId = worker.CurrentJobID.String()
	}
	return resp, nil
}

func (s *CoordinatorService) PullJob(
	ctx context.Context,
	req *rpc.PullJobRequest,
) (*rpc.PullJobResponse, error) {
	workerID, err := parseID("worker_id", req.WorkerId)
	if err != nil {
		return nil, err
	}

	job, err := s.workerService.PullJob(ctx, workerID)
	if err != nil {
		return nil, toStatus(err)
	}
	if job == nil {
		return &rpc.PullJobResponse{}, nil
	}
	return &rpc.PullJobResponse{
		Job: &rpc.JobAssignment{JobId: job.ID.String(), Url: job.URL, Label: job.Label},
	}, nil
}

func (s *CoordinatorService) ReportProgress(
	ctx context.Context,
	req *rpc.ReportProgressRequest,
) (*rpc.ReportProgressResponse, error) {
	jobID, err := parseID("job_id", req.JobId)
	if err != nil {
		return nil, err
	}
	workerID, err := parseID("worker_id", req.WorkerId)
	if err != nil {
		return nil, err
	}

	job, err := s.workerService.ReportProgress(ctx, core.ProgressReport{
		JobID:          jobID,
		WorkerID:       workerID,
		Status:         core.JobStatus(req.Status),
		TotalItems:     int(req.TotalItems),
		ProcessedItems: int(req.ProcessedItems),
		FailedItems:    int(req.FailedItems),
		CurrentItem:    req.CurrentItem,
		Message:        req.Message,
		ErrorMessage:   req.ErrorMessage,
		ResultLocation: req.ResultLocation,
	})
	if err != nil {
		s.logger.Warn("Progress report rejected", "job_id", jobID, "worker_id", workerID, "status", req.Status, "error", err)
		return nil, toStatus(err)
	}
	return &rpc.ReportProgressResponse{Accepted: true, JobStatus: string(job.Status)}, nil
}

func (s *CoordinatorService) UnregisterWorker(
	ctx context.Context,
	req *rpc.UnregisterWorkerRequest,
) (*rpc.UnregisterWorkerResponse, error) {
	workerID, err := parseID("worker_id", req.WorkerId)
	if err != nil {
		return nil, err
	}
	if err := s.workerService.UnregisterWorker(ctx, workerID, req.Reason); err != nil {
		return nil, toStatus(err)
	}
	return &rpc.UnregisterWorkerResponse{}, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s %q: expected UUID", field, raw)
	}
	return id, nil
}
