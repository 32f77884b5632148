package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/rpc"
	"github.com/nemanja-m/scrapegrid/internal/worker/core"
)

type CoordinatorClient struct {
	conn           *grpc.ClientConn
	client         rpc.CoordinatorServiceClient
	requestTimeout time.Duration
}

var _ core.CoordinatorClient = (*CoordinatorClient)(nil)

func NewCoordinatorClient(coordinatorAddr string, cfg config.WorkerGRPCConfig, opts ...grpc.DialOption) (*CoordinatorClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                cfg.KeepaliveTime,
				Timeout:             cfg.KeepaliveTimeout,
				PermitWithoutStream: true,
			},
		),
	}, opts...)

	conn, err := grpc.NewClient(coordinatorAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}

	return &CoordinatorClient{
		conn:           conn,
		client:         rpc.NewCoordinatorServiceClient(conn),
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

func (c *CoordinatorClient) RegisterWorker(ctx context.Context, reg core.Registration) (uuid.UUID, time.Duration, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{
		Hostname:     reg.Hostname,
		Address:      reg.Address,
		Capabilities: reg.Capabilities,
	})
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to register worker: %w", mapError(err))
	}
	id, err := uuid.Parse(resp.WorkerId)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("coordinator returned invalid worker id %q: %w", resp.WorkerId, err)
	}
	return id, time.Duration(resp.HeartbeatIntervalSeconds) * time.Second, nil
}

func (c *CoordinatorClient) SendHeartbeat(
	ctx context.Context,
	workerID uuid.UUID,
	workerStatus core.WorkerStatus,
	currentJobID *uuid.UUID,
) (*core.HeartbeatAck, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := &rpc.HeartbeatRequest{WorkerId: workerID.String(), Status: string(workerStatus)}
	if currentJobID != nil {
		req.CurrentJobId = currentJobID.String()
	}
	resp, err := c.client.Heartbeat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", mapError(err))
	}

	ack := &core.HeartbeatAck{Status: resp.Status}
	if resp.AssignedJobId != "" {
		id, err := uuid.Parse(resp.AssignedJobId)
		if err != nil {
			return nil, fmt.Errorf("coordinator returned invalid job id %q: %w", resp.AssignedJobId, err)
		}
		ack.AssignedJobID = &id
	}
	return ack, nil
}

func (c *CoordinatorClient) PullJob(ctx context.Context, workerID uuid.UUID) (*core.Assignment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.PullJob(ctx, &rpc.PullJobRequest{WorkerId: workerID.String()})
	if err != nil {
		return nil, fmt.Errorf("pull job: %w", mapError(err))
	}
	if resp.Job == nil {
		return nil, nil
	}
	id, err := uuid.Parse(resp.Job.JobId)
	if err != nil {
		return nil, fmt.Errorf("coordinator returned invalid job id %q: %w", resp.Job.JobId, err)
	}
	return &core.Assignment{JobID: id, URL: resp.Job.Url, Label: resp.Job.Label}, nil
}

func (c *CoordinatorClient) ReportProgress(ctx context.Context, workerID, jobID uuid.UUID, p core.Progress) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.ReportProgress(ctx, &rpc.ReportProgressRequest{
		JobId:          jobID.String(),
		WorkerId:       workerID.String(),
		Status:         string(p.Status),
		TotalItems:     int64(p.TotalItems),
		ProcessedItems: int64(p.ProcessedItems),
		FailedItems:    int64(p.FailedItems),
		CurrentItem:    p.CurrentItem,
		Message:        p.Message,
		ErrorMessage:   p.ErrorMessage,
		ResultLocation: p.ResultLocation,
	})
	if err != nil {
		return fmt.Errorf("report %s progress for job %s: %w", p.Status, jobID, mapError(err))
	}
	return nil
}

func (c *CoordinatorClient) UnregisterWorker(ctx context.Context, workerID uuid.UUID, reason string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.client.UnregisterWorker(ctx, &rpc.UnregisterWorkerRequest{WorkerId: workerID.String(), Reason: reason}); err != nil {
		return fmt.Errorf("unregister: %w", mapError(err))
	}
	return nil
}

func (c *CoordinatorClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *CoordinatorClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// mapError turns the coordinator's status codes into the sentinels the
// worker loops act on.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", core.ErrNotRegistered, status.Convert(err).Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", core.ErrJobRejected, status.Convert(err).Message())
	default:
		return err
	}
}
