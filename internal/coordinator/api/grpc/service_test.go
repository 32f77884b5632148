package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/registry"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/service"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/storage"
	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/rpc"
)

func startServer(t *testing.T, workers core.WorkerService) rpc.CoordinatorServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(config.GRPCConfig{HeartbeatInterval: 5 * time.Second}, workers, logging.NewNopLogger())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return rpc.NewCoordinatorServiceClient(conn)
}

func newCoordinator() (*service.Coordinator, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	coord := service.NewCoordinator(service.Deps{
		Registry: registry.New(nil),
		Jobs:     store,
		Workers:  store,
		Logger:   logging.NewNopLogger(),
	}, service.Options{})
	return coord, store
}

func TestServer_RegistersOnlyCoordinatorService(t *testing.T) {
	coord, _ := newCoordinator()
	srv := NewServer(config.GRPCConfig{}, coord, logging.NewNopLogger())

	info := srv.grpcServer.GetServiceInfo()
	require.Len(t, info, 1, "no service is advertised without a descriptor to back it")
	assert.Contains(t, info, rpc.ServiceName)
}

func TestCoordinatorService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	coord, _ := newCoordinator()
	client := startServer(t, coord)

	reg, err := client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{Hostname: "node-1", Address: "10.0.0.1:9100"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), reg.HeartbeatIntervalSeconds)
	workerID := reg.WorkerId

	pulled, err := client.PullJob(ctx, &rpc.PullJobRequest{WorkerId: workerID})
	require.NoError(t, err)
	assert.Nil(t, pulled.Job)

	job, err := coord.CreateJob(ctx, "https://www.tiktok.com/@someone", "")
	require.NoError(t, err)
	_, err = coord.Assign(ctx, job.ID, uuid.MustParse(workerID))
	require.NoError(t, err)

	hb, err := client.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerId: workerID, Status: string(core.WorkerStatusIdle)})
	require.NoError(t, err)
	assert.True(t, hb.Acknowledged)
	assert.Equal(t, string(core.WorkerStatusBusy), hb.Status)
	assert.Equal(t, job.ID.String(), hb.AssignedJobId)

	pulled, err = client.PullJob(ctx, &rpc.PullJobRequest{WorkerId: workerID})
	require.NoError(t, err)
	require.NotNil(t, pulled.Job)
	assert.Equal(t, job.URL, pulled.Job.Url)
	assert.Equal(t, "someone", pulled.Job.Label)

	progress, err := client.ReportProgress(ctx, &rpc.ReportProgressRequest{
		JobId: job.ID.String(), WorkerId: workerID, Status: string(core.JobStatusCompleted),
		TotalItems: 3, ProcessedItems: 3, ResultLocation: "results/out.jsonl",
	})
	require.NoError(t, err)
	assert.True(t, progress.Accepted)
	assert.Equal(t, string(core.JobStatusCompleted), progress.JobStatus)

	_, err = client.UnregisterWorker(ctx, &rpc.UnregisterWorkerRequest{WorkerId: workerID, Reason: "shutdown"})
	require.NoError(t, err)

	_, err = client.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerId: workerID, Status: string(core.WorkerStatusIdle)})
	assert.Equal(t, codes.NotFound, status.Code(err), "reaped or unregistered workers must re-register")
}

func TestCoordinatorService_Errors(t *testing.T) {
	ctx := context.Background()
	coord, _ := newCoordinator()
	client := startServer(t, coord)

	reg, err := client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{Hostname: "node-1"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"malformed worker id", func() error {
			_, err := client.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerId: "nope"})
			return err
		}, codes.InvalidArgument},
		{"unknown heartbeat status", func() error {
			_, err := client.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerId: reg.WorkerId, Status: "NAPPING"})
			return err
		}, codes.InvalidArgument},
		{"missing hostname", func() error {
			_, err := client.RegisterWorker(ctx, &rpc.RegisterWorkerRequest{})
			return err
		}, codes.InvalidArgument},
		{"unknown job", func() error {
			_, err := client.ReportProgress(ctx, &rpc.ReportProgressRequest{
				JobId: uuid.NewString(), WorkerId: reg.WorkerId, Status: string(core.JobStatusRunning),
			})
			return err
		}, codes.NotFound},
		{"unknown worker pull", func() error {
			_, err := client.PullJob(ctx, &rpc.PullJobRequest{WorkerId: uuid.NewString()})
			return err
		}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

type panickingWorkers struct {
	core.WorkerService
}

func (panickingWorkers) PullJob(context.Context, uuid.UUID) (*core.Job, error) {
	panic("boom")
}

func TestCoordinatorService_RecoversPanics(t *testing.T) {
	client := startServer(t, panickingWorkers{})

	_, err := client.PullJob(context.Background(), &rpc.PullJobRequest{WorkerId: uuid.NewString()})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&core.ValidationError{Field: "url", Reason: "bad"}, codes.InvalidArgument},
		{fmt.Errorf("wrap: %w", core.ErrWorkerNotFound), codes.NotFound},
		{core.ErrJobTerminal, codes.FailedPrecondition},
		{core.Transient("save", errors.New("conn reset")), codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
}
