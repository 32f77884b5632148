package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/rpc"
)

type Server struct {
	addr       string
	grpcServer *grpc.Server
	logger     logging.Logger
}

func NewServer(
	cfg config.GRPCConfig,
	workerService core.WorkerService,
	logger logging.Logger,
) *Server {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveMinTime,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(recoveryInterceptor(logger)),
	)

	rpc.RegisterCoordinatorServiceServer(
		grpcServer,
		NewCoordinatorService(cfg.HeartbeatInterval, workerService, logger),
	)

	return &Server{
		addr:       cfg.Addr,
		grpcServer: grpcServer,
		logger:     logger,
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts worker connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
