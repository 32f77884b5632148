package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "scrapegrid.v1.CoordinatorService"

const (
	MethodRegisterWorker   = "/" + ServiceName + "/RegisterWorker"
	MethodHeartbeat        = "/" + ServiceName + "/Heartbeat"
	MethodPullJob          = "/" + ServiceName + "/PullJob"
	MethodReportProgress   = "/" + ServiceName + "/ReportProgress"
	MethodUnregisterWorker = "/" + ServiceName + "/UnregisterWorker"
)

type CoordinatorServiceServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	PullJob(context.Context, *PullJobRequest) (*PullJobResponse, error)
	ReportProgress(context.Context, *ReportProgressRequest) (*ReportProgressResponse, error)
	UnregisterWorker(context.Context, *UnregisterWorkerRequest) (*UnregisterWorkerResponse, error)
}

var CoordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RegisterWorker", MethodRegisterWorker, CoordinatorServiceServer.RegisterWorker),
		unary("Heartbeat", MethodHeartbeat, CoordinatorServiceServer.Heartbeat),
		unary("PullJob", MethodPullJob, CoordinatorServiceServer.PullJob),
		unary("ReportProgress", MethodReportProgress, CoordinatorServiceServer.ReportProgress),
		unary("UnregisterWorker", MethodUnregisterWorker, CoordinatorServiceServer.UnregisterWorker),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scrapegrid/v1/coordinator",
}

func RegisterCoordinatorServiceServer(s grpc.ServiceRegistrar, srv CoordinatorServiceServer) {
	s.RegisterService(&CoordinatorServiceDesc, srv)
}

func unary[Req, Resp any](
	name, fullMethod string,
	call func(CoordinatorServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CoordinatorServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CoordinatorServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type CoordinatorServiceClient interface {
	RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	PullJob(ctx context.Context, in *PullJobRequest, opts ...grpc.CallOption) (*PullJobResponse, error)
	ReportProgress(ctx context.Context, in *ReportProgressRequest, opts ...grpc.CallOption) (*ReportProgressResponse, error)
	UnregisterWorker(ctx context.Context, in *UnregisterWorkerRequest, opts ...grpc.CallOption) (*UnregisterWorkerResponse, error)
}

type coordinatorServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCoordinatorServiceClient(cc grpc.ClientConnInterface) CoordinatorServiceClient {
	return &coordinatorServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorServiceClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerResponse](ctx, c.cc, MethodRegisterWorker, in, opts)
}

func (c *coordinatorServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, MethodHeartbeat, in, opts)
}

func (c *coordinatorServiceClient) PullJob(ctx context.Context, in *PullJobRequest, opts ...grpc.CallOption) (*PullJobResponse, error) {
	return invoke[PullJobResponse](ctx, c.cc, MethodPullJob, in, opts)
}

func (c *coordinatorServiceClient) ReportProgress(ctx context.Context, in *ReportProgressRequest, opts ...grpc.CallOption) (*ReportProgressResponse, error) {
	return invoke[ReportProgressResponse](ctx, c.cc, MethodReportProgress, in, opts)
}

func (c *coordinatorServiceClient) UnregisterWorker(ctx context.Context, in *UnregisterWorkerRequest, opts ...grpc.CallOption) (*UnregisterWorkerResponse, error) {
	return invoke[UnregisterWorkerResponse](ctx, c.cc, MethodUnregisterWorker, in, opts)
}
