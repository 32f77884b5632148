package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

func recoveryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in RPC handler", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// toStatus maps a lifecycle error to the gRPC status a worker acts on.
// NotFound on heartbeat or progress tells the worker to re-register.
func toStatus(err error) error {
	var code codes.Code
	switch core.ErrorKind(err) {
	case core.KindValidation:
		code = codes.InvalidArgument
	case core.KindNotFound:
		code = codes.NotFound
	case core.KindConflict:
		code = codes.FailedPrecondition
	case core.KindTransient:
		code = codes.Unavailable
	default:
		if errors.Is(err, context.Canceled) {
			code = codes.Canceled
		} else if errors.Is(err, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		} else {
			return status.Error(codes.Internal, "internal error")
		}
	}
	return status.Error(code, err.Error())
}
