package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer builds a gRPC server exposing the standard health
// check and server reflection services, and logs every unary call.
// The processor has no domain-specific RPCs of its own: its external
// surface is the NATS reducer transport and the HTTP metrics endpoint,
// so the grpc surface here is a liveness/readiness probe the
// deployment orchestrator can poll.
func NewGRPCServer(logger zerolog.Logger) (*grpc.Server, *health.Server) {
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Info()
		if err != nil {
			ev = logger.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("duration", time.Since(start)).Msg("grpc request")
		return resp, err
	}
}
