package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"gatekeep.org/internal/auth"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer implements grpc.health.v1.Health over the store readiness probe.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	logger    *slog.Logger
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCServer{readiness: r, logger: logger}
}

// Register attaches the services to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check reports SERVING when the store answers. Only the overall status and
// this service's name are known.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.logger.WarnContext(ctx, "grpc health check failed", slog.Any("error", err))
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// UnaryLogging logs each unary call with its status code.
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.LogAttrs(ctx, slog.LevelInfo, "grpc request",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

// UnaryAuthn resolves the bearer token in the authorization metadata into a
// principal. Calls without a usable token continue as anonymous.
func UnaryAuthn(authz *auth.Authorizer, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		values := md.Get("authorization")
		if len(values) == 0 || values[0] == "" {
			return handler(ctx, req)
		}
		ctx = auth.ContextWithToken(ctx, auth.ExtractToken(values[0]))
		principal, err := authz.Authenticate(ctx, values[0])
		if err != nil {
			if de := auth.AsError(err); de.Kind == auth.KindInternal {
				logger.ErrorContext(ctx, "grpc authentication failed",
					slog.String("method", info.FullMethod),
					slog.Any("error", de.Cause),
				)
			}
			return handler(ctx, req)
		}
		return handler(auth.ContextWithPrincipal(ctx, principal), req)
	}
}
