package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"

	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
)

// ServiceName is the name the ledger daemon reports through gRPC health.
const ServiceName = "ledgerd"

const correlationMetadataKey = "x-correlation-id"

// GRPCOptions configures the operational gRPC server.
type GRPCOptions struct {
	Logger *slog.Logger
	// Token, when set, is required in the authorization metadata of
	// every call except health checks.
	Token string
}

// NewGRPCServer builds a server exposing health and reflection. The returned
// health server starts NOT_SERVING until the caller marks it.
func NewGRPCServer(opts GRPCOptions) (*grpc.Server, *health.Server) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		CorrelationInterceptor(),
		UnaryLogger(logger),
		AuthInterceptor(opts.Token),
	))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// SetServing flips the overall and named service status together.
func SetServing(hs *health.Server, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", st)
	hs.SetServingStatus(ServiceName, st)
}

// CorrelationInterceptor carries x-correlation-id metadata into the context,
// minting one when absent.
func CorrelationInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		cid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(correlationMetadataKey); len(v) > 0 {
				cid = v[0]
			}
		}
		if cid == "" {
			cid = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(correlationMetadataKey, cid))
		return handler(security.WithCorrelationID(ctx, cid), req)
	}
}

// UnaryLogger logs each call with its code and duration.
func UnaryLogger(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		l.Log(ctx, level, "grpc_request",
			"cid", security.CorrelationIDFromContext(ctx),
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// AuthInterceptor validates the authorization token from request metadata.
// An empty token disables the check.
func AuthInterceptor(validToken string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if validToken == "" || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}
		if strings.TrimPrefix(authHeaders[0], "Bearer ") != validToken {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(ctx, req)
	}
}
