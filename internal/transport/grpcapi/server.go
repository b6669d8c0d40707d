package grpcapi

import (
	"context"
	"time"

	"weldon/pkg/utils/contextkey"
	"weldon/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Config configures the gRPC transport.
type Config struct {
	Addr           string `yaml:"addr"`
	MaxRecvMsgSize int    `yaml:"maxRecvMsgSize"`
}

const defaultMaxRecvMsgSize = 4 << 20

// NewServer builds a gRPC server exposing d.
func NewServer(d Dispatcher, cfg Config) *grpc.Server {
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = defaultMaxRecvMsgSize
	}
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.ChainUnaryInterceptor(traceInterceptor, loggingInterceptor),
	)
	RegisterGatewayServer(srv, NewGatewayServer(d))
	return srv
}

// traceInterceptor seeds the context keys the HTTP middleware sets.
func traceInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	traceID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("x-trace-id"); len(values) > 0 {
			traceID = values[0]
		}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	ctx = context.WithValue(ctx, contextkey.Transport, "grpc")
	return handler(ctx, req)
}

func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Info(ctx, "request completed",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, err
}
