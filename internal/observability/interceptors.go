package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
)

// Probes hit the health service every few seconds.
const healthMethodPrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor counts and logs every unary call.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(logger, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor counts and logs every stream once it completes.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(logger, m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(logger zerolog.Logger, m *metrics.Metrics, method, kind string, start time.Time, err error) {
	code := status.Code(err).String()
	m.RecordGRPCRequest(method, code)

	var event *zerolog.Event
	switch {
	case err != nil:
		event = logger.Warn().Err(err)
	case strings.HasPrefix(method, healthMethodPrefix):
		event = logger.Debug()
	default:
		event = logger.Info()
	}
	event.
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", time.Since(start)).
		Msg("gRPC call completed")
}
