package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"live-speech-relay/internal/app"
	"live-speech-relay/internal/config"
	"live-speech-relay/internal/events"
	relayhttp "live-speech-relay/internal/http"
	"live-speech-relay/internal/observability"
	"live-speech-relay/internal/observability/metrics"
	"live-speech-relay/internal/service/session"
	"live-speech-relay/internal/service/stt"
)

const (
	healthServiceName = "speech.relay.SessionService"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration is invalid")
	}
	application := app.New(cfg)

	if err := run(application, setupDI(cfg)); err != nil {
		application.Logger.Error().Err(err).Msg("Speech relay exited with error")
		os.Exit(1)
	}
}

func run(application *app.Application, injector do.Injector) error {
	cfg := application.Cfg

	publisher, err := do.Invoke[*events.Publisher](injector)
	if err != nil {
		return fmt.Errorf("resolve publisher: %w", err)
	}
	recognizer, err := do.Invoke[stt.Adapter](injector)
	if err != nil {
		return fmt.Errorf("resolve recognizer: %w", err)
	}
	sessions, err := do.Invoke[*session.Controller](injector)
	if err != nil {
		return fmt.Errorf("resolve session controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	controlServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           relayhttp.NewRouter(application, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	obsServer := observability.NewServer(cfg.Observability.MetricsAddr, func() error {
		if application.StartupTime.IsZero() {
			return errors.New("starting")
		}
		return nil
	})

	if err := application.Start(); err != nil {
		return err
	}
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		application.Logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		application.Logger.Info().Str("port", cfg.Service.HTTPPort).Msg("Control plane listening")
		if err := controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control plane: %w", err)
		}
		return nil
	})
	g.Go(obsServer.Serve)
	g.Go(func() error {
		<-gctx.Done()
		application.Logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			application.Logger.Warn().Err(err).Msg("Control plane shutdown")
		}
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			application.Logger.Warn().Err(err).Msg("Active session shutdown")
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			application.Logger.Warn().Err(err).Msg("Observability server shutdown")
		}
		grpcServer.GracefulStop()

		if err := publisher.Close(); err != nil {
			application.Logger.Warn().Err(err).Msg("Publisher close")
		}
		if err := recognizer.Close(); err != nil {
			application.Logger.Warn().Err(err).Msg("Recognizer close")
		}
		application.Shutdown()
		return nil
	})

	return g.Wait()
}
