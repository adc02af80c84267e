package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	keeperapi "github.com/kevin07696/escrow-scheduler/internal/api/grpc/keeper"
	"github.com/kevin07696/escrow-scheduler/internal/config"
	cronHandler "github.com/kevin07696/escrow-scheduler/internal/handlers/cron"
	escrowHandler "github.com/kevin07696/escrow-scheduler/internal/handlers/escrow"
	subscriptionHandler "github.com/kevin07696/escrow-scheduler/internal/handlers/subscription"
	"github.com/kevin07696/escrow-scheduler/internal/keeper"
	authmw "github.com/kevin07696/escrow-scheduler/internal/middleware"
	"github.com/kevin07696/escrow-scheduler/pkg/logging"
	"github.com/kevin07696/escrow-scheduler/pkg/middleware"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/kevin07696/escrow-scheduler/pkg/resilience"
	"github.com/kevin07696/escrow-scheduler/pkg/shutdown"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the keeper gRPC service and the optional in-process keeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting escrow scheduler",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("transfer_mode", cfg.Transfer.Mode),
		zap.Bool("keeper_enabled", cfg.Keeper.Enabled),
	)

	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	a, err := buildApp(ctx, cfg, logger, sm)
	if err != nil {
		_ = sm.Shutdown()
		return fmt.Errorf("initialize: %w", err)
	}

	jwt, err := newJWTManager(ctx, cfg, a.secrets)
	if err != nil {
		_ = sm.Shutdown()
		return err
	}
	var tokens authmw.TokenValidator
	if jwt != nil {
		tokens = jwt
	}
	cronSecret, err := loadSecret(ctx, a.secrets, cfg.Auth.CronSecretPath)
	if err != nil {
		_ = sm.Shutdown()
		return err
	}
	if cronSecret == "" {
		logger.Warn("No cron secret configured - cron and keeper-secret endpoints reject every request")
	}

	timeouts := resilience.DefaultTimeoutConfig()
	timeouts.Transfer = cfg.Transfer.Timeout
	timeouts.TransferAttempt = cfg.Transfer.AttemptTimeout
	timeouts.EventPublish = cfg.Events.PublishTimeout
	if err := timeouts.Validate(); err != nil {
		_ = sm.Shutdown()
		return fmt.Errorf("timeout config: %w", err)
	}

	// Metrics and health
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), a.health, logger)
	sm.Register("metrics-server", func(ctx context.Context) error {
		return observability.ShutdownMetricsServer(ctx, metricsServer)
	})

	// gRPC keeper service
	grpcAuth := authmw.NewGRPCAuthInterceptor(tokens, cronSecret, logger,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			observability.UnaryServerInterceptor(),
			middleware.RecoveryInterceptor(logger),
			middleware.LoggingInterceptor(logger),
			middleware.TimeoutInterceptor(timeouts, logger),
			grpcAuth.UnaryServerInterceptor(),
		),
	)
	keeperapi.RegisterKeeperServiceServer(grpcServer, keeperapi.NewHandler(a.scheduler, logging.NewZapLogger(logger)))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(keeperapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)))
	if err != nil {
		_ = sm.Shutdown()
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	sm.Register("grpc-server", func(ctx context.Context) error {
		healthServer.Shutdown()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			grpcServer.Stop()
			return ctx.Err()
		}
	})

	// HTTP API
	apiMux := runtime.NewServeMux()
	if err := escrowHandler.NewHandler(a.escrow, logger).Register(apiMux); err != nil {
		_ = sm.Shutdown()
		return err
	}
	if err := subscriptionHandler.NewHandler(a.subscriptions, a.scheduler, logger).Register(apiMux); err != nil {
		_ = sm.Shutdown()
		return err
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst).
		WithKeyFunc(authmw.CallerOrIP)
	callerAuth := authmw.NewCallerAuth(tokens, cfg.Auth.CallerHeader, cfg.Auth.TrustCallerHeader, logger)

	// Cron routes authenticate with the cron secret, not caller identity.
	rootMux := http.NewServeMux()
	cronHandler.NewKeeperHandler(a.scheduler, logger, cronSecret, cfg.Keeper.BatchSize, cfg.Keeper.MaxBatchSize).Register(rootMux)
	rootMux.Handle("/v1/", callerAuth.Middleware(rateLimiter.Middleware(apiMux)))

	inflight := shutdown.NewInFlightTracker("http", logger)

	var handler http.Handler = rootMux
	handler = middleware.GzipHandler(middleware.DefaultGzipConfig(), logger)(handler)
	handler = authmw.NewSecurityHeaders(cfg.Logger.Development).Middleware(handler)
	handler = inflight.Middleware(handler)
	handler = http.TimeoutHandler(handler, timeouts.HTTPHandler, `{"code":"INTERNAL_ERROR","message":"request timed out"}`)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	sm.Register("http-server", func(ctx context.Context) error {
		if err := inflight.Shutdown(ctx); err != nil {
			return err
		}
		return httpServer.Shutdown(ctx)
	})

	// In-process keeper, stopped first
	if cfg.Keeper.Enabled {
		runner := keeper.NewRunner(a.scheduler, a.locker, timeouts, keeper.Config{
			Interval:  cfg.Keeper.Interval,
			BatchSize: cfg.Keeper.BatchSize,
			LeaseTTL:  cfg.Keeper.LeaseTTL,
		}, logger)
		runner.Start(context.WithoutCancel(ctx))
		sm.Register("keeper", runner.Shutdown)
	}

	a.health.SetReady(true)
	return sm.WaitForShutdown(ctx)
}
