package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/database"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/events"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/lease"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/memory"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/secrets"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/sqlite"
	"github.com/kevin07696/escrow-scheduler/internal/adapters/transfer"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/config"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/escrow"
	"github.com/kevin07696/escrow-scheduler/internal/services/invocation"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"github.com/kevin07696/escrow-scheduler/internal/services/subscription"
	"github.com/kevin07696/escrow-scheduler/pkg/logging"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/kevin07696/escrow-scheduler/pkg/shutdown"
	"github.com/kevin07696/escrow-scheduler/pkg/timeutil"
	"go.uber.org/zap"
)

const (
	// jwtExpiry bounds tokens minted by the token command.
	jwtExpiry           = time.Hour
	poolMonitorInterval = 30 * time.Second
)

// app holds the wired engine and its infrastructure
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	store         ports.Store
	secrets       ports.SecretManager
	publisher     ports.EventPublisher
	locker        ports.LeaseLocker
	escrow        *escrow.Service
	scheduler     *scheduler.Service
	subscriptions *subscription.Service
	health        *observability.HealthChecker
}

// buildApp wires the engine. Closers are registered on sm in dependency order.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, sm *shutdown.Manager) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		health: observability.NewHealthChecker(),
	}

	store, err := openStore(ctx, cfg, logger, sm)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.health.Register("store", store.Ping)

	a.secrets, err = newSecretManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway, err := newTransferGateway(ctx, cfg, a.secrets, logger)
	if err != nil {
		return nil, err
	}

	a.publisher, err = newPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	sm.RegisterCloser("event-publisher", a.publisher)

	a.locker, err = newLocker(ctx, cfg, logger, sm)
	if err != nil {
		return nil, err
	}

	clock := timeutil.NewMonotonicClock(timeutil.SystemClock{})
	portsLogger := logging.NewZapLogger(logger)
	tm := invocation.NewGuard(store)

	a.escrow = escrow.NewService(tm, gateway, clock, a.publisher, portsLogger)
	a.scheduler = scheduler.NewService(tm, a.escrow, clock, a.publisher, portsLogger, cfg.Keeper.MaxBatchSize)
	a.subscriptions = subscription.NewService(tm, a.scheduler, clock, a.publisher, portsLogger, subscription.Options{
		AllowRecipientCancel: cfg.Auth.AllowRecipientCancel,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, sm *shutdown.Manager) (ports.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		sm.RegisterCloser("sqlite", store)
		if cfg.Storage.AutoMigrate {
			version, err := store.Migrate(ctx)
			if err != nil {
				return nil, err
			}
			logger.Info("SQLite schema up to date", zap.Int64("version", version))
		}
		logger.Info("Using SQLite store", zap.String("path", cfg.Storage.SQLitePath))
		return store, nil

	case config.StoragePostgres:
		adapter, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		monitorCtx, stopMonitor := context.WithCancel(context.WithoutCancel(ctx))
		go adapter.MonitorPool(monitorCtx, poolMonitorInterval)
		sm.RegisterFunc("postgres", func() {
			stopMonitor()
			adapter.Close()
		})
		if cfg.Storage.AutoMigrate {
			if err := adapter.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return adapter.Store(), nil

	default:
		logger.Warn("Using in-memory store - balances are lost on restart")
		return memory.New(), nil
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.PostgreSQLAdapter, error) {
	dbCfg := database.DefaultPostgreSQLConfig(cfg.Storage.DatabaseURL)
	dbCfg.MaxConns = int32(cfg.Storage.MaxConns)
	dbCfg.MinConns = int32(cfg.Storage.MinConns)
	dbCfg.MaxConnLifetime = cfg.Storage.MaxConnLifetime
	dbCfg.MaxConnIdleTime = cfg.Storage.MaxConnIdleTime
	return database.NewPostgreSQLAdapter(ctx, dbCfg, logger)
}

func newSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManager, error) {
	var backend ports.SecretManager
	switch cfg.Secrets.Backend {
	case config.SecretsAWS:
		sm, err := secrets.NewAWSSecretsManagerAdapter(ctx, &secrets.AWSSecretsManagerConfig{
			Region:   cfg.Secrets.AWSRegion,
			Profile:  cfg.Secrets.AWSProfile,
			Endpoint: cfg.Secrets.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = sm

	case config.SecretsVault:
		vaultCfg := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddress)
		vaultCfg.AuthMethod = cfg.Secrets.VaultAuthMethod
		vaultCfg.Token = cfg.Secrets.VaultToken
		vaultCfg.RoleID = cfg.Secrets.VaultRoleID
		vaultCfg.SecretID = cfg.Secrets.VaultSecretID
		vaultCfg.MountPath = cfg.Secrets.VaultMountPath
		sm, err := secrets.NewVaultAdapter(ctx, vaultCfg, logger)
		if err != nil {
			return nil, err
		}
		backend = sm

	default:
		backend = secrets.NewLocalSecretManager(cfg.Secrets.LocalPath, logger)
	}
	return secrets.WithCache(backend, cfg.Secrets.CacheTTL, logger), nil
}

// loadSecret reads an optional secret; an empty path yields "".
func loadSecret(ctx context.Context, sm ports.SecretManager, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	secret, err := sm.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load secret %s: %w", path, err)
	}
	return strings.TrimSpace(secret.Value), nil
}

func newTransferGateway(ctx context.Context, cfg *config.Config, sm ports.SecretManager, logger *zap.Logger) (ports.TransferGateway, error) {
	if cfg.Transfer.Mode != config.TransferHTTP {
		logger.Warn("Using local transfer gateway - transfers are only logged")
		return transfer.NewLocalGateway(logger), nil
	}

	apiKey, err := loadSecret(ctx, sm, cfg.Transfer.APIKeySecretPath)
	if err != nil {
		return nil, err
	}

	gwCfg := transfer.DefaultHTTPGatewayConfig(cfg.Transfer.BaseURL)
	gwCfg.APIKey = apiKey
	gwCfg.Timeout = cfg.Transfer.Timeout
	gwCfg.AttemptTimeout = cfg.Transfer.AttemptTimeout
	gwCfg.MaxRetries = cfg.Transfer.MaxRetries
	gwCfg.FailureThreshold = uint32(cfg.Transfer.FailureThreshold)
	gwCfg.OpenTimeout = cfg.Transfer.OpenTimeout
	gwCfg.InsecureSkipVerify = cfg.Transfer.InsecureSkipVerify

	logger.Info("Using HTTP transfer gateway", zap.String("base_url", cfg.Transfer.BaseURL))
	return transfer.NewHTTPGateway(gwCfg, logger), nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (ports.EventPublisher, error) {
	if cfg.Events.RabbitMQURL == "" {
		return events.NewNoopPublisher(logger), nil
	}
	pub, err := events.NewRabbitMQPublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Publishing events to RabbitMQ", zap.String("exchange", cfg.Events.Exchange))
	return events.WithTimeout(pub, cfg.Events.PublishTimeout), nil
}

func newLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger, sm *shutdown.Manager) (ports.LeaseLocker, error) {
	if cfg.Keeper.RedisURL == "" {
		return lease.NewLocalLocker(), nil
	}
	client, err := lease.NewRedisClient(ctx, cfg.Keeper.RedisURL)
	if err != nil {
		return nil, err
	}
	sm.RegisterCloser("redis", client)
	logger.Info("Keeper lease backed by Redis")
	return lease.NewRedisLocker(client), nil
}

// newJWTManager returns nil when no signing secret is configured.
func newJWTManager(ctx context.Context, cfg *config.Config, sm ports.SecretManager) (*auth.JWTManager, error) {
	secret, err := loadSecret(ctx, sm, cfg.Auth.JWTSecretPath)
	if err != nil || secret == "" {
		return nil, err
	}
	return auth.NewJWTManager([]byte(secret), cfg.Auth.JWTIssuer, jwtExpiry)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewZap(cfg.Logger.Level, cfg.Logger.Development)
}
