package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Transfer gateway modes
const (
	TransferLocal = "local"
	TransferHTTP  = "http"
)

// Secret backends
const (
	SecretsLocal = "local"
	SecretsAWS   = "aws"
	SecretsVault = "vault"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Transfer TransferConfig
	Keeper   KeeperConfig
	Events   EventsConfig
	Auth     AuthConfig
	Secrets  SecretsConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP, gRPC and metrics listener configuration
type ServerConfig struct {
	Host            string
	HTTPPort        int
	GRPCPort        int
	MetricsPort     int
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// StorageConfig selects and tunes the storage backend
type StorageConfig struct {
	Driver          string // memory, sqlite, postgres
	DatabaseURL     string
	SQLitePath      string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

// TransferConfig holds settlement gateway configuration
type TransferConfig struct {
	Mode               string // local, http
	BaseURL            string
	APIKeySecretPath   string // Empty means unauthenticated
	Timeout            time.Duration
	AttemptTimeout     time.Duration
	MaxRetries         int
	FailureThreshold   int
	OpenTimeout        time.Duration
	InsecureSkipVerify bool
}

// KeeperConfig holds the background payment sweep configuration
type KeeperConfig struct {
	Enabled      bool
	Interval     time.Duration
	BatchSize    int
	MaxBatchSize int
	LeaseTTL     time.Duration
	RedisURL     string // Empty means an in-process lease
}

// EventsConfig holds domain event publishing configuration
type EventsConfig struct {
	RabbitMQURL    string // Empty disables publishing
	Exchange       string
	PublishTimeout time.Duration
}

// AuthConfig holds caller identity and cron authentication settings
type AuthConfig struct {
	CallerHeader         string
	TrustCallerHeader    bool
	JWTSecretPath        string
	JWTIssuer            string
	CronSecretPath       string
	AllowRecipientCancel bool
}

// SecretsConfig selects the secret backend
type SecretsConfig struct {
	Backend         string // local, aws, vault
	LocalPath       string
	AWSRegion       string
	AWSProfile      string
	AWSEndpoint     string
	VaultAddress    string
	VaultAuthMethod string
	VaultToken      string
	VaultRoleID     string
	VaultSecretID   string
	VaultMountPath  string
	CacheTTL        time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables, after merging an
// optional .env file from the working directory.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			HTTPPort:        getEnvAsInt("HTTP_PORT", 8080),
			GRPCPort:        getEnvAsInt("GRPC_PORT", 50051),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 50),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 100),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
			DatabaseURL:     getEnv("DATABASE_URL", ""),
			SQLitePath:      getEnv("SQLITE_PATH", "data/escrow.db"),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Transfer: TransferConfig{
			Mode:               strings.ToLower(getEnv("TRANSFER_MODE", TransferLocal)),
			BaseURL:            getEnv("TRANSFER_BASE_URL", ""),
			APIKeySecretPath:   getEnv("TRANSFER_API_KEY_SECRET_PATH", ""),
			Timeout:            getEnvAsDuration("TRANSFER_TIMEOUT", 20*time.Second),
			AttemptTimeout:     getEnvAsDuration("TRANSFER_ATTEMPT_TIMEOUT", 5*time.Second),
			MaxRetries:         getEnvAsInt("TRANSFER_MAX_RETRIES", 2),
			FailureThreshold:   getEnvAsInt("TRANSFER_BREAKER_FAILURES", 5),
			OpenTimeout:        getEnvAsDuration("TRANSFER_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			InsecureSkipVerify: getEnvAsBool("TRANSFER_INSECURE_SKIP_VERIFY", false),
		},
		Keeper: KeeperConfig{
			Enabled:      getEnvAsBool("KEEPER_ENABLED", false),
			Interval:     getEnvAsDuration("KEEPER_INTERVAL", time.Minute),
			BatchSize:    getEnvAsInt("KEEPER_BATCH_SIZE", 100),
			MaxBatchSize: getEnvAsInt("KEEPER_MAX_BATCH_SIZE", 500),
			LeaseTTL:     getEnvAsDuration("KEEPER_LEASE_TTL", 2*time.Minute),
			RedisURL:     getEnv("REDIS_URL", ""),
		},
		Events: EventsConfig{
			RabbitMQURL:    getEnv("RABBITMQ_URL", ""),
			Exchange:       getEnv("EVENTS_EXCHANGE", "escrow.events"),
			PublishTimeout: getEnvAsDuration("EVENTS_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			CallerHeader:         getEnv("AUTH_CALLER_HEADER", "X-Caller-ID"),
			TrustCallerHeader:    getEnvAsBool("AUTH_TRUST_CALLER_HEADER", false),
			JWTSecretPath:        getEnv("AUTH_JWT_SECRET_PATH", ""),
			JWTIssuer:            getEnv("AUTH_JWT_ISSUER", "escrow-scheduler"),
			CronSecretPath:       getEnv("CRON_SECRET_PATH", ""),
			AllowRecipientCancel: getEnvAsBool("AUTH_ALLOW_RECIPIENT_CANCEL", false),
		},
		Secrets: SecretsConfig{
			Backend:         strings.ToLower(getEnv("SECRETS_BACKEND", SecretsLocal)),
			LocalPath:       getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:      getEnv("AWS_PROFILE", ""),
			AWSEndpoint:     getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:    getEnv("VAULT_ADDR", ""),
			VaultAuthMethod: getEnv("VAULT_AUTH_METHOD", "token"),
			VaultToken:      getEnv("VAULT_TOKEN", ""),
			VaultRoleID:     getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:   getEnv("VAULT_SECRET_ID", ""),
			VaultMountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
			CacheTTL:        getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and enumerations
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Transfer.Mode {
	case TransferLocal:
	case TransferHTTP:
		if c.Transfer.BaseURL == "" {
			return fmt.Errorf("TRANSFER_BASE_URL is required for the http transfer mode")
		}
	default:
		return fmt.Errorf("unsupported TRANSFER_MODE %q", c.Transfer.Mode)
	}

	switch c.Secrets.Backend {
	case SecretsLocal, SecretsAWS:
	case SecretsVault:
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required for the vault secrets backend")
		}
	default:
		return fmt.Errorf("unsupported SECRETS_BACKEND %q", c.Secrets.Backend)
	}

	if c.Keeper.MaxBatchSize <= 0 {
		return fmt.Errorf("KEEPER_MAX_BATCH_SIZE must be positive")
	}
	if c.Keeper.BatchSize <= 0 || c.Keeper.BatchSize > c.Keeper.MaxBatchSize {
		return fmt.Errorf("KEEPER_BATCH_SIZE must be between 1 and %d", c.Keeper.MaxBatchSize)
	}
	if c.Keeper.Interval <= 0 {
		return fmt.Errorf("KEEPER_INTERVAL must be positive")
	}
	if c.Transfer.FailureThreshold <= 0 {
		return fmt.Errorf("TRANSFER_BREAKER_FAILURES must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
