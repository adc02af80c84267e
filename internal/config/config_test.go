package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, TransferLocal, cfg.Transfer.Mode)
	assert.Equal(t, SecretsLocal, cfg.Secrets.Backend)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 500, cfg.Keeper.MaxBatchSize)
	assert.Equal(t, time.Minute, cfg.Keeper.Interval)
	assert.Equal(t, "X-Caller-ID", cfg.Auth.CallerHeader)
	assert.False(t, cfg.Auth.AllowRecipientCancel)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/escrow")
	t.Setenv("KEEPER_INTERVAL", "15s")
	t.Setenv("KEEPER_BATCH_SIZE", "20")
	t.Setenv("AUTH_ALLOW_RECIPIENT_CANCEL", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, 15*time.Second, cfg.Keeper.Interval)
	assert.Equal(t, 20, cfg.Keeper.BatchSize)
	assert.True(t, cfg.Auth.AllowRecipientCancel)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, 8080, cfg.Server.HTTPPort, "unparsable values fall back to the default")
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without url",
			env:     map[string]string{"STORAGE_DRIVER": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"STORAGE_DRIVER": "mongo"},
			wantErr: "STORAGE_DRIVER",
		},
		{
			name:    "http transfer without url",
			env:     map[string]string{"TRANSFER_MODE": "http"},
			wantErr: "TRANSFER_BASE_URL",
		},
		{
			name:    "vault without address",
			env:     map[string]string{"SECRETS_BACKEND": "vault"},
			wantErr: "VAULT_ADDR",
		},
		{
			name:    "batch larger than max",
			env:     map[string]string{"KEEPER_BATCH_SIZE": "600"},
			wantErr: "KEEPER_BATCH_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
