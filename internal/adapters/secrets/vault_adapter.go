package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"go.uber.org/zap"
)

// Vault auth methods
const (
	VaultAuthToken   = "token"
	VaultAuthAppRole = "approle"
)

// VaultConfig configures the Vault KV v2 backend
type VaultConfig struct {
	Address    string
	AuthMethod string // token or approle
	Token      string
	RoleID     string
	SecretID   string
	Namespace  string // Vault Enterprise only
	MountPath  string // KV v2 mount, "secret" by default
}

// DefaultVaultConfig returns token auth against the "secret" mount
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:    address,
		AuthMethod: VaultAuthToken,
		MountPath:  "secret",
	}
}

type vaultAdapter struct {
	kv     *vault.KVv2
	logger *zap.Logger
}

// NewVaultAdapter logs in to Vault and reads secrets from a KV v2 mount.
// Secret paths are relative to the mount, e.g. "escrow-scheduler/cron".
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManager, error) {
	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.Address

	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if err := vaultLogin(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	logger.Info("Vault secret backend ready",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
	)

	return &vaultAdapter{kv: client.KVv2(cfg.MountPath), logger: logger}, nil
}

func vaultLogin(ctx context.Context, client *vault.Client, cfg *VaultConfig) error {
	switch cfg.AuthMethod {
	case VaultAuthToken:
		if cfg.Token == "" {
			return errors.New("VAULT_TOKEN is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case VaultAuthAppRole:
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return errors.New("VAULT_ROLE_ID and VAULT_SECRET_ID are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return errors.New("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads the "value" field of the latest version at path. The other
// string fields come back as metadata.
func (a *vaultAdapter) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	start := time.Now()
	kvSecret, err := a.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	value, _ := kvSecret.Data["value"].(string)
	if value == "" {
		return nil, fmt.Errorf("vault secret %s has no \"value\" field", path)
	}

	secret := &ports.Secret{Value: value, Metadata: make(map[string]string)}
	for k, v := range kvSecret.Data {
		if s, ok := v.(string); ok && k != "value" {
			secret.Metadata[k] = s
		}
	}
	if meta := kvSecret.VersionMetadata; meta != nil {
		secret.Version = strconv.Itoa(meta.Version)
		secret.CreatedAt = meta.CreatedTime.Format(time.RFC3339)
	}

	a.logger.Debug("Secret read from Vault",
		zap.String("path", path),
		zap.String("version", secret.Version),
		zap.Duration("elapsed", time.Since(start)),
	)
	return secret, nil
}
