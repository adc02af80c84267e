package ports

import "context"

// Secret represents a retrieved secret with metadata
type Secret struct {
	Metadata  map[string]string
	Value     string
	Version   string
	CreatedAt string
}

// SecretManager retrieves secrets by path. Path format depends on the backend:
//   - AWS: "escrow-scheduler/cron-secret"
//   - Vault: "secret/data/escrow-scheduler/cron"
//   - Local: a file path relative to the configured base directory
type SecretManager interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
