package secrets

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"go.uber.org/zap"
)

// CachedManager keeps secrets fetched from next for ttl so the keeper and the
// auth middleware don't call the backend per request.
type CachedManager struct {
	next    ports.SecretManager
	logger  *zap.Logger
	now     func() time.Time
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

var _ ports.SecretManager = (*CachedManager)(nil)

// WithCache wraps next. A non-positive ttl returns next unwrapped.
func WithCache(next ports.SecretManager, ttl time.Duration, logger *zap.Logger) ports.SecretManager {
	if ttl <= 0 {
		return next
	}
	return &CachedManager{
		next:    next,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *CachedManager) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		c.logger.Debug("Secret served from cache", zap.String("path", path))
		return entry.secret, nil
	}

	secret, err := c.next.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{secret: secret, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return secret, nil
}
