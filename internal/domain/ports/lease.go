package ports

import (
	"context"
	"time"
)

// LeaseLocker grants a named, time-bounded exclusive lease.
type LeaseLocker interface {
	// Acquire returns ok=false without error when another holder owns the lease.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
