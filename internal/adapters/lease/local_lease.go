package lease

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

// LocalLocker is an in-process LeaseLocker for single-replica deployments.
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
	nextID uint64
}

type localLease struct {
	expires time.Time
	id      uint64
}

var _ ports.LeaseLocker = (*LocalLocker)(nil)

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, leases: make(map[string]localLease)}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[name]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	l.nextID++
	id := l.nextID
	l.leases[name] = localLease{expires: now.Add(ttl), id: id}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[name]; ok && held.id == id {
			delete(l.leases, name)
		}
		return nil
	}
	return release, true, nil
}
