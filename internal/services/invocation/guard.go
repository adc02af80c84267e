// Package invocation turns storage transactions into the engine's unit of execution:
// one externally triggered call, run atomically and never nested.
package invocation

import (
	"context"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

type activeKey struct{}

// Active reports whether ctx was derived from a running invocation.
func Active(ctx context.Context) bool {
	v, _ := ctx.Value(activeKey{}).(bool)
	return v
}

// Guard wraps a TransactionManager and refuses to open a transaction from a context
// that already belongs to one. Collaborators called mid-invocation, such as the
// transfer gateway, receive the marked context, so a callback into the engine from
// there fails instead of mutating the ledger twice.
type Guard struct {
	tm ports.TransactionManager
}

var _ ports.TransactionManager = (*Guard)(nil)

// NewGuard creates a new Guard
func NewGuard(tm ports.TransactionManager) *Guard {
	return &Guard{tm: tm}
}

// WithTransaction runs fn as one invocation.
func (g *Guard) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if Active(ctx) {
		return domain.ErrReentrantInvocation
	}
	return g.tm.WithTransaction(context.WithValue(ctx, activeKey{}, true), fn)
}

// WithReadOnlyTransaction runs a query. Queries are also refused mid-invocation since
// single-writer stores cannot serve them until the invocation ends.
func (g *Guard) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if Active(ctx) {
		return domain.ErrReentrantInvocation
	}
	return g.tm.WithReadOnlyTransaction(context.WithValue(ctx, activeKey{}, true), fn)
}
