package invocation

import (
	"context"
	"testing"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/memory"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_RejectsNestedInvocation(t *testing.T) {
	store := memory.New()
	g := NewGuard(store)

	var nestedErr, nestedReadErr error
	err := g.WithTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		assert.True(t, Active(ctx))
		if _, err := tx.Accounts().Credit(ctx, "alice", 10); err != nil {
			return err
		}
		nestedErr = g.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
			_, err := tx.Accounts().Credit(ctx, "alice", 1000)
			return err
		})
		nestedReadErr = g.WithReadOnlyTransaction(ctx, func(context.Context, ports.Tx) error { return nil })
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, nestedErr, domain.ErrReentrantInvocation)
	assert.ErrorIs(t, nestedReadErr, domain.ErrReentrantInvocation)
	assert.True(t, domain.IsStateError(nestedErr))

	require.NoError(t, g.WithReadOnlyTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		bal, err := tx.Accounts().GetBalance(ctx, "alice")
		assert.Equal(t, int64(10), bal)
		return err
	}))
}

func TestGuard_SequentialInvocationsAllowed(t *testing.T) {
	g := NewGuard(memory.New())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
			_, err := tx.Accounts().Credit(ctx, "alice", 1)
			return err
		}))
	}
	assert.False(t, Active(ctx))
}
