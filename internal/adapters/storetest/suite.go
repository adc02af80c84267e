// Package storetest holds behavioural tests shared by every ports.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

// Run exercises store. newStore must return an empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Run("credit debit and balance", func(t *testing.T) { testBalances(t, newStore(t)) })
	t.Run("rollback discards writes", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("savepoint isolates failures", func(t *testing.T) { testSavepoint(t, newStore(t)) })
	t.Run("subscriptions crud and index", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("list due ordering", func(t *testing.T) { testListDue(t, newStore(t)) })
	t.Run("entries and payments", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("entry lookup by id", func(t *testing.T) { testGetEntry(t, newStore(t)) })
}

func write(t *testing.T, s ports.Store, fn func(ctx context.Context, tx ports.Tx) error) error {
	t.Helper()
	return s.WithTransaction(context.Background(), fn)
}

func read(t *testing.T, s ports.Store, fn func(ctx context.Context, tx ports.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithReadOnlyTransaction(context.Background(), fn))
}

func balanceOf(t *testing.T, s ports.Store, account domain.AccountID) int64 {
	t.Helper()
	var bal int64
	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		var err error
		bal, err = tx.Accounts().GetBalance(ctx, account)
		return err
	})
	return bal
}

func newSub(t *testing.T, payer, recipient domain.AccountID, at time.Time) *domain.Subscription {
	t.Helper()
	sub, err := domain.NewSubscription(payer, recipient, 100, domain.FrequencyWeekly, at)
	require.NoError(t, err)
	return sub
}

func testBalances(t *testing.T, s ports.Store) {
	assert.Zero(t, balanceOf(t, s, "alice"), "unknown account holds zero")

	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		bal, err := tx.Accounts().Credit(ctx, "alice", 150)
		require.NoError(t, err)
		assert.Equal(t, int64(150), bal)

		bal, err = tx.Accounts().Debit(ctx, "alice", 50)
		require.NoError(t, err)
		assert.Equal(t, int64(100), bal)

		_, err = tx.Accounts().Debit(ctx, "alice", 101)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		return nil
	}))

	assert.Equal(t, int64(100), balanceOf(t, s, "alice"))
}

func testRollback(t *testing.T, s ports.Store) {
	err := write(t, s, func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Accounts().Credit(ctx, "alice", 10); err != nil {
			return err
		}
		if err := tx.Subscriptions().Create(ctx, newSub(t, "alice", "bob", t0)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.Zero(t, balanceOf(t, s, "alice"))
	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		subs, err := tx.Subscriptions().ListByPayer(ctx, "alice", "")
		require.NoError(t, err)
		assert.Empty(t, subs)
		return nil
	})
}

func testSavepoint(t *testing.T, s ports.Store) {
	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Accounts().Credit(ctx, "alice", 100)
		require.NoError(t, err)

		err = tx.Savepoint(ctx, func(ctx context.Context, sp ports.Tx) error {
			_, err := sp.Accounts().Debit(ctx, "alice", 30)
			require.NoError(t, err)
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		bal, err := tx.Accounts().GetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(100), bal, "failed savepoint is undone")

		require.NoError(t, tx.Savepoint(ctx, func(ctx context.Context, sp ports.Tx) error {
			_, err := sp.Accounts().Debit(ctx, "alice", 40)
			return err
		}))

		bal, err = tx.Accounts().GetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(60), bal, "successful savepoint is visible to the enclosing transaction")
		return nil
	}))

	assert.Equal(t, int64(60), balanceOf(t, s, "alice"))
}

func testSubscriptions(t *testing.T, s ports.Store) {
	var first, second, third domain.SubscriptionID
	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		a := newSub(t, "alice", "bob", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, a))
		b := newSub(t, "carol", "bob", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, b))
		c := newSub(t, "alice", "dave", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, c))
		first, second, third = a.ID, b.ID, c.ID
		return nil
	}))

	assert.Less(t, uint64(first), uint64(second))
	assert.Less(t, uint64(second), uint64(third))

	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		sub, err := tx.Subscriptions().Get(ctx, third)
		require.NoError(t, err)
		require.NoError(t, sub.Pause("alice", t0.Add(time.Hour)))
		return tx.Subscriptions().Update(ctx, sub)
	}))

	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		got, err := tx.Subscriptions().Get(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, domain.AccountID("alice"), got.Payer)
		assert.Equal(t, domain.AccountID("bob"), got.Recipient)
		assert.Equal(t, int64(100), got.Amount)
		assert.Equal(t, domain.FrequencyWeekly, got.Frequency)
		assert.True(t, got.StartTime.Equal(t0))
		assert.True(t, got.NextDueTime.Equal(t0))
		assert.True(t, got.LastPaymentTime.IsZero())

		_, err = tx.Subscriptions().Get(ctx, 9999)
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

		all, err := tx.Subscriptions().ListByPayer(ctx, "alice", "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first, all[0].ID)
		assert.Equal(t, third, all[1].ID)
		assert.Equal(t, domain.SubscriptionStatusPaused, all[1].Status)
		require.NotNil(t, all[1].PausedAt)

		active, err := tx.Subscriptions().ListByPayer(ctx, "alice", domain.SubscriptionStatusActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, first, active[0].ID)
		return nil
	})
}

func testListDue(t *testing.T, s ports.Store) {
	var early, late, paused domain.SubscriptionID
	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		l := newSub(t, "alice", "bob", t0.Add(time.Hour))
		require.NoError(t, tx.Subscriptions().Create(ctx, l))
		e := newSub(t, "carol", "bob", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, e))
		p := newSub(t, "dave", "bob", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, p))
		require.NoError(t, p.Pause("dave", t0))
		require.NoError(t, tx.Subscriptions().Update(ctx, p))
		future := newSub(t, "erin", "bob", t0.Add(48*time.Hour))
		require.NoError(t, tx.Subscriptions().Create(ctx, future))
		early, late, paused = e.ID, l.ID, p.ID
		return nil
	}))

	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		ids, err := tx.Subscriptions().ListDue(ctx, t0.Add(2*time.Hour), 0)
		require.NoError(t, err)
		assert.Equal(t, []domain.SubscriptionID{early, late}, ids)
		assert.NotContains(t, ids, paused)

		ids, err = tx.Subscriptions().ListDue(ctx, t0.Add(2*time.Hour), 1)
		require.NoError(t, err)
		assert.Equal(t, []domain.SubscriptionID{early}, ids)
		return nil
	})
}

func testHistory(t *testing.T, s ports.Store) {
	var id domain.SubscriptionID
	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		sub := newSub(t, "alice", "bob", t0)
		require.NoError(t, tx.Subscriptions().Create(ctx, sub))
		id = sub.ID

		require.NoError(t, tx.Accounts().AppendEntry(ctx, domain.NewLedgerEntry("alice", domain.EntryKindDeposit, 200, 200, t0)))
		entry := domain.NewLedgerEntry("alice", domain.EntryKindPayment, 100, 100, t0.Add(time.Minute))
		entry.SubscriptionID = &id
		require.NoError(t, tx.Accounts().AppendEntry(ctx, entry))
		require.NoError(t, tx.Accounts().AppendEntry(ctx, domain.NewLedgerEntry("bob", domain.EntryKindDeposit, 5, 5, t0)))

		sub.RecordPayment(t0.Add(time.Minute))
		require.NoError(t, tx.Payments().Append(ctx, domain.NewPaymentRecord(sub, t0.Add(time.Minute))))
		return nil
	}))

	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		entries, err := tx.Accounts().ListEntries(ctx, "alice", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, domain.EntryKindPayment, entries[0].Kind, "newest first")
		require.NotNil(t, entries[0].SubscriptionID)
		assert.Equal(t, id, *entries[0].SubscriptionID)
		assert.Equal(t, int64(100), entries[0].BalanceAfter)
		assert.Equal(t, domain.EntryKindDeposit, entries[1].Kind)
		assert.Nil(t, entries[1].SubscriptionID)

		limited, err := tx.Accounts().ListEntries(ctx, "alice", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		payments, err := tx.Payments().ListBySubscription(ctx, id)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, int64(1), payments[0].Sequence)
		assert.Equal(t, domain.AccountID("bob"), payments[0].Recipient)
		assert.True(t, payments[0].Timestamp.Equal(t0.Add(time.Minute)))
		return nil
	})
}

func testGetEntry(t *testing.T, s ports.Store) {
	entry := domain.NewLedgerEntry("alice", domain.EntryKindWithdrawal, 30, 70, t0)
	require.NoError(t, write(t, s, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.Accounts().AppendEntry(ctx, entry); err != nil {
			return err
		}
		staged, err := tx.Accounts().GetEntry(ctx, "alice", entry.ID)
		require.NoError(t, err, "visible inside the writing transaction")
		assert.Equal(t, int64(70), staged.BalanceAfter)
		return nil
	}))

	read(t, s, func(ctx context.Context, tx ports.Tx) error {
		got, err := tx.Accounts().GetEntry(ctx, "alice", entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, domain.EntryKindWithdrawal, got.Kind)
		assert.Equal(t, int64(30), got.Amount)
		assert.Nil(t, got.SubscriptionID)

		_, err = tx.Accounts().GetEntry(ctx, "bob", entry.ID)
		assert.ErrorIs(t, err, ports.ErrEntryNotFound, "scoped to the owning account")

		_, err = tx.Accounts().GetEntry(ctx, "alice", uuid.New())
		assert.ErrorIs(t, err, ports.ErrEntryNotFound)
		return nil
	})
}
