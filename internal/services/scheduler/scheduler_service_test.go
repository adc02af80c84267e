package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/memory"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/escrow"
	"github.com/kevin07696/escrow-scheduler/internal/services/invocation"
	"github.com/kevin07696/escrow-scheduler/internal/testutil/mocks"
	"github.com/kevin07696/escrow-scheduler/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	tm        *invocation.Guard
	clock     *timeutil.ManualClock
	gateway   *mocks.RecordingGateway
	publisher *mocks.RecordingPublisher
	logger    *mocks.MockLogger
	ledger    *escrow.Service
	svc       *Service
}

func newFixture(maxBatch int) *fixture {
	return newFixtureOn(memory.New(), maxBatch)
}

func newFixtureOn(store ports.TransactionManager, maxBatch int) *fixture {
	f := &fixture{
		tm:        invocation.NewGuard(store),
		clock:     timeutil.NewManualClock(start),
		gateway:   &mocks.RecordingGateway{},
		publisher: &mocks.RecordingPublisher{},
		logger:    mocks.NewMockLogger(),
	}
	f.ledger = escrow.NewService(f.tm, f.gateway, f.clock, f.publisher, f.logger)
	f.svc = NewService(f.tm, f.ledger, f.clock, f.publisher, f.logger, maxBatch)
	return f
}

func as(caller domain.AccountID) context.Context {
	return auth.WithCaller(context.Background(), caller, auth.AuthTypeInternal)
}

func (f *fixture) deposit(t *testing.T, account domain.AccountID, amount int64) {
	t.Helper()
	_, err := f.ledger.Deposit(as(account), "", amount)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, account domain.AccountID) int64 {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func (f *fixture) create(t *testing.T, payer, recipient domain.AccountID, amount int64, freq domain.Frequency) domain.SubscriptionID {
	t.Helper()
	sub, err := domain.NewSubscription(payer, recipient, amount, freq, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.tm.WithTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		return tx.Subscriptions().Create(ctx, sub)
	}))
	return sub.ID
}

func (f *fixture) sub(t *testing.T, id domain.SubscriptionID) *domain.Subscription {
	t.Helper()
	var sub *domain.Subscription
	require.NoError(t, f.tm.WithReadOnlyTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(ctx, id)
		return err
	}))
	return sub
}

func TestProcessPayment_WeeklyScenario(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	f.deposit(t, "alice", 100)

	res, err := f.svc.ProcessPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, start.Add(7*24*time.Hour), res.Subscription.NextDueTime)
	assert.Equal(t, int64(1), res.Subscription.PaymentCount)
	assert.Zero(t, f.balance(t, "alice"))

	f.clock.Advance(6 * 24 * time.Hour)
	_, err = f.svc.ProcessPayment(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotDue)

	f.deposit(t, "alice", 100)
	f.clock.Advance(24*time.Hour + time.Second)
	res, err = f.svc.ProcessPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Subscription.PaymentCount)
	assert.Equal(t, int64(200), res.Subscription.TotalPaid)
	assert.Equal(t, start.Add(14*24*time.Hour), res.Subscription.NextDueTime)

	sent := f.gateway.Sent()
	require.Len(t, sent, 2)
	for _, req := range sent {
		assert.Equal(t, domain.AccountID("bob"), req.Destination)
		assert.Equal(t, int64(100), req.Amount)
		assert.Equal(t, ports.TransferKindPayment, req.Kind)
		assert.Equal(t, id, req.SubscriptionID)
	}
}

func TestProcessPayment_IdempotentRejection(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyMonthly)
	f.deposit(t, "alice", 1000)

	_, err := f.svc.ProcessPayment(context.Background(), id)
	require.NoError(t, err)
	before := f.sub(t, id)

	_, err = f.svc.ProcessPayment(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrNotDue)
	assert.True(t, domain.IsStateError(err))

	after := f.sub(t, id)
	assert.Equal(t, before.PaymentCount, after.PaymentCount)
	assert.Equal(t, before.NextDueTime, after.NextDueTime)
	assert.Equal(t, int64(900), f.balance(t, "alice"))
}

func TestProcessPayment_DueTimeAdvancesExactlyOneInterval(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 10, domain.FrequencyWeekly)
	f.deposit(t, "alice", 1000)

	// Keeper shows up long after several intervals were missed.
	f.clock.Advance(5 * domain.WeeklyInterval)

	prev := f.sub(t, id).NextDueTime
	for i := 0; i < 3; i++ {
		res, err := f.svc.ProcessPayment(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, prev.Add(domain.WeeklyInterval), res.Subscription.NextDueTime)
		prev = res.Subscription.NextDueTime
	}
}

func TestProcessPayment_Errors(t *testing.T) {
	t.Run("unknown subscription", func(t *testing.T) {
		f := newFixture(0)
		_, err := f.svc.ProcessPayment(context.Background(), 77)
		assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	})

	t.Run("insufficient balance leaves state untouched", func(t *testing.T) {
		f := newFixture(0)
		id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
		f.deposit(t, "alice", 99)

		_, err := f.svc.ProcessPayment(context.Background(), id)
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.Equal(t, int64(99), f.balance(t, "alice"))
		assert.Zero(t, f.sub(t, id).PaymentCount)
		assert.Empty(t, f.gateway.Sent())
	})

	t.Run("transfer failure rolls back debit and schedule", func(t *testing.T) {
		f := newFixture(0)
		id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
		f.deposit(t, "alice", 100)
		f.gateway.FailWhen = func(ports.TransferRequest) error { return errors.New("recipient rejected") }

		_, err := f.svc.ProcessPayment(context.Background(), id)
		require.ErrorIs(t, err, domain.ErrTransferFailed)

		sub := f.sub(t, id)
		assert.Equal(t, int64(100), f.balance(t, "alice"))
		assert.Zero(t, sub.PaymentCount)
		assert.Equal(t, start, sub.NextDueTime)
		assert.Equal(t, []domain.EventType{domain.EventDepositMade}, f.publisher.Types())
	})

	t.Run("paused and cancelled are not active", func(t *testing.T) {
		f := newFixture(0)
		id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
		f.deposit(t, "alice", 100)

		require.NoError(t, f.tm.WithTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
			sub, err := tx.Subscriptions().Get(ctx, id)
			require.NoError(t, err)
			require.NoError(t, sub.Pause("alice", start))
			return tx.Subscriptions().Update(ctx, sub)
		}))
		_, err := f.svc.ProcessPayment(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrNotActive)

		require.NoError(t, f.tm.WithTransaction(context.Background(), func(ctx context.Context, tx ports.Tx) error {
			sub, err := tx.Subscriptions().Get(ctx, id)
			require.NoError(t, err)
			require.NoError(t, sub.Cancel("alice", false, start))
			return tx.Subscriptions().Update(ctx, sub)
		}))
		_, err = f.svc.ProcessPayment(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrNotActive)
		assert.Equal(t, int64(100), f.balance(t, "alice"))
	})
}

func TestIsDueAndTimeUntilNextPayment(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	f.deposit(t, "alice", 100)

	due, err := f.svc.IsDue(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, due)

	wait, err := f.svc.TimeUntilNextPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, wait)

	_, err = f.svc.ProcessPayment(context.Background(), id)
	require.NoError(t, err)

	due, err = f.svc.IsDue(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, due)

	f.clock.Advance(time.Hour)
	wait, err = f.svc.TimeUntilNextPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.WeeklyInterval-time.Hour, wait)

	_, err = f.svc.IsDue(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestBatchProcessPayments_Isolation(t *testing.T) {
	f := newFixture(0)
	funded := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	broke := f.create(t, "carol", "bob", 100, domain.FrequencyWeekly)
	failing := f.create(t, "dave", "erin", 50, domain.FrequencyWeekly)
	later := f.create(t, "frank", "bob", 10, domain.FrequencyWeekly)

	f.deposit(t, "alice", 100)
	f.deposit(t, "dave", 50)
	f.deposit(t, "frank", 10)
	f.gateway.FailWhen = func(req ports.TransferRequest) error {
		if req.Destination == "erin" {
			return errors.New("erin unreachable")
		}
		return nil
	}

	res, err := f.svc.BatchProcessPayments(context.Background(),
		[]domain.SubscriptionID{funded, broke, failing, 999, later})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Requested)
	require.Len(t, res.Processed, 2)
	assert.Equal(t, funded, res.Processed[0].Subscription.ID)
	assert.Equal(t, later, res.Processed[1].Subscription.ID)

	require.Len(t, res.Skipped, 3)
	assert.Equal(t, broke, res.Skipped[0].SubscriptionID)
	assert.Equal(t, domain.ErrorCodeInsufficientBalance, res.Skipped[0].Code)
	assert.Equal(t, failing, res.Skipped[1].SubscriptionID)
	assert.Equal(t, domain.ErrorCodeTransferFailed, res.Skipped[1].Code)
	assert.Equal(t, domain.SubscriptionID(999), res.Skipped[2].SubscriptionID)
	assert.Equal(t, domain.ErrorCodeSubscriptionNotFound, res.Skipped[2].Code)

	assert.Zero(t, f.balance(t, "alice"))
	assert.Equal(t, int64(50), f.balance(t, "dave"), "failed transfer restored the payer")
	assert.Zero(t, f.balance(t, "frank"))
	assert.Zero(t, f.sub(t, failing).PaymentCount)
	assert.Equal(t, int64(1), f.sub(t, later).PaymentCount)
}

func TestBatchProcessPayments_SequentialVisibility(t *testing.T) {
	f := newFixture(0)
	first := f.create(t, "alice", "bob", 60, domain.FrequencyWeekly)
	second := f.create(t, "alice", "carol", 60, domain.FrequencyWeekly)
	f.deposit(t, "alice", 100)

	res, err := f.svc.BatchProcessPayments(context.Background(), []domain.SubscriptionID{first, second, first})
	require.NoError(t, err)

	require.Len(t, res.Processed, 1)
	assert.Equal(t, first, res.Processed[0].Subscription.ID)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, domain.ErrorCodeInsufficientBalance, res.Skipped[0].Code, "second item sees the first debit")
	assert.Equal(t, domain.ErrorCodeNotDue, res.Skipped[1].Code, "repeat of a paid item is not due")
	assert.Equal(t, int64(40), f.balance(t, "alice"))
}

func TestBatchProcessPayments_Validation(t *testing.T) {
	f := newFixture(2)

	_, err := f.svc.BatchProcessPayments(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrBatchEmpty)
	assert.True(t, domain.IsValidationError(err))

	_, err = f.svc.BatchProcessPayments(context.Background(), []domain.SubscriptionID{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)
	assert.Empty(t, f.gateway.Sent())
}

func TestBalanceConservation(t *testing.T) {
	f := newFixture(0)
	a := f.create(t, "alice", "bob", 30, domain.FrequencyWeekly)
	b := f.create(t, "alice", "carol", 45, domain.FrequencyWeekly)

	var deposited int64
	for _, amt := range []int64{100, 50, 25} {
		f.deposit(t, "alice", amt)
		deposited += amt
	}
	_, err := f.ledger.Withdraw(as("alice"), "", 20)
	require.NoError(t, err)

	for week := 0; week < 4; week++ {
		_, err := f.svc.BatchProcessPayments(context.Background(), []domain.SubscriptionID{a, b})
		require.NoError(t, err)
		f.clock.Advance(domain.WeeklyInterval)
	}

	var transferred int64
	for _, req := range f.gateway.Sent() {
		transferred += req.Amount
	}
	assert.Equal(t, deposited, f.balance(t, "alice")+transferred)
	assert.GreaterOrEqual(t, f.balance(t, "alice"), int64(0))

	entries, err := f.ledger.ListEntries(context.Background(), "alice", 0)
	require.NoError(t, err)
	var net int64
	for _, e := range entries {
		net += e.Signed()
	}
	assert.Equal(t, f.balance(t, "alice"), net)
}

func TestProcessDue(t *testing.T) {
	f := newFixture(0)
	ready := f.create(t, "alice", "bob", 10, domain.FrequencyWeekly)
	f.deposit(t, "alice", 10)
	f.clock.Advance(time.Hour)
	notYet := f.create(t, "carol", "bob", 10, domain.FrequencyWeekly)
	f.deposit(t, "carol", 10)
	_, err := f.svc.ProcessPayment(context.Background(), notYet)
	require.NoError(t, err)

	res, err := f.svc.ProcessDue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, res.Processed, 1)
	assert.Equal(t, ready, res.Processed[0].Subscription.ID)

	res, err = f.svc.ProcessDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Requested)
	assert.Empty(t, res.Processed)
}

func TestProcessPayment_PublishesEvent(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	f.deposit(t, "alice", 100)

	_, err := f.svc.ProcessPayment(context.Background(), id)
	require.NoError(t, err)

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPaymentExecuted, events[1].Type)
	assert.Equal(t, uint64(id), events[1].Payload["subscription_id"])
	assert.Equal(t, int64(1), events[1].Payload["sequence"])
	assert.Contains(t, f.logger.Messages("info"), "Payment executed")
}

// failingStore fails payment-record writes for one subscription, and optionally the
// rollback of the savepoint around them.
type failingStore struct {
	ports.TransactionManager
	failFor        domain.SubscriptionID
	breakSavepoint bool
}

func (s *failingStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return s.TransactionManager.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, store: s})
	})
}

type failingTx struct {
	ports.Tx
	store *failingStore
}

func (t *failingTx) Payments() ports.PaymentRepository {
	return &failingPayments{PaymentRepository: t.Tx.Payments(), failFor: t.store.failFor}
}

func (t *failingTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	err := t.Tx.Savepoint(ctx, func(ctx context.Context, sp ports.Tx) error {
		return fn(ctx, &failingTx{Tx: sp, store: t.store})
	})
	if err != nil && t.store.breakSavepoint {
		return fmt.Errorf("%w: rollback: connection reset (original error: %w)", ports.ErrSavepoint, err)
	}
	return err
}

type failingPayments struct {
	ports.PaymentRepository
	failFor domain.SubscriptionID
}

func (p *failingPayments) Append(ctx context.Context, record *domain.PaymentRecord) error {
	if record.SubscriptionID == p.failFor {
		return errors.New("disk hiccup")
	}
	return p.PaymentRepository.Append(ctx, record)
}

func TestProcessPayment_StorageFailureMovesNoMoney(t *testing.T) {
	store := &failingStore{TransactionManager: memory.New()}
	f := newFixtureOn(store, 0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	store.failFor = id
	f.deposit(t, "alice", 100)

	_, err := f.svc.ProcessPayment(context.Background(), id)
	require.ErrorContains(t, err, "disk hiccup")

	assert.Empty(t, f.gateway.Sent(), "recipient is only paid after every local write")
	assert.Equal(t, int64(100), f.balance(t, "alice"))
	assert.Zero(t, f.sub(t, id).PaymentCount)
}

func TestBatchProcessPayments_StorageFailureSkipsOnlyThatItem(t *testing.T) {
	store := &failingStore{TransactionManager: memory.New()}
	f := newFixtureOn(store, 0)
	paid := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	broken := f.create(t, "carol", "dave", 50, domain.FrequencyWeekly)
	store.failFor = broken
	f.deposit(t, "alice", 100)
	f.deposit(t, "carol", 50)

	res, err := f.svc.BatchProcessPayments(context.Background(), []domain.SubscriptionID{paid, broken})
	require.NoError(t, err)

	require.Len(t, res.Processed, 1)
	assert.Equal(t, paid, res.Processed[0].Subscription.ID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, broken, res.Skipped[0].SubscriptionID)
	assert.Equal(t, domain.ErrorCodeInternalError, res.Skipped[0].Code)
	assert.Contains(t, res.Skipped[0].Reason, "disk hiccup")
	assert.Contains(t, f.logger.Messages("error"), "Batch item skipped")

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.AccountID("bob"), sent[0].Destination)

	assert.Zero(t, f.balance(t, "alice"), "payment that went out stays debited")
	assert.Equal(t, int64(1), f.sub(t, paid).PaymentCount)
	assert.Equal(t, int64(50), f.balance(t, "carol"))
	assert.Zero(t, f.sub(t, broken).PaymentCount)
}

func TestBatchProcessPayments_BrokenSavepointAborts(t *testing.T) {
	store := &failingStore{TransactionManager: memory.New(), breakSavepoint: true}
	f := newFixtureOn(store, 0)
	id := f.create(t, "alice", "bob", 100, domain.FrequencyWeekly)
	store.failFor = id
	f.deposit(t, "alice", 100)

	_, err := f.svc.BatchProcessPayments(context.Background(), []domain.SubscriptionID{id})
	require.ErrorIs(t, err, ports.ErrSavepoint)

	assert.Empty(t, f.gateway.Sent())
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestProcessPayment_ReferenceMatchesPaymentSequence(t *testing.T) {
	f := newFixture(0)
	id := f.create(t, "alice", "bob", 10, domain.FrequencyWeekly)
	f.deposit(t, "alice", 20)

	for i := 0; i < 2; i++ {
		_, err := f.svc.ProcessPayment(context.Background(), id)
		require.NoError(t, err)
		f.clock.Advance(domain.WeeklyInterval)
	}

	sent := f.gateway.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, escrow.PaymentReference(id, 1), sent[0].Reference)
	assert.Equal(t, escrow.PaymentReference(id, 2), sent[1].Reference)
}
