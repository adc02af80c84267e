package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/memory"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/invocation"
	"github.com/kevin07696/escrow-scheduler/internal/testutil/mocks"
	"github.com/kevin07696/escrow-scheduler/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc       *Service
	gateway   *mocks.RecordingGateway
	publisher *mocks.RecordingPublisher
	logger    *mocks.MockLogger
}

func newFixture() *fixture {
	f := &fixture{
		gateway:   &mocks.RecordingGateway{},
		publisher: &mocks.RecordingPublisher{},
		logger:    mocks.NewMockLogger(),
	}
	clock := timeutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f.svc = NewService(invocation.NewGuard(memory.New()), f.gateway, clock, f.publisher, f.logger)
	return f
}

func as(caller domain.AccountID) context.Context {
	return auth.WithCaller(context.Background(), caller, auth.AuthTypeInternal)
}

func (f *fixture) balance(t *testing.T, account domain.AccountID) int64 {
	t.Helper()
	bal, err := f.svc.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return bal
}

func TestDeposit(t *testing.T) {
	tests := []struct {
		name     string
		caller   domain.AccountID
		account  domain.AccountID
		amount   int64
		wantErr  error
		credited domain.AccountID
	}{
		{"own account by default", "alice", "", 100, nil, "alice"},
		{"fund another account", "carol", "alice", 40, nil, "alice"},
		{"zero amount", "alice", "", 0, domain.ErrAmountInvalid, ""},
		{"negative amount", "alice", "", -1, domain.ErrAmountInvalid, ""},
		{"zero address", "alice", domain.ZeroAccount, 10, domain.ErrAccountInvalid, ""},
		{"no caller", "", "alice", 10, domain.ErrAuthMissing, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			if tt.caller != "" {
				ctx = as(tt.caller)
			}

			bal, err := f.svc.Deposit(ctx, tt.account, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.publisher.Types())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, bal)
			assert.Equal(t, tt.amount, f.balance(t, tt.credited))
			assert.Equal(t, []domain.EventType{domain.EventDepositMade}, f.publisher.Types())

			entries, err := f.svc.ListEntries(context.Background(), tt.credited, 0)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, domain.EntryKindDeposit, entries[0].Kind)
			assert.Equal(t, tt.amount, entries[0].BalanceAfter)
		})
	}
}

func TestWithdraw_Success(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	bal, err := f.svc.Withdraw(as("alice"), "", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)
	assert.Equal(t, int64(70), f.balance(t, "alice"))

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.AccountID("alice"), sent[0].Destination)
	assert.Equal(t, int64(30), sent[0].Amount)
	assert.Equal(t, ports.TransferKindWithdrawal, sent[0].Kind)
	assert.NotEmpty(t, sent[0].Reference)
}

func TestWithdraw_Rejections(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(as("mallory"), "alice", 10)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, domain.IsAuthError(err))

	_, err = f.svc.Withdraw(as("alice"), "", 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.svc.Withdraw(as("alice"), "", 0)
	assert.ErrorIs(t, err, domain.ErrAmountInvalid)

	assert.Equal(t, int64(100), f.balance(t, "alice"))
	assert.Empty(t, f.gateway.Sent())
}

func TestWithdraw_TransferFailureRollsBack(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	f.gateway.FailWhen = func(ports.TransferRequest) error { return errors.New("settlement rejected") }

	_, err = f.svc.Withdraw(as("alice"), "", 60)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.True(t, domain.IsResourceError(err))

	assert.Equal(t, int64(100), f.balance(t, "alice"))
	entries, err := f.svc.ListEntries(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no withdrawal entry survives the rollback")
	assert.Equal(t, []domain.EventType{domain.EventDepositMade}, f.publisher.Types())
}

func TestWithdraw_ReentrantTransferCannotDrainTwice(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	var nested error
	f.gateway.OnTransfer = func(ctx context.Context, req ports.TransferRequest) {
		_, nested = f.svc.Withdraw(ctx, "", 100)
	}

	_, err = f.svc.Withdraw(as("alice"), "", 100)
	require.NoError(t, err)

	assert.ErrorIs(t, nested, domain.ErrReentrantInvocation)
	assert.Zero(t, f.balance(t, "alice"))
	assert.Len(t, f.gateway.Sent(), 1)
}

func TestWithdraw_GatewayMockSeesCommittedDebitOrder(t *testing.T) {
	gw := &mocks.MockTransferGateway{}
	store := invocation.NewGuard(memory.New())
	clock := timeutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(store, gw, clock, &mocks.RecordingPublisher{}, mocks.NewMockLogger())

	_, err := svc.Deposit(as("alice"), "", 50)
	require.NoError(t, err)

	gw.On("Transfer", mock.Anything, mock.MatchedBy(func(req ports.TransferRequest) bool {
		return req.Destination == "alice" && req.Amount == 50
	})).Return(nil).Once()

	bal, err := svc.Withdraw(as("alice"), "alice", 50)
	require.NoError(t, err)
	assert.Zero(t, bal)
	gw.AssertExpectations(t)
}

func TestDeposit_PublishFailureDoesNotUndo(t *testing.T) {
	f := newFixture()
	f.publisher.Err = errors.New("broker down")

	bal, err := f.svc.Deposit(as("alice"), "", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
	assert.Equal(t, int64(10), f.balance(t, "alice"))
	assert.Contains(t, f.logger.Messages("warn"), "Failed to publish event")
}

func withRequest(ctx context.Context, requestID string) context.Context {
	return auth.WithRequestID(ctx, requestID)
}

func TestWithdraw_RepeatedRequestIsIdempotent(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	ctx := withRequest(as("alice"), "req-7")
	bal, err := f.svc.Withdraw(ctx, "", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	bal, err = f.svc.Withdraw(ctx, "", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal, "replay reports the original outcome")
	assert.Equal(t, int64(70), f.balance(t, "alice"))
	require.Len(t, f.gateway.Sent(), 1)

	_, err = f.svc.Withdraw(ctx, "", 40)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	bal, err = f.svc.Withdraw(withRequest(as("alice"), "req-8"), "", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)

	sent := f.gateway.Sent()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].Reference, sent[1].Reference)
	assert.Equal(t, []domain.EventType{
		domain.EventDepositMade, domain.EventWithdrawalMade, domain.EventWithdrawalMade,
	}, f.publisher.Types())
}

func TestWithdraw_RetryAfterFailedTransferReusesReference(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)

	var attempted []string
	fail := true
	f.gateway.FailWhen = func(req ports.TransferRequest) error {
		attempted = append(attempted, req.Reference)
		if fail {
			return errors.New("settlement timed out")
		}
		return nil
	}

	ctx := withRequest(as("alice"), "req-9")
	_, err = f.svc.Withdraw(ctx, "", 60)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, int64(100), f.balance(t, "alice"))

	fail = false
	bal, err := f.svc.Withdraw(ctx, "", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), bal)

	require.Len(t, attempted, 2)
	assert.Equal(t, attempted[0], attempted[1], "settlement sees one idempotency key for both attempts")
}

func TestWithdraw_SameRequestIDOnOtherAccountIsIndependent(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Deposit(as("alice"), "", 100)
	require.NoError(t, err)
	_, err = f.svc.Deposit(as("bob"), "", 100)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(withRequest(as("alice"), "shared"), "", 10)
	require.NoError(t, err)
	_, err = f.svc.Withdraw(withRequest(as("bob"), "shared"), "", 10)
	require.NoError(t, err)

	assert.Equal(t, int64(90), f.balance(t, "alice"))
	assert.Equal(t, int64(90), f.balance(t, "bob"))
	assert.Len(t, f.gateway.Sent(), 2)
}
