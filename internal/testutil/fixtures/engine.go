// Package fixtures wires the escrow engine over the in-memory store for tests.
package fixtures

import (
	"context"
	"testing"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/adapters/memory"
	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/services/escrow"
	"github.com/kevin07696/escrow-scheduler/internal/services/invocation"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"github.com/kevin07696/escrow-scheduler/internal/services/subscription"
	"github.com/kevin07696/escrow-scheduler/internal/testutil/mocks"
	"github.com/kevin07696/escrow-scheduler/pkg/timeutil"
	"github.com/stretchr/testify/require"
)

// Epoch is the clock's starting time.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Engine is a fully wired engine with observable collaborators.
type Engine struct {
	Store         *memory.Store
	Clock         *timeutil.ManualClock
	Gateway       *mocks.RecordingGateway
	Publisher     *mocks.RecordingPublisher
	Logger        *mocks.MockLogger
	Escrow        *escrow.Service
	Scheduler     *scheduler.Service
	Subscriptions *subscription.Service
}

// EngineOption customizes NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	subscription subscription.Options
	maxBatchSize int
}

// WithRecipientCancel enables bilateral cancellation.
func WithRecipientCancel() EngineOption {
	return func(o *engineOptions) { o.subscription.AllowRecipientCancel = true }
}

// WithMaxBatchSize caps batch invocations.
func WithMaxBatchSize(n int) EngineOption {
	return func(o *engineOptions) { o.maxBatchSize = n }
}

// NewEngine builds the engine at Epoch.
func NewEngine(opts ...EngineOption) *Engine {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		Store:     memory.New(),
		Clock:     timeutil.NewManualClock(Epoch),
		Gateway:   &mocks.RecordingGateway{},
		Publisher: &mocks.RecordingPublisher{},
		Logger:    mocks.NewMockLogger(),
	}
	tm := invocation.NewGuard(e.Store)
	e.Escrow = escrow.NewService(tm, e.Gateway, e.Clock, e.Publisher, e.Logger)
	e.Scheduler = scheduler.NewService(tm, e.Escrow, e.Clock, e.Publisher, e.Logger, o.maxBatchSize)
	e.Subscriptions = subscription.NewService(tm, e.Scheduler, e.Clock, e.Publisher, e.Logger, o.subscription)
	return e
}

// As returns a context authenticated as caller.
func As(caller domain.AccountID) context.Context {
	return auth.WithCaller(context.Background(), caller, auth.AuthTypeInternal)
}

// Fund deposits amount into account.
func (e *Engine) Fund(t *testing.T, account domain.AccountID, amount int64) {
	t.Helper()
	_, err := e.Escrow.Deposit(As(account), account, amount)
	require.NoError(t, err)
}

// Subscribe creates a subscription paid by payer.
func (e *Engine) Subscribe(t *testing.T, payer, recipient domain.AccountID, amount int64, frequency domain.Frequency) domain.SubscriptionID {
	t.Helper()
	res, err := e.Subscriptions.CreateSubscription(As(payer), subscription.CreateRequest{
		Recipient: recipient,
		Amount:    amount,
		Frequency: frequency,
	})
	require.NoError(t, err)
	return res.Subscription.ID
}
