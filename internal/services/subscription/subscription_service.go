package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
)

// FirstPaymentExecutor pays a freshly created subscription inside the creating invocation.
type FirstPaymentExecutor interface {
	ExecuteFirstPayment(ctx context.Context, tx ports.Tx, sub *domain.Subscription, now time.Time) (*scheduler.PaymentResult, error)
	PublishPayment(ctx context.Context, result *scheduler.PaymentResult, now time.Time)
}

// CreateRequest holds the terms of a new subscription. The payer is the caller.
type CreateRequest struct {
	Recipient      domain.AccountID
	Frequency      domain.Frequency
	Amount         int64
	PayImmediately bool
}

// CreateResult is the created subscription plus the first payment when one was requested.
type CreateResult struct {
	Subscription *domain.Subscription
	FirstPayment *scheduler.PaymentResult
}

// Options tune lifecycle authorization.
type Options struct {
	// AllowRecipientCancel lets the recipient cancel as well as the payer.
	AllowRecipientCancel bool
}

// Service stores subscriptions and drives their lifecycle.
type Service struct {
	tm        ports.TransactionManager
	payments  FirstPaymentExecutor
	clock     ports.Clock
	publisher ports.EventPublisher
	logger    ports.Logger
	opts      Options
}

// NewService creates a new subscription service
func NewService(
	tm ports.TransactionManager,
	payments FirstPaymentExecutor,
	clock ports.Clock,
	publisher ports.EventPublisher,
	logger ports.Logger,
	opts Options,
) *Service {
	return &Service{
		tm:        tm,
		payments:  payments,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// CreateSubscription registers a subscription paid by the caller. Its first payment is
// due immediately; with PayImmediately it is executed in the same invocation, and a
// failed first payment aborts the creation.
func (s *Service) CreateSubscription(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	payer, err := auth.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	sub, err := domain.NewSubscription(payer, req.Recipient, req.Amount, req.Frequency, now)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{}
	err = s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.Subscriptions().Create(ctx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if req.PayImmediately {
			paid, err := s.payments.ExecuteFirstPayment(ctx, tx, sub, now)
			if err != nil {
				return err
			}
			result.FirstPayment = paid
		}
		result.Subscription = sub.Clone()
		return nil
	})
	if err != nil {
		s.logger.Error("Create subscription failed",
			ports.String("payer", payer.String()),
			ports.String("recipient", req.Recipient.String()),
			ports.Int64("amount", req.Amount),
			ports.Bool("pay_immediately", req.PayImmediately),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordSubscriptionTransition("created")
	s.logger.Info("Subscription created",
		ports.Uint64("subscription_id", uint64(result.Subscription.ID)),
		ports.String("payer", payer.String()),
		ports.String("recipient", req.Recipient.String()),
		ports.Int64("amount", req.Amount),
		ports.String("frequency", string(req.Frequency)),
		ports.Time("next_due_time", result.Subscription.NextDueTime),
	)
	s.publish(ctx, domain.SubscriptionEvent(domain.EventSubscriptionCreated, result.Subscription, now))
	if result.FirstPayment != nil {
		s.payments.PublishPayment(ctx, result.FirstPayment, now)
	}

	return result, nil
}

// GetSubscription returns the subscription; cancelled ones remain readable.
func (s *Service) GetSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(ctx, id)
		return err
	})
	return sub, err
}

// ListActiveByPayer returns the payer's ACTIVE subscriptions ordered by id.
func (s *Service) ListActiveByPayer(ctx context.Context, payer domain.AccountID) ([]*domain.Subscription, error) {
	if payer.IsZero() {
		return nil, domain.ErrAccountInvalid
	}
	var subs []*domain.Subscription
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		subs, err = tx.Subscriptions().ListByPayer(ctx, payer, domain.SubscriptionStatusActive)
		return err
	})
	return subs, err
}

// ListPayments returns the subscription's payment history, oldest first.
func (s *Service) ListPayments(ctx context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error) {
	var records []*domain.PaymentRecord
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Subscriptions().Get(ctx, id); err != nil {
			return err
		}
		var err error
		records, err = tx.Payments().ListBySubscription(ctx, id)
		return err
	})
	return records, err
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			ports.String("event_type", string(event.Type)),
			ports.Err(err),
		)
	}
}
