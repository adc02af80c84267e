package subscription

import (
	"context"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
)

// PauseSubscription suspends payments. The payer only.
func (s *Service) PauseSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	return s.transition(ctx, id, "paused", domain.EventSubscriptionPaused,
		func(sub *domain.Subscription, caller domain.AccountID, now time.Time) error {
			return sub.Pause(caller, now)
		})
}

// ResumeSubscription reactivates a paused subscription; the next payment falls one
// interval after now. The payer only.
func (s *Service) ResumeSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	return s.transition(ctx, id, "resumed", domain.EventSubscriptionResumed,
		func(sub *domain.Subscription, caller domain.AccountID, now time.Time) error {
			return sub.Resume(caller, now)
		})
}

// CancelSubscription terminates the subscription permanently.
func (s *Service) CancelSubscription(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	return s.transition(ctx, id, "cancelled", domain.EventSubscriptionCancelled,
		func(sub *domain.Subscription, caller domain.AccountID, now time.Time) error {
			return sub.Cancel(caller, s.opts.AllowRecipientCancel, now)
		})
}

func (s *Service) transition(
	ctx context.Context,
	id domain.SubscriptionID,
	name string,
	eventType domain.EventType,
	apply func(sub *domain.Subscription, caller domain.AccountID, now time.Time) error,
) (*domain.Subscription, error) {
	caller, err := auth.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var updated *domain.Subscription
	err = s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		sub, err := tx.Subscriptions().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(sub, caller, now); err != nil {
			return err
		}
		if err := tx.Subscriptions().Update(ctx, sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		s.logger.Warn("Subscription transition rejected",
			ports.Uint64("subscription_id", uint64(id)),
			ports.String("transition", name),
			ports.String("caller", caller.String()),
			ports.String("code", string(domain.GetErrorCode(err))),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordSubscriptionTransition(name)
	s.logger.Info("Subscription "+name,
		ports.Uint64("subscription_id", uint64(id)),
		ports.String("caller", caller.String()),
		ports.String("status", string(updated.Status)),
		ports.Time("next_due_time", updated.NextDueTime),
	)
	s.publish(ctx, domain.SubscriptionEvent(eventType, updated, now))

	return updated, nil
}
