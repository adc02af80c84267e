package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
)

// DefaultMaxBatchSize bounds a single batch invocation.
const DefaultMaxBatchSize = 500

// Ledger debits a payer inside an open invocation and settles the payment with the
// recipient once every local write is staged.
type Ledger interface {
	DebitForPayment(ctx context.Context, tx ports.Tx, sub *domain.Subscription, now time.Time) (int64, error)
	SettlePayment(ctx context.Context, sub *domain.Subscription, sequence int64) error
}

// PaymentResult describes one executed payment.
type PaymentResult struct {
	Subscription *domain.Subscription
	Record       *domain.PaymentRecord
	PayerBalance int64
}

// SkippedPayment is a batch item that was not paid.
type SkippedPayment struct {
	Reason         string
	Code           domain.ErrorCode
	SubscriptionID domain.SubscriptionID
}

// BatchResult reports the outcome of every item in a batch, in request order.
type BatchResult struct {
	Processed []*PaymentResult
	Skipped   []SkippedPayment
	Requested int
}

// Service decides due-ness and executes subscription payments.
type Service struct {
	tm           ports.TransactionManager
	ledger       Ledger
	clock        ports.Clock
	publisher    ports.EventPublisher
	logger       ports.Logger
	maxBatchSize int
}

// NewService creates a new scheduler service
func NewService(
	tm ports.TransactionManager,
	ledger Ledger,
	clock ports.Clock,
	publisher ports.EventPublisher,
	logger ports.Logger,
	maxBatchSize int,
) *Service {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		tm:           tm,
		ledger:       ledger,
		clock:        clock,
		publisher:    publisher,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// IsDue reports whether the subscription is ACTIVE and its next due time has passed.
func (s *Service) IsDue(ctx context.Context, id domain.SubscriptionID) (bool, error) {
	sub, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}
	return sub.IsDue(s.now()), nil
}

// TimeUntilNextPayment returns max(0, nextDueTime - now) regardless of status.
func (s *Service) TimeUntilNextPayment(ctx context.Context, id domain.SubscriptionID) (time.Duration, error) {
	sub, err := s.get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sub.TimeUntilNextPayment(s.now()), nil
}

func (s *Service) get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		sub, err = tx.Subscriptions().Get(ctx, id)
		return err
	})
	return sub, err
}

// ProcessPayment executes one due payment. Any caller may trigger it.
func (s *Service) ProcessPayment(ctx context.Context, id domain.SubscriptionID) (*PaymentResult, error) {
	now := s.now()
	start := time.Now()

	var result *PaymentResult
	err := s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		result, err = s.process(ctx, tx, id, now)
		return err
	})
	if err != nil {
		observability.RecordSubscriptionPayment(outcome(err), time.Since(start))
		s.logger.Warn("Payment not executed",
			ports.Uint64("subscription_id", uint64(id)),
			ports.String("code", string(domain.GetErrorCode(err))),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordSubscriptionPayment("executed", time.Since(start))
	s.logPayment(result)
	s.publishPayment(ctx, result, now)
	return result, nil
}

// BatchProcessPayments processes ids in order within one invocation. Each item runs in
// its own savepoint, so a failing item is rolled back and reported as skipped while the
// others keep their payments; each item sees the writes of the items before it. Only a
// failure of the savepoint itself aborts the batch.
func (s *Service) BatchProcessPayments(ctx context.Context, ids []domain.SubscriptionID) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(ids) > s.maxBatchSize {
		return nil, domain.ErrBatchTooLarge.
			WithDetail("size", len(ids)).
			WithDetail("max", s.maxBatchSize)
	}

	now := s.now()
	var result *BatchResult
	err := s.tm.WithTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		result = &BatchResult{Requested: len(ids)}
		for _, id := range ids {
			start := time.Now()
			var paid *PaymentResult
			err := tx.Savepoint(ctx, func(ctx context.Context, sp ports.Tx) error {
				var err error
				paid, err = s.process(ctx, sp, id, now)
				return err
			})
			if err != nil {
				if errors.Is(err, ports.ErrSavepoint) {
					return fmt.Errorf("batch item %d: %w", id, err)
				}
				code := domain.GetErrorCode(err)
				if code == "" {
					code = domain.ErrorCodeInternalError
				}
				observability.RecordSubscriptionPayment(string(code), time.Since(start))
				result.Skipped = append(result.Skipped, SkippedPayment{
					SubscriptionID: id,
					Code:           code,
					Reason:         err.Error(),
				})
				continue
			}
			observability.RecordSubscriptionPayment("executed", time.Since(start))
			result.Processed = append(result.Processed, paid)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Batch payment processing aborted",
			ports.Int("batch_size", len(ids)),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordBatch(len(ids), len(result.Processed), len(result.Skipped))
	for _, skipped := range result.Skipped {
		log := s.logger.Warn
		if domain.CategoryOfCode(skipped.Code) == domain.CategoryInternal {
			log = s.logger.Error
		}
		log("Batch item skipped",
			ports.Uint64("subscription_id", uint64(skipped.SubscriptionID)),
			ports.String("code", string(skipped.Code)),
			ports.String("reason", skipped.Reason),
		)
	}
	for _, paid := range result.Processed {
		s.publishPayment(ctx, paid, now)
	}
	s.logger.Info("Batch payment processing completed",
		ports.Int("requested", result.Requested),
		ports.Int("processed", len(result.Processed)),
		ports.Int("skipped", len(result.Skipped)),
	)

	return result, nil
}

// ProcessDue sweeps up to limit subscriptions that are due now, oldest first.
// An empty sweep returns an empty result rather than an error.
func (s *Service) ProcessDue(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 || limit > s.maxBatchSize {
		limit = s.maxBatchSize
	}

	var ids []domain.SubscriptionID
	err := s.tm.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		ids, err = tx.Subscriptions().ListDue(ctx, s.now(), limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	if len(ids) == 0 {
		return &BatchResult{}, nil
	}

	return s.BatchProcessPayments(ctx, ids)
}

// ExecuteFirstPayment pays a subscription that was just created inside tx.
func (s *Service) ExecuteFirstPayment(ctx context.Context, tx ports.Tx, sub *domain.Subscription, now time.Time) (*PaymentResult, error) {
	if err := sub.CheckPayable(now); err != nil {
		return nil, err
	}
	return s.execute(ctx, tx, sub, now)
}

// PublishPayment emits the payment event for a result produced by ExecuteFirstPayment
// once its invocation has committed.
func (s *Service) PublishPayment(ctx context.Context, result *PaymentResult, now time.Time) {
	observability.RecordSubscriptionPayment("executed", 0)
	s.logPayment(result)
	s.publishPayment(ctx, result, now)
}

func (s *Service) process(ctx context.Context, tx ports.Tx, id domain.SubscriptionID, now time.Time) (*PaymentResult, error) {
	sub, err := tx.Subscriptions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sub.CheckPayable(now); err != nil {
		return nil, err
	}
	return s.execute(ctx, tx, sub, now)
}

func (s *Service) execute(ctx context.Context, tx ports.Tx, sub *domain.Subscription, now time.Time) (*PaymentResult, error) {
	balance, err := s.ledger.DebitForPayment(ctx, tx, sub, now)
	if err != nil {
		return nil, err
	}

	sub.RecordPayment(now)
	if err := tx.Subscriptions().Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %d: %w", sub.ID, err)
	}

	record := domain.NewPaymentRecord(sub, now)
	if err := tx.Payments().Append(ctx, record); err != nil {
		return nil, fmt.Errorf("append payment record: %w", err)
	}

	// Money leaves last; after this only the commit can fail.
	if err := s.ledger.SettlePayment(ctx, sub, record.Sequence); err != nil {
		return nil, err
	}

	return &PaymentResult{Subscription: sub, Record: record, PayerBalance: balance}, nil
}

func (s *Service) logPayment(result *PaymentResult) {
	sub := result.Subscription
	s.logger.Info("Payment executed",
		ports.Uint64("subscription_id", uint64(sub.ID)),
		ports.String("payer", sub.Payer.String()),
		ports.String("recipient", sub.Recipient.String()),
		ports.Int64("amount", sub.Amount),
		ports.Int64("payment_count", sub.PaymentCount),
		ports.Time("next_due_time", sub.NextDueTime),
	)
}

func (s *Service) publishPayment(ctx context.Context, result *PaymentResult, now time.Time) {
	sub := result.Subscription
	event := domain.NewEvent(domain.EventPaymentExecuted, now, map[string]any{
		"payment_id":      result.Record.ID.String(),
		"subscription_id": uint64(sub.ID),
		"payer":           sub.Payer.String(),
		"recipient":       sub.Recipient.String(),
		"amount":          sub.Amount,
		"sequence":        result.Record.Sequence,
		"next_due_time":   sub.NextDueTime,
		"payer_balance":   result.PayerBalance,
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			ports.String("event_type", string(event.Type)),
			ports.Err(err),
		)
	}
}

func outcome(err error) string {
	if code := domain.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}
