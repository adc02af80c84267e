package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// SubscriptionRepository implements ports.SubscriptionRepository.
// With lock set, Get takes a row lock held until the transaction ends.
type SubscriptionRepository struct {
	db   DBTX
	lock bool
}

// NewSubscriptionRepository creates a subscription repository bound to db
func NewSubscriptionRepository(db DBTX, lock bool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, lock: lock}
}

const subscriptionColumns = `id, payer_id, recipient_id, amount, frequency, status,
	start_time, last_payment_time, next_due_time, total_paid, payment_count,
	paused_at, cancelled_at, created_at, updated_at`

const (
	insertSubscriptionSQL = `
INSERT INTO subscriptions (
	payer_id, recipient_id, amount, frequency, status,
	start_time, last_payment_time, next_due_time, total_paid, payment_count,
	paused_at, cancelled_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`

	updateSubscriptionSQL = `
UPDATE subscriptions SET
	status = $2,
	last_payment_time = $3,
	next_due_time = $4,
	total_paid = $5,
	payment_count = $6,
	paused_at = $7,
	cancelled_at = $8,
	updated_at = $9
WHERE id = $1`

	listByPayerSQL = `SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE payer_id = $1 AND ($2 = '' OR status = $2)
ORDER BY id`

	listDueSQL = `
SELECT id FROM subscriptions
WHERE status = 'ACTIVE' AND next_due_time <= $1
ORDER BY next_due_time, id
LIMIT $2`
)

func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	var id int64
	err := r.db.QueryRow(ctx, insertSubscriptionSQL,
		string(sub.Payer),
		string(sub.Recipient),
		sub.Amount,
		string(sub.Frequency),
		string(sub.Status),
		sub.StartTime.UTC(),
		nullTime(&sub.LastPaymentTime),
		sub.NextDueTime.UTC(),
		sub.TotalPaid,
		sub.PaymentCount,
		nullTime(sub.PausedAt),
		nullTime(sub.CancelledAt),
		sub.CreatedAt.UTC(),
		sub.UpdatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return domain.ErrValidationFailed.Wrap(err)
		}
		return fmt.Errorf("create subscription: %w", err)
	}

	sub.ID = domain.SubscriptionID(id)
	return nil
}

func (r *SubscriptionRepository) Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if r.lock {
		query += ` FOR UPDATE`
	}

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	tag, err := r.db.Exec(ctx, updateSubscriptionSQL,
		int64(sub.ID),
		string(sub.Status),
		nullTime(&sub.LastPaymentTime),
		sub.NextDueTime.UTC(),
		sub.TotalPaid,
		sub.PaymentCount,
		nullTime(sub.PausedAt),
		nullTime(sub.CancelledAt),
		sub.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(sub.ID))
	}
	return nil
}

func (r *SubscriptionRepository) ListByPayer(ctx context.Context, payer domain.AccountID, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, listByPayerSQL, string(payer), string(status))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by payer: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionID, error) {
	rows, err := r.db.Query(ctx, listDueSQL, asOf.UTC(), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []domain.SubscriptionID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscription id: %w", err)
		}
		ids = append(ids, domain.SubscriptionID(id))
	}
	return ids, rows.Err()
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                    domain.Subscription
		id                     int64
		payer, recipient       string
		frequency, status      string
		lastPayment            pgtype.Timestamptz
		pausedAt, cancelledAt  pgtype.Timestamptz
		startTime, nextDueTime time.Time
		createdAt, updatedAt   time.Time
	)

	err := row.Scan(
		&id, &payer, &recipient, &sub.Amount, &frequency, &status,
		&startTime, &lastPayment, &nextDueTime, &sub.TotalPaid, &sub.PaymentCount,
		&pausedAt, &cancelledAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.ID = domain.SubscriptionID(id)
	sub.Payer = domain.AccountID(payer)
	sub.Recipient = domain.AccountID(recipient)
	sub.Frequency = domain.Frequency(frequency)
	sub.Status = domain.SubscriptionStatus(status)
	sub.StartTime = startTime.UTC()
	sub.LastPaymentTime = timeOrZero(lastPayment)
	sub.NextDueTime = nextDueTime.UTC()
	sub.PausedAt = timePtr(pausedAt)
	sub.CancelledAt = timePtr(cancelledAt)
	sub.CreatedAt = createdAt.UTC()
	sub.UpdatedAt = updatedAt.UTC()
	return &sub, nil
}
