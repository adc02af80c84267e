package postgres

import (
	"context"
	"fmt"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// PaymentRepository implements ports.PaymentRepository
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a payment repository bound to db
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const (
	insertPaymentSQL = `
INSERT INTO payment_records (id, subscription_id, payer_id, recipient_id, amount, sequence, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listPaymentsSQL = `
SELECT id, subscription_id, payer_id, recipient_id, amount, sequence, paid_at
FROM payment_records
WHERE subscription_id = $1
ORDER BY sequence`
)

func (r *PaymentRepository) Append(ctx context.Context, record *domain.PaymentRecord) error {
	_, err := r.db.Exec(ctx, insertPaymentSQL,
		record.ID,
		int64(record.SubscriptionID),
		string(record.Payer),
		string(record.Recipient),
		record.Amount,
		record.Sequence,
		record.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append payment record: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListBySubscription(ctx context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, listPaymentsSQL, int64(id))
	if err != nil {
		return nil, fmt.Errorf("list payment records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PaymentRecord
	for rows.Next() {
		var (
			rec              domain.PaymentRecord
			subID            int64
			payer, recipient string
		)
		if err := rows.Scan(&rec.ID, &subID, &payer, &recipient, &rec.Amount, &rec.Sequence, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		rec.SubscriptionID = domain.SubscriptionID(subID)
		rec.Payer = domain.AccountID(payer)
		rec.Recipient = domain.AccountID(recipient)
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}
