package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord is the append-only receipt of one executed subscription payment.
type PaymentRecord struct {
	Timestamp      time.Time
	Payer          AccountID
	Recipient      AccountID
	Amount         int64
	Sequence       int64
	SubscriptionID SubscriptionID
	ID             uuid.UUID
}

// NewPaymentRecord builds the record for the payment that brought sub to its current count.
func NewPaymentRecord(sub *Subscription, at time.Time) *PaymentRecord {
	return &PaymentRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Payer:          sub.Payer,
		Recipient:      sub.Recipient,
		Amount:         sub.Amount,
		Sequence:       sub.PaymentCount,
		Timestamp:      at,
	}
}
