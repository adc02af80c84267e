package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event; it doubles as the message routing key.
type EventType string

const (
	EventDepositMade           EventType = "escrow.deposit.made"
	EventWithdrawalMade        EventType = "escrow.withdrawal.made"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionPaused    EventType = "subscription.paused"
	EventSubscriptionResumed   EventType = "subscription.resumed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventPaymentExecuted       EventType = "payment.executed"
)

// Event is an immutable notification about a committed state change.
type Event struct {
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
	Type       EventType      `json:"type"`
	ID         uuid.UUID      `json:"id"`
}

// NewEvent stamps a new event.
func NewEvent(eventType EventType, at time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: at,
		Payload:    payload,
	}
}

// SubscriptionEvent builds a lifecycle event carrying the subscription's current state.
func SubscriptionEvent(eventType EventType, sub *Subscription, at time.Time) Event {
	return NewEvent(eventType, at, map[string]any{
		"subscription_id": uint64(sub.ID),
		"payer":           sub.Payer.String(),
		"recipient":       sub.Recipient.String(),
		"amount":          sub.Amount,
		"frequency":       string(sub.Frequency),
		"status":          string(sub.Status),
		"next_due_time":   sub.NextDueTime,
		"payment_count":   sub.PaymentCount,
	})
}
