package domain

import (
	"strconv"
	"strings"
	"time"
)

// SubscriptionID is the monotonically increasing subscription identifier.
type SubscriptionID uint64

func (id SubscriptionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseSubscriptionID parses a decimal subscription id.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, ErrValidationFailed.WithDetail("subscription_id", s)
	}
	return SubscriptionID(v), nil
}

// SubscriptionStatus represents the subscription state
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

// Frequency is the fixed payment cadence of a subscription.
type Frequency string

const (
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Payment intervals are fixed lengths, not calendar arithmetic.
const (
	WeeklyInterval  = 7 * 24 * time.Hour
	MonthlyInterval = 30 * 24 * time.Hour
)

// ParseFrequency maps a case-insensitive name onto a Frequency.
// Unknown names are rejected rather than defaulted.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", ErrFrequencyInvalid.WithDetail("frequency", s)
	}
	return f, nil
}

// Valid reports whether f is a recognized frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyWeekly || f == FrequencyMonthly
}

// Interval returns the length of one payment period, or zero for an unknown frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyWeekly:
		return WeeklyInterval
	case FrequencyMonthly:
		return MonthlyInterval
	default:
		return 0
	}
}

// Subscription is a standing instruction to pay a fixed amount to a fixed recipient
// at a fixed interval, drawn from the payer's escrow balance.
type Subscription struct {
	StartTime       time.Time          `json:"start_time"`
	LastPaymentTime time.Time          `json:"last_payment_time,omitzero"`
	NextDueTime     time.Time          `json:"next_due_time"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	PausedAt        *time.Time         `json:"paused_at,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	Payer           AccountID          `json:"payer"`
	Recipient       AccountID          `json:"recipient"`
	Frequency       Frequency          `json:"frequency"`
	Status          SubscriptionStatus `json:"status"`
	Amount          int64              `json:"amount"`
	TotalPaid       int64              `json:"total_paid"`
	PaymentCount    int64              `json:"payment_count"`
	ID              SubscriptionID     `json:"id"`
}

// NewSubscription validates the terms and returns an ACTIVE subscription whose first
// payment is due at now. The id is assigned by the store.
func NewSubscription(payer, recipient AccountID, amount int64, frequency Frequency, now time.Time) (*Subscription, error) {
	if recipient.IsZero() {
		return nil, ErrRecipientInvalid
	}
	if payer == recipient {
		return nil, ErrSelfPayment
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if !frequency.Valid() {
		return nil, ErrFrequencyInvalid.WithDetail("frequency", string(frequency))
	}

	return &Subscription{
		Payer:       payer,
		Recipient:   recipient,
		Amount:      amount,
		Frequency:   frequency,
		Status:      SubscriptionStatusActive,
		StartTime:   now,
		NextDueTime: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsCancelled returns true if the subscription has been cancelled
func (s *Subscription) IsCancelled() bool {
	return s.Status == SubscriptionStatusCancelled
}

// IsDue reports whether a payment may be executed at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.IsActive() && !now.Before(s.NextDueTime)
}

// TimeUntilNextPayment returns how long until the next due time, floored at zero.
func (s *Subscription) TimeUntilNextPayment(now time.Time) time.Duration {
	if !now.Before(s.NextDueTime) {
		return 0
	}
	return s.NextDueTime.Sub(now)
}

// CheckPayable returns the state error that prevents a payment at now, if any.
func (s *Subscription) CheckPayable(now time.Time) error {
	switch {
	case !s.IsActive():
		return ErrNotActive.WithDetail("status", string(s.Status))
	case now.Before(s.NextDueTime):
		return ErrNotDue.WithDetail("next_due_time", s.NextDueTime)
	}
	return nil
}

// RecordPayment advances the schedule by exactly one interval after a successful payment.
// Missed intervals are not caught up.
func (s *Subscription) RecordPayment(now time.Time) {
	s.LastPaymentTime = now
	s.NextDueTime = s.NextDueTime.Add(s.Frequency.Interval())
	s.PaymentCount++
	s.TotalPaid += s.Amount
	s.UpdatedAt = now
}

// Pause moves an ACTIVE subscription to PAUSED. The due time is left untouched.
func (s *Subscription) Pause(caller AccountID, now time.Time) error {
	if caller != s.Payer {
		return ErrNotOwner.WithDetail("caller", string(caller))
	}
	if s.IsCancelled() {
		return ErrAlreadyCancelled
	}
	if !s.IsActive() {
		return ErrNotActive.WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusPaused
	s.PausedAt = &now
	s.UpdatedAt = now
	return nil
}

// Resume moves a PAUSED subscription back to ACTIVE. Any backlog accrued while paused
// is discarded: the next payment falls one interval after now.
func (s *Subscription) Resume(caller AccountID, now time.Time) error {
	if caller != s.Payer {
		return ErrNotOwner.WithDetail("caller", string(caller))
	}
	if s.IsCancelled() {
		return ErrAlreadyCancelled
	}
	if s.Status != SubscriptionStatusPaused {
		return ErrNotPaused.WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusActive
	s.PausedAt = nil
	s.NextDueTime = now.Add(s.Frequency.Interval())
	s.UpdatedAt = now
	return nil
}

// Cancel terminates the subscription. The recipient may cancel only when allowRecipient is set.
func (s *Subscription) Cancel(caller AccountID, allowRecipient bool, now time.Time) error {
	if caller != s.Payer && !(allowRecipient && caller == s.Recipient) {
		return ErrNotOwner.WithDetail("caller", string(caller))
	}
	if s.IsCancelled() {
		return ErrAlreadyCancelled
	}
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &now
	s.UpdatedAt = now
	return nil
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.PausedAt != nil {
		t := *s.PausedAt
		c.PausedAt = &t
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
