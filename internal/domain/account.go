package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountID identifies a participant. Identities are opaque strings supplied by the host.
type AccountID string

// ZeroAccount is the sentinel "no account" address.
const ZeroAccount AccountID = "0x0000000000000000000000000000000000000000"

// IsZero reports whether the account is empty or the zero address.
func (a AccountID) IsZero() bool {
	s := strings.ToLower(strings.TrimSpace(string(a)))
	if s == "" {
		return true
	}
	digits, ok := strings.CutPrefix(s, "0x")
	return ok && strings.Trim(digits, "0") == ""
}

func (a AccountID) String() string {
	return string(a)
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindDeposit    EntryKind = "deposit"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindPayment    EntryKind = "payment"
)

// LedgerEntry is an immutable record of one balance mutation.
type LedgerEntry struct {
	CreatedAt      time.Time
	SubscriptionID *SubscriptionID
	Account        AccountID
	Kind           EntryKind
	Amount         int64
	BalanceAfter   int64
	ID             uuid.UUID
}

// NewLedgerEntry builds an entry for a mutation that left the account at balanceAfter.
func NewLedgerEntry(account AccountID, kind EntryKind, amount, balanceAfter int64, at time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           uuid.New(),
		Account:      account,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		CreatedAt:    at,
	}
}

// Signed returns the entry amount as a balance delta.
func (e *LedgerEntry) Signed() int64 {
	if e.Kind == EntryKindDeposit {
		return e.Amount
	}
	return -e.Amount
}

// ValidateAmount rejects non-positive amounts.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrAmountInvalid.WithDetail("amount", amount)
	}
	return nil
}
