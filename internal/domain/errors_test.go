package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("process payment 7: %w", ErrNotDue.WithDetail("next_due_time", "later"))

	assert.ErrorIs(t, wrapped, ErrNotDue)
	assert.NotErrorIs(t, wrapped, ErrNotActive)
	assert.Equal(t, ErrorCodeNotDue, GetErrorCode(wrapped))
	assert.True(t, IsDomainError(wrapped, ErrorCodeNotDue))
}

func TestDomainError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrInsufficientBalance.WithDetail("balance", 10)

	assert.Empty(t, ErrInsufficientBalance.Details)
}

func TestDomainError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("gateway unreachable")
	err := ErrTransferFailed.Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Contains(t, err.Error(), "RESOURCE_TRANSFER_FAILED")
	assert.Contains(t, err.Error(), "gateway unreachable")
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"validation", ErrAmountInvalid, CategoryValidation},
		{"batch empty", ErrBatchEmpty, CategoryValidation},
		{"authorization", ErrNotOwner, CategoryAuthorization},
		{"not found", ErrSubscriptionNotFound, CategoryNotFound},
		{"state", ErrAlreadyCancelled, CategoryState},
		{"reentrant", ErrReentrantInvocation, CategoryState},
		{"resource", ErrTransferFailed, CategoryResource},
		{"wrapped resource", fmt.Errorf("x: %w", ErrInsufficientBalance), CategoryResource},
		{"plain error", errors.New("boom"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestAccountID_IsZero(t *testing.T) {
	tests := []struct {
		account AccountID
		want    bool
	}{
		{"", true},
		{"   ", true},
		{ZeroAccount, true},
		{"0x0", true},
		{"0X0000", true},
		{"0x00a1", false},
		{"alice", false},
		{"000", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.account), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.IsZero())
		})
	}
}

func TestLedgerEntry_Signed(t *testing.T) {
	assert.Equal(t, int64(50), NewLedgerEntry("a", EntryKindDeposit, 50, 50, testNow).Signed())
	assert.Equal(t, int64(-20), NewLedgerEntry("a", EntryKindWithdrawal, 20, 30, testNow).Signed())
	assert.Equal(t, int64(-30), NewLedgerEntry("a", EntryKindPayment, 30, 0, testNow).Signed())
}
