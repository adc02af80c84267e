package ports

import (
	"context"

	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// TransferKind tells the settlement side why funds are leaving escrow.
type TransferKind string

const (
	TransferKindWithdrawal TransferKind = "withdrawal"
	TransferKindPayment    TransferKind = "payment"
)

// TransferRequest describes one outbound value transfer.
type TransferRequest struct {
	Destination    domain.AccountID
	Kind           TransferKind
	Reference      string
	Amount         int64
	SubscriptionID domain.SubscriptionID
}

// TransferGateway moves funds out of escrow. It is invoked after the ledger debit has
// been written and before the invocation commits; any error rolls the debit back.
type TransferGateway interface {
	Transfer(ctx context.Context, req TransferRequest) error
}
