package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
)

// AccountRepository persists escrow balances and their ledger entries.
type AccountRepository interface {
	// GetBalance returns the spendable balance; unknown accounts hold zero.
	GetBalance(ctx context.Context, account domain.AccountID) (int64, error)

	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, account domain.AccountID, amount int64) (int64, error)

	// Debit subtracts amount and returns the new balance.
	// Fails with domain.ErrInsufficientBalance without changing anything if funds are short.
	Debit(ctx context.Context, account domain.AccountID, amount int64) (int64, error)

	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error

	// GetEntry returns the account's entry with id, or ErrEntryNotFound.
	GetEntry(ctx context.Context, account domain.AccountID, id uuid.UUID) (*domain.LedgerEntry, error)

	// ListEntries returns the newest entries first, at most limit of them.
	ListEntries(ctx context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error)
}

// SubscriptionRepository persists subscriptions keyed by id with a secondary index by payer.
type SubscriptionRepository interface {
	// Create assigns the next id to sub and stores it.
	Create(ctx context.Context, sub *domain.Subscription) error

	// Get returns a copy of the subscription or domain.ErrSubscriptionNotFound.
	// Inside a write transaction the row stays locked until the transaction ends.
	Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)

	Update(ctx context.Context, sub *domain.Subscription) error

	// ListByPayer returns the payer's subscriptions ordered by id. An empty status matches all.
	ListByPayer(ctx context.Context, payer domain.AccountID, status domain.SubscriptionStatus) ([]*domain.Subscription, error)

	// ListDue returns ids of ACTIVE subscriptions due at asOf, oldest due first.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionID, error)
}

// PaymentRepository is the append-only payment history.
type PaymentRepository interface {
	Append(ctx context.Context, record *domain.PaymentRecord) error
	ListBySubscription(ctx context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error)
}

// ErrEntryNotFound is returned by AccountRepository.GetEntry.
var ErrEntryNotFound = errors.New("ledger entry not found")

// ErrSavepoint means a savepoint could not be created, rolled back or released.
// The enclosing transaction is no longer usable.
var ErrSavepoint = errors.New("savepoint failed")

// Tx is the unit of work handed to transaction callbacks.
type Tx interface {
	Accounts() AccountRepository
	Subscriptions() SubscriptionRepository
	Payments() PaymentRepository

	// Savepoint runs fn in a nested scope. When fn fails only its own writes are undone
	// and the enclosing transaction continues. Failures of the savepoint itself wrap
	// ErrSavepoint.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// TransactionManager manages storage transactions
type TransactionManager interface {
	// WithTransaction executes fn within a write transaction.
	// fn returning an error rolls back every write made through tx.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// WithReadOnlyTransaction executes fn against a consistent view of the store.
	WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is a storage backend.
type Store interface {
	TransactionManager
	Ping(ctx context.Context) error
	Close() error
}
