package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

// AccountRepository implements ports.AccountRepository
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates an account repository bound to db
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

const (
	selectBalanceSQL = `SELECT balance FROM escrow_accounts WHERE account_id = $1`

	creditSQL = `
INSERT INTO escrow_accounts (account_id, balance, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (account_id) DO UPDATE
SET balance = escrow_accounts.balance + EXCLUDED.balance,
    updated_at = now()
RETURNING balance`

	debitSQL = `
UPDATE escrow_accounts
SET balance = balance - $2,
    updated_at = now()
WHERE account_id = $1 AND balance >= $2
RETURNING balance`

	insertEntrySQL = `
INSERT INTO ledger_entries (id, account_id, kind, amount, balance_after, subscription_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getEntrySQL = `
SELECT id, account_id, kind, amount, balance_after, subscription_id, created_at
FROM ledger_entries
WHERE id = $1 AND account_id = $2`

	listEntriesSQL = `
SELECT id, account_id, kind, amount, balance_after, subscription_id, created_at
FROM ledger_entries
WHERE account_id = $1
ORDER BY seq DESC
LIMIT $2`
)

func (r *AccountRepository) GetBalance(ctx context.Context, account domain.AccountID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, selectBalanceSQL, string(account)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *AccountRepository) Credit(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, creditSQL, string(account), amount).Scan(&balance)
	if err != nil {
		if pgErrorCode(err) == pgNumericOutOfRange {
			return 0, domain.ErrBalanceOverflow.Wrap(err)
		}
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return balance, nil
}

// Debit relies on the conditional UPDATE so concurrent debits can never overdraw.
func (r *AccountRepository) Debit(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, debitSQL, string(account), amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("debit account: %w", err)
	}

	current, err := r.GetBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	return current, domain.ErrInsufficientBalance.
		WithDetail("balance", current).
		WithDetail("required", amount)
}

func (r *AccountRepository) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	var subID *int64
	if entry.SubscriptionID != nil {
		id := int64(*entry.SubscriptionID)
		subID = &id
	}

	_, err := r.db.Exec(ctx, insertEntrySQL,
		entry.ID,
		string(entry.Account),
		string(entry.Kind),
		entry.Amount,
		entry.BalanceAfter,
		subID,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetEntry(ctx context.Context, account domain.AccountID, id uuid.UUID) (*domain.LedgerEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, getEntrySQL, id, string(account)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrEntryNotFound
	}
	return e, err
}

func (r *AccountRepository) ListEntries(ctx context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, listEntriesSQL, string(account), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e     domain.LedgerEntry
		acct  string
		kind  string
		subID pgtype.Int8
	)
	if err := row.Scan(&e.ID, &acct, &kind, &e.Amount, &e.BalanceAfter, &subID, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Account = domain.AccountID(acct)
	e.Kind = domain.EntryKind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	if subID.Valid {
		id := domain.SubscriptionID(subID.Int64)
		e.SubscriptionID = &id
	}
	return &e, nil
}
