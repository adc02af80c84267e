package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

type accountRepository struct {
	tx       *sql.Tx
	readOnly bool
}

func (r *accountRepository) GetBalance(ctx context.Context, account domain.AccountID) (int64, error) {
	var balance int64
	err := r.tx.QueryRowContext(ctx, `SELECT balance FROM escrow_accounts WHERE account_id = ?`, string(account)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Credit checks for overflow up front because SQLite silently promotes overflowing integers to REAL.
func (r *accountRepository) Credit(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	if r.readOnly {
		return 0, errReadOnly
	}
	current, err := r.GetBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	if amount > math.MaxInt64-current {
		return 0, domain.ErrBalanceOverflow
	}

	var balance int64
	err = r.tx.QueryRowContext(ctx, `
INSERT INTO escrow_accounts (account_id, balance, updated_at) VALUES (?, ?, ?)
ON CONFLICT (account_id) DO UPDATE
SET balance = balance + excluded.balance, updated_at = excluded.updated_at
RETURNING balance`, string(account), amount, toUnix(time.Now())).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return balance, nil
}

func (r *accountRepository) Debit(ctx context.Context, account domain.AccountID, amount int64) (int64, error) {
	if r.readOnly {
		return 0, errReadOnly
	}

	var balance int64
	err := r.tx.QueryRowContext(ctx, `
UPDATE escrow_accounts SET balance = balance - ?, updated_at = ?
WHERE account_id = ? AND balance >= ?
RETURNING balance`, amount, toUnix(time.Now()), string(account), amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
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

func (r *accountRepository) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	if r.readOnly {
		return errReadOnly
	}
	var subID sql.NullInt64
	if entry.SubscriptionID != nil {
		subID = sql.NullInt64{Int64: int64(*entry.SubscriptionID), Valid: true}
	}

	_, err := r.tx.ExecContext(ctx, `
INSERT INTO ledger_entries (id, account_id, kind, amount, balance_after, subscription_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), string(entry.Account), string(entry.Kind),
		entry.Amount, entry.BalanceAfter, subID, toUnix(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, account_id, kind, amount, balance_after, subscription_id, created_at`

func (r *accountRepository) GetEntry(ctx context.Context, account domain.AccountID, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.tx.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM ledger_entries WHERE id = ? AND account_id = ?`, id.String(), string(account))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrEntryNotFound
	}
	return e, err
}

func (r *accountRepository) ListEntries(ctx context.Context, account domain.AccountID, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM ledger_entries WHERE account_id = ?
ORDER BY seq DESC LIMIT ?`, string(account), limitArg(limit))
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

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var (
		e              domain.LedgerEntry
		id, acct, kind string
		subID          sql.NullInt64
		createdAt      int64
	)
	if err := row.Scan(&id, &acct, &kind, &e.Amount, &e.BalanceAfter, &subID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse ledger entry id: %w", err)
	}
	e.ID = parsed
	e.Account = domain.AccountID(acct)
	e.Kind = domain.EntryKind(kind)
	e.CreatedAt = fromUnix(createdAt)
	if subID.Valid {
		sid := domain.SubscriptionID(subID.Int64)
		e.SubscriptionID = &sid
	}
	return &e, nil
}

type subscriptionRepository struct {
	tx       *sql.Tx
	readOnly bool
}

const subscriptionColumns = `id, payer_id, recipient_id, amount, frequency, status,
	start_time, last_payment_time, next_due_time, total_paid, payment_count,
	paused_at, cancelled_at, created_at, updated_at`

func (r *subscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	if r.readOnly {
		return errReadOnly
	}
	res, err := r.tx.ExecContext(ctx, `
INSERT INTO subscriptions (
	payer_id, recipient_id, amount, frequency, status,
	start_time, last_payment_time, next_due_time, total_paid, payment_count,
	paused_at, cancelled_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sub.Payer), string(sub.Recipient), sub.Amount, string(sub.Frequency), string(sub.Status),
		toUnix(sub.StartTime), nullUnix(&sub.LastPaymentTime), toUnix(sub.NextDueTime),
		sub.TotalPaid, sub.PaymentCount,
		nullUnix(sub.PausedAt), nullUnix(sub.CancelledAt),
		toUnix(sub.CreatedAt), toUnix(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read subscription id: %w", err)
	}
	sub.ID = domain.SubscriptionID(id)
	return nil
}

// Get needs no row lock: the single connection already serializes writers.
func (r *subscriptionRepository) Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, int64(id))
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	if r.readOnly {
		return errReadOnly
	}
	res, err := r.tx.ExecContext(ctx, `
UPDATE subscriptions SET
	status = ?, last_payment_time = ?, next_due_time = ?, total_paid = ?, payment_count = ?,
	paused_at = ?, cancelled_at = ?, updated_at = ?
WHERE id = ?`,
		string(sub.Status), nullUnix(&sub.LastPaymentTime), toUnix(sub.NextDueTime),
		sub.TotalPaid, sub.PaymentCount,
		nullUnix(sub.PausedAt), nullUnix(sub.CancelledAt), toUnix(sub.UpdatedAt),
		int64(sub.ID),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n == 0 {
		return domain.ErrSubscriptionNotFound.WithDetail("subscription_id", uint64(sub.ID))
	}
	return nil
}

func (r *subscriptionRepository) ListByPayer(ctx context.Context, payer domain.AccountID, status domain.SubscriptionStatus) ([]*domain.Subscription, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+subscriptionColumns+`
FROM subscriptions WHERE payer_id = ? AND (? = '' OR status = ?)
ORDER BY id`, string(payer), string(status), string(status))
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

func (r *subscriptionRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionID, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT id FROM subscriptions
WHERE status = 'ACTIVE' AND next_due_time <= ?
ORDER BY next_due_time, id LIMIT ?`, toUnix(asOf), limitArg(limit))
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*domain.Subscription, error) {
	var (
		sub                                      domain.Subscription
		id                                       int64
		payer, recipient, frequency, status      string
		startTime, nextDue, createdAt, updatedAt int64
		lastPayment, pausedAt, cancelledAt       sql.NullInt64
	)
	err := row.Scan(
		&id, &payer, &recipient, &sub.Amount, &frequency, &status,
		&startTime, &lastPayment, &nextDue, &sub.TotalPaid, &sub.PaymentCount,
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
	sub.StartTime = fromUnix(startTime)
	if lastPayment.Valid {
		sub.LastPaymentTime = fromUnix(lastPayment.Int64)
	}
	sub.NextDueTime = fromUnix(nextDue)
	sub.PausedAt = unixPtr(pausedAt)
	sub.CancelledAt = unixPtr(cancelledAt)
	sub.CreatedAt = fromUnix(createdAt)
	sub.UpdatedAt = fromUnix(updatedAt)
	return &sub, nil
}

type paymentRepository struct {
	tx       *sql.Tx
	readOnly bool
}

func (r *paymentRepository) Append(ctx context.Context, record *domain.PaymentRecord) error {
	if r.readOnly {
		return errReadOnly
	}
	_, err := r.tx.ExecContext(ctx, `
INSERT INTO payment_records (id, subscription_id, payer_id, recipient_id, amount, sequence, paid_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(), int64(record.SubscriptionID), string(record.Payer), string(record.Recipient),
		record.Amount, record.Sequence, toUnix(record.Timestamp))
	if err != nil {
		return fmt.Errorf("append payment record: %w", err)
	}
	return nil
}

func (r *paymentRepository) ListBySubscription(ctx context.Context, id domain.SubscriptionID) ([]*domain.PaymentRecord, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT id, subscription_id, payer_id, recipient_id, amount, sequence, paid_at
FROM payment_records WHERE subscription_id = ? ORDER BY sequence`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("list payment records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PaymentRecord
	for rows.Next() {
		var (
			rec                 domain.PaymentRecord
			recID, payer, recip string
			subID, paidAt       int64
		)
		if err := rows.Scan(&recID, &subID, &payer, &recip, &rec.Amount, &rec.Sequence, &paidAt); err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		if rec.ID, err = uuid.Parse(recID); err != nil {
			return nil, fmt.Errorf("parse payment record id: %w", err)
		}
		rec.SubscriptionID = domain.SubscriptionID(subID)
		rec.Payer = domain.AccountID(payer)
		rec.Recipient = domain.AccountID(recip)
		rec.Timestamp = fromUnix(paidAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
