package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
)

// DBTX is satisfied by pgxpool.Pool, pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ports.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ ports.Store = (*Store)(nil)

// NewStore wraps pool. The store takes ownership of the pool and closes it on Close.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTransaction executes fn within a read-write transaction.
// Subscriptions read through the transaction are locked FOR UPDATE.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Ensure rollback on panic or error
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx, lock: true}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// WithReadOnlyTransaction executes fn within a read-only transaction
// Provides consistent reads across multiple queries
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		AccessMode: pgx.ReadOnly,
		IsoLevel:   pgx.RepeatableRead,
	})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit read-only transaction: %w", err)
	}

	return nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx   pgx.Tx
	lock bool
}

func (t *pgTx) Accounts() ports.AccountRepository {
	return NewAccountRepository(t.tx)
}

func (t *pgTx) Subscriptions() ports.SubscriptionRepository {
	return NewSubscriptionRepository(t.tx, t.lock)
}

func (t *pgTx) Payments() ports.PaymentRepository {
	return NewPaymentRepository(t.tx)
}

// Savepoint runs fn inside a pgx pseudo nested transaction (SAVEPOINT / ROLLBACK TO SAVEPOINT).
func (t *pgTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: create: %w", ports.ErrSavepoint, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sp.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: sp, lock: t.lock}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w: rollback: %v (original error: %w)", ports.ErrSavepoint, rbErr, err)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("%w: release: %w", ports.ErrSavepoint, err)
	}
	return nil
}
