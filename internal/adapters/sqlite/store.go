// Package sqlite is a single-file escrow store on the pure Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var errReadOnly = errors.New("sqlite store: write attempted in read-only transaction")

// Store implements ports.Store on SQLite. Writers are serialized by the single connection.
type Store struct {
	db *sql.DB
}

var _ ports.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// - foreign_keys=ON: Enforce foreign key constraints
	// - busy_timeout=5000: Wait 5s on lock instead of failing immediately
	// - _txlock=immediate: take the write lock at BEGIN
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite doesn't support multiple writers, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, tx ports.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &sqliteTx{tx: tx, readOnly: readOnly, savepoints: new(int)}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx         *sql.Tx
	savepoints *int
	readOnly   bool
}

func (t *sqliteTx) Accounts() ports.AccountRepository {
	return &accountRepository{tx: t.tx, readOnly: t.readOnly}
}

func (t *sqliteTx) Subscriptions() ports.SubscriptionRepository {
	return &subscriptionRepository{tx: t.tx, readOnly: t.readOnly}
}

func (t *sqliteTx) Payments() ports.PaymentRepository {
	return &paymentRepository{tx: t.tx, readOnly: t.readOnly}
}

func (t *sqliteTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	*t.savepoints++
	name := fmt.Sprintf("sp_%d", *t.savepoints)

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: create: %w", ports.ErrSavepoint, err)
	}

	rollback := func() error {
		if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return err
		}
		_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		if rbErr := rollback(); rbErr != nil {
			return fmt.Errorf("%w: rollback: %v (original error: %w)", ports.ErrSavepoint, rbErr, err)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: release: %w", ports.ErrSavepoint, err)
	}
	return nil
}
