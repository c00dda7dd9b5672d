package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/randalmurphal/concord/internal/db/driver"
)

// Store provides operations on the concord sync state database.
// One process owns the store file at a time; SQLite WAL serializes the
// single logical writer against concurrent readers.
type Store struct {
	*DB
}

// OpenStore opens (and migrates) the sync state store at the given path
// using SQLite.
func OpenStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("store"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{DB: db}, nil
}

// OpenStoreWithDialect opens the store with a specific dialect.
// For SQLite, dsn is the file path. For PostgreSQL, dsn is the connection string.
func OpenStoreWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	db, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("store"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{DB: db}, nil
}

// OpenStoreInMemory opens a migrated in-memory store for tests.
func OpenStoreInMemory() (*Store, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("store"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{DB: db}, nil
}

// IsEmpty reports whether the store holds no projects and no issues.
// Used by the snapshot migrator, which refuses to import into a store that
// already has data.
func (s *Store) IsEmpty() (bool, error) {
	var projects, issues int
	if err := s.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&projects); err != nil {
		return false, fmt.Errorf("count projects: %w", err)
	}
	if err := s.QueryRow(`SELECT COUNT(*) FROM issues`).Scan(&issues); err != nil {
		return false, fmt.Errorf("count issues: %w", err)
	}
	return projects == 0 && issues == 0, nil
}

// TxOps provides store operations within a transaction.
type TxOps struct {
	tx  driver.Tx
	ctx context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, query, args...)
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, query, args...)
}

// QueryRow executes a query that returns at most one row within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

// RunInTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	ops := &TxOps{tx: tx, ctx: ctx}
	if err := fn(ops); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
