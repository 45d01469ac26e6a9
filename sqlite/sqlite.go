// Package sqlite implements the tether statement executor over
// database/sql with the mattn/go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tetherdb/tether"
	"github.com/tetherdb/tether/expr"
)

// DB executes statements against one SQLite database, routing them through
// the open transaction between Begin and Commit/Rollback.
type DB struct {
	db *sql.DB
	tx *sql.Tx
}

var _ tether.Executor = (*DB)(nil)

// Open creates or opens a SQLite database at the given path (":memory:"
// for an in-process one) and applies the required pragmas.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//
// The pool is capped at a single connection: SQLite allows one writer at a
// time, and the executor must see its own open transaction.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return &DB{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	if d.tx != nil {
		d.tx.Rollback()
		d.tx = nil
	}
	return d.db.Close()
}

// Dialect reports the SQLite placeholder/readback style.
func (d *DB) Dialect() expr.Dialect {
	return expr.SQLite
}

// Query runs a read. *sql.Rows satisfies tether.Rows directly.
func (d *DB) Query(ctx context.Context, query string, params []any) (tether.Rows, error) {
	if d.tx != nil {
		return d.tx.QueryContext(ctx, query, params...)
	}
	return d.db.QueryContext(ctx, query, params...)
}

// Exec runs a write and returns the number of affected rows.
func (d *DB) Exec(ctx context.Context, query string, params []any) (int64, error) {
	res, err := d.exec(ctx, query, params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Insert runs an INSERT; when keyColumn is non-empty the generated key is
// read back via last-insert-rowid.
func (d *DB) Insert(ctx context.Context, query string, params []any, keyColumn string) (int64, error) {
	res, err := d.exec(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if keyColumn == "" {
		return 0, nil
	}
	return res.LastInsertId()
}

func (d *DB) exec(ctx context.Context, query string, params []any) (sql.Result, error) {
	if d.tx != nil {
		return d.tx.ExecContext(ctx, query, params...)
	}
	return d.db.ExecContext(ctx, query, params...)
}

// Begin opens a transaction.
func (d *DB) Begin(ctx context.Context) error {
	if d.tx != nil {
		return fmt.Errorf("transaction already open")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	d.tx = tx
	return nil
}

// Commit commits the open transaction.
func (d *DB) Commit(ctx context.Context) error {
	if d.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := d.tx.Commit()
	d.tx = nil
	return err
}

// Rollback discards the open transaction.
func (d *DB) Rollback(ctx context.Context) error {
	if d.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := d.tx.Rollback()
	d.tx = nil
	return err
}
