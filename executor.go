package tether

import (
	"context"

	"github.com/tetherdb/tether/expr"
)

// Rows is the sequential row cursor the store consumes. *sql.Rows satisfies
// it directly; other drivers adapt.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor is the statement-execution seam between the store and a backing
// database. One store owns one executor for its whole life; the executor
// carries the open transaction between Begin and Commit/Rollback, routing
// statements through it.
//
// The store adds no timeout or cancellation of its own; the context is
// handed through to the underlying database call unchanged.
type Executor interface {
	// Dialect selects placeholder style and key readback for compiled
	// statements.
	Dialect() expr.Dialect

	// Query runs a read and returns its cursor.
	Query(ctx context.Context, sql string, params []any) (Rows, error)

	// Exec runs a write and returns the number of affected rows.
	Exec(ctx context.Context, sql string, params []any) (int64, error)

	// Insert runs an INSERT and returns the generated value of keyColumn,
	// via RETURNING or last-insert-id depending on the dialect. keyColumn
	// is empty when no key readback is wanted; the result is then 0.
	Insert(ctx context.Context, sql string, params []any, keyColumn string) (int64, error)

	// Begin opens a transaction. Commit and Rollback close it; the next
	// Begin starts a fresh one.
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
