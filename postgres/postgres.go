// Package postgres implements the tether statement executor over
// jackc/pgx. Generated keys are read back with INSERT ... RETURNING.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tetherdb/tether"
	"github.com/tetherdb/tether/expr"
)

// DB executes statements against one PostgreSQL database, routing them
// through the open transaction between Begin and Commit/Rollback.
type DB struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ tether.Executor = (*DB)(nil)

// Open connects a pool to the given connection string.
func Open(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	if d.tx != nil {
		d.tx.Rollback(context.Background())
		d.tx = nil
	}
	d.pool.Close()
	return nil
}

// Dialect reports the PostgreSQL placeholder/readback style.
func (d *DB) Dialect() expr.Dialect {
	return expr.Postgres
}

// Query runs a read.
func (d *DB) Query(ctx context.Context, query string, params []any) (tether.Rows, error) {
	var rows pgx.Rows
	var err error
	if d.tx != nil {
		rows, err = d.tx.Query(ctx, query, params...)
	} else {
		rows, err = d.pool.Query(ctx, query, params...)
	}
	if err != nil {
		return nil, err
	}
	return &rowsAdapter{rows: rows}, nil
}

// Exec runs a write and returns the number of affected rows.
func (d *DB) Exec(ctx context.Context, query string, params []any) (int64, error) {
	if d.tx != nil {
		tag, err := d.tx.Exec(ctx, query, params...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	tag, err := d.pool.Exec(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Insert runs an INSERT; when keyColumn is non-empty the statement is
// extended with RETURNING and the generated key scanned back.
func (d *DB) Insert(ctx context.Context, query string, params []any, keyColumn string) (int64, error) {
	if keyColumn == "" {
		_, err := d.Exec(ctx, query, params)
		return 0, err
	}
	query = query + ` RETURNING "` + keyColumn + `"`
	var key int64
	var err error
	if d.tx != nil {
		err = d.tx.QueryRow(ctx, query, params...).Scan(&key)
	} else {
		err = d.pool.QueryRow(ctx, query, params...).Scan(&key)
	}
	if err != nil {
		return 0, err
	}
	return key, nil
}

// Begin opens a transaction.
func (d *DB) Begin(ctx context.Context) error {
	if d.tx != nil {
		return fmt.Errorf("transaction already open")
	}
	tx, err := d.pool.Begin(ctx)
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
	err := d.tx.Commit(ctx)
	d.tx = nil
	return err
}

// Rollback discards the open transaction.
func (d *DB) Rollback(ctx context.Context) error {
	if d.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := d.tx.Rollback(ctx)
	d.tx = nil
	return err
}

// rowsAdapter bridges pgx.Rows to the cursor interface the store consumes;
// pgx closes rows without an error return.
type rowsAdapter struct {
	rows pgx.Rows
}

func (r *rowsAdapter) Next() bool {
	return r.rows.Next()
}

func (r *rowsAdapter) Scan(dest ...any) error {
	return r.rows.Scan(dest...)
}

func (r *rowsAdapter) Err() error {
	return r.rows.Err()
}

func (r *rowsAdapter) Close() error {
	r.rows.Close()
	return nil
}
