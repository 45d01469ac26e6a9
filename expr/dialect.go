package expr

import "strconv"

// Dialect selects the placeholder style and key-readback mechanism of a
// backing database. The Store asks its Executor for one; it never inspects
// the executor beyond this.
type Dialect int

const (
	// SQLite uses ? placeholders and last-insert-rowid key readback.
	SQLite Dialect = iota
	// Postgres uses $N placeholders and RETURNING key readback.
	Postgres
)

// Placeholder returns the parameter marker for the n-th parameter (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SupportsReturning reports whether INSERT ... RETURNING is available.
func (d Dialect) SupportsReturning() bool {
	return d == Postgres
}

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}
