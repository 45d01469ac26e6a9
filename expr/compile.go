package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// compiler accumulates SQL text and bound parameters for one statement.
// Placeholder numbering is continuous across clauses, which matters for the
// $N style.
type compiler struct {
	dialect Dialect
	sql     strings.Builder
	params  []any
}

func (c *compiler) bind(v any) {
	c.params = append(c.params, v)
	c.sql.WriteString(c.dialect.Placeholder(len(c.params)))
}

func (c *compiler) expr(e Expr) error {
	switch n := e.(type) {
	case Compare:
		c.sql.WriteString(quoteIdent(n.Column))
		c.sql.WriteString(" ")
		c.sql.WriteString(string(n.Op))
		c.sql.WriteString(" ")
		c.bind(n.Value)
	case IsNull:
		c.sql.WriteString(quoteIdent(n.Column))
		c.sql.WriteString(" IS NULL")
	case NotNull:
		c.sql.WriteString(quoteIdent(n.Column))
		c.sql.WriteString(" IS NOT NULL")
	case In:
		if len(n.Values) == 0 {
			// No row satisfies membership in an empty set.
			c.sql.WriteString("1 = 0")
			return nil
		}
		c.sql.WriteString(quoteIdent(n.Column))
		c.sql.WriteString(" IN (")
		for i, v := range n.Values {
			if i > 0 {
				c.sql.WriteString(", ")
			}
			c.bind(v)
		}
		c.sql.WriteString(")")
	case Like:
		c.sql.WriteString(quoteIdent(n.Column))
		c.sql.WriteString(" LIKE ")
		c.bind(n.Pattern)
	case And:
		return c.junction(n.Exprs, " AND ")
	case Or:
		return c.junction(n.Exprs, " OR ")
	case Not:
		c.sql.WriteString("NOT (")
		if err := c.expr(n.Expr); err != nil {
			return err
		}
		c.sql.WriteString(")")
	case nil:
		return fmt.Errorf("cannot compile nil expression")
	default:
		return fmt.Errorf("unsupported expression type: %T", e)
	}
	return nil
}

func (c *compiler) junction(exprs []Expr, sep string) error {
	if len(exprs) == 0 {
		return fmt.Errorf("empty junction")
	}
	for i, e := range exprs {
		if i > 0 {
			c.sql.WriteString(sep)
		}
		c.sql.WriteString("(")
		if err := c.expr(e); err != nil {
			return err
		}
		c.sql.WriteString(")")
	}
	return nil
}

// Where compiles a predicate to a WHERE-clause body plus bound parameters.
func Where(d Dialect, e Expr) (string, []any, error) {
	c := &compiler{dialect: d}
	if err := c.expr(e); err != nil {
		return "", nil, err
	}
	return c.sql.String(), c.params, nil
}

// Select describes a single-table read.
type Select struct {
	Table   string
	Columns []string // ignored when Count is set
	Where   Expr     // nil means no WHERE clause
	OrderBy []Ordering
	Limit   int // 0 means no limit
	Count   bool
}

// Compile renders the SELECT for the given dialect.
func (s Select) Compile(d Dialect) (string, []any, error) {
	c := &compiler{dialect: d}
	c.sql.WriteString("SELECT ")
	if s.Count {
		c.sql.WriteString("COUNT(*)")
	} else {
		if len(s.Columns) == 0 {
			return "", nil, fmt.Errorf("select on %s: no columns", s.Table)
		}
		for i, col := range s.Columns {
			if i > 0 {
				c.sql.WriteString(", ")
			}
			c.sql.WriteString(quoteIdent(col))
		}
	}
	c.sql.WriteString(" FROM ")
	c.sql.WriteString(quoteIdent(s.Table))
	if s.Where != nil {
		c.sql.WriteString(" WHERE ")
		if err := c.expr(s.Where); err != nil {
			return "", nil, err
		}
	}
	if len(s.OrderBy) > 0 && !s.Count {
		c.sql.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				c.sql.WriteString(", ")
			}
			c.sql.WriteString(quoteIdent(o.Column))
			if o.Desc {
				c.sql.WriteString(" DESC")
			}
		}
	}
	if s.Limit > 0 && !s.Count {
		c.sql.WriteString(" LIMIT ")
		c.sql.WriteString(strconv.Itoa(s.Limit))
	}
	return c.sql.String(), c.params, nil
}

// Insert describes a single-row INSERT. Columns and Values are parallel.
type Insert struct {
	Table   string
	Columns []string
	Values  []any
}

// Compile renders the INSERT for the given dialect. Key readback (RETURNING
// or last-insert-id) is the executor's concern, not the statement's.
func (ins Insert) Compile(d Dialect) (string, []any, error) {
	if len(ins.Columns) != len(ins.Values) {
		return "", nil, fmt.Errorf("insert into %s: %d columns, %d values",
			ins.Table, len(ins.Columns), len(ins.Values))
	}
	c := &compiler{dialect: d}
	c.sql.WriteString("INSERT INTO ")
	c.sql.WriteString(quoteIdent(ins.Table))
	if len(ins.Columns) == 0 {
		// Every value is storage-generated.
		c.sql.WriteString(" DEFAULT VALUES")
		return c.sql.String(), c.params, nil
	}
	c.sql.WriteString(" (")
	for i, col := range ins.Columns {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.sql.WriteString(quoteIdent(col))
	}
	c.sql.WriteString(") VALUES (")
	for i, v := range ins.Values {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.bind(v)
	}
	c.sql.WriteString(")")
	return c.sql.String(), c.params, nil
}

// Update describes an UPDATE with literal assignments.
type Update struct {
	Table       string
	Assignments []Assignment
	Where       Expr // nil means all rows
}

// Compile renders the UPDATE for the given dialect.
func (u Update) Compile(d Dialect) (string, []any, error) {
	if len(u.Assignments) == 0 {
		return "", nil, fmt.Errorf("update %s: no assignments", u.Table)
	}
	c := &compiler{dialect: d}
	c.sql.WriteString("UPDATE ")
	c.sql.WriteString(quoteIdent(u.Table))
	c.sql.WriteString(" SET ")
	for i, a := range u.Assignments {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.sql.WriteString(quoteIdent(a.Column))
		c.sql.WriteString(" = ")
		c.bind(a.Value)
	}
	if u.Where != nil {
		c.sql.WriteString(" WHERE ")
		if err := c.expr(u.Where); err != nil {
			return "", nil, err
		}
	}
	return c.sql.String(), c.params, nil
}

// Delete describes a DELETE.
type Delete struct {
	Table string
	Where Expr // nil means all rows
}

// Compile renders the DELETE for the given dialect.
func (del Delete) Compile(d Dialect) (string, []any, error) {
	c := &compiler{dialect: d}
	c.sql.WriteString("DELETE FROM ")
	c.sql.WriteString(quoteIdent(del.Table))
	if del.Where != nil {
		c.sql.WriteString(" WHERE ")
		if err := c.expr(del.Where); err != nil {
			return "", nil, err
		}
	}
	return c.sql.String(), c.params, nil
}

// quoteIdent double-quotes an identifier, escaping embedded quotes.
// Both SQLite and Postgres accept the "ident" form.
func quoteIdent(name string) string {
	if !strings.Contains(name, `"`) {
		return `"` + name + `"`
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
