package tether

import (
	"fmt"
	"strings"

	"github.com/tetherdb/tether/expr"
)

// Class describes the mapping of one kind of object to one table: its
// columns, its primary key subset, and (for single-table inheritance) the
// type tag that selects it within a hierarchy.
//
// Classes are declared once at startup and treated as immutable afterwards;
// the Store never mutates them.
type Class struct {
	Name  string
	Table string

	columns []*Column
	pk      []*Column

	hierarchy *Hierarchy
	tagValue  string
}

// NewClass declares a class mapped to the given table.
func NewClass(name, table string) *Class {
	return &Class{Name: name, Table: table}
}

// Column declares a column on the class and returns its descriptor.
// Panics on duplicate names or on a second auto-generated key declaration;
// mapping mistakes are programming errors, not runtime conditions.
func (c *Class) Column(name string, kind Kind, opts ...ColumnOption) *Column {
	for _, existing := range c.columns {
		if existing.Name == name {
			panic(fmt.Sprintf("class %s: duplicate column %q", c.Name, name))
		}
	}
	col := &Column{class: c, Name: name, Kind: kind}
	for _, opt := range opts {
		opt(col)
	}
	if col.auto && (kind != KindInt || !col.primary) {
		panic(fmt.Sprintf("class %s: auto-increment column %q must be an int primary key", c.Name, name))
	}
	if col.autoUUID && (kind != KindUUID || !col.primary) {
		panic(fmt.Sprintf("class %s: auto-uuid column %q must be a uuid primary key", c.Name, name))
	}
	c.columns = append(c.columns, col)
	if col.primary {
		c.pk = append(c.pk, col)
	}
	return col
}

// Columns returns the declared columns in declaration order.
func (c *Class) Columns() []*Column {
	return c.columns
}

// PrimaryKey returns the primary key columns in declaration order.
func (c *Class) PrimaryKey() []*Column {
	return c.pk
}

// ColumnByName returns the column with the given database name, or nil.
func (c *Class) ColumnByName(name string) *Column {
	for _, col := range c.columns {
		if col.Name == name {
			return col
		}
	}
	return nil
}

// root returns the class that owns the identity-map namespace: the
// hierarchy base for derived classes, the class itself otherwise. Objects of
// sibling subclasses share one namespace so a base-class Get and a
// subclass Find observe the same cache entry.
func (c *Class) root() *Class {
	if c.hierarchy != nil {
		return c.hierarchy.base
	}
	return c
}

func (c *Class) columnNames() []string {
	names := make([]string, len(c.columns))
	for i, col := range c.columns {
		names[i] = col.Name
	}
	return names
}

// keyString folds primary key values into a map key. Values are canonical
// per kind, so their formatted form is unambiguous within one class.
func keyString(vals []any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String()
}

// ColumnOption configures a column at declaration time.
type ColumnOption func(*Column)

// Primary marks the column as part of the primary key.
func Primary() ColumnOption {
	return func(c *Column) { c.primary = true }
}

// AutoIncrement marks an int primary key as storage-generated: its value is
// read back from the insert and assigned on first flush.
func AutoIncrement() ColumnOption {
	return func(c *Column) { c.primary = true; c.auto = true }
}

// AutoUUID marks a uuid primary key as runtime-generated: a v7 UUID is
// assigned at first flush when the value is still null.
func AutoUUID() ColumnOption {
	return func(c *Column) { c.primary = true; c.autoUUID = true }
}

// Column is the descriptor for one mapped column. It plays two roles:
// bound against an instance it addresses that instance's Variable
// (Object.Get/Set), and bound against its class it builds predicates for
// Find (Eq, Gt, IsNull, ...).
type Column struct {
	class *Class

	Name string
	Kind Kind

	primary  bool
	auto     bool
	autoUUID bool
}

// Class returns the class the column was declared on.
func (c *Column) Class() *Class {
	return c.class
}

// coerceValue coerces a predicate or assignment value, wrapping failures
// with column context.
func (c *Column) coerceValue(v any) (any, error) {
	coerced, err := c.Kind.coerce(v)
	if err != nil {
		return nil, &ConversionError{Column: c.Name, Kind: c.Kind, Value: v, Reason: err.Error()}
	}
	return coerced, nil
}

// mustCoerce coerces best-effort for predicate builders, which have no
// error channel; an uncoercible value is kept as-is and rejected later by
// the executor or the in-memory matcher.
func (c *Column) mustCoerce(v any) any {
	coerced, err := c.Kind.coerce(v)
	if err != nil {
		return v
	}
	return coerced
}

// Eq builds the predicate "column = value".
func (c *Column) Eq(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpEq, Value: c.mustCoerce(v)}
}

// Ne builds the predicate "column != value".
func (c *Column) Ne(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpNe, Value: c.mustCoerce(v)}
}

// Lt builds the predicate "column < value".
func (c *Column) Lt(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpLt, Value: c.mustCoerce(v)}
}

// Le builds the predicate "column <= value".
func (c *Column) Le(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpLe, Value: c.mustCoerce(v)}
}

// Gt builds the predicate "column > value".
func (c *Column) Gt(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpGt, Value: c.mustCoerce(v)}
}

// Ge builds the predicate "column >= value".
func (c *Column) Ge(v any) expr.Expr {
	return expr.Compare{Column: c.Name, Op: expr.OpGe, Value: c.mustCoerce(v)}
}

// IsNull builds the predicate "column IS NULL".
func (c *Column) IsNull() expr.Expr {
	return expr.IsNull{Column: c.Name}
}

// NotNull builds the predicate "column IS NOT NULL".
func (c *Column) NotNull() expr.Expr {
	return expr.NotNull{Column: c.Name}
}

// In builds the predicate "column IN (values...)".
func (c *Column) In(vals ...any) expr.Expr {
	coerced := make([]any, len(vals))
	for i, v := range vals {
		coerced[i] = c.mustCoerce(v)
	}
	return expr.In{Column: c.Name, Values: coerced}
}

// Like builds the predicate "column LIKE pattern".
func (c *Column) Like(pattern string) expr.Expr {
	return expr.Like{Column: c.Name, Pattern: pattern}
}

// To builds an assignment for bulk updates: SET column = value.
func (c *Column) To(v any) expr.Assignment {
	return expr.Assignment{Column: c.Name, Value: c.mustCoerce(v)}
}

// Asc orders ascending by this column.
func (c *Column) Asc() expr.Ordering {
	return expr.Ordering{Column: c.Name}
}

// Desc orders descending by this column.
func (c *Column) Desc() expr.Ordering {
	return expr.Ordering{Column: c.Name, Desc: true}
}

// Hierarchy maps a type-tag column value to a concrete class within one
// table (single-table inheritance). Resolution is an explicit lookup, never
// runtime type traversal: loading a row reads the tag column and picks the
// registered class; an unregistered tag resolves to the base class.
type Hierarchy struct {
	base    *Class
	tag     *Column
	byTag   map[string]*Class
	derived []*Class // registration order, for deterministic column unions
}

// NewHierarchy roots a hierarchy at base, discriminated by the given text
// tag column, which must be declared on base.
func NewHierarchy(base *Class, tag *Column) *Hierarchy {
	if tag.class != base {
		panic(fmt.Sprintf("hierarchy %s: tag column %q belongs to %s", base.Name, tag.Name, tag.class.Name))
	}
	if tag.Kind != KindText {
		panic(fmt.Sprintf("hierarchy %s: tag column %q must be text", base.Name, tag.Name))
	}
	h := &Hierarchy{base: base, tag: tag, byTag: make(map[string]*Class)}
	base.hierarchy = h
	return h
}

// Derive declares a subclass stored in the base table under the given tag
// value. The subclass shares the base's column descriptors (including the
// primary key) and may declare additional columns of its own.
func (h *Hierarchy) Derive(name, tagValue string) *Class {
	if _, dup := h.byTag[tagValue]; dup {
		panic(fmt.Sprintf("hierarchy %s: duplicate tag %q", h.base.Name, tagValue))
	}
	sub := &Class{
		Name:      name,
		Table:     h.base.Table,
		columns:   append([]*Column(nil), h.base.columns...),
		pk:        h.base.pk,
		hierarchy: h,
		tagValue:  tagValue,
	}
	h.byTag[tagValue] = sub
	h.derived = append(h.derived, sub)
	return sub
}

// Tag returns the discriminator column.
func (h *Hierarchy) Tag() *Column {
	return h.tag
}

// classFor resolves a tag value to its registered class, falling back to
// the base for unknown tags.
func (h *Hierarchy) classFor(tagValue string) *Class {
	if sub, ok := h.byTag[tagValue]; ok {
		return sub
	}
	return h.base
}
