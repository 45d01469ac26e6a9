package expr

// Op is a binary comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Expr is a node in a predicate tree. Implementations are the concrete node
// types in this package; callers normally obtain them from column
// descriptors rather than constructing them directly.
type Expr interface {
	node()
}

// Compare tests a column against a literal value with a binary operator.
type Compare struct {
	Column string
	Op     Op
	Value  any
}

// IsNull tests a column for NULL.
type IsNull struct {
	Column string
}

// NotNull tests a column for NOT NULL.
type NotNull struct {
	Column string
}

// In tests whether a column's value is contained in Values.
// An empty Values list matches no rows.
type In struct {
	Column string
	Values []any
}

// Like performs a SQL LIKE pattern match on a column.
type Like struct {
	Column  string
	Pattern string
}

// And is the conjunction of its children.
type And struct {
	Exprs []Expr
}

// Or is the disjunction of its children.
type Or struct {
	Exprs []Expr
}

// Not negates its child.
type Not struct {
	Expr Expr
}

func (Compare) node() {}
func (IsNull) node()  {}
func (NotNull) node() {}
func (In) node()      {}
func (Like) node()    {}
func (And) node()     {}
func (Or) node()      {}
func (Not) node()     {}

// AndAll combines zero or more predicates into a single one.
// Returns nil for no predicates and the predicate itself for exactly one.
func AndAll(exprs ...Expr) Expr {
	filtered := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return And{Exprs: filtered}
	}
}

// Assignment sets a column to a literal value in an UPDATE.
type Assignment struct {
	Column string
	Value  any
}

// Ordering is a single ORDER BY term.
type Ordering struct {
	Column string
	Desc   bool
}
