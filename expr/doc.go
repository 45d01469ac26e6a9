// Package expr defines the predicate and statement representation the Store
// compiles reads and writes through.
//
// Column descriptors in the root package produce Expr trees (Compare, And,
// Or, ...); this package compiles them to parameterized SQL for a concrete
// Dialect and can also evaluate them in memory against cached rows, which is
// how bulk updates keep the identity map consistent without a re-fetch.
//
// All values are parameterized, never interpolated into the SQL text.
package expr
