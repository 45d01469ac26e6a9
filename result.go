package tether

import (
	"context"

	"github.com/tetherdb/tether/expr"
)

// ResultSet is the lazy query surface returned by Find. It holds no rows
// itself: every terminal operation (One, All, Each, Count, Set) flushes
// pending changes and re-executes the query, so a ResultSet is restartable
// and always observes the store's current state.
//
// Rows resolve through the identity map by primary key, so an object cached
// earlier is returned itself rather than as a duplicate.
type ResultSet struct {
	store   *Store
	class   *Class
	where   expr.Expr
	orderBy []expr.Ordering
	limit   int
}

// OrderBy returns a result set ordered by the given terms.
func (rs *ResultSet) OrderBy(terms ...expr.Ordering) *ResultSet {
	clone := *rs
	clone.orderBy = terms
	return &clone
}

// Limit returns a result set capped at n rows.
func (rs *ResultSet) Limit(n int) *ResultSet {
	clone := *rs
	clone.limit = n
	return &clone
}

// ordering falls back to the primary key so repeated runs of the same
// query produce rows in the same order.
func (rs *ResultSet) ordering() []expr.Ordering {
	if len(rs.orderBy) > 0 {
		return rs.orderBy
	}
	terms := make([]expr.Ordering, len(rs.class.pk))
	for i, col := range rs.class.pk {
		terms[i] = expr.Ordering{Column: col.Name}
	}
	return terms
}

func (rs *ResultSet) query(ctx context.Context, limit int) (Rows, []*Column, error) {
	if err := rs.store.checkOpen(); err != nil {
		return nil, nil, err
	}
	if err := rs.store.Flush(ctx); err != nil {
		return nil, nil, err
	}
	cols := selectColumns(rs.class)
	stmt := expr.Select{
		Table:   rs.class.Table,
		Columns: columnNames(cols),
		Where:   rs.where,
		OrderBy: rs.ordering(),
		Limit:   limit,
	}
	sql, params, err := stmt.Compile(rs.store.dialect)
	if err != nil {
		return nil, nil, err
	}
	rs.store.log.Debug("executing find", "class", rs.class.Name, "sql", sql)
	rows, err := rs.store.exec.Query(ctx, sql, params)
	if err != nil {
		return nil, nil, err
	}
	return rows, cols, nil
}

// Each runs the query and calls fn for every resolved object. A non-nil
// error from fn stops the iteration and is returned. Objects passed to fn
// each carry an external reference; fn (or its caller) owns their Release.
func (rs *ResultSet) Each(ctx context.Context, fn func(*Object) error) error {
	rows, cols, err := rs.query(ctx, rs.limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return err
		}
		obj, err := rs.store.materialize(rs.class, cols, vals)
		if err != nil {
			return err
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	return rows.Err()
}

// All runs the query and materializes every matching object.
func (rs *ResultSet) All(ctx context.Context) ([]*Object, error) {
	var out []*Object
	err := rs.Each(ctx, func(obj *Object) error {
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// One returns the single matching object. Fails with NotOneError when the
// query yields no row or more than one. A result set capped at one row
// cannot yield more than one, so Limit(1).One never fails with
// multiplicity.
func (rs *ResultSet) One(ctx context.Context) (*Object, error) {
	// Two rows are enough to prove multiplicity, but never fetch past the
	// caller's own cap.
	probe := 2
	if rs.limit > 0 && rs.limit < probe {
		probe = rs.limit
	}
	rows, cols, err := rs.query(ctx, probe)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &NotOneError{Class: rs.class.Name, Count: 0}
	}
	vals, err := scanRow(rows, len(cols))
	if err != nil {
		return nil, err
	}
	if rows.Next() {
		return nil, &NotOneError{Class: rs.class.Name, Count: 2}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs.store.materialize(rs.class, cols, vals)
}

// Count issues a COUNT query; no rows are materialized.
func (rs *ResultSet) Count(ctx context.Context) (int64, error) {
	if err := rs.store.checkOpen(); err != nil {
		return 0, err
	}
	if err := rs.store.Flush(ctx); err != nil {
		return 0, err
	}
	stmt := expr.Select{Table: rs.class.Table, Where: rs.where, Count: true}
	sql, params, err := stmt.Compile(rs.store.dialect)
	if err != nil {
		return 0, err
	}
	rows, err := rs.store.exec.Query(ctx, sql, params)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// Set executes an UPDATE applying the assignments to every matching row,
// and applies the same assignments to every cached object matching the
// predicate. Cache and storage stay consistent without a re-fetch: the
// patched variables are marked flushed, since the UPDATE just wrote them.
func (rs *ResultSet) Set(ctx context.Context, assigns ...expr.Assignment) error {
	if len(assigns) == 0 {
		return nil
	}
	s := rs.store
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, a := range assigns {
		if rs.class.ColumnByName(a.Column) == nil {
			return &ReferenceError{Class: rs.class.Name,
				Message: "assignment targets unmapped column " + a.Column}
		}
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.ensureTx(ctx); err != nil {
		return err
	}
	stmt := expr.Update{Table: rs.class.Table, Assignments: assigns, Where: rs.where}
	sql, params, err := stmt.Compile(s.dialect)
	if err != nil {
		return err
	}
	s.log.Debug("executing bulk set", "class", rs.class.Name, "sql", sql)
	if _, err := s.exec.Exec(ctx, sql, params); err != nil {
		return &FlushError{Class: rs.class.Name, Statement: sql, Err: err}
	}

	// Patch cached objects in place.
	var matched []*objectInfo
	var matchErr error
	s.cache.each(func(info *objectInfo) {
		if matchErr != nil || info.class.root() != rs.class.root() {
			return
		}
		if rs.where == nil {
			matched = append(matched, info)
			return
		}
		ok, err := expr.Match(rs.where, info.valueByName)
		if err != nil {
			matchErr = err
			return
		}
		if ok {
			matched = append(matched, info)
		}
	})
	if matchErr != nil {
		return matchErr
	}
	for _, info := range matched {
		for _, a := range assigns {
			col := info.class.ColumnByName(a.Column)
			if col == nil {
				continue
			}
			v := info.vars[col]
			if err := v.Set(a.Value); err != nil {
				return err
			}
			v.Flushed(v.Get())
		}
		if !info.dirty() {
			delete(s.dirty, info)
		}
	}
	return nil
}
