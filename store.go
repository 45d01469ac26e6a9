package tether

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetherdb/tether/expr"
)

// Store is the unit of work: it owns an identity map for its lifetime,
// tracks dirty objects, and coordinates reads and writes through one
// Executor. Commit and Rollback bound its transactions; the Store itself
// persists across them.
//
// A Store is single-threaded by contract. All operations against one Store
// and the objects it owns are assumed sequential; concurrent use requires
// external synchronization. Independent Stores may run concurrently, each
// with its own cache and transaction, and each may hold its own copy of the
// same row; cross-store consistency is whatever the database's isolation
// level provides.
type Store struct {
	exec    Executor
	dialect expr.Dialect
	cache   identityMap
	log     *slog.Logger

	// dirty holds infos with pending writes; flush drains it.
	dirty map[*objectInfo]struct{}

	// touched holds every info mutated since the last commit; rollback
	// restores them in place.
	touched map[*objectInfo]struct{}

	// added holds infos registered by Add since the last commit; rollback
	// detaches them entirely.
	added map[*objectInfo]struct{}

	// deferred holds foreign-key assignments waiting for their target's
	// first flush to produce a key.
	deferred []deferredAssign

	seq    int
	inTx   bool
	closed bool
}

// deferredAssign copies src's srcCol value into dst's dstCol once src has
// flushed and the value exists. It also orders src before dst in the flush.
type deferredAssign struct {
	src    *objectInfo
	srcCol *Column
	dst    *objectInfo
	dstCol *Column
}

// NewStore binds a unit of work to one executor. The first transaction is
// opened lazily by the first statement.
func NewStore(exec Executor) *Store {
	return &Store{
		exec:    exec,
		dialect: exec.Dialect(),
		cache:   newIdentityMap(),
		log:     slog.Default(),
		dirty:   make(map[*objectInfo]struct{}),
		touched: make(map[*objectInfo]struct{}),
		added:   make(map[*objectInfo]struct{}),
	}
}

// Close releases the executor. Pending uncommitted changes are discarded by
// the database when the connection goes away; Close does not flush.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache = newIdentityMap()
	return s.exec.Close()
}

func (s *Store) checkOpen() error {
	if s.closed {
		return &ReferenceError{Message: "store is closed"}
	}
	return nil
}

func (s *Store) ensureTx(ctx context.Context) error {
	if s.inTx {
		return nil
	}
	if err := s.exec.Begin(ctx); err != nil {
		return err
	}
	s.inTx = true
	return nil
}

// Add links an instance to this store and registers it as pending insert.
// No I/O happens until the next flush. Idempotent for an object already
// added here; fails with ReferenceError for an object owned by another
// store.
func (s *Store) Add(obj *Object) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info := obj.info
	if info.store == s {
		return nil
	}
	if info.store != nil {
		return &ReferenceError{Class: info.class.Name, Message: "object is already linked to a different store"}
	}
	info.store = s
	s.seq++
	info.seq = s.seq
	info.pendingInsert = true
	info.assignedKey = false
	if info.refs == 0 {
		info.refs = 1
	}
	if info.class.tagValue != "" {
		if err := obj.Set(info.class.hierarchy.tag, info.class.tagValue); err != nil {
			return err
		}
	}
	s.dirty[info] = struct{}{}
	s.touched[info] = struct{}{}
	s.added[info] = struct{}{}
	// An added object with a known key must be unique right away.
	if _, keyed := info.keyValues(); keyed {
		if err := s.cache.insert(info); err != nil {
			s.detach(info)
			return err
		}
	}
	return nil
}

// Remove detaches an object from this store without touching its row.
// The instance reverts to unlinked; row deletion is Delete.
func (s *Store) Remove(obj *Object) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if obj.info.store != s {
		return &ReferenceError{Class: obj.info.class.Name, Message: "object is not linked to this store"}
	}
	s.detach(obj.info)
	return nil
}

// Delete removes the object's row and detaches the instance. An object
// whose key was never assigned is only detached.
func (s *Store) Delete(ctx context.Context, obj *Object) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info := obj.info
	if info.store != s {
		return &ReferenceError{Class: info.class.Name, Message: "object is not linked to this store"}
	}
	keyVals, keyed := info.keyValues()
	if keyed && !info.pendingInsert {
		if err := s.ensureTx(ctx); err != nil {
			return err
		}
		stmt := expr.Delete{Table: info.class.Table, Where: s.keyPredicate(info.class, keyVals)}
		sql, params, err := stmt.Compile(s.dialect)
		if err != nil {
			return err
		}
		s.log.Debug("executing delete", "class", info.class.Name, "sql", sql)
		if _, err := s.exec.Exec(ctx, sql, params); err != nil {
			return &FlushError{Class: info.class.Name, Statement: sql, Err: err}
		}
	}
	s.detach(info)
	return nil
}

// detach unlinks an info from this store: out of the cache, out of every
// pending set, deferred assignments dropped.
func (s *Store) detach(info *objectInfo) {
	s.cache.remove(info)
	delete(s.dirty, info)
	delete(s.touched, info)
	delete(s.added, info)
	kept := s.deferred[:0]
	for _, d := range s.deferred {
		if d.src != info && d.dst != info {
			kept = append(kept, d)
		}
	}
	s.deferred = kept
	info.store = nil
	info.pendingInsert = false
	info.refs = 0
}

// markDirty records a mutation on a linked info.
func (s *Store) markDirty(info *objectInfo) {
	s.dirty[info] = struct{}{}
	s.touched[info] = struct{}{}
}

// release drops one external handle; the entry is evicted once no handle
// remains and nothing is pending for it.
func (s *Store) release(info *objectInfo) {
	if info.refs > 0 {
		info.refs--
	}
	s.maybeEvict(info)
}

func (s *Store) maybeEvict(info *objectInfo) {
	if info.store != s || info.refs > 0 || info.dirty() {
		return
	}
	s.cache.remove(info)
	delete(s.touched, info)
	delete(s.dirty, info)
	info.store = nil
}

// sweep re-checks evictability of every cached entry; called after flush,
// commit and rollback, when dirtiness may have cleared.
func (s *Store) sweep() {
	var evictable []*objectInfo
	s.cache.each(func(info *objectInfo) {
		if info.refs <= 0 && !info.dirty() {
			evictable = append(evictable, info)
		}
	})
	for _, info := range evictable {
		s.maybeEvict(info)
	}
}

// Cached reports how many objects the identity map currently retains.
func (s *Store) Cached() int {
	return s.cache.len()
}

// Get returns the single object with the given primary key, or nil if no
// such row exists. A cached instance is returned as-is; on a miss the row
// is fetched and materialized. Pending changes are flushed first so the
// read observes writes made earlier in this unit of work.
//
// Every Get hands out one external reference; Release it when done.
func (s *Store) Get(ctx context.Context, class *Class, key ...any) (*Object, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(key) != len(class.pk) {
		return nil, &ReferenceError{Class: class.Name,
			Message: fmt.Sprintf("key has %d values, primary key has %d columns", len(key), len(class.pk))}
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	keyVals := make([]any, len(key))
	for i, col := range class.pk {
		v, err := col.coerceValue(key[i])
		if err != nil {
			return nil, err
		}
		keyVals[i] = v
	}
	if info, ok := s.cache.lookup(class, keyVals); ok {
		if class.tagValue != "" && info.class != class {
			return nil, nil
		}
		info.refs++
		return info.obj, nil
	}

	cols := selectColumns(class)
	where := s.keyPredicate(class, keyVals)
	if class.tagValue != "" {
		where = expr.AndAll(where, class.hierarchy.tag.Eq(class.tagValue))
	}
	stmt := expr.Select{Table: class.Table, Columns: columnNames(cols), Where: where, Limit: 1}
	sql, params, err := stmt.Compile(s.dialect)
	if err != nil {
		return nil, err
	}
	s.log.Debug("executing get", "class", class.Name, "sql", sql)
	rows, err := s.exec.Query(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	vals, err := scanRow(rows, len(cols))
	if err != nil {
		return nil, err
	}
	return s.materialize(class, cols, vals)
}

// Find returns a lazy result set over the rows of class matching every
// given predicate. Terminal operations flush first and resolve each row
// through the identity map, so a previously cached object is observed
// instead of a duplicate.
func (s *Store) Find(class *Class, preds ...expr.Expr) *ResultSet {
	where := expr.AndAll(preds...)
	if class.tagValue != "" {
		where = expr.AndAll(where, class.hierarchy.tag.Eq(class.tagValue))
	}
	return &ResultSet{store: s, class: class, where: where}
}

// Reload re-reads the object's row and overwrites its in-memory state,
// including unflushed changes, with what storage holds.
func (s *Store) Reload(ctx context.Context, obj *Object) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info := obj.info
	if info.store != s {
		return &ReferenceError{Class: info.class.Name, Message: "object is not linked to this store"}
	}
	keyVals, keyed := info.keyValues()
	if !keyed {
		return &ReferenceError{Class: info.class.Name, Message: "cannot reload an object without a primary key"}
	}
	cols := selectColumns(info.class)
	stmt := expr.Select{
		Table:   info.class.Table,
		Columns: columnNames(cols),
		Where:   s.keyPredicate(info.class, keyVals),
		Limit:   1,
	}
	sql, params, err := stmt.Compile(s.dialect)
	if err != nil {
		return err
	}
	rows, err := s.exec.Query(ctx, sql, params)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return &ReferenceError{Class: info.class.Name, Message: "row vanished from storage"}
	}
	vals, err := scanRow(rows, len(cols))
	if err != nil {
		return err
	}
	for i, col := range cols {
		v, ok := info.vars[col]
		if !ok {
			continue
		}
		loaded, err := col.Kind.coerce(vals[i])
		if err != nil {
			return &ConversionError{Column: col.Name, Kind: col.Kind, Value: vals[i], Reason: err.Error()}
		}
		v.load(loaded)
	}
	delete(s.dirty, info)
	return nil
}

// materialize resolves one scanned row to a live object through the
// identity map: the cached instance wins over the fresh row values.
func (s *Store) materialize(class *Class, cols []*Column, vals []any) (*Object, error) {
	concrete := class
	if class.hierarchy != nil {
		for i, col := range cols {
			if col == class.hierarchy.tag {
				tag, err := col.Kind.coerce(vals[i])
				if err != nil {
					return nil, &ConversionError{Column: col.Name, Kind: col.Kind, Value: vals[i], Reason: err.Error()}
				}
				if tagStr, ok := tag.(string); ok {
					concrete = class.hierarchy.classFor(tagStr)
				}
				break
			}
		}
	}

	keyVals := make([]any, len(concrete.pk))
	for i, pkCol := range concrete.pk {
		found := false
		for j, col := range cols {
			if col == pkCol {
				v, err := pkCol.Kind.coerce(vals[j])
				if err != nil {
					return nil, &ConversionError{Column: pkCol.Name, Kind: pkCol.Kind, Value: vals[j], Reason: err.Error()}
				}
				keyVals[i] = v
				found = true
				break
			}
		}
		if !found || keyVals[i] == nil {
			return nil, &ReferenceError{Class: concrete.Name, Message: "row is missing a primary key value"}
		}
	}

	if info, ok := s.cache.lookup(concrete, keyVals); ok {
		info.refs++
		return info.obj, nil
	}

	obj := NewObject(concrete)
	info := obj.info
	info.store = s
	s.seq++
	info.seq = s.seq
	for i, col := range cols {
		v, ok := info.vars[col]
		if !ok {
			continue
		}
		loaded, err := col.Kind.coerce(vals[i])
		if err != nil {
			return nil, &ConversionError{Column: col.Name, Kind: col.Kind, Value: vals[i], Reason: err.Error()}
		}
		v.load(loaded)
	}
	if err := s.cache.insert(info); err != nil {
		return nil, err
	}
	info.refs = 1
	return obj, nil
}

// keyPredicate builds the WHERE clause matching one primary key.
func (s *Store) keyPredicate(class *Class, keyVals []any) expr.Expr {
	preds := make([]expr.Expr, len(class.pk))
	for i, col := range class.pk {
		preds[i] = expr.Compare{Column: col.Name, Op: expr.OpEq, Value: keyVals[i]}
	}
	return expr.AndAll(preds...)
}

// selectColumns returns the columns a read of class must fetch. Hierarchy
// reads fetch the union of base and derived columns so the concrete class
// can be resolved and populated from one row.
func selectColumns(class *Class) []*Column {
	if class.hierarchy == nil {
		return class.columns
	}
	h := class.hierarchy
	cols := append([]*Column(nil), h.base.columns...)
	seen := make(map[*Column]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for _, sub := range h.derived {
		for _, c := range sub.columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func columnNames(cols []*Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// scanRow scans the current row into generic values.
func scanRow(rows Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
