package tether

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/tetherdb/tether/expr"
)

// Flush writes every pending change to storage inside the open transaction:
// an INSERT per pending-insert object, an UPDATE with only the changed
// columns per modified one. Auto-generated keys are read back and assigned.
//
// Ordering is deterministic: topological over deferred foreign-key
// references (an object whose key another one is waiting for flushes
// first), ties broken by registration order. A dependency cycle fails the
// flush before any write.
//
// The first write failure propagates as a FlushError; writes issued before
// it stay applied in the open transaction. Nothing is rolled back
// automatically, so the caller can inspect and decide.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	work, err := s.flushOrder()
	if err != nil {
		return err
	}
	if len(work) == 0 {
		return nil
	}
	if err := s.ensureTx(ctx); err != nil {
		return err
	}
	for _, info := range work {
		if err := s.resolveDeferredInto(info); err != nil {
			return err
		}
		if !info.dirty() {
			delete(s.dirty, info)
			continue
		}
		if err := s.flushOne(ctx, info); err != nil {
			return err
		}
		delete(s.dirty, info)
	}
	s.sweep()
	return nil
}

// flushOrder computes the write order: topological over deferred-key
// edges, ties by registration sequence; empty when nothing is pending.
func (s *Store) flushOrder() ([]*objectInfo, error) {
	inWork := make(map[*objectInfo]bool)
	var work []*objectInfo
	for info := range s.dirty {
		if info.dirty() {
			inWork[info] = true
			work = append(work, info)
		}
	}
	// Destinations of deferred assignments become dirty mid-flush, when
	// the key they wait for appears; they must be part of the order.
	for _, d := range s.deferred {
		if !inWork[d.dst] {
			inWork[d.dst] = true
			work = append(work, d.dst)
		}
	}
	if len(work) == 0 {
		return nil, nil
	}
	sort.Slice(work, func(i, j int) bool { return work[i].seq < work[j].seq })

	pending := make(map[*objectInfo]int)
	waiters := make(map[*objectInfo][]*objectInfo)
	for _, d := range s.deferred {
		if inWork[d.src] && inWork[d.dst] && d.src != d.dst {
			pending[d.dst]++
			waiters[d.src] = append(waiters[d.src], d.dst)
		}
	}

	done := make(map[*objectInfo]bool)
	ordered := make([]*objectInfo, 0, len(work))
	for len(ordered) < len(work) {
		progressed := false
		for _, info := range work {
			if done[info] || pending[info] > 0 {
				continue
			}
			done[info] = true
			ordered = append(ordered, info)
			for _, w := range waiters[info] {
				pending[w]--
			}
			progressed = true
		}
		if !progressed {
			return nil, &FlushError{Err: errors.New("circular flush dependency between pending objects")}
		}
	}
	return ordered, nil
}

// resolveDeferredInto copies every key this info has been waiting on from
// its now-flushed source.
func (s *Store) resolveDeferredInto(info *objectInfo) error {
	kept := s.deferred[:0]
	var failed error
	for _, d := range s.deferred {
		if d.dst != info || failed != nil {
			kept = append(kept, d)
			continue
		}
		val := d.src.vars[d.srcCol].Get()
		if val == nil {
			failed = &ReferenceError{Class: d.src.class.Name,
				Message: "related object was never flushed; cannot resolve its key"}
			kept = append(kept, d)
			continue
		}
		if err := d.dst.vars[d.dstCol].Set(val); err != nil {
			failed = err
			kept = append(kept, d)
			continue
		}
	}
	s.deferred = kept
	return failed
}

func (s *Store) flushOne(ctx context.Context, info *objectInfo) error {
	if info.pendingInsert {
		return s.flushInsert(ctx, info)
	}
	return s.flushUpdate(ctx, info)
}

func (s *Store) flushInsert(ctx context.Context, info *objectInfo) error {
	class := info.class

	// Runtime-generated keys are assigned before the statement is built.
	for _, pkCol := range class.pk {
		if pkCol.autoUUID && info.vars[pkCol].Get() == nil {
			if err := info.vars[pkCol].Set(uuid.Must(uuid.NewV7()).String()); err != nil {
				return err
			}
			info.assignedKey = true
		}
	}

	var written []*Column
	var names []string
	var values []any
	keyColumn := ""
	for _, col := range class.columns {
		v := info.vars[col]
		if col.auto && v.Get() == nil {
			if keyColumn == "" {
				keyColumn = col.Name
			}
			continue
		}
		if v.Get() == nil && !v.changed {
			continue
		}
		written = append(written, col)
		names = append(names, col.Name)
		values = append(values, v.Get())
	}

	stmt := expr.Insert{Table: class.Table, Columns: names, Values: values}
	sql, params, err := stmt.Compile(s.dialect)
	if err != nil {
		return err
	}
	s.log.Debug("executing insert", "class", class.Name, "sql", sql)
	key, err := s.exec.Insert(ctx, sql, params, keyColumn)
	if err != nil {
		return &FlushError{Class: class.Name, Statement: sql, Err: err}
	}
	if keyColumn != "" {
		pkCol := class.ColumnByName(keyColumn)
		info.vars[pkCol].Flushed(key)
		info.assignedKey = true
	}
	for _, col := range written {
		v := info.vars[col]
		v.Flushed(v.Get())
	}
	info.pendingInsert = false
	return s.cache.insert(info)
}

func (s *Store) flushUpdate(ctx context.Context, info *objectInfo) error {
	class := info.class

	var assigns []expr.Assignment
	var written []*Column
	keyMoved := false
	for _, col := range class.columns {
		v := info.vars[col]
		if !v.changed {
			continue
		}
		assigns = append(assigns, expr.Assignment{Column: col.Name, Value: v.Get()})
		written = append(written, col)
		if col.primary {
			keyMoved = true
		}
	}
	if len(assigns) == 0 {
		return nil
	}

	// The row is addressed by the key storage knows: the flushed one.
	oldKey := make([]any, len(class.pk))
	for i, col := range class.pk {
		oldKey[i] = info.vars[col].flushed
		if oldKey[i] == nil {
			return &ReferenceError{Class: class.Name, Message: "cannot update a row without a flushed primary key"}
		}
	}
	if keyMoved {
		s.cache.removeKey(info.class, oldKey)
	}

	stmt := expr.Update{Table: class.Table, Assignments: assigns, Where: s.keyPredicate(class, oldKey)}
	sql, params, err := stmt.Compile(s.dialect)
	if err != nil {
		return err
	}
	s.log.Debug("executing update", "class", class.Name, "sql", sql, "columns", len(assigns))
	if _, err := s.exec.Exec(ctx, sql, params); err != nil {
		return &FlushError{Class: class.Name, Statement: sql, Err: err}
	}
	for _, col := range written {
		v := info.vars[col]
		v.Flushed(v.Get())
	}
	if keyMoved {
		return s.cache.insert(info)
	}
	return nil
}

// Commit flushes, durably commits the transaction, and leaves the store
// ready to open a fresh one. Dirty flags stay cleared; committed snapshots
// advance so a later rollback stops here.
func (s *Store) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.inTx {
		if err := s.exec.Commit(ctx); err != nil {
			return err
		}
		s.inTx = false
	}
	for info := range s.touched {
		for _, v := range info.vars {
			v.commit()
		}
	}
	s.touched = make(map[*objectInfo]struct{})
	s.added = make(map[*objectInfo]struct{})
	s.deferred = nil
	s.sweep()
	return nil
}

// Rollback discards the open transaction and reverts in-memory state to
// the last commit. Instances are reverted in place, never replaced, so
// existing references observe the restored values. Objects added since the
// last commit detach entirely and revert to unlinked, key-less instances.
func (s *Store) Rollback(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.inTx {
		if err := s.exec.Rollback(ctx); err != nil {
			return err
		}
		s.inTx = false
	}
	for info := range s.added {
		s.cache.remove(info)
		if info.assignedKey {
			for _, pkCol := range info.class.pk {
				if pkCol.auto || pkCol.autoUUID {
					info.vars[pkCol].load(nil)
				}
			}
			info.assignedKey = false
		}
		delete(s.touched, info)
		delete(s.dirty, info)
		info.store = nil
		info.pendingInsert = false
		info.refs = 0
	}
	for info := range s.touched {
		for _, v := range info.vars {
			v.Rollback()
		}
	}
	s.dirty = make(map[*objectInfo]struct{})
	s.touched = make(map[*objectInfo]struct{})
	s.added = make(map[*objectInfo]struct{})
	s.deferred = nil
	s.sweep()
	return nil
}
