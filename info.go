package tether

import "fmt"

// Object is the user-visible instance bound to one row. All access to
// column values goes through the declared Column descriptors; Transient is
// a scratch area that is never persisted and does not survive eviction.
//
// An Object handed out by Get, Find or Add holds one external reference on
// its cache entry; Release gives it back. A released Object must not be
// used again.
type Object struct {
	info *objectInfo

	// Transient holds non-persisted per-instance state. Lost when the
	// object is evicted and re-materialized.
	Transient map[string]any
}

// NewObject creates an unlinked instance of the class: all columns null,
// no owning store. Link it with Store.Add.
func NewObject(class *Class) *Object {
	info := &objectInfo{class: class, vars: make(map[*Column]*Variable, len(class.columns))}
	obj := &Object{info: info, Transient: make(map[string]any)}
	info.obj = obj
	for _, col := range class.columns {
		info.vars[col] = newVariable(col, info)
	}
	return obj
}

// Class returns the object's class.
func (o *Object) Class() *Class {
	return o.info.class
}

// Store returns the owning store, or nil for an unlinked object.
func (o *Object) Store() *Store {
	return o.info.store
}

// Var returns the Variable for a column of this object's class.
func (o *Object) Var(col *Column) (*Variable, error) {
	v, ok := o.info.vars[col]
	if !ok {
		return nil, &ReferenceError{
			Class:   o.info.class.Name,
			Message: fmt.Sprintf("column %q is not mapped on this class", col.Name),
		}
	}
	return v, nil
}

// Get returns the current value of a column, nil meaning SQL NULL.
func (o *Object) Get(col *Column) (any, error) {
	v, err := o.Var(col)
	if err != nil {
		return nil, err
	}
	return v.Get(), nil
}

// Set assigns a column value, coercing it to the column kind.
func (o *Object) Set(col *Column, val any) error {
	v, err := o.Var(col)
	if err != nil {
		return err
	}
	return v.Set(val)
}

// PrimaryKey returns the current primary key values in declaration order;
// entries are nil while unassigned.
func (o *Object) PrimaryKey() []any {
	key := make([]any, len(o.info.class.pk))
	for i, col := range o.info.class.pk {
		key[i] = o.info.vars[col].Get()
	}
	return key
}

// Dirty reports whether the object has unflushed state: a changed column,
// or a pending insert.
func (o *Object) Dirty() bool {
	return o.info.dirty()
}

// Release gives back this handle's reference on the cache entry. Once the
// external count reaches zero and the object is clean, the entry is evicted
// and a later Get re-materializes the row from storage. Release on an
// unlinked object is a no-op.
func (o *Object) Release() {
	if o.info.store != nil {
		o.info.store.release(o.info)
	}
}

// objectInfo is the per-instance record the identity map actually caches:
// class identity, column variables, dirtiness, and the owning store link.
type objectInfo struct {
	class *Class
	obj   *Object
	store *Store
	vars  map[*Column]*Variable

	// pendingInsert is set between Add and the first successful flush.
	pendingInsert bool

	// assignedKey marks primary key values generated during flush, which
	// must be cleared again if the insert is rolled back.
	assignedKey bool

	// seq is the store-local registration order; it is the stable
	// tiebreaker for flush ordering.
	seq int

	// refs counts external handles. The entry stays cached while refs > 0
	// or the info is dirty.
	refs int
}

func (i *objectInfo) dirty() bool {
	if i.pendingInsert {
		return true
	}
	for _, v := range i.vars {
		if v.changed {
			return true
		}
	}
	return false
}

// keyValues returns the primary key values; ok is false while any is null.
func (i *objectInfo) keyValues() ([]any, bool) {
	key := make([]any, len(i.class.pk))
	for idx, col := range i.class.pk {
		v := i.vars[col].Get()
		if v == nil {
			return nil, false
		}
		key[idx] = v
	}
	return key, true
}

// valueByName looks up the current value for a database column name; used
// by the in-memory predicate matcher.
func (i *objectInfo) valueByName(name string) (any, bool) {
	col := i.class.ColumnByName(name)
	if col == nil {
		return nil, false
	}
	return i.vars[col].Get(), true
}

// varChanged is invoked by a Variable after every Set so the store can
// track dirtiness and rollback candidates.
func (i *objectInfo) varChanged(v *Variable) {
	if i.store != nil {
		i.store.markDirty(i)
	}
}
