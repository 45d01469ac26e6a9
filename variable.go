package tether

// Variable is the typed, nullable holder for one column value on one
// instance. It tracks two snapshots of its value:
//
//   - flushed: the value as last written to or loaded from storage. The
//     changed flag is true exactly when the current value differs from it.
//   - committed: the value as of the last commit (or load). Rollback
//     restores this one, because the database discards everything since the
//     last commit, flushed or not.
type Variable struct {
	column    *Column
	info      *objectInfo
	value     any
	flushed   any
	committed any
	changed   bool
}

func newVariable(column *Column, info *objectInfo) *Variable {
	return &Variable{column: column, info: info}
}

// Column returns the column this variable holds a value for.
func (v *Variable) Column() *Column {
	return v.column
}

// Get returns the current semantic value, nil meaning SQL NULL.
func (v *Variable) Get() any {
	return v.value
}

// Changed reports whether the value differs from its last-flushed snapshot.
func (v *Variable) Changed() bool {
	return v.changed
}

// Set coerces val to the column kind and updates the current value. The
// changed flag follows the invariant: set back to the flushed snapshot and
// the variable is clean again. Fails with ConversionError on an
// uncoercible value, leaving the variable untouched.
func (v *Variable) Set(val any) error {
	coerced, err := v.column.coerceValue(val)
	if err != nil {
		return err
	}
	v.value = coerced
	v.changed = !valueEqual(v.value, v.flushed)
	if v.info != nil {
		v.info.varChanged(v)
	}
	return nil
}

// Flushed records a successful write of val: the flushed snapshot moves to
// val and the variable is clean. Called by the Store after each INSERT or
// UPDATE touching this column.
func (v *Variable) Flushed(val any) {
	v.value = val
	v.flushed = val
	v.changed = false
}

// Rollback restores the value as of the last commit and clears the changed
// flag. Called by the Store when the transaction is discarded.
func (v *Variable) Rollback() {
	v.value = v.committed
	v.flushed = v.committed
	v.changed = false
}

// load installs a value read from storage: current value and both
// snapshots move together and the variable is clean.
func (v *Variable) load(val any) {
	v.value = val
	v.flushed = val
	v.committed = val
	v.changed = false
}

// commit pins the current flushed snapshot as the committed one.
func (v *Variable) commit() {
	v.committed = v.flushed
}
