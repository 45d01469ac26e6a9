package tether

// identityMap guarantees at most one live objectInfo per (class, primary
// key) within one store. Classes in a hierarchy share the namespace of
// their base class.
//
// Retention is explicit, not collector-driven: an entry stays exactly as
// long as external handles exist (refs > 0) or the info is dirty. The store
// re-checks evictability whenever a handle is released or a flush, commit
// or rollback changes dirtiness.
type identityMap struct {
	entries map[identityKey]*objectInfo
}

type identityKey struct {
	class *Class
	key   string
}

func newIdentityMap() identityMap {
	return identityMap{entries: make(map[identityKey]*objectInfo)}
}

func makeKey(class *Class, keyVals []any) identityKey {
	return identityKey{class: class.root(), key: keyString(keyVals)}
}

// lookup returns the cached info for (class, key), if any.
func (m identityMap) lookup(class *Class, keyVals []any) (*objectInfo, bool) {
	info, ok := m.entries[makeKey(class, keyVals)]
	return info, ok
}

// insert adds an info under its current primary key. The caller guarantees
// the key is fully assigned.
func (m identityMap) insert(info *objectInfo) error {
	keyVals, ok := info.keyValues()
	if !ok {
		return &ReferenceError{Class: info.class.Name, Message: "cannot cache an object with an incomplete primary key"}
	}
	k := makeKey(info.class, keyVals)
	if existing, dup := m.entries[k]; dup && existing != info {
		return &ReferenceError{Class: info.class.Name, Message: "another live object is already cached for this key"}
	}
	m.entries[k] = info
	return nil
}

// remove drops an info if present. Safe to call for infos that were never
// cached (pending inserts without a key).
func (m identityMap) remove(info *objectInfo) {
	keyVals, ok := info.keyValues()
	if !ok {
		return
	}
	k := makeKey(info.class, keyVals)
	if m.entries[k] == info {
		delete(m.entries, k)
	}
}

// removeKey drops the entry cached under an explicit key; used when a
// primary key changes and the info must be re-filed under the new one.
func (m identityMap) removeKey(class *Class, keyVals []any) {
	delete(m.entries, makeKey(class, keyVals))
}

// each visits every cached info; iteration order is unspecified.
func (m identityMap) each(fn func(*objectInfo)) {
	for _, info := range m.entries {
		fn(info)
	}
}

func (m identityMap) len() int {
	return len(m.entries)
}
