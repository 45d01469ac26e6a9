package tether

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMap_OneEntryPerKey(t *testing.T) {
	person, id, _ := testPersonClass()
	m := newIdentityMap()

	a := NewObject(person)
	require.NoError(t, a.Set(id, 1))
	require.NoError(t, m.insert(a.info))

	got, ok := m.lookup(person, []any{int64(1)})
	require.True(t, ok)
	assert.Same(t, a.info, got)

	// Re-inserting the same info is fine; a different info under the same
	// key violates the uniqueness invariant.
	require.NoError(t, m.insert(a.info))
	b := NewObject(person)
	require.NoError(t, b.Set(id, 1))
	err := m.insert(b.info)
	assert.True(t, IsReferenceError(err))

	m.remove(a.info)
	_, ok = m.lookup(person, []any{int64(1)})
	assert.False(t, ok)
}

func TestIdentityMap_RejectsIncompleteKey(t *testing.T) {
	person, _, _ := testPersonClass()
	m := newIdentityMap()

	err := m.insert(NewObject(person).info)
	assert.True(t, IsReferenceError(err))
}

func TestIdentityMap_HierarchySharesNamespace(t *testing.T) {
	animal := NewClass("Animal", "animal")
	id := animal.Column("id", KindInt, AutoIncrement())
	tag := animal.Column("species", KindText)
	h := NewHierarchy(animal, tag)
	dog := h.Derive("Dog", "dog")

	m := newIdentityMap()
	obj := NewObject(dog)
	require.NoError(t, obj.Set(id, 5))
	require.NoError(t, m.insert(obj.info))

	// Looking up through the base class finds the derived entry.
	got, ok := m.lookup(animal, []any{int64(5)})
	require.True(t, ok)
	assert.Same(t, obj.info, got)
}

func TestIdentityMap_CompositeKey(t *testing.T) {
	link := NewClass("Link", "link")
	a := link.Column("a", KindInt, Primary())
	b := link.Column("b", KindText, Primary())
	m := newIdentityMap()

	obj := NewObject(link)
	require.NoError(t, obj.Set(a, 1))
	require.NoError(t, obj.Set(b, "x"))
	require.NoError(t, m.insert(obj.info))

	_, ok := m.lookup(link, []any{int64(1), "x"})
	assert.True(t, ok)
	_, ok = m.lookup(link, []any{int64(1), "y"})
	assert.False(t, ok)
	assert.Equal(t, 1, m.len())
}
