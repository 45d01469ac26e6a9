package tether_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherdb/tether"
	"github.com/tetherdb/tether/sqlite"
)

// testSchema is the mapping shared by the store tests.
type testSchema struct {
	Person      *tether.Class
	PersonID    *tether.Column
	PersonName  *tether.Column
	PersonEmail *tether.Column
}

func newTestSchema() *testSchema {
	person := tether.NewClass("Person", "person")
	return &testSchema{
		Person:      person,
		PersonID:    person.Column("id", tether.KindInt, tether.AutoIncrement()),
		PersonName:  person.Column("name", tether.KindText),
		PersonEmail: person.Column("email", tether.KindText),
	}
}

func newTestStore(t *testing.T) (*tether.Store, *testSchema) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec(context.Background(),
		`CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, email TEXT)`, nil)
	require.NoError(t, err)
	store := tether.NewStore(db)
	t.Cleanup(func() { store.Close() })
	return store, newTestSchema()
}

func mustGet(t *testing.T, obj *tether.Object, col *tether.Column) any {
	t.Helper()
	v, err := obj.Get(col)
	require.NoError(t, err)
	return v
}

func TestStore_AddFlushAssignsKey(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))

	assert.Nil(t, mustGet(t, p, s.PersonID), "key is unassigned before flush")
	assert.True(t, p.Dirty())

	require.NoError(t, store.Flush(ctx))
	assert.Equal(t, int64(1), mustGet(t, p, s.PersonID))
	assert.False(t, p.Dirty())
}

func TestStore_AddIsIdempotentPerStore(t *testing.T) {
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Add(p))

	other, _ := newTestStore(t)
	err := other.Add(p)
	assert.True(t, tether.IsReferenceError(err), "object belongs to a different store")
}

func TestStore_FindObservesPendingWrites(t *testing.T) {
	// The walkthrough scenario: add, find by name before any explicit
	// flush, and get back the very same instance with its key assigned.
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	assert.Nil(t, mustGet(t, p, s.PersonID))

	got, err := store.Find(s.Person, s.PersonName.Eq("Joe")).One(ctx)
	require.NoError(t, err)
	assert.Same(t, p, got, "identity map resolves the row to the cached instance")
	assert.Equal(t, int64(1), mustGet(t, p, s.PersonID))
}

func TestStore_GetReturnsIdenticalInstance(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	a, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	b, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, p, a)
}

func TestStore_GetAbsentRow(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	obj, err := store.Get(ctx, s.Person, 999)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestStore_GetKeyArityChecked(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	_, err := store.Get(ctx, s.Person, 1, 2)
	assert.True(t, tether.IsReferenceError(err))
}

func TestStore_UpdateWritesChangedColumnsOnly(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, p.Set(s.PersonEmail, "joe@example.com"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	require.NoError(t, p.Set(s.PersonName, "Joseph"))
	require.NoError(t, store.Commit(ctx))

	got, err := store.Find(s.Person, s.PersonName.Eq("Joseph")).One(ctx)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, "joe@example.com", mustGet(t, got, s.PersonEmail))
}

func TestStore_OneFailsOnZeroAndMany(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	for _, name := range []string{"Mary", "Mary"} {
		p := tether.NewObject(s.Person)
		require.NoError(t, p.Set(s.PersonName, name))
		require.NoError(t, store.Add(p))
	}
	require.NoError(t, store.Commit(ctx))

	_, err := store.Find(s.Person, s.PersonName.Eq("Nobody")).One(ctx)
	assert.True(t, tether.IsNotOneError(err))

	_, err = store.Find(s.Person, s.PersonName.Eq("Mary")).One(ctx)
	assert.True(t, tether.IsNotOneError(err))
}

func TestStore_FindAllOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	for _, name := range []string{"c", "a", "b"} {
		p := tether.NewObject(s.Person)
		require.NoError(t, p.Set(s.PersonName, name))
		require.NoError(t, store.Add(p))
	}

	objs, err := store.Find(s.Person).OrderBy(s.PersonName.Asc()).All(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "a", mustGet(t, objs[0], s.PersonName))
	assert.Equal(t, "c", mustGet(t, objs[2], s.PersonName))

	capped, err := store.Find(s.Person).OrderBy(s.PersonName.Desc()).Limit(1).All(ctx)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "c", mustGet(t, capped[0], s.PersonName))
}

func TestStore_OneHonorsExplicitLimit(t *testing.T) {
	// A result set capped at one row yields that row; the cap bounds
	// multiplicity before One ever sees a second match.
	ctx := context.Background()
	store, s := newTestStore(t)

	for _, name := range []string{"Mary", "Mary"} {
		p := tether.NewObject(s.Person)
		require.NoError(t, p.Set(s.PersonName, name))
		require.NoError(t, store.Add(p))
	}
	require.NoError(t, store.Commit(ctx))

	got, err := store.Find(s.Person, s.PersonName.Eq("Mary")).Limit(1).One(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), mustGet(t, got, s.PersonID), "first row in key order")

	// A wider cap still detects multiplicity.
	_, err = store.Find(s.Person, s.PersonName.Eq("Mary")).Limit(5).One(ctx)
	assert.True(t, tether.IsNotOneError(err))
}

func TestStore_AutoUUIDKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `CREATE TABLE session (id TEXT PRIMARY KEY, token TEXT)`, nil)
	require.NoError(t, err)
	store := tether.NewStore(db)
	t.Cleanup(func() { store.Close() })

	session := tether.NewClass("Session", "session")
	sessionID := session.Column("id", tether.KindUUID, tether.AutoUUID())
	sessionToken := session.Column("token", tether.KindText)

	obj := tether.NewObject(session)
	require.NoError(t, obj.Set(sessionToken, "abc"))
	require.NoError(t, store.Add(obj))
	assert.Nil(t, mustGet(t, obj, sessionID), "key is unassigned before flush")

	require.NoError(t, store.Flush(ctx))
	key := mustGet(t, obj, sessionID)
	require.NotNil(t, key)
	id, err := uuid.Parse(key.(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version(), "generated keys are time-ordered")

	got, err := store.Get(ctx, session, key)
	require.NoError(t, err)
	assert.Same(t, obj, got)

	// The generated key is taken back when the addition is rolled back.
	require.NoError(t, store.Rollback(ctx))
	assert.Nil(t, obj.Store())
	assert.Nil(t, mustGet(t, obj, sessionID))
	assert.Equal(t, "abc", mustGet(t, obj, sessionToken))
}

func TestStore_CountDoesNotMaterialize(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	for i := 0; i < 3; i++ {
		p := tether.NewObject(s.Person)
		require.NoError(t, p.Set(s.PersonName, "Mary"))
		require.NoError(t, store.Add(p))
	}
	require.NoError(t, store.Commit(ctx))
	before := store.Cached()

	n, err := store.Find(s.Person, s.PersonName.Eq("Mary")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, before, store.Cached(), "count materializes no objects")
}

func TestStore_BulkSetPatchesCacheAndStorage(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	mary := tether.NewObject(s.Person)
	require.NoError(t, mary.Set(s.PersonName, "Mary"))
	require.NoError(t, store.Add(mary))
	joe := tether.NewObject(s.Person)
	require.NoError(t, joe.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(joe))
	require.NoError(t, store.Commit(ctx))

	err := store.Find(s.Person, s.PersonName.Eq("Mary")).Set(ctx, s.PersonName.To("Maggie"))
	require.NoError(t, err)

	// The cached instance was patched in place, no re-fetch involved.
	assert.Equal(t, "Maggie", mustGet(t, mary, s.PersonName))
	assert.Equal(t, "Joe", mustGet(t, joe, s.PersonName))
	assert.False(t, mary.Dirty(), "assignments were already written by the UPDATE")

	// And the row itself.
	n, err := store.Find(s.Person, s.PersonName.Eq("Maggie")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_BulkSetRejectsUnmappedColumn(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	err := store.Find(s.Person).Set(ctx, tether.NewClass("X", "x").Column("y", tether.KindInt).To(1))
	assert.True(t, tether.IsReferenceError(err))
}

func TestStore_RollbackRestoresInPlace(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Mary"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	require.NoError(t, p.Set(s.PersonName, "Maggie"))
	require.NoError(t, store.Flush(ctx))
	require.NoError(t, store.Rollback(ctx))

	assert.Equal(t, "Mary", mustGet(t, p, s.PersonName),
		"changed attribute reverts to its last-commit value")
	assert.False(t, p.Dirty())

	// The instance itself was reverted, not replaced.
	got, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, "Mary", mustGet(t, got, s.PersonName))
}

func TestStore_RollbackDetachesAddedObjects(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Flush(ctx))
	assert.Equal(t, int64(1), mustGet(t, p, s.PersonID))

	require.NoError(t, store.Rollback(ctx))
	assert.Nil(t, p.Store(), "added object reverts to unlinked")
	assert.Nil(t, mustGet(t, p, s.PersonID), "generated key is taken back")
	assert.Equal(t, "Joe", mustGet(t, p, s.PersonName))

	n, err := store.Find(s.Person).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_FlushFailureLeavesTransactionOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestSchema()

	// A UNIQUE constraint on name provokes a write failure mid-flush.
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT UNIQUE, email TEXT)`, nil)
	require.NoError(t, err)
	store := tether.NewStore(db)
	t.Cleanup(func() { store.Close() })

	a := tether.NewObject(s.Person)
	require.NoError(t, a.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(a))
	b := tether.NewObject(s.Person)
	require.NoError(t, b.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(b))

	err = store.Flush(ctx)
	require.Error(t, err)
	assert.True(t, tether.IsFlushError(err))

	// The first insert is still applied inside the open transaction; the
	// caller decides, and here decides to roll back.
	require.NoError(t, store.Rollback(ctx))
	n, err := store.Find(s.Person).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_EvictionAndRematerialization(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))
	assert.Equal(t, 1, store.Cached())

	// Dirty state pins the entry even with no external handles.
	require.NoError(t, p.Set(s.PersonEmail, "joe@example.com"))
	p.Transient["note"] = "scratch"
	p.Release()
	assert.Equal(t, 1, store.Cached(), "dirty entry survives release")

	require.NoError(t, store.Commit(ctx))
	assert.Zero(t, store.Cached(), "clean, unreferenced entry is evicted")

	// A later lookup re-materializes the committed state, but transient
	// attributes of the old instance are gone.
	got, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotSame(t, p, got)
	assert.Equal(t, "Joe", mustGet(t, got, s.PersonName))
	assert.Equal(t, "joe@example.com", mustGet(t, got, s.PersonEmail))
	assert.Empty(t, got.Transient)
}

func TestStore_RemoveDetachesWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	require.NoError(t, store.Remove(p))
	assert.Nil(t, p.Store())

	// The row is still there; a fresh instance comes back for it.
	got, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotSame(t, p, got)
}

func TestStore_DeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	require.NoError(t, store.Delete(ctx, p))
	require.NoError(t, store.Commit(ctx))
	assert.Nil(t, p.Store())

	got, err := store.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ReloadOverwritesLocalState(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)

	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store.Add(p))
	require.NoError(t, store.Commit(ctx))

	require.NoError(t, p.Set(s.PersonName, "Scratch"))
	require.NoError(t, store.Reload(ctx, p))
	assert.Equal(t, "Joe", mustGet(t, p, s.PersonName))
	assert.False(t, p.Dirty())
}

func TestStore_ClosedStoreRefusesWork(t *testing.T) {
	ctx := context.Background()
	store, s := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, s.Person, 1)
	assert.True(t, tether.IsReferenceError(err))
	assert.True(t, tether.IsReferenceError(store.Add(tether.NewObject(s.Person))))
	assert.True(t, tether.IsReferenceError(store.Flush(ctx)))
}

func TestStore_IndependentStoresHoldIndependentCopies(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := dir + "/people.db"

	db1, err := sqlite.Open(path)
	require.NoError(t, err)
	_, err = db1.Exec(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, email TEXT)`, nil)
	require.NoError(t, err)
	s := newTestSchema()

	store1 := tether.NewStore(db1)
	t.Cleanup(func() { store1.Close() })
	p := tether.NewObject(s.Person)
	require.NoError(t, p.Set(s.PersonName, "Joe"))
	require.NoError(t, store1.Add(p))
	require.NoError(t, store1.Commit(ctx))

	db2, err := sqlite.Open(path)
	require.NoError(t, err)
	store2 := tether.NewStore(db2)
	t.Cleanup(func() { store2.Close() })

	q, err := store2.Get(ctx, s.Person, 1)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.NotSame(t, p, q, "each store caches its own copy of the row")
}
