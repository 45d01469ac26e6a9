// Package tether binds in-memory objects to rows in a relational database.
//
// A Store is a unit of work over one database connection: it guarantees at
// most one live object per (class, primary key), tracks which objects have
// unflushed changes, writes them back as INSERT/UPDATE statements on flush,
// and reconciles in-memory state with transaction boundaries, including
// undoing mutations in place on rollback.
//
// Classes are declared at startup:
//
//	person := tether.NewClass("Person", "person")
//	personID := person.Column("id", tether.KindInt, tether.AutoIncrement())
//	personName := person.Column("name", tether.KindText)
//
// The column descriptors play both roles the runtime needs: bound to an
// instance they read and write its state (obj.Get(personName)), bound to
// the class they build predicates for Find (personName.Eq("Joe")).
//
// Reads observe earlier writes of the same unit of work: Get, Find and
// every ResultSet terminal flush pending changes before touching storage.
package tether
