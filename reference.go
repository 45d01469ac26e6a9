package tether

import (
	"context"
	"errors"

	"github.com/tetherdb/tether/expr"
)

// Reference resolves a many-to-one link: a local foreign-key column
// pointing at a column of a remote class. Resolution always re-enters the
// owning store's lookup path, so writing the foreign-key column directly
// and then reading the relationship yields the object for the new key --
// there is no stale cached target to invalidate.
type Reference struct {
	local  *Column
	remote *Column
}

// NewReference declares a many-to-one relationship from local to remote.
// The remote column is normally its class's primary key.
func NewReference(local, remote *Column) *Reference {
	return &Reference{local: local, remote: remote}
}

// Get resolves the link for obj: nil when the local column is null,
// otherwise the remote object with the matching key. The returned object
// carries an external reference like any Get result.
func (r *Reference) Get(ctx context.Context, obj *Object) (*Object, error) {
	store := obj.info.store
	if store == nil {
		return nil, &ReferenceError{Class: obj.info.class.Name, Message: "object is not linked to a store"}
	}
	local, err := obj.Get(r.local)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, nil
	}
	remoteClass := r.remote.class
	if len(remoteClass.pk) == 1 && r.remote.primary {
		return store.Get(ctx, remoteClass, local)
	}
	// Non-key remote columns resolve through a filtered read.
	target, err := store.Find(remoteClass, r.remote.Eq(local)).One(ctx)
	if err != nil {
		var notOne *NotOneError
		if errors.As(err, &notOne) && notOne.Count == 0 {
			return nil, nil
		}
		return nil, err
	}
	return target, nil
}

// Set points obj at target by copying the remote column value into the
// local column. A nil target clears the link. When target has not been
// flushed yet and its key is still null, the copy is deferred and resolved
// automatically at target's first flush; both objects must then belong to
// the same store.
func (r *Reference) Set(obj, target *Object) error {
	if target == nil {
		return obj.Set(r.local, nil)
	}
	remote, err := target.Get(r.remote)
	if err != nil {
		return err
	}
	if remote != nil {
		return obj.Set(r.local, remote)
	}
	store := obj.info.store
	if store == nil || target.info.store != store {
		return &ReferenceError{Class: target.info.class.Name,
			Message: "related object has no key yet and is not pending in the same store"}
	}
	store.deferred = append(store.deferred, deferredAssign{
		src:    target.info,
		srcCol: r.remote,
		dst:    obj.info,
		dstCol: r.local,
	})
	return nil
}

// ReferenceSet resolves a one-to-many link: the set of remote objects whose
// remote column equals the owner's local column. No collection is ever
// materialized or stored; the set is query sugar over Find, and membership
// is purely the foreign-key value on the remote rows.
type ReferenceSet struct {
	local  *Column
	remote *Column
}

// NewReferenceSet declares a one-to-many relationship keyed by the owner's
// local column (normally its primary key) matched against the remote
// foreign-key column.
func NewReferenceSet(local, remote *Column) *ReferenceSet {
	return &ReferenceSet{local: local, remote: remote}
}

// Find returns the members as a result set on the owner's store.
func (rs *ReferenceSet) Find(owner *Object) (*ResultSet, error) {
	store := owner.info.store
	if store == nil {
		return nil, &ReferenceError{Class: owner.info.class.Name, Message: "object is not linked to a store"}
	}
	local, err := owner.Get(rs.local)
	if err != nil {
		return nil, err
	}
	if local == nil {
		// No key, no members; an empty IN never matches.
		return store.Find(rs.remote.class, expr.In{Column: rs.remote.Name}), nil
	}
	return store.Find(rs.remote.class, rs.remote.Eq(local)), nil
}

// Count counts the members without materializing them.
func (rs *ReferenceSet) Count(ctx context.Context, owner *Object) (int64, error) {
	set, err := rs.Find(owner)
	if err != nil {
		return 0, err
	}
	return set.Count(ctx)
}

// Add makes member part of the set by assigning the owner's key to the
// member's foreign-key column. That assignment is the sole effect; if the
// owner is unflushed the copy is deferred exactly as Reference.Set defers.
func (rs *ReferenceSet) Add(owner, member *Object) error {
	inverse := Reference{local: rs.remote, remote: rs.local}
	return inverse.Set(member, owner)
}
