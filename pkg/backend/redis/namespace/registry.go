// Package namespace implements the namespace registry of spec §4.13: an
// in-process table of attached namespaces and their reference counts,
// backing NSCREATE/NSATTACH/NSDETACH/NSDELETE/NSQUERY. The engine
// serializes all access through the main loop, so the registry itself
// needs no locking (spec §4.13: "the engine serializes these through the
// main loop").
package namespace

import (
	"errors"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// ErrNotFound means no record exists for the requested handle or name.
var ErrNotFound = errors.New("namespace: not found")

// ErrAlreadyExists means Create was called for a name already registered.
var ErrAlreadyExists = errors.New("namespace: already exists")

// Record is one namespace's bookkeeping: name, refcount, and the
// delete-mark NSDELETE sets so a subsequent NSDETACH that drains the
// refcount to zero knows to actually tear it down (spec §4.9 NSDETACH/
// NSDELETE stage scripts).
type Record struct {
	Handle     tuplestore.NamespaceHandle
	Name       string
	RefCount   int64
	DeleteMark bool
}

// Registry is the engine-owned set of namespace records.
type Registry struct {
	byHandle map[tuplestore.NamespaceHandle]*Record
	byName   map[string]*Record
	nextID   uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byHandle: make(map[tuplestore.NamespaceHandle]*Record),
		byName:   make(map[string]*Record),
	}
}

// Create inserts a new record for name with refcount 1 (spec §4.13).
func (r *Registry) Create(name string) (*Record, error) {
	if _, ok := r.byName[name]; ok {
		return nil, ErrAlreadyExists
	}
	r.nextID++
	rec := &Record{Handle: tuplestore.NamespaceHandle(r.nextID), Name: name, RefCount: 1}
	r.byHandle[rec.Handle] = rec
	r.byName[name] = rec
	return rec, nil
}

// Attach finds-or-inserts name and bumps its refcount (spec §4.13).
func (r *Registry) Attach(name string) *Record {
	if rec, ok := r.byName[name]; ok {
		rec.RefCount++
		return rec
	}
	r.nextID++
	rec := &Record{Handle: tuplestore.NamespaceHandle(r.nextID), Name: name, RefCount: 1}
	r.byHandle[rec.Handle] = rec
	r.byName[name] = rec
	return rec
}

// Get returns the record for handle, or ErrNotFound.
func (r *Registry) Get(handle tuplestore.NamespaceHandle) (*Record, error) {
	rec, ok := r.byHandle[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// GetByName returns the record for name, or ErrNotFound.
func (r *Registry) GetByName(name string) (*Record, error) {
	rec, ok := r.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Detach decrements rec's refcount and reports the value after the
// decrement, for the NSDETACH stage script to decide whether to proceed
// to scan+delete (spec §4.9: "HINCRBY refcnt -1 ... if both (refcnt==0 ∧
// mark set)").
func (r *Registry) Detach(rec *Record) int64 {
	rec.RefCount--
	return rec.RefCount
}

// MarkForDelete sets rec's delete-mark, the effect of NSDELETE (spec
// §4.9): actual removal happens on the next NSDETACH that drains the
// refcount to zero.
func (r *Registry) MarkForDelete(rec *Record) {
	rec.DeleteMark = true
}

// Destroy removes rec from the registry; callers must only call this
// once rec.RefCount has reached zero (spec §4.13).
func (r *Registry) Destroy(rec *Record) {
	delete(r.byHandle, rec.Handle)
	delete(r.byName, rec.Name)
}
