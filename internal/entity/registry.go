// Package entity tracks the entities that own event subscriptions and activities.
//
// A Handle is a weak reference: it stays valid as a value after its entity is
// destroyed, and Alive reports false from then on. Slots are reused with a bumped
// generation so a stale handle never aliases a newer entity.
package entity

import (
	"fmt"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Handle is a generation-checked reference to an entity slot.
// The zero Handle refers to nothing.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index, h.Generation)
}

// Liveness answers whether a handle still refers to a live entity.
type Liveness interface {
	Alive(h Handle) bool
}

type slot struct {
	generation uint32
	alive      bool
	ref        gameplay.EntityRef
}

// Registry allocates handles. It is not safe for concurrent use.
type Registry struct {
	slots []slot
	free  []uint32
	byID  map[string]Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Handle)}
}

// Spawn creates an entity for ref and returns its handle.
// Spawning an id that is already alive returns the existing handle.
func (r *Registry) Spawn(ref gameplay.EntityRef) (Handle, error) {
	if err := ref.Validate(); err != nil {
		return Handle{}, fmt.Errorf("cannot spawn entity: %w", err)
	}
	if h, ok := r.byID[ref.ID]; ok {
		return h, nil
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[index]
	s.generation++
	s.alive = true
	s.ref = ref

	h := Handle{Index: index, Generation: s.generation}
	r.byID[ref.ID] = h
	return h, nil
}

// Destroy kills the entity behind h. Destroying a stale handle is a no-op.
func (r *Registry) Destroy(h Handle) {
	if !r.Alive(h) {
		return
	}
	s := &r.slots[h.Index]
	s.alive = false
	delete(r.byID, s.ref.ID)
	s.ref = gameplay.EntityRef{}
	r.free = append(r.free, h.Index)
}

// Alive implements Liveness.
func (r *Registry) Alive(h Handle) bool {
	if h.IsZero() || int(h.Index) >= len(r.slots) {
		return false
	}
	s := r.slots[h.Index]
	return s.alive && s.generation == h.Generation
}

// Ref returns the network identity of a live entity.
func (r *Registry) Ref(h Handle) (gameplay.EntityRef, bool) {
	if !r.Alive(h) {
		return gameplay.EntityRef{}, false
	}
	return r.slots[h.Index].ref, true
}

// Lookup finds the live entity with the given network id.
func (r *Registry) Lookup(id string) (Handle, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	return len(r.byID)
}
