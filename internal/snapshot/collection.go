package snapshot

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Hook observes an element change applied from a delta.
type Hook func(state *gameplay.ActivityState)

// Collection is an insertion-ordered set of activity states keyed by id.
//
// A tracked collection records Added/Changed/Removed deltas for every mutation,
// coalesced per id until Flush. Apply is the receiving side: it replays deltas
// and fires the OnAdded/OnChanged/OnRemoved hooks.
//
// States returned by Get and Items point into the collection. Mutate them
// through Mutate so a tracked collection sees the change.
type Collection struct {
	items []*gameplay.ActivityState
	index map[uuid.UUID]int

	tracked bool
	pending map[uuid.UUID]gameplay.DeltaKind
	order   []uuid.UUID
	gone    map[uuid.UUID]gameplay.ActivityState

	onAdded   []Hook
	onChanged []Hook
	onRemoved []Hook
}

// NewCollection creates an empty collection. tracked enables delta recording.
func NewCollection(tracked bool) *Collection {
	return &Collection{
		index:   make(map[uuid.UUID]int),
		tracked: tracked,
		pending: make(map[uuid.UUID]gameplay.DeltaKind),
		gone:    make(map[uuid.UUID]gameplay.ActivityState),
	}
}

// Len returns the number of states.
func (c *Collection) Len() int {
	return len(c.items)
}

// Get returns the state with the given id.
func (c *Collection) Get(id uuid.UUID) (*gameplay.ActivityState, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return c.items[i], true
}

// Items returns the states in insertion order.
func (c *Collection) Items() []*gameplay.ActivityState {
	out := make([]*gameplay.ActivityState, len(c.items))
	copy(out, c.items)
	return out
}

// Add inserts a new state. It fails if the id is already present.
func (c *Collection) Add(state gameplay.ActivityState) error {
	if state.ID == uuid.Nil {
		return fmt.Errorf("cannot add activity state with nil id")
	}
	if _, ok := c.index[state.ID]; ok {
		return fmt.Errorf("activity %s already in collection", state.ID)
	}
	c.insert(state)
	c.mark(state.ID, gameplay.DeltaAdded)
	return nil
}

// Mutate applies fn to the stored state and records a change.
// It returns false if the id is unknown.
func (c *Collection) Mutate(id uuid.UUID, fn func(*gameplay.ActivityState)) bool {
	state, ok := c.Get(id)
	if !ok {
		return false
	}
	fn(state)
	c.mark(id, gameplay.DeltaChanged)
	return true
}

// Remove deletes a state and records a removal. It returns the removed state.
func (c *Collection) Remove(id uuid.UUID) (gameplay.ActivityState, bool) {
	state, ok := c.remove(id)
	if !ok {
		return gameplay.ActivityState{}, false
	}
	if c.tracked {
		c.gone[id] = state.Clone()
	}
	c.mark(id, gameplay.DeltaRemoved)
	return state, true
}

// PendingDeltas reports how many ids have unflushed changes.
func (c *Collection) PendingDeltas() int {
	return len(c.pending)
}

// Flush returns the coalesced deltas recorded since the last Flush, in the order
// ids were first touched, and clears them. An element added and removed within
// one flush window produces no delta.
func (c *Collection) Flush() []gameplay.Delta {
	if len(c.pending) == 0 {
		return nil
	}

	deltas := make([]gameplay.Delta, 0, len(c.pending))
	for _, id := range c.order {
		kind, ok := c.pending[id]
		if !ok {
			continue
		}
		// An id can appear in order twice after an add/remove/add cycle.
		delete(c.pending, id)
		if kind == gameplay.DeltaRemoved {
			deltas = append(deltas, gameplay.Delta{Kind: kind, State: c.gone[id]})
			continue
		}
		state, ok := c.Get(id)
		if !ok {
			continue
		}
		deltas = append(deltas, gameplay.Delta{Kind: kind, State: state.Clone()})
	}

	c.pending = make(map[uuid.UUID]gameplay.DeltaKind)
	c.gone = make(map[uuid.UUID]gameplay.ActivityState)
	c.order = c.order[:0]
	return deltas
}

// Apply replays deltas received from the authoritative side and fires hooks.
// Added for a known id and Changed for an unknown id are tolerated; a Removed
// for an unknown id is ignored.
func (c *Collection) Apply(deltas []gameplay.Delta) {
	for _, delta := range deltas {
		state := delta.State.Clone()
		switch delta.Kind {
		case gameplay.DeltaAdded, gameplay.DeltaChanged:
			if i, ok := c.index[state.ID]; ok {
				*c.items[i] = state
				c.mark(state.ID, gameplay.DeltaChanged)
				c.fire(c.onChanged, c.items[i])
				continue
			}
			stored := c.insert(state)
			c.mark(state.ID, gameplay.DeltaAdded)
			c.fire(c.onAdded, stored)

		case gameplay.DeltaRemoved:
			removed, ok := c.remove(state.ID)
			if !ok {
				continue
			}
			if c.tracked {
				c.gone[removed.ID] = removed.Clone()
			}
			c.mark(removed.ID, gameplay.DeltaRemoved)
			c.fire(c.onRemoved, &removed)
		}
	}
}

// OnAdded registers a hook fired when Apply inserts a state.
func (c *Collection) OnAdded(h Hook) { c.onAdded = append(c.onAdded, h) }

// OnChanged registers a hook fired when Apply replaces a state.
func (c *Collection) OnChanged(h Hook) { c.onChanged = append(c.onChanged, h) }

// OnRemoved registers a hook fired when Apply deletes a state.
func (c *Collection) OnRemoved(h Hook) { c.onRemoved = append(c.onRemoved, h) }

func (c *Collection) insert(state gameplay.ActivityState) *gameplay.ActivityState {
	stored := &state
	c.index[state.ID] = len(c.items)
	c.items = append(c.items, stored)
	return stored
}

func (c *Collection) remove(id uuid.UUID) (gameplay.ActivityState, bool) {
	i, ok := c.index[id]
	if !ok {
		return gameplay.ActivityState{}, false
	}
	state := *c.items[i]

	copy(c.items[i:], c.items[i+1:])
	c.items[len(c.items)-1] = nil
	c.items = c.items[:len(c.items)-1]
	delete(c.index, id)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].ID] = j
	}
	return state, true
}

func (c *Collection) mark(id uuid.UUID, kind gameplay.DeltaKind) {
	if !c.tracked {
		return
	}

	prev, seen := c.pending[id]
	if !seen {
		c.pending[id] = kind
		c.order = append(c.order, id)
		return
	}

	switch {
	case prev == gameplay.DeltaAdded && kind == gameplay.DeltaRemoved:
		// Never observed by peers.
		delete(c.pending, id)
		delete(c.gone, id)
	case prev == gameplay.DeltaAdded:
		// Still an add.
	case prev == gameplay.DeltaRemoved && kind == gameplay.DeltaAdded:
		c.pending[id] = gameplay.DeltaChanged
		delete(c.gone, id)
	default:
		c.pending[id] = kind
	}
}

func (c *Collection) fire(hooks []Hook, state *gameplay.ActivityState) {
	for _, h := range hooks {
		h(state)
	}
}
