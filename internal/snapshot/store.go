package snapshot

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Store holds the two activity tables of a node.
//
// On the server the authoritative table is tracked and its deltas are replicated.
// On a client it is the read-only mirror fed by Apply. The local table holds
// predicted copies on clients and non-replicated activities on either side.
type Store struct {
	role          gameplay.Role
	limit         int
	classLimits   map[gameplay.Tag]int
	authoritative *Collection
	local         *Collection
}

// NewStore creates the tables for a node. limit caps every snapshot history
// unless a class sets its own; limit <= 0 means DefaultHistoryLimit.
func NewStore(role gameplay.Role, limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		role:          role,
		limit:         limit,
		classLimits:   make(map[gameplay.Tag]int),
		authoritative: NewCollection(role == gameplay.RoleServer),
		local:         NewCollection(false),
	}
}

// SetClassLimit overrides the history cap for one activity class.
func (s *Store) SetClassLimit(class gameplay.Tag, limit int) {
	if limit <= 0 {
		delete(s.classLimits, class)
		return
	}
	s.classLimits[class] = limit
}

// Limit returns the history cap for class.
func (s *Store) Limit(class gameplay.Tag) int {
	if l, ok := s.classLimits[class]; ok {
		return l
	}
	return s.limit
}

// Authoritative returns the authoritative table (the mirror on clients).
func (s *Store) Authoritative() *Collection { return s.authoritative }

// Local returns the predicted/non-replicated table.
func (s *Store) Local() *Collection { return s.local }

// Lookup finds an activity in the table this node writes to. The server prefers
// the authoritative table; a client only ever writes its local table.
func (s *Store) Lookup(id uuid.UUID) (*gameplay.ActivityState, *Collection, bool) {
	if s.role == gameplay.RoleServer {
		if state, ok := s.authoritative.Get(id); ok {
			return state, s.authoritative, true
		}
	}
	if state, ok := s.local.Get(id); ok {
		return state, s.local, true
	}
	return nil, nil, false
}

// Append records snap on the activity's writable history and returns the stored
// snapshot with its sequence number. Clients cannot append to the mirror.
func (s *Store) Append(activityID uuid.UUID, snap gameplay.Snapshot) (gameplay.Snapshot, error) {
	state, table, ok := s.Lookup(activityID)
	if !ok {
		return snap, fmt.Errorf("activity %s not found", activityID)
	}

	history, stored, err := Append(state.SnapshotHistory, snap, s.Limit(state.Class))
	if err != nil {
		return stored, fmt.Errorf("failed to append snapshot to %s: %w", activityID, err)
	}

	table.Mutate(activityID, func(a *gameplay.ActivityState) {
		a.SnapshotHistory = history
	})
	return stored, nil
}
