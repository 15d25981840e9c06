// Package snapshot holds activity states and their bounded snapshot histories,
// and turns changes to the authoritative collection into replicable deltas.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/dyluth/augur/pkg/gameplay"
)

// DefaultHistoryLimit is the snapshot history cap used when a class sets none.
const DefaultHistoryLimit = 32

// ErrSequence is returned when a snapshot would break the increasing sequence order.
var ErrSequence = errors.New("snapshot sequence number must increase")

// Append adds snap to history and returns the new history and the stored snapshot.
// A zero sequence number is assigned the next one. When history is at limit the
// oldest snapshot is evicted silently. limit <= 0 means DefaultHistoryLimit.
func Append(history []gameplay.Snapshot, snap gameplay.Snapshot, limit int) ([]gameplay.Snapshot, gameplay.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var last uint32
	if n := len(history); n > 0 {
		last = history[n-1].SequenceNumber
	}

	if snap.SequenceNumber == 0 {
		snap.SequenceNumber = last + 1
	}
	if snap.SequenceNumber <= last {
		return history, snap, fmt.Errorf("%w: %d after %d", ErrSequence, snap.SequenceNumber, last)
	}
	if err := snap.Validate(); err != nil {
		return history, snap, err
	}

	if len(history) >= limit {
		drop := len(history) - limit + 1
		trimmed := make([]gameplay.Snapshot, len(history)-drop, limit)
		copy(trimmed, history[drop:])
		history = trimmed
	}

	return append(history, snap), snap, nil
}
