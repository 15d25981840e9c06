// Package reconcile corrects a client's predicted activity states against the
// authoritative states replicated from the server.
//
// The engine hooks the client's authoritative mirror. Each applied delta is
// matched against the local predicted copy:
//
//   - added for an unknown id fast-forwards a local copy; for a known id it is a change
//   - changed matches the latest authoritative snapshot to the oldest suitable
//     unresolved predicted snapshot, invokes the class resolver and marks the
//     prediction resolved, then follows authoritative terminal statuses
//   - a refused prediction is rolled back, and the instance it cancelled locally
//     is restored if the server kept it running
//   - removed drops the local copy
package reconcile

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/pkg/gameplay"
)

// Match is what a resolver receives: the authoritative snapshot and the
// predicted snapshot it was matched to.
type Match struct {
	ActivityID    uuid.UUID
	Class         gameplay.Tag
	Authoritative gameplay.Snapshot
	Predicted     gameplay.Snapshot
}

// ResolveFunc corrects local state for one match. It must be idempotent.
type ResolveFunc func(m Match)

// Resolver is the object form of ResolveFunc.
type Resolver interface {
	Resolve(m Match)
}

// Resolution carries exactly one of Func or Resolver.
type Resolution struct {
	Func     ResolveFunc
	Resolver Resolver
}

// Validate checks that exactly one resolver form is set.
func (r Resolution) Validate() error {
	switch {
	case r.Func != nil && r.Resolver != nil:
		return fmt.Errorf("resolution sets both a callback and a resolver")
	case r.Func == nil && r.Resolver == nil:
		return fmt.Errorf("resolution sets neither a callback nor a resolver")
	default:
		return nil
	}
}

func (r Resolution) invoke(m Match) {
	if r.Func != nil {
		r.Func(m)
		return
	}
	r.Resolver.Resolve(m)
}

// Stats counts reconciliation outcomes.
type Stats struct {
	FastForwarded int
	Resolved      int
	Adopted       int // Predicted copies with no history that took the authoritative one
	Missed        int // Authoritative snapshots with no matching prediction
	Followed      int // Running local copies finished by an authoritative terminal status
	Restored      int // Locally cancelled copies the server kept running
}

// Engine reconciles one client. It is not safe for concurrent use.
type Engine struct {
	runtime   *activity.Runtime
	resolvers map[gameplay.Tag]Resolution
	lastSeen  map[uuid.UUID]uint32
	stats     Stats
	logger    logrus.FieldLogger
}

// New creates an engine and hooks it to the runtime's authoritative mirror.
// On the server the engine is inert: the server never predicts.
func New(runtime *activity.Runtime, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{
		runtime:   runtime,
		resolvers: make(map[gameplay.Tag]Resolution),
		lastSeen:  make(map[uuid.UUID]uint32),
		logger:    logger.WithField("component", "reconcile"),
	}
	if runtime.Role() != gameplay.RoleClient {
		return e
	}

	mirror := runtime.Store().Authoritative()
	mirror.OnAdded(e.onAdded)
	mirror.OnChanged(e.onChanged)
	mirror.OnRemoved(e.onRemoved)
	return e
}

// RegisterResolver installs the resolver for an activity class. Classes without
// their own resolver use the nearest registered parent tag.
// An invalid resolution is logged and ignored.
func (e *Engine) RegisterResolver(class gameplay.Tag, res Resolution) bool {
	if err := class.Validate(); err != nil {
		e.logger.WithError(err).Warn("resolver not registered: invalid class")
		return false
	}
	if err := res.Validate(); err != nil {
		e.logger.WithError(err).WithField("class", class.String()).Warn("resolver not registered")
		return false
	}
	e.resolvers[class] = res
	return true
}

// Stats returns the outcome counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

func (e *Engine) resolverFor(class gameplay.Tag) (Resolution, bool) {
	for tag := class; tag != gameplay.EmptyTag; tag = tag.Parent() {
		if res, ok := e.resolvers[tag]; ok {
			return res, true
		}
	}
	return Resolution{}, false
}

func (e *Engine) onAdded(auth *gameplay.ActivityState) {
	if _, known := e.runtime.Store().Local().Get(auth.ID); known {
		e.onChanged(auth)
		return
	}
	e.fastForward(auth)
}

func (e *Engine) fastForward(auth *gameplay.ActivityState) {
	if !e.runtime.FastForward(*auth) {
		return
	}
	e.stats.FastForwarded++
	if latest, ok := auth.LatestSnapshot(); ok {
		e.lastSeen[auth.ID] = latest.SequenceNumber
	}
}

func (e *Engine) onChanged(auth *gameplay.ActivityState) {
	local, ok := e.runtime.Store().Local().Get(auth.ID)
	if !ok {
		e.fastForward(auth)
		return
	}

	e.reconcileSnapshots(auth, local)
	e.followStatus(auth, local)
}

func (e *Engine) reconcileSnapshots(auth, local *gameplay.ActivityState) {
	latest, ok := auth.LatestSnapshot()
	if !ok || latest.SequenceNumber <= e.lastSeen[auth.ID] {
		return
	}
	e.lastSeen[auth.ID] = latest.SequenceNumber

	log := e.logger.WithFields(logrus.Fields{
		"activity_id": auth.ID.String(),
		"state_tag":   latest.StateTag.String(),
		"seq":         latest.SequenceNumber,
	})
	table := e.runtime.Store().Local()

	if len(local.SnapshotHistory) == 0 {
		table.Mutate(auth.ID, func(s *gameplay.ActivityState) {
			s.SnapshotHistory = resolvedCopy(auth.SnapshotHistory)
		})
		e.stats.Adopted++
		log.Debug("adopted authoritative history")
		return
	}

	idx := findMatch(local.SnapshotHistory, latest)
	if idx < 0 {
		e.stats.Missed++
		e.adopt(auth.ID, latest)
		log.Debug("no predicted snapshot matched; adopted authoritative snapshot")
		return
	}

	predicted := local.SnapshotHistory[idx]
	if res, ok := e.resolverFor(auth.Class); ok {
		res.invoke(Match{
			ActivityID:    auth.ID,
			Class:         auth.Class,
			Authoritative: latest,
			Predicted:     predicted,
		})
	} else {
		log.WithField("class", auth.Class.String()).Warn("no resolver registered; prediction accepted as is")
	}

	table.Mutate(auth.ID, func(s *gameplay.ActivityState) {
		s.SnapshotHistory[idx].Resolved = true
	})
	e.stats.Resolved++
}

// adopt appends an authoritative snapshot the client never predicted.
func (e *Engine) adopt(id uuid.UUID, snap gameplay.Snapshot) {
	snap.Resolved = true
	if _, err := e.runtime.Store().Append(id, snap); err != nil {
		// The local sequence is ahead of the server's; take the next local one.
		snap.SequenceNumber = 0
		if _, err := e.runtime.Store().Append(id, snap); err != nil {
			e.logger.WithError(err).WithField("activity_id", id.String()).Warn("failed to adopt authoritative snapshot")
		}
	}
}

// followStatus makes the local copy agree with the authoritative status.
func (e *Engine) followStatus(auth, local *gameplay.ActivityState) {
	switch auth.Status {
	case gameplay.StatusActivationSuccess:
		if !local.Status.IsActive() {
			e.restore(auth.ID)
		}

	case gameplay.StatusActivationFailed:
		if e.runtime.RollBack(auth.ID, auth.EndingContext) {
			e.stats.Followed++
		}
		for _, prior := range e.runtime.Superseded(auth.ID) {
			e.restore(prior)
		}

	case gameplay.StatusCancelled:
		if local.Status.IsActive() && e.runtime.CancelLocal(auth.ID, auth.EndingContext) {
			e.stats.Followed++
		}

	case gameplay.StatusEnded:
		if local.Status.IsActive() && e.runtime.EndLocal(auth.ID, auth.EndingContext) {
			e.stats.Followed++
		}
	}
}

func (e *Engine) restore(id uuid.UUID) {
	if e.runtime.RestoreLocal(id) {
		e.stats.Restored++
	}
}

func (e *Engine) onRemoved(auth *gameplay.ActivityState) {
	delete(e.lastSeen, auth.ID)
	e.runtime.ForgetLocal(auth.ID)
}

// findMatch prefers an unresolved snapshot with the same tag and sequence
// number, then the oldest unresolved snapshot with the same tag.
func findMatch(history []gameplay.Snapshot, auth gameplay.Snapshot) int {
	for i, snap := range history {
		if !snap.Resolved && snap.StateTag == auth.StateTag && snap.SequenceNumber == auth.SequenceNumber {
			return i
		}
	}
	for i, snap := range history {
		if !snap.Resolved && snap.StateTag == auth.StateTag {
			return i
		}
	}
	return -1
}

func resolvedCopy(history []gameplay.Snapshot) []gameplay.Snapshot {
	out := make([]gameplay.Snapshot, len(history))
	for i, snap := range history {
		snap.StateData = snap.StateData.Clone()
		snap.Resolved = true
		out[i] = snap
	}
	return out
}
