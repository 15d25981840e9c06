package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/internal/snapshot"
	"github.com/dyluth/augur/pkg/gameplay"
)

type instance struct {
	behaviour Behaviour
	ac        *ActivationContext
}

type cooldownKey struct {
	instigator string
	class      gameplay.Tag
}

// activationStamp is the last activation of a cooldown key and the activity that made it.
type activationStamp struct {
	at float64
	id uuid.UUID
}

// priorStamp is the stamp a predicted activation replaced, ok=false if there was none.
type priorStamp struct {
	stamp activationStamp
	ok    bool
}

// Runtime owns the activity state machine of one node.
// It is not safe for concurrent use.
type Runtime struct {
	role       gameplay.Role
	clientID   string
	catalog    *Catalog
	store      *snapshot.Store
	dispatcher *replication.Dispatcher
	clock      Clock
	logger     logrus.FieldLogger

	instances      map[uuid.UUID]*instance
	lastActivation map[cooldownKey]activationStamp

	// Client only. Predicted activations the server may still refuse.
	priorStamps  map[uuid.UUID]priorStamp
	supersededBy map[uuid.UUID]uuid.UUID // cancelled prior instance -> predicted successor
}

// NewRuntime creates a runtime. Role and client id come from the dispatcher.
func NewRuntime(catalog *Catalog, store *snapshot.Store, dispatcher *replication.Dispatcher, clock Clock, logger logrus.FieldLogger) *Runtime {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, name := range catalog.Names() {
		class, _ := catalog.Get(name)
		if class.HistoryLimit > 0 {
			store.SetClassLimit(name, class.HistoryLimit)
		}
	}
	return &Runtime{
		role:           dispatcher.Role(),
		clientID:       dispatcher.ClientID(),
		catalog:        catalog,
		store:          store,
		dispatcher:     dispatcher,
		clock:          clock,
		logger:         logger.WithFields(logrus.Fields{"component": "activity", "role": string(dispatcher.Role())}),
		instances:      make(map[uuid.UUID]*instance),
		lastActivation: make(map[cooldownKey]activationStamp),
		priorStamps:    make(map[uuid.UUID]priorStamp),
		supersededBy:   make(map[uuid.UUID]uuid.UUID),
	}
}

// Role returns the node role.
func (r *Runtime) Role() gameplay.Role { return r.role }

// Store returns the snapshot store.
func (r *Runtime) Store() *snapshot.Store { return r.store }

// Catalog returns the class catalog.
func (r *Runtime) Catalog() *Catalog { return r.catalog }

// Now returns the runtime clock.
func (r *Runtime) Now() float64 { return r.clock.Now() }

// Get returns the state this node writes for an activity.
func (r *Runtime) Get(id uuid.UUID) (*gameplay.ActivityState, bool) {
	state, _, ok := r.store.Lookup(id)
	return state, ok
}

// Running reports whether a behaviour instance is attached to the activity.
func (r *Runtime) Running(id uuid.UUID) bool {
	_, ok := r.instances[id]
	return ok
}

// Activate starts an activity of the given class. policyOverride replaces the
// class activation policy when non-nil.
//
// The returned id identifies the activity on every node. On a client a
// ServerInitiatedFromClient activation only sends the request; the id is
// returned but nothing runs locally. A rejected activation returns false and
// leaves no trace.
func (r *Runtime) Activate(ctx context.Context, class gameplay.Tag, payload gameplay.Payload, policyOverride *gameplay.ActivationPolicy, instigator *gameplay.EntityRef) (uuid.UUID, bool) {
	cls, ok := r.catalog.Get(class)
	if !ok {
		r.logger.WithField("class", class.String()).Warn("activate rejected: unknown class")
		return uuid.Nil, false
	}
	if instigator != nil {
		if err := instigator.Validate(); err != nil {
			r.logger.WithError(err).WithField("class", class.String()).Warn("activate rejected: invalid instigator")
			return uuid.Nil, false
		}
	}

	policy := cls.ActivationPolicy
	if policyOverride != nil {
		if err := policyOverride.Validate(); err != nil {
			r.logger.WithError(err).WithField("class", class.String()).Warn("activate rejected: invalid policy override")
			return uuid.Nil, false
		}
		policy = *policyOverride
	}

	id := uuid.New()
	server := r.role == gameplay.RoleServer

	switch {
	case policy == gameplay.LocalOnly,
		policy == gameplay.ClientOnly && !server,
		policy == gameplay.ServerOnly && server:
		if !r.activateHere(ctx, cls, id, policy, payload, instigator, r.store.Local()) {
			return uuid.Nil, false
		}
		return id, true

	case policy.Replicated() && server:
		if !r.activateHere(ctx, cls, id, policy, payload, instigator, r.store.Authoritative()) {
			return uuid.Nil, false
		}
		if policy == gameplay.ServerInitiated {
			r.orderOwner(ctx, id, cls.Name, policy, payload, instigator)
		}
		return id, true

	case policy == gameplay.ClientPredicted:
		if !r.activateHere(ctx, cls, id, policy, payload, instigator, r.store.Local()) {
			return uuid.Nil, false
		}
		r.requestServer(ctx, id, cls.Name, policy, payload, instigator)
		return id, true

	case policy == gameplay.ServerInitiatedFromClient:
		r.requestServer(ctx, id, cls.Name, policy, payload, instigator)
		return id, true

	default:
		r.logger.WithFields(logrus.Fields{
			"class":  class.String(),
			"policy": string(policy),
		}).Warn("activation policy not allowed for this role")
		return uuid.Nil, false
	}
}

// activateHere runs the activation checks and, if they pass, creates the state
// in table and starts the behaviour. Checks never mutate anything.
func (r *Runtime) activateHere(ctx context.Context, cls *Class, id uuid.UUID, policy gameplay.ActivationPolicy, payload gameplay.Payload, instigator *gameplay.EntityRef, table *snapshot.Collection) bool {
	now := r.clock.Now()
	key := cooldownKey{instigator: refID(instigator), class: cls.Name}
	log := r.logger.WithFields(logrus.Fields{"class": cls.Name.String(), "activity_id": id.String()})

	if last, ok := r.lastActivation[key]; ok && cls.Cooldown > 0 && now < last.at+cls.Cooldown.Seconds() {
		log.WithField("ready_at", last.at+cls.Cooldown.Seconds()).Debug("activation rejected: cooldown")
		return false
	}

	ac := r.newContext(id, cls.Name, policy, payload, instigator)
	behaviour := cls.behaviour()
	if !behaviour.CanActivate(ac) {
		log.Debug("activation rejected: CanActivate returned false")
		return false
	}

	var prior []uuid.UUID
	if ip := cls.instancePolicy(); ip != MultipleInstances {
		prior = r.activeInstances(cls.Name, key.instigator)
		if len(prior) > 0 && ip == SingleInstanceNonCancellable {
			log.Debug("activation rejected: instance already running")
			return false
		}
	}

	if _, _, exists := r.store.Lookup(id); exists {
		log.Warn("activation rejected: activity id already in use")
		return false
	}

	for _, priorID := range prior {
		r.finish(ctx, priorID, gameplay.StatusCancelled, gameplay.Payload{}, false)
	}

	state := gameplay.ActivityState{
		ID:                  id,
		Class:               cls.Name,
		Status:              gameplay.StatusPreActivation,
		ActivationPolicy:    policy,
		ActivationTimestamp: now,
		ActivationContext:   payload.Clone(),
		Instigator:          cloneRef(instigator),
		SnapshotHistory:     []gameplay.Snapshot{},
	}
	if err := table.Add(state); err != nil {
		log.WithError(err).Warn("activation rejected")
		return false
	}
	table.Mutate(id, func(s *gameplay.ActivityState) {
		s.Status = gameplay.StatusActivationSuccess
	})

	if r.role == gameplay.RoleClient && policy == gameplay.ClientPredicted {
		last, had := r.lastActivation[key]
		r.priorStamps[id] = priorStamp{stamp: last, ok: had}
		for _, priorID := range prior {
			r.supersededBy[priorID] = id
		}
	}
	r.lastActivation[key] = activationStamp{at: now, id: id}

	r.instances[id] = &instance{behaviour: behaviour, ac: ac}
	behaviour.OnActivate(ac)

	stored, _ := table.Get(id)
	log.WithField("policy", string(policy)).Debug("activity activated")
	r.announce(ctx, stored, ac.Authority)
	return true
}

// Cancel interrupts a running activity. On a client, a replicated activity's
// cancellation is also requested from the server.
func (r *Runtime) Cancel(ctx context.Context, id uuid.UUID, ending gameplay.Payload) bool {
	return r.finish(ctx, id, gameplay.StatusCancelled, ending, true)
}

// End finishes a running activity normally.
func (r *Runtime) End(ctx context.Context, id uuid.UUID, ending gameplay.Payload) bool {
	return r.finish(ctx, id, gameplay.StatusEnded, ending, false)
}

// CancelLocal cancels this node's copy without contacting the server.
func (r *Runtime) CancelLocal(id uuid.UUID, ending gameplay.Payload) bool {
	return r.finish(context.Background(), id, gameplay.StatusCancelled, ending, false)
}

// EndLocal ends this node's copy without contacting the server.
func (r *Runtime) EndLocal(id uuid.UUID, ending gameplay.Payload) bool {
	return r.finish(context.Background(), id, gameplay.StatusEnded, ending, false)
}

func (r *Runtime) finish(ctx context.Context, id uuid.UUID, status gameplay.Status, ending gameplay.Payload, forward bool) bool {
	state, table, ok := r.store.Lookup(id)
	if !ok {
		r.logger.WithField("activity_id", id.String()).Debug("finish ignored: unknown activity")
		return false
	}
	if !state.Status.CanTransition(status) {
		r.logger.WithFields(logrus.Fields{
			"activity_id": id.String(),
			"from":        string(state.Status),
			"to":          string(status),
		}).Debug("finish ignored: invalid transition")
		return false
	}

	now := r.clock.Now()
	table.Mutate(id, func(s *gameplay.ActivityState) {
		s.Status = status
		s.EndTimestamp = now
		s.EndingContext = ending.Clone()
	})

	authority := r.role == gameplay.RoleServer || !state.ActivationPolicy.Replicated()
	if inst, running := r.instances[id]; running {
		delete(r.instances, id)
		authority = inst.ac.Authority
		if status == gameplay.StatusEnded {
			inst.behaviour.OnEnd(status, ending)
		} else {
			inst.behaviour.OnCancel(status, ending)
		}
	}

	r.announce(ctx, state, authority)

	if forward && r.role == gameplay.RoleClient && state.ActivationPolicy.Replicated() {
		r.call(ctx, &gameplay.Message{
			ID:     uuid.New(),
			Kind:   gameplay.MessageCancel,
			From:   r.clientID,
			Cancel: &gameplay.CancelRequest{ActivityID: id, Context: ending},
		})
	}
	return true
}

// Tick advances every running behaviour by dt seconds, in insertion order.
func (r *Runtime) Tick(dt float64) {
	for _, table := range r.writableTables() {
		for _, state := range table.Items() {
			if !state.Status.IsActive() {
				continue
			}
			if inst, ok := r.instances[state.ID]; ok {
				inst.behaviour.OnTick(dt)
			}
		}
	}
}

// RecordSnapshot appends a snapshot stamped with the current time to the
// activity's writable history.
func (r *Runtime) RecordSnapshot(id uuid.UUID, stateTag gameplay.Tag, data gameplay.Payload) (gameplay.Snapshot, error) {
	return r.store.Append(id, gameplay.Snapshot{
		StateTag:  stateTag,
		Timestamp: r.clock.Now(),
		StateData: data,
	})
}

// Prune removes terminal activities that finished at least retention seconds
// ago. On the server this emits Removed deltas. On a client only
// non-replicated activities are pruned; replicated copies leave when the
// authoritative mirror removes them.
func (r *Runtime) Prune(retention float64) int {
	now := r.clock.Now()
	removed := 0
	for _, table := range r.writableTables() {
		for _, state := range table.Items() {
			if !state.Status.IsTerminal() || now-state.EndTimestamp < retention {
				continue
			}
			if r.role == gameplay.RoleClient && state.ActivationPolicy.Replicated() {
				continue
			}
			table.Remove(state.ID)
			delete(r.instances, state.ID)
			removed++
		}
	}
	return removed
}

func (r *Runtime) writableTables() []*snapshot.Collection {
	if r.role == gameplay.RoleServer {
		return []*snapshot.Collection{r.store.Authoritative(), r.store.Local()}
	}
	return []*snapshot.Collection{r.store.Local()}
}

func (r *Runtime) activeInstances(class gameplay.Tag, instigator string) []uuid.UUID {
	var ids []uuid.UUID
	for _, table := range r.writableTables() {
		for _, state := range table.Items() {
			if state.Class == class && state.Status.IsActive() && refID(state.Instigator) == instigator {
				ids = append(ids, state.ID)
			}
		}
	}
	return ids
}

func (r *Runtime) newContext(id uuid.UUID, class gameplay.Tag, policy gameplay.ActivationPolicy, payload gameplay.Payload, instigator *gameplay.EntityRef) *ActivationContext {
	server := r.role == gameplay.RoleServer
	return &ActivationContext{
		ActivityID: id,
		Class:      class,
		Policy:     policy,
		Role:       r.role,
		Payload:    payload,
		Instigator: cloneRef(instigator),
		Authority:  server || !policy.Replicated(),
		Predicted:  !server && policy.Predicted(),
		Runtime:    r,
	}
}

func refID(ref *gameplay.EntityRef) string {
	if ref == nil {
		return ""
	}
	return ref.ID
}

func cloneRef(ref *gameplay.EntityRef) *gameplay.EntityRef {
	if ref == nil {
		return nil
	}
	c := *ref
	return &c
}
