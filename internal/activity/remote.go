package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/pkg/gameplay"
)

// HandleActivate processes an inbound activate message: a client request on the
// server, or a server order on a client.
func (r *Runtime) HandleActivate(ctx context.Context, msg *gameplay.Message) {
	if msg.Kind != gameplay.MessageActivate || msg.Activation == nil {
		r.logger.WithField("kind", string(msg.Kind)).Warn("dropping malformed activate message")
		return
	}
	if r.role == gameplay.RoleServer {
		r.handleActivationRequest(ctx, msg.From, msg.Activation)
		return
	}
	r.handleActivationOrder(ctx, msg.Activation)
}

// handleActivationRequest runs a client's request authoritatively. A rejected
// request is recorded as ActivationFailed so the requester rolls back its prediction.
func (r *Runtime) handleActivationRequest(ctx context.Context, from string, req *gameplay.ActivationRequest) {
	log := r.logger.WithFields(logrus.Fields{
		"activity_id": req.ActivityID.String(),
		"class":       req.Class.String(),
		"from":        from,
	})

	if _, _, exists := r.store.Lookup(req.ActivityID); exists {
		log.Debug("duplicate activation request ignored")
		return
	}

	cls, ok := r.catalog.Get(req.Class)
	if !ok {
		log.Warn("activation request for unknown class")
		r.recordFailure(ctx, req)
		return
	}

	if req.Policy != gameplay.ClientPredicted && req.Policy != gameplay.ServerInitiatedFromClient {
		log.WithField("policy", string(req.Policy)).Warn("client may not request this activation policy")
		r.recordFailure(ctx, req)
		return
	}

	if req.Instigator != nil && req.Instigator.Owner != from {
		log.WithField("owner", req.Instigator.Owner).Warn("activation request for an entity the client does not own")
		r.recordFailure(ctx, req)
		return
	}

	if !r.activateHere(ctx, cls, req.ActivityID, req.Policy, req.Context, req.Instigator, r.store.Authoritative()) {
		log.Debug("activation request rejected")
		r.recordFailure(ctx, req)
	}
}

func (r *Runtime) recordFailure(ctx context.Context, req *gameplay.ActivationRequest) {
	if err := req.Class.Validate(); err != nil {
		return
	}
	now := r.clock.Now()
	table := r.store.Authoritative()
	state := gameplay.ActivityState{
		ID:                  req.ActivityID,
		Class:               req.Class,
		Status:              gameplay.StatusPreActivation,
		ActivationPolicy:    req.Policy,
		ActivationTimestamp: now,
		ActivationContext:   req.Context.Clone(),
		Instigator:          cloneRef(req.Instigator),
		SnapshotHistory:     []gameplay.Snapshot{},
	}
	if err := table.Add(state); err != nil {
		r.logger.WithError(err).Warn("failed to record activation failure")
		return
	}
	table.Mutate(req.ActivityID, func(s *gameplay.ActivityState) {
		s.Status = gameplay.StatusActivationFailed
		s.EndTimestamp = now
	})
	stored, _ := table.Get(req.ActivityID)
	r.announce(ctx, stored, true)
}

// handleActivationOrder mirrors a ServerInitiated activation on the owning
// client. The server already ran the checks, so none are repeated here. If the
// authoritative state arrived first and was fast-forwarded, the behaviour is
// attached to that copy.
func (r *Runtime) handleActivationOrder(ctx context.Context, req *gameplay.ActivationRequest) {
	log := r.logger.WithFields(logrus.Fields{
		"activity_id": req.ActivityID.String(),
		"class":       req.Class.String(),
	})

	cls, ok := r.catalog.Get(req.Class)
	if !ok {
		log.Warn("activation order for unknown class")
		return
	}

	local := r.store.Local()
	if state, exists := local.Get(req.ActivityID); exists {
		if r.Running(req.ActivityID) || !state.Status.IsActive() {
			return
		}
		r.attach(cls, state)
		log.Debug("behaviour attached to fast-forwarded activity")
		return
	}

	now := r.clock.Now()
	state := gameplay.ActivityState{
		ID:                  req.ActivityID,
		Class:               cls.Name,
		Status:              gameplay.StatusActivationSuccess,
		ActivationPolicy:    req.Policy,
		ActivationTimestamp: now,
		ActivationContext:   req.Context.Clone(),
		Instigator:          cloneRef(req.Instigator),
		SnapshotHistory:     []gameplay.Snapshot{},
	}
	if err := local.Add(state); err != nil {
		log.WithError(err).Warn("failed to mirror activation order")
		return
	}
	r.lastActivation[cooldownKey{instigator: refID(req.Instigator), class: cls.Name}] = activationStamp{at: now, id: req.ActivityID}

	stored, _ := local.Get(req.ActivityID)
	r.attach(cls, stored)
	r.announce(ctx, stored, false)
}

func (r *Runtime) attach(cls *Class, state *gameplay.ActivityState) {
	ac := r.newContext(state.ID, cls.Name, state.ActivationPolicy, state.ActivationContext, state.Instigator)
	behaviour := cls.behaviour()
	r.instances[state.ID] = &instance{behaviour: behaviour, ac: ac}
	behaviour.OnActivate(ac)
}

// HandleCancel processes a client's cancellation request on the server.
func (r *Runtime) HandleCancel(ctx context.Context, msg *gameplay.Message) {
	if r.role != gameplay.RoleServer || msg.Cancel == nil {
		r.logger.WithField("from", msg.From).Warn("dropping cancel message")
		return
	}

	id := msg.Cancel.ActivityID
	log := r.logger.WithFields(logrus.Fields{"activity_id": id.String(), "from": msg.From})

	state, ok := r.store.Authoritative().Get(id)
	if !ok {
		log.Debug("cancel request for unknown activity")
		return
	}
	if state.Instigator != nil && state.Instigator.Owner != msg.From {
		log.Warn("cancel request for an activity the client does not own")
		return
	}

	r.finish(ctx, id, gameplay.StatusCancelled, msg.Cancel.Context, false)
}

// FastForward creates a local copy of an authoritative state this client never
// predicted. No behaviour runs; the copied history counts as already resolved.
func (r *Runtime) FastForward(state gameplay.ActivityState) bool {
	local := r.store.Local()
	if _, exists := local.Get(state.ID); exists {
		return false
	}

	copied := state.Clone()
	if copied.SnapshotHistory == nil {
		copied.SnapshotHistory = []gameplay.Snapshot{}
	}
	for i := range copied.SnapshotHistory {
		copied.SnapshotHistory[i].Resolved = true
	}
	if err := local.Add(copied); err != nil {
		r.logger.WithError(err).Warn("fast-forward failed")
		return false
	}

	r.logger.WithFields(logrus.Fields{
		"activity_id": state.ID.String(),
		"class":       state.Class.String(),
		"status":      string(state.Status),
	}).Debug("fast-forwarded authoritative activity")
	return true
}

// ForgetLocal drops the local copy of an activity, cancelling it first if it is
// still running.
func (r *Runtime) ForgetLocal(id uuid.UUID) {
	state, ok := r.store.Local().Get(id)
	if !ok {
		return
	}
	if state.Status.IsActive() {
		r.CancelLocal(id, gameplay.Payload{})
	}
	delete(r.instances, id)
	delete(r.priorStamps, id)
	delete(r.supersededBy, id)
	r.store.Local().Remove(id)
}

// RollBack undoes a prediction the server refused: the local copy is cancelled
// if still running and the instigator's cooldown returns to the stamp it had
// before the prediction. Returns true if the copy was cancelled.
func (r *Runtime) RollBack(id uuid.UUID, ending gameplay.Payload) bool {
	state, ok := r.store.Local().Get(id)
	if !ok {
		return false
	}

	if prev, ok := r.priorStamps[id]; ok {
		delete(r.priorStamps, id)
		key := cooldownKey{instigator: refID(state.Instigator), class: state.Class}
		if cur, ok := r.lastActivation[key]; ok && cur.id == id {
			if prev.ok {
				r.lastActivation[key] = prev.stamp
			} else {
				delete(r.lastActivation, key)
			}
		}
		// Later predictions that replaced this stamp fall back past it too.
		for other, ps := range r.priorStamps {
			if ps.ok && ps.stamp.id == id {
				r.priorStamps[other] = prev
			}
		}
	}

	if !state.Status.IsActive() {
		return false
	}
	return r.CancelLocal(id, ending)
}

// Superseded returns the local copies cancelled to make room for the predicted
// activation successor.
func (r *Runtime) Superseded(successor uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for prior, next := range r.supersededBy {
		if next == successor {
			ids = append(ids, prior)
		}
	}
	return ids
}

// RestoreLocal returns a local copy cancelled to make room for a newer
// predicted instance back to ActivationSuccess, once the server has refused the
// newer instance and still runs this one. Like FastForward it only changes
// bookkeeping: no behaviour is attached and nothing is announced.
func (r *Runtime) RestoreLocal(id uuid.UUID) bool {
	successor, ok := r.supersededBy[id]
	if !ok {
		return false
	}
	next, ok := r.store.Authoritative().Get(successor)
	if !ok || next.Status != gameplay.StatusActivationFailed {
		return false
	}
	auth, ok := r.store.Authoritative().Get(id)
	if !ok || auth.Status != gameplay.StatusActivationSuccess {
		return false
	}
	local, ok := r.store.Local().Get(id)
	if !ok || local.Status != gameplay.StatusCancelled {
		return false
	}

	delete(r.supersededBy, id)
	r.store.Local().Mutate(id, func(s *gameplay.ActivityState) {
		s.Status = gameplay.StatusActivationSuccess
		s.EndTimestamp = 0
		s.EndingContext = gameplay.Payload{}
	})
	r.logger.WithFields(logrus.Fields{
		"activity_id": id.String(),
		"refused":     successor.String(),
	}).Debug("restored activity the server kept running")
	return true
}

func (r *Runtime) requestServer(ctx context.Context, id uuid.UUID, class gameplay.Tag, policy gameplay.ActivationPolicy, payload gameplay.Payload, instigator *gameplay.EntityRef) {
	r.call(ctx, &gameplay.Message{
		ID:         uuid.New(),
		Kind:       gameplay.MessageActivate,
		From:       r.clientID,
		Activation: activationRequest(id, class, policy, payload, instigator),
	})
}

func (r *Runtime) orderOwner(ctx context.Context, id uuid.UUID, class gameplay.Tag, policy gameplay.ActivationPolicy, payload gameplay.Payload, instigator *gameplay.EntityRef) {
	owner := ""
	if instigator != nil {
		owner = instigator.Owner
	}
	if owner == "" {
		r.logger.WithField("activity_id", id.String()).Debug("server initiated activity has no owning client")
		return
	}
	msg := &gameplay.Message{
		ID:         uuid.New(),
		Kind:       gameplay.MessageActivate,
		Activation: activationRequest(id, class, policy, payload, instigator),
	}
	if err := r.dispatcher.Transport().CallOwningClient(ctx, owner, msg); err != nil {
		r.logger.WithError(err).WithField("owner", owner).Error("activation order failed")
	}
}

func (r *Runtime) call(ctx context.Context, msg *gameplay.Message) {
	if err := r.dispatcher.Transport().CallServer(ctx, msg); err != nil {
		r.logger.WithError(err).WithField("kind", string(msg.Kind)).Error("call to server failed")
	}
}

func activationRequest(id uuid.UUID, class gameplay.Tag, policy gameplay.ActivationPolicy, payload gameplay.Payload, instigator *gameplay.EntityRef) *gameplay.ActivationRequest {
	return &gameplay.ActivationRequest{
		ActivityID: id,
		Class:      class,
		Policy:     policy,
		Context:    payload.Clone(),
		Instigator: cloneRef(instigator),
	}
}
