// Package replication routes one logical event send over the network legs its
// ReplicationPolicy requires, and suppresses the echo of broadcasts a client
// already predicted.
package replication

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/eventbus"
	"github.com/dyluth/augur/pkg/gameplay"
)

// ErrWrongDirection is returned by a transport asked to send on a leg its role does not own.
var ErrWrongDirection = errors.New("transport leg not available for this role")

// Transport moves messages between nodes. Delivery is reliable and ordered per channel.
type Transport interface {
	// CallServer sends msg from a client to the server.
	CallServer(ctx context.Context, msg *gameplay.Message) error

	// CallOwningClient sends msg from the server to one client.
	CallOwningClient(ctx context.Context, clientID string, msg *gameplay.Message) error

	// BroadcastAllClients sends msg from the server to every connected client.
	BroadcastAllClients(ctx context.Context, msg *gameplay.Message) error
}

// Dispatcher executes the legs of event sends for one node.
// It is not safe for concurrent use.
type Dispatcher struct {
	bus       *eventbus.Bus
	transport Transport
	role      gameplay.Role
	clientID  string
	predicted map[uuid.UUID]struct{}
	logger    logrus.FieldLogger
}

// New creates a dispatcher. clientID is ignored on the server.
func New(bus *eventbus.Bus, transport Transport, role gameplay.Role, clientID string, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fields := logrus.Fields{"component": "replication", "role": string(role)}
	if role == gameplay.RoleClient {
		fields["client_id"] = clientID
	}
	return &Dispatcher{
		bus:       bus,
		transport: transport,
		role:      role,
		clientID:  clientID,
		predicted: make(map[uuid.UUID]struct{}),
		logger:    logger.WithFields(fields),
	}
}

// Role returns the node role.
func (d *Dispatcher) Role() gameplay.Role { return d.role }

// ClientID returns the local client id, or "" on the server.
func (d *Dispatcher) ClientID() string { return d.clientID }

// Bus returns the local event bus.
func (d *Dispatcher) Bus() *eventbus.Bus { return d.bus }

// Transport returns the network transport.
func (d *Dispatcher) Transport() Transport { return d.transport }

// Send routes one logical event. It returns the event id shared by every leg,
// or uuid.Nil when the policy is not valid for this role.
//
//	policy                   server                       client
//	NoReplication            publish                      publish
//	ClientToServer           rejected                     publish + server
//	ServerToClient           publish + owning client      rejected
//	ServerToClientPredicted  publish + owning client      server only
//	ServerToAll              publish + broadcast          rejected
//	ServerToAllPredicted     publish + broadcast          publish + server, id remembered
func (d *Dispatcher) Send(ctx context.Context, eventTag, domainTag gameplay.Tag, payload gameplay.Payload, sender *gameplay.EntityRef, policy gameplay.ReplicationPolicy) uuid.UUID {
	env := &gameplay.EventEnvelope{
		ID:        uuid.New(),
		EventTag:  eventTag,
		DomainTag: domainTag,
		Payload:   payload,
		Sender:    sender,
	}
	if err := env.Validate(); err != nil {
		d.logger.WithError(err).Warn("send rejected: invalid event")
		return uuid.Nil
	}
	if err := policy.Validate(); err != nil {
		d.logger.WithError(err).Warn("send rejected: invalid policy")
		return uuid.Nil
	}

	if d.role == gameplay.RoleServer {
		if !d.sendFromServer(ctx, env, policy) {
			return uuid.Nil
		}
		return env.ID
	}

	if !d.sendFromClient(ctx, env, policy) {
		return uuid.Nil
	}
	return env.ID
}

func (d *Dispatcher) sendFromServer(ctx context.Context, env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy) bool {
	switch policy {
	case gameplay.NoReplication:
		d.bus.PublishEnvelope(env)

	case gameplay.ServerToClient, gameplay.ServerToClientPredicted:
		d.bus.PublishEnvelope(env)
		d.callOwner(ctx, ownerOf(env), env, policy, "")

	case gameplay.ServerToAll, gameplay.ServerToAllPredicted:
		d.bus.PublishEnvelope(env)
		d.broadcast(ctx, env, policy, "")

	default:
		d.violation(env, policy)
		return false
	}
	return true
}

func (d *Dispatcher) sendFromClient(ctx context.Context, env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy) bool {
	switch policy {
	case gameplay.NoReplication:
		d.bus.PublishEnvelope(env)

	case gameplay.ClientToServer:
		d.bus.PublishEnvelope(env)
		d.callServer(ctx, env, policy, false)

	case gameplay.ServerToClientPredicted:
		// Not predicted: the event comes back from the server.
		d.callServer(ctx, env, policy, false)

	case gameplay.ServerToAllPredicted:
		d.predicted[env.ID] = struct{}{}
		d.bus.PublishEnvelope(env)
		d.callServer(ctx, env, policy, true)

	default:
		d.violation(env, policy)
		return false
	}
	return true
}

// HandleInbound processes an event message delivered by the transport.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg *gameplay.Message) {
	if msg.Kind != gameplay.MessageEvent {
		d.logger.WithField("kind", string(msg.Kind)).Warn("dispatcher only handles event messages")
		return
	}
	if err := msg.Validate(); err != nil {
		d.logger.WithError(err).Warn("dropping invalid inbound event")
		return
	}

	env := msg.Event
	if d.role == gameplay.RoleServer {
		d.handleOnServer(ctx, msg, env)
		return
	}
	d.handleOnClient(msg, env)
}

func (d *Dispatcher) handleOnServer(ctx context.Context, msg *gameplay.Message, env *gameplay.EventEnvelope) {
	switch msg.Policy {
	case gameplay.ClientToServer:
		d.bus.PublishEnvelope(env)

	case gameplay.ServerToClientPredicted:
		d.bus.PublishEnvelope(env)
		d.callOwner(ctx, msg.From, env, msg.Policy, msg.From)

	case gameplay.ServerToAllPredicted:
		d.bus.PublishEnvelope(env)
		d.broadcast(ctx, env, msg.Policy, msg.From)

	default:
		d.logger.WithFields(logrus.Fields{
			"event_id": env.ID.String(),
			"policy":   string(msg.Policy),
			"from":     msg.From,
		}).Warn("dropping client event with server-only policy")
	}
}

func (d *Dispatcher) handleOnClient(msg *gameplay.Message, env *gameplay.EventEnvelope) {
	switch msg.Policy {
	case gameplay.ServerToClient, gameplay.ServerToClientPredicted, gameplay.ServerToAll:
		d.bus.PublishEnvelope(env)

	case gameplay.ServerToAllPredicted:
		if _, ok := d.predicted[env.ID]; ok {
			// Already published when predicted; consume the id.
			delete(d.predicted, env.ID)
			d.logger.WithField("event_id", env.ID.String()).Debug("suppressed echo of predicted broadcast")
			return
		}
		d.bus.PublishEnvelope(env)

	default:
		d.logger.WithFields(logrus.Fields{
			"event_id": env.ID.String(),
			"policy":   string(msg.Policy),
		}).Warn("dropping server event with client-only policy")
	}
}

// PendingPredictions returns how many predicted broadcasts await their echo.
func (d *Dispatcher) PendingPredictions() int {
	return len(d.predicted)
}

func (d *Dispatcher) callServer(ctx context.Context, env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy, predicted bool) {
	msg := d.eventMessage(env, policy, d.clientID)
	msg.Predicted = predicted
	if err := d.transport.CallServer(ctx, msg); err != nil {
		d.logger.WithError(err).WithField("event_id", env.ID.String()).Error("call to server failed")
	}
}

func (d *Dispatcher) callOwner(ctx context.Context, owner string, env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy, from string) {
	if owner == "" {
		d.logger.WithFields(logrus.Fields{
			"event_id":  env.ID.String(),
			"event_tag": env.EventTag.String(),
		}).Warn("no owning client for event; published on server only")
		return
	}
	if err := d.transport.CallOwningClient(ctx, owner, d.eventMessage(env, policy, from)); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": env.ID.String(),
			"owner":    owner,
		}).Error("call to owning client failed")
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy, from string) {
	if err := d.transport.BroadcastAllClients(ctx, d.eventMessage(env, policy, from)); err != nil {
		d.logger.WithError(err).WithField("event_id", env.ID.String()).Error("broadcast failed")
	}
}

func (d *Dispatcher) eventMessage(env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy, from string) *gameplay.Message {
	e := *env
	return &gameplay.Message{
		ID:     uuid.New(),
		Kind:   gameplay.MessageEvent,
		From:   from,
		Policy: policy,
		Event:  &e,
	}
}

func (d *Dispatcher) violation(env *gameplay.EventEnvelope, policy gameplay.ReplicationPolicy) {
	d.logger.WithFields(logrus.Fields{
		"event_id":  env.ID.String(),
		"event_tag": env.EventTag.String(),
		"policy":    string(policy),
	}).Warn("replication policy not allowed for this role")
}

func ownerOf(env *gameplay.EventEnvelope) string {
	if env.Sender == nil {
		return ""
	}
	return env.Sender.Owner
}
