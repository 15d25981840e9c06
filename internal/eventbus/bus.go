// Package eventbus is the tag-filtered publish/subscribe primitive every other
// component communicates through.
//
// Delivery is synchronous on the caller's goroutine. Subscriptions are visited
// newest first, so later (more specific) listeners observe an event before older
// ones. Removal never happens mid-pass: unsubscribes, dead listeners and fired
// one-shot subscriptions are swept in one batch when the outermost Publish returns.
//
// A Bus is not safe for concurrent use; the owning node serialises access.
package eventbus

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/entity"
	"github.com/dyluth/augur/internal/filter"
	"github.com/dyluth/augur/pkg/gameplay"
)

// Callback receives a matching envelope. The envelope must not be retained
// past the call; copy it if needed.
type Callback func(env *gameplay.EventEnvelope)

// RemovalReason says why a subscription left the bus.
type RemovalReason string

const (
	// ReasonUnsubscribed is an explicit Unsubscribe, UnsubscribeByFilter or UnsubscribeAll.
	ReasonUnsubscribed RemovalReason = "unsubscribed"

	// ReasonListenerDead means the listener entity was destroyed.
	ReasonListenerDead RemovalReason = "listener_dead"

	// ReasonFired means a trigger-once subscription delivered its event.
	ReasonFired RemovalReason = "fired"
)

// Removal describes one removed subscription.
type Removal struct {
	ID       uuid.UUID
	Listener entity.Handle
	Reason   RemovalReason
}

// RemovalHook observes subscription removals.
type RemovalHook func(Removal)

// Subscription is one registered listener. It is owned by the Bus.
type Subscription struct {
	ID          uuid.UUID
	Listener    entity.Handle
	Criteria    filter.Criteria
	TriggerOnce bool

	callback Callback
	removed  bool
	reason   RemovalReason
}

// ListenOption configures a subscription.
type ListenOption func(*Subscription)

// WithEventFilter restricts the subscription to the given event tags.
func WithEventFilter(tags ...gameplay.Tag) ListenOption {
	return func(s *Subscription) { s.Criteria.EventTags = append(s.Criteria.EventTags, tags...) }
}

// WithDomainFilter restricts the subscription to the given domain tags.
func WithDomainFilter(tags ...gameplay.Tag) ListenOption {
	return func(s *Subscription) { s.Criteria.DomainTags = append(s.Criteria.DomainTags, tags...) }
}

// WithPayloadTypes restricts the subscription to payloads of the given types.
func WithPayloadTypes(types ...string) ListenOption {
	return func(s *Subscription) { s.Criteria.PayloadTypes = append(s.Criteria.PayloadTypes, types...) }
}

// WithSenders restricts the subscription to events sent by the given entities.
func WithSenders(senders ...gameplay.EntityRef) ListenOption {
	return func(s *Subscription) { s.Criteria.Senders = append(s.Criteria.Senders, senders...) }
}

// MatchEventPrefix makes the event filter match child tags too.
func MatchEventPrefix() ListenOption {
	return func(s *Subscription) { s.Criteria.ExactEvent = false }
}

// MatchDomainPrefix makes the domain filter match child tags too.
func MatchDomainPrefix() ListenOption {
	return func(s *Subscription) { s.Criteria.ExactDomain = false }
}

// TriggerOnce removes the subscription after its first delivery.
func TriggerOnce() ListenOption {
	return func(s *Subscription) { s.TriggerOnce = true }
}

// Bus is the event bus.
type Bus struct {
	liveness entity.Liveness
	logger   logrus.FieldLogger

	subs  []*Subscription
	byID  map[uuid.UUID]*Subscription
	depth int
	dirty bool

	hooks    map[uint64]RemovalHook
	hookSeq  uint64
	hookKeys []uint64
}

// New creates a bus whose listeners are checked against liveness.
func New(liveness entity.Liveness, logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		liveness: liveness,
		logger:   logger.WithField("component", "eventbus"),
		byID:     make(map[uuid.UUID]*Subscription),
		hooks:    make(map[uint64]RemovalHook),
	}
}

// Listen registers callback for listener and returns the subscription id.
// Event and domain filters match exactly unless a prefix option is given.
// It returns uuid.Nil when listener is the null or a dead handle, or callback is nil.
func (b *Bus) Listen(listener entity.Handle, callback Callback, opts ...ListenOption) uuid.UUID {
	if listener.IsZero() || !b.liveness.Alive(listener) {
		b.logger.WithField("listener", listener.String()).Warn("listen rejected: listener is not alive")
		return uuid.Nil
	}
	if callback == nil {
		b.logger.WithField("listener", listener.String()).Warn("listen rejected: callback is nil")
		return uuid.Nil
	}

	sub := &Subscription{
		ID:       uuid.New(),
		Listener: listener,
		Criteria: filter.Criteria{ExactEvent: true, ExactDomain: true},
		callback: callback,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.subs = append(b.subs, sub)
	b.byID[sub.ID] = sub
	return sub.ID
}

// Publish creates a fresh envelope and delivers it. It returns the envelope id,
// or uuid.Nil when the envelope is invalid.
func (b *Bus) Publish(eventTag, domainTag gameplay.Tag, payload gameplay.Payload, sender *gameplay.EntityRef, listenerFilter ...entity.Handle) uuid.UUID {
	env := &gameplay.EventEnvelope{
		ID:        uuid.New(),
		EventTag:  eventTag,
		DomainTag: domainTag,
		Payload:   payload,
		Sender:    sender,
	}
	if !b.PublishEnvelope(env, listenerFilter...) {
		return uuid.Nil
	}
	return env.ID
}

// PublishEnvelope delivers env to every matching subscription, newest first.
// When listenerFilter is non-empty only those listeners are considered.
// A publish from inside a callback is delivered immediately; subscriptions added
// during a pass are not visited by that pass.
func (b *Bus) PublishEnvelope(env *gameplay.EventEnvelope, listenerFilter ...entity.Handle) bool {
	if err := env.Validate(); err != nil {
		b.logger.WithError(err).WithField("event_tag", env.EventTag.String()).Warn("dropping invalid event")
		return false
	}

	b.depth++
	defer func() {
		b.depth--
		if b.depth == 0 {
			b.sweep()
		}
	}()

	// Appends during the pass land beyond len(visible) and are not visited.
	visible := b.subs
	for i := len(visible) - 1; i >= 0; i-- {
		sub := visible[i]
		if sub.removed {
			continue
		}
		if !b.liveness.Alive(sub.Listener) {
			b.markRemoved(sub, ReasonListenerDead)
			continue
		}
		if len(listenerFilter) > 0 && !containsHandle(listenerFilter, sub.Listener) {
			continue
		}
		if !sub.Criteria.Matches(env) {
			continue
		}
		if sub.TriggerOnce {
			b.markRemoved(sub, ReasonFired)
		}
		sub.callback(env)
	}

	return true
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	sub, ok := b.byID[id]
	if !ok || sub.removed {
		return
	}
	b.markRemoved(sub, ReasonUnsubscribed)
	b.sweepIfIdle()
}

// UnsubscribeByFilter removes the listener's subscriptions whose filters overlap
// the given tags. An empty tag list matches any filter in that dimension.
func (b *Bus) UnsubscribeByFilter(listener entity.Handle, eventTags, domainTags []gameplay.Tag) {
	target := &filter.Criteria{EventTags: eventTags, DomainTags: domainTags}
	for _, sub := range b.subs {
		if sub.removed || sub.Listener != listener {
			continue
		}
		if sub.Criteria.Overlaps(target) {
			b.markRemoved(sub, ReasonUnsubscribed)
		}
	}
	b.sweepIfIdle()
}

// UnsubscribeAll removes every subscription owned by listener.
func (b *Bus) UnsubscribeAll(listener entity.Handle) {
	for _, sub := range b.subs {
		if !sub.removed && sub.Listener == listener {
			b.markRemoved(sub, ReasonUnsubscribed)
		}
	}
	b.sweepIfIdle()
}

// OnSubscriptionRemoved registers a hook called once per removed subscription,
// after the sweep that dropped it. The returned func unregisters the hook.
func (b *Bus) OnSubscriptionRemoved(hook RemovalHook) func() {
	b.hookSeq++
	key := b.hookSeq
	b.hooks[key] = hook
	b.hookKeys = append(b.hookKeys, key)
	return func() { delete(b.hooks, key) }
}

// Has reports whether a subscription is registered and not pending removal.
func (b *Bus) Has(id uuid.UUID) bool {
	sub, ok := b.byID[id]
	return ok && !sub.removed
}

// Len returns the number of subscriptions not pending removal.
func (b *Bus) Len() int {
	n := 0
	for _, sub := range b.subs {
		if !sub.removed {
			n++
		}
	}
	return n
}

func (b *Bus) markRemoved(sub *Subscription, reason RemovalReason) {
	sub.removed = true
	sub.reason = reason
	b.dirty = true
}

func (b *Bus) sweepIfIdle() {
	if b.depth == 0 {
		b.sweep()
	}
}

// sweep compacts the subscription list and then notifies hooks.
func (b *Bus) sweep() {
	if !b.dirty {
		return
	}
	b.dirty = false

	var removed []Removal
	kept := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.removed {
			delete(b.byID, sub.ID)
			removed = append(removed, Removal{ID: sub.ID, Listener: sub.Listener, Reason: sub.reason})
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept

	for _, r := range removed {
		b.logger.WithFields(logrus.Fields{
			"subscription_id": r.ID.String(),
			"reason":          string(r.Reason),
		}).Debug("subscription removed")
		b.notify(r)
	}
}

func (b *Bus) notify(r Removal) {
	// Hooks may register or unregister hooks; iterate over a stable key list.
	keys := b.hookKeys[:0:0]
	for _, key := range b.hookKeys {
		if _, ok := b.hooks[key]; ok {
			keys = append(keys, key)
		}
	}
	b.hookKeys = keys

	for _, key := range keys {
		if hook, ok := b.hooks[key]; ok {
			hook(r)
		}
	}
}

func containsHandle(set []entity.Handle, h entity.Handle) bool {
	for _, candidate := range set {
		if candidate == h {
			return true
		}
	}
	return false
}
