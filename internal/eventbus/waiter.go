package eventbus

import (
	"github.com/google/uuid"

	"github.com/dyluth/augur/internal/entity"
	"github.com/dyluth/augur/pkg/gameplay"
)

// Waiter is a one-shot wait on the next matching event.
// It finishes when its subscription fires, or when the subscription is removed
// for any other reason (explicit cancel, dead listener).
type Waiter struct {
	bus      *Bus
	id       uuid.UUID
	done     bool
	received bool
	envelope gameplay.EventEnvelope
	onDone   func(env *gameplay.EventEnvelope, received bool)
	unhook   func()
}

// WaitFor subscribes a trigger-once listener and calls onDone exactly once.
// received is false when the wait ended without an event. onDone may be nil.
func WaitFor(bus *Bus, listener entity.Handle, onDone func(env *gameplay.EventEnvelope, received bool), opts ...ListenOption) *Waiter {
	w := &Waiter{bus: bus, onDone: onDone}

	opts = append(opts, TriggerOnce())
	w.id = bus.Listen(listener, w.capture, opts...)
	if w.id == uuid.Nil {
		w.finish(false)
		return w
	}

	w.unhook = bus.OnSubscriptionRemoved(func(r Removal) {
		if r.ID != w.id {
			return
		}
		w.finish(r.Reason == ReasonFired)
	})
	return w
}

func (w *Waiter) capture(env *gameplay.EventEnvelope) {
	w.envelope = *env
}

func (w *Waiter) finish(received bool) {
	if w.done {
		return
	}
	w.done = true
	w.received = received
	if w.unhook != nil {
		w.unhook()
	}
	if w.onDone == nil {
		return
	}
	if received {
		w.onDone(&w.envelope, true)
		return
	}
	w.onDone(nil, false)
}

// Cancel stops waiting. onDone is called with received=false if the wait was pending.
func (w *Waiter) Cancel() {
	if w.done {
		return
	}
	w.bus.Unsubscribe(w.id)
}

// Done reports whether the wait has finished.
func (w *Waiter) Done() bool {
	return w.done
}

// Envelope returns the received event, if any.
func (w *Waiter) Envelope() (gameplay.EventEnvelope, bool) {
	return w.envelope, w.received
}
