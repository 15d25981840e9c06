package gameplay

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageKind identifies what a Message carries.
type MessageKind string

const (
	// MessageEvent carries one leg of a replicated event send.
	MessageEvent MessageKind = "event"

	// MessageActivate carries an activation request (client -> server) or order (server -> client).
	MessageActivate MessageKind = "activate"

	// MessageCancel carries a cancellation request for a replicated activity.
	MessageCancel MessageKind = "cancel"

	// MessageDeltas carries a batch of authoritative activity state deltas.
	MessageDeltas MessageKind = "deltas"
)

// Validate checks if the MessageKind is a valid enum value.
func (k MessageKind) Validate() error {
	switch k {
	case MessageEvent, MessageActivate, MessageCancel, MessageDeltas:
		return nil
	default:
		return fmt.Errorf("unknown message kind: %q", k)
	}
}

// ActivationRequest asks a node to activate an activity with a known id.
// The id is chosen by the originating node so predicted and authoritative copies share it.
type ActivationRequest struct {
	ActivityID uuid.UUID        `json:"activity_id"`
	Class      Tag              `json:"class"`
	Policy     ActivationPolicy `json:"policy"`
	Context    Payload          `json:"context"`
	Instigator *EntityRef       `json:"instigator,omitempty"`
}

// CancelRequest asks the server to cancel its authoritative copy.
type CancelRequest struct {
	ActivityID uuid.UUID `json:"activity_id"`
	Context    Payload   `json:"context"`
}

// DeltaKind is the per-element change recorded by a replicated collection.
type DeltaKind string

const (
	// DeltaAdded means the element is new to the collection.
	DeltaAdded DeltaKind = "added"

	// DeltaChanged means an existing element was modified.
	DeltaChanged DeltaKind = "changed"

	// DeltaRemoved means the element left the collection.
	DeltaRemoved DeltaKind = "removed"
)

// Validate checks if the DeltaKind is a valid enum value.
func (k DeltaKind) Validate() error {
	switch k {
	case DeltaAdded, DeltaChanged, DeltaRemoved:
		return nil
	default:
		return fmt.Errorf("unknown delta kind: %q", k)
	}
}

// Delta is one element change of the authoritative activity collection.
type Delta struct {
	Kind  DeltaKind     `json:"kind"`
	State ActivityState `json:"state"`
}

// Message is the unit a transport moves between nodes.
type Message struct {
	ID         uuid.UUID          `json:"id"`
	Kind       MessageKind        `json:"kind"`
	From       string             `json:"from,omitempty"`   // Originating client id, empty for the server
	Policy     ReplicationPolicy  `json:"policy,omitempty"` // Event messages only
	Predicted  bool               `json:"predicted,omitempty"`
	Event      *EventEnvelope     `json:"event,omitempty"`
	Activation *ActivationRequest `json:"activation,omitempty"`
	Cancel     *CancelRequest     `json:"cancel,omitempty"`
	Deltas     []Delta            `json:"deltas,omitempty"`
}

// Validate checks the message carries the body its kind requires.
func (m *Message) Validate() error {
	if err := m.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch m.Kind {
	case MessageEvent:
		if m.Event == nil {
			return fmt.Errorf("event message without event")
		}
		if err := m.Event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
		if err := m.Policy.Validate(); err != nil {
			return fmt.Errorf("invalid event policy: %w", err)
		}
	case MessageActivate:
		if m.Activation == nil {
			return fmt.Errorf("activate message without activation request")
		}
		if m.Activation.ActivityID == uuid.Nil {
			return fmt.Errorf("activation request with nil activity id")
		}
		if err := m.Activation.Class.Validate(); err != nil {
			return fmt.Errorf("invalid activation class: %w", err)
		}
		if err := m.Activation.Policy.Validate(); err != nil {
			return fmt.Errorf("invalid activation policy: %w", err)
		}
	case MessageCancel:
		if m.Cancel == nil || m.Cancel.ActivityID == uuid.Nil {
			return fmt.Errorf("cancel message without activity id")
		}
	case MessageDeltas:
		for i := range m.Deltas {
			if err := m.Deltas[i].Kind.Validate(); err != nil {
				return fmt.Errorf("invalid delta at index %d: %w", i, err)
			}
		}
	}

	return nil
}
