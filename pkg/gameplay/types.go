package gameplay

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the network role of a node.
type Role string

const (
	// RoleServer is the authoritative node. There is exactly one per instance.
	RoleServer Role = "server"

	// RoleClient is a non-authoritative node that predicts and reconciles.
	RoleClient Role = "client"
)

// Validate checks if the Role is a valid enum value.
func (r Role) Validate() error {
	switch r {
	case RoleServer, RoleClient:
		return nil
	default:
		return fmt.Errorf("unknown role: %q", r)
	}
}

// EntityRef identifies an entity across nodes.
// Owner is the id of the client that owns the entity ("" for server-owned entities).
type EntityRef struct {
	ID    string `json:"id"`              // Network-stable entity id
	Owner string `json:"owner,omitempty"` // Owning client id
}

// Validate checks the reference has an id.
func (r EntityRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	return nil
}

// EventEnvelope is one published event. A fresh envelope is created for every
// publish; the id is kept when a dispatcher forwards the event to another node.
type EventEnvelope struct {
	ID        uuid.UUID  `json:"id"`                   // Unique per logical send
	EventTag  Tag        `json:"event_tag"`            // What happened
	DomainTag Tag        `json:"domain_tag,omitempty"` // Secondary classification (e.g. originating side)
	Payload   Payload    `json:"payload"`              // Event data
	Sender    *EntityRef `json:"sender,omitempty"`     // Entity that emitted the event
}

// Validate checks if the EventEnvelope has valid field values.
func (e *EventEnvelope) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("invalid event id: nil UUID")
	}

	if err := e.EventTag.Validate(); err != nil {
		return fmt.Errorf("invalid event tag: %w", err)
	}

	if e.DomainTag != EmptyTag {
		if err := e.DomainTag.Validate(); err != nil {
			return fmt.Errorf("invalid domain tag: %w", err)
		}
	}

	if e.Sender != nil {
		if err := e.Sender.Validate(); err != nil {
			return fmt.Errorf("invalid sender: %w", err)
		}
	}

	return nil
}

// ReplicationPolicy decides which network legs an event send executes.
type ReplicationPolicy string

const (
	// NoReplication publishes on the calling node only.
	NoReplication ReplicationPolicy = "no_replication"

	// ClientToServer publishes on the client and on the server.
	ClientToServer ReplicationPolicy = "client_to_server"

	// ServerToClient publishes on the server and on the owning client.
	ServerToClient ReplicationPolicy = "server_to_client"

	// ServerToClientPredicted lets a client ask the server to run a ServerToClient send.
	ServerToClientPredicted ReplicationPolicy = "server_to_client_predicted"

	// ServerToAll publishes on the server and every client.
	ServerToAll ReplicationPolicy = "server_to_all"

	// ServerToAllPredicted is ServerToAll that a client may originate and predict locally.
	ServerToAllPredicted ReplicationPolicy = "server_to_all_predicted"
)

// Validate checks if the ReplicationPolicy is a valid enum value.
func (p ReplicationPolicy) Validate() error {
	switch p {
	case NoReplication, ClientToServer, ServerToClient, ServerToClientPredicted,
		ServerToAll, ServerToAllPredicted:
		return nil
	default:
		return fmt.Errorf("unknown replication policy: %q", p)
	}
}

// ActivationPolicy decides where an activity runs and who may start it.
type ActivationPolicy string

const (
	// LocalOnly activities run on the calling node and never cross the network.
	LocalOnly ActivationPolicy = "local_only"

	// ClientOnly activities run on clients only.
	ClientOnly ActivationPolicy = "client_only"

	// ServerOnly activities run on the server only.
	ServerOnly ActivationPolicy = "server_only"

	// ClientPredicted activities run on the client immediately and on the server independently.
	ClientPredicted ActivationPolicy = "client_predicted"

	// ServerInitiatedFromClient activities are requested by a client and run on the server only.
	ServerInitiatedFromClient ActivationPolicy = "server_initiated_from_client"

	// ServerInitiated activities start on the server and are mirrored by the owning client.
	ServerInitiated ActivationPolicy = "server_initiated"
)

// Validate checks if the ActivationPolicy is a valid enum value.
func (p ActivationPolicy) Validate() error {
	switch p {
	case LocalOnly, ClientOnly, ServerOnly, ClientPredicted,
		ServerInitiatedFromClient, ServerInitiated:
		return nil
	default:
		return fmt.Errorf("unknown activation policy: %q", p)
	}
}

// Replicated reports whether activities with this policy have an authoritative
// copy that is replicated to clients.
func (p ActivationPolicy) Replicated() bool {
	switch p {
	case ClientPredicted, ServerInitiatedFromClient, ServerInitiated:
		return true
	default:
		return false
	}
}

// Predicted reports whether clients keep a predicted copy that must be reconciled.
func (p ActivationPolicy) Predicted() bool {
	return p == ClientPredicted || p == ServerInitiated
}

// Status is the lifecycle state of an activity instance.
type Status string

const (
	// StatusPreActivation is the state before activation checks complete.
	StatusPreActivation Status = "pre_activation"

	// StatusActivationSuccess is the running state.
	StatusActivationSuccess Status = "activation_success"

	// StatusActivationFailed is terminal: activation was rejected.
	StatusActivationFailed Status = "activation_failed"

	// StatusEnded is terminal: the activity finished normally.
	StatusEnded Status = "ended"

	// StatusCancelled is terminal: the activity was interrupted.
	StatusCancelled Status = "cancelled"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusPreActivation, StatusActivationSuccess, StatusActivationFailed,
		StatusEnded, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// IsActive reports whether the activity is running.
func (s Status) IsActive() bool {
	return s == StatusActivationSuccess
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusActivationFailed || s == StatusEnded || s == StatusCancelled
}

// CanTransition reports whether the state machine allows s -> next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPreActivation:
		return next == StatusActivationSuccess || next == StatusActivationFailed
	case StatusActivationSuccess:
		return next == StatusEnded || next == StatusCancelled
	default:
		return false
	}
}

// Snapshot is one recorded point-in-time state of an activity.
type Snapshot struct {
	SequenceNumber uint32  `json:"seq"`       // Strictly increasing within one ActivityState
	StateTag       Tag     `json:"state_tag"` // Which state this records, matched during reconciliation
	Timestamp      float64 `json:"timestamp"` // Node clock in seconds
	StateData      Payload `json:"state_data"`
	Resolved       bool    `json:"resolved"` // Set on predicted snapshots once reconciled
}

// Validate checks if the Snapshot has valid field values.
func (s *Snapshot) Validate() error {
	if s.SequenceNumber == 0 {
		return fmt.Errorf("invalid sequence number: must be >= 1")
	}
	if err := s.StateTag.Validate(); err != nil {
		return fmt.Errorf("invalid state tag: %w", err)
	}
	return nil
}

// ActivityState is the replicable state of one activity instance.
type ActivityState struct {
	ID                  uuid.UUID        `json:"id"`
	Class               Tag              `json:"class"`
	Status              Status           `json:"status"`
	ActivationPolicy    ActivationPolicy `json:"activation_policy"`
	ActivationTimestamp float64          `json:"activation_timestamp"`
	EndTimestamp        float64          `json:"end_timestamp,omitempty"`
	ActivationContext   Payload          `json:"activation_context"`
	EndingContext       Payload          `json:"ending_context"`
	Instigator          *EntityRef       `json:"instigator,omitempty"`
	SnapshotHistory     []Snapshot       `json:"snapshot_history"`
}

// Validate checks if the ActivityState has valid field values.
func (a *ActivityState) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("invalid activity id: nil UUID")
	}

	if err := a.Class.Validate(); err != nil {
		return fmt.Errorf("invalid activity class: %w", err)
	}

	if err := a.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if err := a.ActivationPolicy.Validate(); err != nil {
		return fmt.Errorf("invalid activation policy: %w", err)
	}

	var last uint32
	for i := range a.SnapshotHistory {
		snap := &a.SnapshotHistory[i]
		if err := snap.Validate(); err != nil {
			return fmt.Errorf("invalid snapshot at index %d: %w", i, err)
		}
		if snap.SequenceNumber <= last {
			return fmt.Errorf("snapshot sequence not increasing at index %d: %d after %d", i, snap.SequenceNumber, last)
		}
		last = snap.SequenceNumber
	}

	return nil
}

// LatestSnapshot returns the newest snapshot, if any.
func (a *ActivityState) LatestSnapshot() (Snapshot, bool) {
	if len(a.SnapshotHistory) == 0 {
		return Snapshot{}, false
	}
	return a.SnapshotHistory[len(a.SnapshotHistory)-1], true
}

// Clone returns a deep copy of the state.
func (a ActivityState) Clone() ActivityState {
	out := a
	out.ActivationContext = a.ActivationContext.Clone()
	out.EndingContext = a.EndingContext.Clone()
	if a.Instigator != nil {
		instigator := *a.Instigator
		out.Instigator = &instigator
	}
	if a.SnapshotHistory != nil {
		out.SnapshotHistory = make([]Snapshot, len(a.SnapshotHistory))
		for i, snap := range a.SnapshotHistory {
			snap.StateData = snap.StateData.Clone()
			out.SnapshotHistory[i] = snap
		}
	}
	return out
}
