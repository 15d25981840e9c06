// Package gameplay provides the type-safe Go definitions and Redis schema patterns
// shared by every augur node (the authoritative server and its clients).
//
// # Overview
//
// Augur lets many activities (abilities, attribute modifiers) run at the same time on
// a server and on clients that do not share memory. Clients start activities
// immediately and the server remains the single source of truth. Every value that
// crosses the network between nodes is defined here.
//
// # Core Concepts
//
// Tags are dot-separated hierarchical identifiers ("Ability.Melee.Heavy"). A tag
// matches another exactly or by "is-a" prefix: "Ability.Melee.Heavy" is-a
// "Ability.Melee". Tags are interned through RequestTag.
//
// Payloads are type-tagged opaque values. Consumers check Payload.Type before
// decoding Payload.Data.
//
// EventEnvelopes carry one published event between subsystems and nodes.
//
// ActivityStates describe one running activity instance together with its bounded
// Snapshot history. The authoritative copy lives on the server and is replicated to
// clients as add/change/remove Deltas; predicted copies never leave the client.
//
// Messages are the unit a transport moves between nodes.
//
// # Redis Schema
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so several
// augur instances can share one Redis server.
//
// Activity states: augur:{instance_name}:activity:{activity_id}
// Activity index:  augur:{instance_name}:activities
//
// Server calls:    augur:{instance_name}:server_calls
// Client calls:    augur:{instance_name}:client:{client_id}:calls
// Broadcasts:      augur:{instance_name}:broadcast
//
// # Usage Example
//
//	tag := gameplay.MustTag("Ability.Melee.Heavy")
//	payload, err := gameplay.NewPayload("melee.swing", swing)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	env := gameplay.EventEnvelope{
//		ID:       uuid.New(),
//		EventTag: tag,
//		Payload:  payload,
//	}
//	if err := env.Validate(); err != nil {
//		log.Fatal(err)
//	}
package gameplay
