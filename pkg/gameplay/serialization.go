package gameplay

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Scalar fields are stored as individual hash fields so they stay readable with
// redis-cli. Payloads, the instigator and the snapshot history are JSON-encoded
// into single fields.

// ActivityStateToHash converts an ActivityState to a Redis hash format.
func ActivityStateToHash(a *ActivityState) (map[string]interface{}, error) {
	activationContextJSON, err := json.Marshal(a.ActivationContext)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activation_context: %w", err)
	}

	endingContextJSON, err := json.Marshal(a.EndingContext)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ending_context: %w", err)
	}

	history := a.SnapshotHistory
	if history == nil {
		history = []Snapshot{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot_history: %w", err)
	}

	hash := map[string]interface{}{
		"id":                   a.ID.String(),
		"class":                string(a.Class),
		"status":               string(a.Status),
		"activation_policy":    string(a.ActivationPolicy),
		"activation_timestamp": strconv.FormatFloat(a.ActivationTimestamp, 'g', -1, 64),
		"end_timestamp":        strconv.FormatFloat(a.EndTimestamp, 'g', -1, 64),
		"activation_context":   string(activationContextJSON),
		"ending_context":       string(endingContextJSON),
		"snapshot_history":     string(historyJSON),
		"instigator":           "",
	}

	if a.Instigator != nil {
		instigatorJSON, err := json.Marshal(a.Instigator)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal instigator: %w", err)
		}
		hash["instigator"] = string(instigatorJSON)
	}

	return hash, nil
}

// HashToActivityState converts a Redis hash to an ActivityState.
func HashToActivityState(hash map[string]string) (*ActivityState, error) {
	id, err := uuid.Parse(hash["id"])
	if err != nil {
		return nil, fmt.Errorf("invalid id field: %w", err)
	}

	activationTimestamp, err := strconv.ParseFloat(hash["activation_timestamp"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid activation_timestamp field: %w", err)
	}

	// Older hashes predate end_timestamp.
	endTimestamp, _ := strconv.ParseFloat(hash["end_timestamp"], 64)

	var activationContext Payload
	if raw := hash["activation_context"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &activationContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activation_context: %w", err)
		}
	}

	var endingContext Payload
	if raw := hash["ending_context"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &endingContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ending_context: %w", err)
		}
	}

	var history []Snapshot
	if raw := hash["snapshot_history"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot_history: %w", err)
		}
	}
	if history == nil {
		history = []Snapshot{}
	}

	var instigator *EntityRef
	if raw := hash["instigator"]; raw != "" {
		instigator = &EntityRef{}
		if err := json.Unmarshal([]byte(raw), instigator); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instigator: %w", err)
		}
	}

	state := &ActivityState{
		ID:                  id,
		Class:               Tag(hash["class"]),
		Status:              Status(hash["status"]),
		ActivationPolicy:    ActivationPolicy(hash["activation_policy"]),
		ActivationTimestamp: activationTimestamp,
		EndTimestamp:        endTimestamp,
		ActivationContext:   activationContext,
		EndingContext:       endingContext,
		Instigator:          instigator,
		SnapshotHistory:     history,
	}

	return state, nil
}
