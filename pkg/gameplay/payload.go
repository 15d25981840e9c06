package gameplay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayloadType is returned when a payload is decoded as the wrong type.
var ErrPayloadType = errors.New("payload type mismatch")

// Payload is a type-tagged opaque value carried by events and snapshots.
// Type names the schema of Data; an empty Payload means "no payload".
type Payload struct {
	Type string          `json:"type,omitempty"` // Type descriptor, e.g. "melee.swing"
	Data json.RawMessage `json:"data,omitempty"` // JSON-encoded value of Type
}

// NewPayload encodes v as a payload of the given type.
func NewPayload(typeName string, v any) (Payload, error) {
	if typeName == "" {
		return Payload{}, fmt.Errorf("payload type cannot be empty")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal %s payload: %w", typeName, err)
	}

	return Payload{Type: typeName, Data: data}, nil
}

// MustPayload is NewPayload for values that always marshal. It panics on error.
func MustPayload(typeName string, v any) Payload {
	p, err := NewPayload(typeName, v)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether the payload is empty.
func (p Payload) IsZero() bool {
	return p.Type == "" && len(p.Data) == 0
}

// Is reports whether the payload carries the given type descriptor.
func (p Payload) Is(typeName string) bool {
	return p.Type == typeName
}

// Decode unmarshals Data into v after checking the type descriptor.
func (p Payload) Decode(typeName string, v any) error {
	if !p.Is(typeName) {
		return fmt.Errorf("%w: want %q, have %q", ErrPayloadType, typeName, p.Type)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("payload %q has no data", typeName)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", typeName, err)
	}
	return nil
}

// Clone returns a copy that does not share Data with p.
func (p Payload) Clone() Payload {
	if p.Data == nil {
		return p
	}
	data := make(json.RawMessage, len(p.Data))
	copy(data, p.Data)
	return Payload{Type: p.Type, Data: data}
}

// Equal reports whether both payloads have the same type and bytes.
func (p Payload) Equal(other Payload) bool {
	return p.Type == other.Type && string(p.Data) == string(other.Data)
}
