package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the name of an event on the wire.
type Type string

const (
	TypeDebugMessage Type = "debug_message"
	TypeAddNode      Type = "add_node"
	TypeAddPort      Type = "add_port"
	TypeAddLink      Type = "add_link"
	TypeRemoveID     Type = "remove_id"

	// TypeFrontendReady is the only outbound event. It is emitted once, after
	// every inbound subscription is active.
	TypeFrontendReady Type = "frontend_ready"
)

// Inbound lists every event type the synchronizer subscribes to.
var Inbound = []Type{
	TypeDebugMessage,
	TypeAddNode,
	TypeAddPort,
	TypeAddLink,
	TypeRemoveID,
}

var (
	// ErrUnknownType is returned when an envelope names a type outside the
	// vocabulary.
	ErrUnknownType = errors.New("unknown event type")
	// ErrInvalidPayload marks a payload that does not decode, lacks a
	// required field or carries a value outside the vocabulary.
	ErrInvalidPayload = errors.New("invalid payload")
)

// IsInbound reports whether t is one of the inbound types.
func IsInbound(t Type) bool {
	for _, in := range Inbound {
		if in == t {
			return true
		}
	}
	return false
}

// Event is the envelope carried by every transport. Seq and TsIngest are
// stamped by the receiving side and are zero on the wire.
type Event struct {
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Seq      uint64          `json:"seq,omitempty"`
	TsIngest time.Time       `json:"ts_ingest,omitzero"`
}

// New builds an envelope around payload.
func New(t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data}, nil
}

// MustNew is New for payloads that cannot fail to encode.
func MustNew(t Type, payload any) Event {
	evt, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the payload into v. Payload types that list required
// fields are rejected when one of them is absent or null.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrInvalidPayload, e.Type)
	}
	if r, ok := v.(requirer); ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			return fmt.Errorf("%w: failed to unmarshal %s payload: %w", ErrInvalidPayload, e.Type, err)
		}
		if fields == nil {
			return fmt.Errorf("%w: null %s payload", ErrInvalidPayload, e.Type)
		}
		for _, key := range r.required() {
			if raw, ok := fields[key]; !ok || string(raw) == "null" {
				return fmt.Errorf("%w: %s payload is missing %q", ErrInvalidPayload, e.Type, key)
			}
		}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s payload: %w", ErrInvalidPayload, e.Type, err)
	}
	return nil
}

// Ready returns the outbound readiness signal.
func Ready() Event {
	return Event{Type: TypeFrontendReady, Payload: json.RawMessage(`{}`)}
}
