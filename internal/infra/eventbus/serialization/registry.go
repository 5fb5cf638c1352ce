// Package serialization provides a registry-based system for serializing and
// deserializing domain events in the event bus infrastructure.
//
// The package implements a registry pattern where serialization and
// deserialization functions are registered per event type. This keeps the
// domain layer clean of wire-format concerns and lets new event types be added
// without touching the transport.
package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

// Global registries map event types to their serialization functions.
// This allows for dynamic dispatch based on event type at runtime.
var (
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	deserializerRegistry[eventType] = fn
}

// registerJSON wires both directions for a payload type using encoding/json.
func registerJSON[T any](eventType events.EventType) {
	RegisterSerializeFunc(eventType, func(payload any) ([]byte, error) {
		return json.Marshal(payload)
	})
	RegisterDeserializeFunc(eventType, func(data []byte) (any, error) {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	})
}

func init() {
	registerJSON[content.PostScheduledEvent](content.EventTypePostScheduled)
	registerJSON[content.PostScheduleCancelledEvent](content.EventTypePostScheduleCancel)
	registerJSON[content.PostPublishedEvent](content.EventTypePostPublished)
	registerJSON[content.PostPublishFailedEvent](content.EventTypePostPublishFailed)
	registerJSON[content.PostScoreUpdatedEvent](content.EventTypePostScoreUpdated)
}

// SerializePayload converts a domain object into bytes using the registered
// serializer for its event type.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	fn, ok := serializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for eventType=%s", eventType)
	}
	return fn(payload)
}

// DeserializePayload converts bytes back into a domain object using the
// registered deserializer for the event type.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	fn, ok := deserializerRegistry[eventType]
	if !ok {
		return nil, fmt.Errorf("no deserializer registered for eventType=%s", eventType)
	}
	return fn(data)
}

// universalEnvelope is the wire framing around every event payload. The outer
// type tag is what lets a consumer pick the right deserializer before it knows
// anything about the payload.
type universalEnvelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   json.RawMessage  `json:"payload"`
}

// SerializeEventEnvelope frames a payload with its event type for transport.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	payloadBytes, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(universalEnvelope{EventType: eventType, Payload: payloadBytes})
}

// UnmarshalUniversalEnvelope splits a framed message into its event type and
// raw payload bytes.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var env universalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if env.EventType == "" {
		return "", nil, fmt.Errorf("event envelope missing event type")
	}
	return env.EventType, env.Payload, nil
}
