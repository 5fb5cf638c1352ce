package events

import "time"

// DomainEvent is implemented by all events that describe something that
// happened inside the domain. Concrete event types live alongside the
// aggregates they describe (e.g. content.PostPublishedEvent).
type DomainEvent interface {
	// EventType identifies the category of this event for routing and handling.
	EventType() EventType

	// OccurredAt records when the event happened, enabling temporal tracking
	// and debugging of event flows.
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with transport-level metadata as it
// crosses the messaging boundary.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a post ID that events can be partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this envelope was created.
	Timestamp time.Time

	// Payload contains the actual domain event.
	Payload any
}
