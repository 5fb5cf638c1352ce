// Package reliability provides utilities for determining the criticality of events
// within the event messaging system. Event criticality is a classification that helps
// establish appropriate handling, persistence, and delivery guarantees for different
// types of events.
package reliability

import (
	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
)

// IsCriticalEvent determines if an event type represents a message whose loss
// downstream consumers cannot recover from on their own.
//
// Critical events are terminal state changes or schedule mutations that:
// 1. Won't be naturally retransmitted by subsequent messages
// 2. Would leave downstream projections inconsistent if not processed
// 3. Represent important state transitions in the post lifecycle
//
// Score updates are advisory: the score lives on the post itself and the next
// enrichment pass re-emits it, so a dropped message is self-healing.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case content.EventTypePostPublished,
		content.EventTypePostPublishFailed:
		return true

	case content.EventTypePostScheduled,
		content.EventTypePostScheduleCancel:
		return true

	case content.EventTypePostScoreUpdated:
		return false

	default:
		return false
	}
}
