package content

import (
	"time"

	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

// Event types relevant to the post lifecycle:
const (
	EventTypePostScheduled      events.EventType = "PostScheduled"
	EventTypePostScheduleCancel events.EventType = "PostScheduleCancelled"
	EventTypePostPublished      events.EventType = "PostPublished"
	EventTypePostPublishFailed  events.EventType = "PostPublishFailed"
	EventTypePostScoreUpdated   events.EventType = "PostScoreUpdated"
)

// PostScheduledEvent signals that a post was registered for future publication.
type PostScheduledEvent struct {
	occurredAt  time.Time
	PostID      uuid.UUID
	OwnerID     uuid.UUID
	JobID       uuid.UUID
	ScheduledAt time.Time
}

// NewPostScheduledEvent creates a new post scheduled event.
func NewPostScheduledEvent(postID, ownerID, jobID uuid.UUID, scheduledAt time.Time) PostScheduledEvent {
	return PostScheduledEvent{
		occurredAt:  time.Now(),
		PostID:      postID,
		OwnerID:     ownerID,
		JobID:       jobID,
		ScheduledAt: scheduledAt,
	}
}

func (e PostScheduledEvent) EventType() events.EventType { return EventTypePostScheduled }
func (e PostScheduledEvent) OccurredAt() time.Time       { return e.occurredAt }

// PostScheduleCancelledEvent signals that a scheduled post was returned to draft.
type PostScheduleCancelledEvent struct {
	occurredAt time.Time
	PostID     uuid.UUID
	OwnerID    uuid.UUID
	JobID      uuid.UUID
}

// NewPostScheduleCancelledEvent creates a new schedule cancelled event.
func NewPostScheduleCancelledEvent(postID, ownerID, jobID uuid.UUID) PostScheduleCancelledEvent {
	return PostScheduleCancelledEvent{
		occurredAt: time.Now(),
		PostID:     postID,
		OwnerID:    ownerID,
		JobID:      jobID,
	}
}

func (e PostScheduleCancelledEvent) EventType() events.EventType { return EventTypePostScheduleCancel }
func (e PostScheduleCancelledEvent) OccurredAt() time.Time       { return e.occurredAt }

// PostPublishedEvent signals that a post was delivered to the external network.
type PostPublishedEvent struct {
	occurredAt     time.Time
	PostID         uuid.UUID
	OwnerID        uuid.UUID
	LinkedInPostID string
	PublishedAt    time.Time
}

// NewPostPublishedEvent creates a new post published event.
func NewPostPublishedEvent(postID, ownerID uuid.UUID, linkedinPostID string, publishedAt time.Time) PostPublishedEvent {
	return PostPublishedEvent{
		occurredAt:     time.Now(),
		PostID:         postID,
		OwnerID:        ownerID,
		LinkedInPostID: linkedinPostID,
		PublishedAt:    publishedAt,
	}
}

func (e PostPublishedEvent) EventType() events.EventType { return EventTypePostPublished }
func (e PostPublishedEvent) OccurredAt() time.Time       { return e.occurredAt }

// PostPublishFailedEvent signals that a publish attempt failed. The post
// remains retryable.
type PostPublishFailedEvent struct {
	occurredAt time.Time
	PostID     uuid.UUID
	OwnerID    uuid.UUID
	AttemptID  uuid.UUID
	Reason     string
}

// NewPostPublishFailedEvent creates a new publish failed event.
func NewPostPublishFailedEvent(postID, ownerID, attemptID uuid.UUID, reason string) PostPublishFailedEvent {
	return PostPublishFailedEvent{
		occurredAt: time.Now(),
		PostID:     postID,
		OwnerID:    ownerID,
		AttemptID:  attemptID,
		Reason:     reason,
	}
}

func (e PostPublishFailedEvent) EventType() events.EventType { return EventTypePostPublishFailed }
func (e PostPublishFailedEvent) OccurredAt() time.Time       { return e.occurredAt }

// PostScoreUpdatedEvent signals that background enrichment wrote a new
// derived score for a post.
type PostScoreUpdatedEvent struct {
	occurredAt time.Time
	PostID     uuid.UUID
	Score      float64
}

// NewPostScoreUpdatedEvent creates a new score updated event.
func NewPostScoreUpdatedEvent(postID uuid.UUID, score float64) PostScoreUpdatedEvent {
	return PostScoreUpdatedEvent{
		occurredAt: time.Now(),
		PostID:     postID,
		Score:      score,
	}
}

func (e PostScoreUpdatedEvent) EventType() events.EventType { return EventTypePostScoreUpdated }
func (e PostScoreUpdatedEvent) OccurredAt() time.Time       { return e.occurredAt }
