package content

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now().UTC() }

// NewRealTimeProvider returns a TimeProvider backed by the wall clock.
func NewRealTimeProvider() TimeProvider { return &realTimeProvider{} }

// Timeline tracks temporal aspects of a post's record.
type Timeline struct {
	createdAt    time.Time
	updatedAt    time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	now := timeProvider.Now()
	return &Timeline{
		createdAt:    now,
		updatedAt:    now,
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline creates a Timeline from stored timestamps.
// This should only be used by repositories when loading from the DB.
func ReconstructTimeline(createdAt, updatedAt time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		updatedAt:    updatedAt,
		timeProvider: &realTimeProvider{},
	}
}

// CreatedAt returns the time the post record was created.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// UpdatedAt returns the time the post record was last modified.
func (t *Timeline) UpdatedAt() time.Time { return t.updatedAt }

// Touch updates the last-modified timestamp.
func (t *Timeline) Touch() { t.updatedAt = t.timeProvider.Now() }
