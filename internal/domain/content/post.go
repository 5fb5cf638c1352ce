package content

import (
	"time"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// Post is the aggregate root for a single unit of generated content and its
// publishing state. All mutations go through methods that enforce the
// lifecycle state machine; repositories persist the result under optimistic
// concurrency using the version counter.
type Post struct {
	id      uuid.UUID
	ownerID uuid.UUID

	// Payload; mutable only while the post is a draft.
	body        string
	contentType string
	hashtags    []string

	status PostStatus

	// Scheduling state. schedulerJobID is present iff status is SCHEDULED.
	scheduledAt    *time.Time
	schedulerJobID *uuid.UUID

	// Publication state. publishedAt and linkedinPostID are set together,
	// exactly once.
	publishedAt    *time.Time
	linkedinPostID *string

	// Most recent publish failure; retained until the next attempt resolves it.
	failureReason *string
	lastFailedAt  *time.Time

	// viralityScore is written only by the background enrichment path.
	viralityScore *float64

	// version increments by exactly 1 per committed mutation.
	version int64

	timeline     *Timeline
	timeProvider TimeProvider
}

// NewPost creates a new draft post owned by the given account.
func NewPost(ownerID uuid.UUID, body, contentType string, hashtags []string, tp TimeProvider) *Post {
	if tp == nil {
		tp = &realTimeProvider{}
	}
	return &Post{
		id:           uuid.New(),
		ownerID:      ownerID,
		body:         body,
		contentType:  contentType,
		hashtags:     append([]string(nil), hashtags...),
		status:       PostStatusDraft,
		version:      1,
		timeline:     NewTimeline(tp),
		timeProvider: tp,
	}
}

// ReconstructPost creates a Post instance from stored fields, bypassing
// creation invariants. This should only be used by repositories when loading
// from the DB.
func ReconstructPost(
	id, ownerID uuid.UUID,
	body, contentType string,
	hashtags []string,
	status PostStatus,
	scheduledAt *time.Time,
	schedulerJobID *uuid.UUID,
	publishedAt *time.Time,
	linkedinPostID *string,
	failureReason *string,
	lastFailedAt *time.Time,
	viralityScore *float64,
	version int64,
	timeline *Timeline,
) *Post {
	return &Post{
		id:             id,
		ownerID:        ownerID,
		body:           body,
		contentType:    contentType,
		hashtags:       hashtags,
		status:         status,
		scheduledAt:    scheduledAt,
		schedulerJobID: schedulerJobID,
		publishedAt:    publishedAt,
		linkedinPostID: linkedinPostID,
		failureReason:  failureReason,
		lastFailedAt:   lastFailedAt,
		viralityScore:  viralityScore,
		version:        version,
		timeline:       timeline,
		timeProvider:   &realTimeProvider{},
	}
}

// ID returns the unique identifier for this post.
func (p *Post) ID() uuid.UUID { return p.id }

// OwnerID returns the identifier of the owning account.
func (p *Post) OwnerID() uuid.UUID { return p.ownerID }

// Body returns the post's text content.
func (p *Post) Body() string { return p.body }

// ContentType returns the content category (e.g. "thought_leadership").
func (p *Post) ContentType() string { return p.contentType }

// Hashtags returns the post's hashtags.
func (p *Post) Hashtags() []string { return p.hashtags }

// Status returns the current lifecycle status.
func (p *Post) Status() PostStatus { return p.status }

// ScheduledAt returns the due time set by the most recent schedule request.
func (p *Post) ScheduledAt() *time.Time { return p.scheduledAt }

// SchedulerJobID returns the handle of the in-flight scheduler job, present
// iff the post is SCHEDULED.
func (p *Post) SchedulerJobID() *uuid.UUID { return p.schedulerJobID }

// PublishedAt returns when the post was published.
func (p *Post) PublishedAt() *time.Time { return p.publishedAt }

// LinkedInPostID returns the external identifier assigned on publish.
func (p *Post) LinkedInPostID() *string { return p.linkedinPostID }

// FailureReason returns the most recent publish failure reason.
func (p *Post) FailureReason() *string { return p.failureReason }

// LastFailedAt returns when the most recent publish attempt failed.
func (p *Post) LastFailedAt() *time.Time { return p.lastFailedAt }

// ViralityScore returns the derived score written by the enrichment runner.
func (p *Post) ViralityScore() *float64 { return p.viralityScore }

// Version returns the optimistic-concurrency counter.
func (p *Post) Version() int64 { return p.version }

// Timeline provides access to the post's creation and modification times.
func (p *Post) Timeline() *Timeline { return p.timeline }

// UpdateDraft replaces the post's payload. Only drafts can be edited; a
// scheduled post must be cancelled first and published posts are immutable.
func (p *Post) UpdateDraft(body, contentType string, hashtags []string) error {
	if err := p.status.mustBe(PostStatusDraft); err != nil {
		return err
	}
	p.body = body
	p.contentType = contentType
	p.hashtags = append([]string(nil), hashtags...)
	p.timeline.Touch()
	return nil
}

// Schedule transitions the post to SCHEDULED, recording the due time and the
// scheduler job handle. The caller validates that the due time is in the
// future before registering the job.
func (p *Post) Schedule(jobID uuid.UUID, at time.Time) error {
	if err := p.status.ValidateTransition(PostStatusScheduled); err != nil {
		return err
	}
	p.status = PostStatusScheduled
	p.scheduledAt = &at
	p.schedulerJobID = &jobID
	p.timeline.Touch()
	return nil
}

// CancelSchedule returns a SCHEDULED post to DRAFT, clearing the job handle
// and due time.
func (p *Post) CancelSchedule() error {
	if err := p.status.mustBe(PostStatusScheduled); err != nil {
		return err
	}
	p.status = PostStatusDraft
	p.scheduledAt = nil
	p.schedulerJobID = nil
	p.timeline.Touch()
	return nil
}

// MarkPublished transitions the post to PUBLISHED, recording the external
// post ID and publication time together and clearing any scheduling state or
// previous failure.
func (p *Post) MarkPublished(linkedinPostID string) error {
	if err := p.status.ValidateTransition(PostStatusPublished); err != nil {
		return err
	}
	now := p.timeProvider.Now()
	p.status = PostStatusPublished
	p.publishedAt = &now
	p.linkedinPostID = &linkedinPostID
	p.schedulerJobID = nil
	p.failureReason = nil
	p.lastFailedAt = nil
	p.timeline.Touch()
	return nil
}

// MarkPublishFailed transitions the post to PUBLISH_FAILED, retaining the
// failure reason and timestamp so a later manual retry can resolve it. The
// scheduler job handle is cleared: a failed post has no live job.
func (p *Post) MarkPublishFailed(reason string) error {
	if err := p.status.ValidateTransition(PostStatusPublishFailed); err != nil {
		return err
	}
	now := p.timeProvider.Now()
	p.status = PostStatusPublishFailed
	p.failureReason = &reason
	p.lastFailedAt = &now
	p.schedulerJobID = nil
	p.timeline.Touch()
	return nil
}

// IncrementVersion advances the optimistic-concurrency counter after a
// committed write. Repository use only.
func (p *Post) IncrementVersion() { p.version++ }
