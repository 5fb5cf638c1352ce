// Package lifecycle implements the controller that enforces the post state
// machine. Every state-changing operation executes under a per-post mutex, so
// schedule requests, manual publishes, and scheduler fires for the same post
// are totally ordered; operations on different posts run concurrently.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/pkg/common/logger"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

// SchedulingEngine is the slice of the engine the controller needs: job
// registration and cancellation. Firing flows the other way, through
// HandleJobFired.
type SchedulingEngine interface {
	// Schedule registers a job for the post and returns its reference.
	Schedule(ctx context.Context, postID uuid.UUID, at time.Time) (uuid.UUID, error)
	// Cancel marks a job cancelled; idempotent.
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// Enricher accepts fire-and-forget enrichment work. The controller never
// waits on it.
type Enricher interface {
	Enqueue(postID uuid.UUID, body string)
}

// Config carries the controller's tunables.
type Config struct {
	// PublishTimeout bounds each Publisher Gateway call. A timed-out publish
	// is a failed publish, not an indeterminate state.
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	return c
}

// Service coordinates the post lifecycle: it validates transitions, registers
// and cancels scheduler jobs, performs publish attempts through the Publisher
// Gateway, and hands enrichment work to the background runner.
type Service struct {
	cfg Config

	posts     content.PostRepository
	creds     content.CredentialStore
	publisher content.PublisherGateway
	engine    SchedulingEngine
	enricher  Enricher

	eventPublisher events.DomainEventPublisher

	locks        *keyedMutex
	timeProvider content.TimeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService returns a Service with the necessary dependencies for managing
// the post lifecycle. The enricher may be nil, in which case creation and
// edits simply skip enrichment.
func NewService(
	cfg Config,
	posts content.PostRepository,
	creds content.CredentialStore,
	publisher content.PublisherGateway,
	engine SchedulingEngine,
	enricher Enricher,
	eventPublisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	logger = logger.With("component", "lifecycle_service")
	return &Service{
		cfg:            cfg.withDefaults(),
		posts:          posts,
		creds:          creds,
		publisher:      publisher,
		engine:         engine,
		enricher:       enricher,
		eventPublisher: eventPublisher,
		locks:          newKeyedMutex(),
		timeProvider:   content.NewRealTimeProvider(),
		logger:         logger,
		tracer:         tracer,
	}
}

// CreateDraft creates a new draft post and enqueues background enrichment for
// it. The enrichment runs after this call returns and never blocks it.
func (s *Service) CreateDraft(
	ctx context.Context,
	ownerID uuid.UUID,
	body, contentType string,
	hashtags []string,
) (*content.Post, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.create_draft",
		trace.WithAttributes(attribute.String("owner_id", ownerID.String())),
	)
	defer span.End()

	post := content.NewPost(ownerID, body, contentType, hashtags, s.timeProvider)
	if err := s.posts.Create(ctx, post); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create post")
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	span.AddEvent("post_created", trace.WithAttributes(attribute.String("post_id", post.ID().String())))
	span.SetStatus(codes.Ok, "post created")

	if s.enricher != nil {
		s.enricher.Enqueue(post.ID(), post.Body())
	}

	s.logger.Debug(ctx, "Draft created", "post_id", post.ID(), "owner_id", ownerID)
	return post, nil
}

// UpdateDraft replaces a draft's payload. Scheduled posts must be cancelled
// first; published posts are immutable. Edits re-enqueue enrichment since the
// previous score no longer describes the content.
func (s *Service) UpdateDraft(
	ctx context.Context,
	ownerID, postID uuid.UUID,
	body, contentType string,
	hashtags []string,
) (*content.Post, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.update_draft",
		trace.WithAttributes(attribute.String("post_id", postID.String())),
	)
	defer span.End()

	s.locks.Lock(postID)
	defer s.locks.Unlock(postID)

	post, err := s.posts.GetByID(ctx, ownerID, postID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load post")
		return nil, err
	}

	if err := post.UpdateDraft(body, contentType, hashtags); err != nil {
		span.SetStatus(codes.Error, "edit not legal in current status")
		return nil, err
	}

	if err := s.posts.Update(ctx, post); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist edit")
		return nil, fmt.Errorf("failed to persist draft edit (post_id: %s): %w", postID, err)
	}
	span.SetStatus(codes.Ok, "draft updated")

	if s.enricher != nil {
		s.enricher.Enqueue(post.ID(), post.Body())
	}
	return post, nil
}

// RequestSchedule registers the post for publication at the given time and
// transitions it to SCHEDULED. A zero time is the "now" sentinel for
// immediate execution; any other time must be in the future. The job is
// registered before the post transitions, and a registration failure leaves
// the post untouched: there is no partial scheduled state.
func (s *Service) RequestSchedule(
	ctx context.Context,
	ownerID, postID uuid.UUID,
	at time.Time,
) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.request_schedule",
		trace.WithAttributes(
			attribute.String("post_id", postID.String()),
			attribute.String("at", at.String()),
		),
	)
	defer span.End()

	now := s.timeProvider.Now()
	if !at.IsZero() && !at.After(now) {
		span.SetStatus(codes.Error, "schedule time not in the future")
		return uuid.Nil, content.ErrInvalidScheduleTime
	}

	s.locks.Lock(postID)
	defer s.locks.Unlock(postID)

	post, err := s.posts.GetByID(ctx, ownerID, postID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load post")
		return uuid.Nil, err
	}

	// Validate the transition before registering the job so an illegal
	// request leaves no orphan job behind.
	if err := post.Status().ValidateTransition(content.PostStatusScheduled); err != nil {
		span.SetStatus(codes.Error, "schedule not legal in current status")
		return uuid.Nil, err
	}

	jobID, err := s.engine.Schedule(ctx, postID, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to register job")
		return uuid.Nil, fmt.Errorf("failed to register scheduler job (post_id: %s): %w", postID, err)
	}
	span.AddEvent("job_registered", trace.WithAttributes(attribute.String("job_id", jobID.String())))

	effectiveAt := at
	if effectiveAt.IsZero() {
		effectiveAt = now
	}

	if err := post.Schedule(jobID, effectiveAt); err != nil {
		// Compensate: the job was registered but the post cannot move.
		if cancelErr := s.engine.Cancel(ctx, jobID); cancelErr != nil {
			s.logger.Error(ctx, "Failed to cancel orphaned job", "job_id", jobID, "error", cancelErr)
		}
		span.SetStatus(codes.Error, "transition rejected")
		return uuid.Nil, err
	}

	if err := s.posts.Update(ctx, post); err != nil {
		if cancelErr := s.engine.Cancel(ctx, jobID); cancelErr != nil {
			s.logger.Error(ctx, "Failed to cancel orphaned job", "job_id", jobID, "error", cancelErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist scheduled post")
		return uuid.Nil, fmt.Errorf("failed to persist scheduled post (post_id: %s): %w", postID, err)
	}
	span.SetStatus(codes.Ok, "post scheduled")

	s.publishEvent(ctx, content.NewPostScheduledEvent(postID, ownerID, jobID, effectiveAt), postID)
	s.logger.Debug(ctx, "Post scheduled", "post_id", postID, "job_id", jobID, "due_at", effectiveAt)
	return jobID, nil
}

// CancelSchedule returns a SCHEDULED post to DRAFT, cancelling its job. The
// cancel is idempotent at the engine; a near-simultaneous fire is discarded
// by HandleJobFired's status guard.
func (s *Service) CancelSchedule(ctx context.Context, ownerID, postID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.cancel_schedule",
		trace.WithAttributes(attribute.String("post_id", postID.String())),
	)
	defer span.End()

	s.locks.Lock(postID)
	defer s.locks.Unlock(postID)

	post, err := s.posts.GetByID(ctx, ownerID, postID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load post")
		return err
	}

	jobID := post.SchedulerJobID()
	if err := post.CancelSchedule(); err != nil {
		span.SetStatus(codes.Error, "cancel not legal in current status")
		return err
	}

	if err := s.engine.Cancel(ctx, *jobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel job")
		return fmt.Errorf("failed to cancel scheduler job (job_id: %s): %w", *jobID, err)
	}
	span.AddEvent("job_cancelled")

	if err := s.posts.Update(ctx, post); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist cancellation")
		return fmt.Errorf("failed to persist schedule cancellation (post_id: %s): %w", postID, err)
	}
	span.SetStatus(codes.Ok, "schedule cancelled")

	s.publishEvent(ctx, content.NewPostScheduleCancelledEvent(postID, ownerID, *jobID), postID)
	s.logger.Debug(ctx, "Schedule cancelled", "post_id", postID, "job_id", *jobID)
	return nil
}

// PublishNow attempts an immediate publish. Legal from DRAFT and
// PUBLISH_FAILED; a SCHEDULED post must be cancelled first. A gateway failure
// transitions the post to PUBLISH_FAILED and surfaces a PublishError; the
// core never retries automatically.
func (s *Service) PublishNow(ctx context.Context, ownerID, postID uuid.UUID) (string, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.publish_now",
		trace.WithAttributes(attribute.String("post_id", postID.String())),
	)
	defer span.End()

	s.locks.Lock(postID)
	defer s.locks.Unlock(postID)

	post, err := s.posts.GetByID(ctx, ownerID, postID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load post")
		return "", err
	}

	if post.Status() == content.PostStatusScheduled {
		span.SetStatus(codes.Error, "post is scheduled")
		return "", &content.InvalidStateTransitionError{
			From:   post.Status(),
			Reason: "scheduled post must be cancelled before publishing manually",
		}
	}
	if err := post.Status().ValidateTransition(content.PostStatusPublished); err != nil {
		span.SetStatus(codes.Error, "publish not legal in current status")
		return "", err
	}

	cred, err := s.creds.Credential(ctx, ownerID)
	if err != nil {
		// Missing credential is a caller error: the post does not move.
		span.SetStatus(codes.Error, "missing credential")
		return "", err
	}

	remoteID, pubErr := s.attemptPublish(ctx, post, cred)
	if pubErr != nil {
		return "", pubErr
	}
	span.SetStatus(codes.Ok, "post published")
	return remoteID, nil
}

// HandleJobFired is the Scheduling Engine's callback. It re-resolves the post
// by job reference; if the post is gone, no longer SCHEDULED, or carries a
// different job (cancel or edit raced the fire, or this is a duplicate fire
// after a restart), the fire is discarded with a log line. An error return is
// reserved for infrastructure failures the engine should retry.
func (s *Service) HandleJobFired(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle_service.handle_job_fired",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	// First resolve outside the lock to learn the post ID, then re-resolve
	// under the lock for a fresh view.
	post, err := s.posts.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, content.ErrPostNotFound) {
			span.AddEvent("fire_discarded_no_post")
			s.logger.Info(ctx, "Fire discarded; no post carries job", "job_id", jobID)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve post by job")
		return fmt.Errorf("failed to resolve post by job (job_id: %s): %w", jobID, err)
	}
	postID := post.ID()

	s.locks.Lock(postID)
	defer s.locks.Unlock(postID)

	post, err = s.posts.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, content.ErrPostNotFound) {
			span.AddEvent("fire_discarded_raced")
			s.logger.Info(ctx, "Fire discarded; schedule changed concurrently", "job_id", jobID)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to re-resolve post by job")
		return fmt.Errorf("failed to re-resolve post by job (job_id: %s): %w", jobID, err)
	}

	if post.Status() != content.PostStatusScheduled {
		span.AddEvent("fire_discarded_status", trace.WithAttributes(
			attribute.String("status", post.Status().String()),
		))
		s.logger.Info(ctx, "Fire discarded; post no longer scheduled",
			"job_id", jobID, "post_id", post.ID(), "status", post.Status())
		return nil
	}

	cred, err := s.creds.Credential(ctx, post.OwnerID())
	if err != nil {
		if errors.Is(err, content.ErrMissingCredential) {
			// The credential was revoked between scheduling and firing. The
			// attempt fails like any other publish failure so the post stays
			// retryable once the account reconnects.
			if _, pubErr := s.failPublish(ctx, post, uuid.New(), err.Error()); pubErr != nil {
				var publishErr *content.PublishError
				if !errors.As(pubErr, &publishErr) {
					return pubErr
				}
			}
			span.AddEvent("fire_failed_missing_credential")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve credential")
		return fmt.Errorf("failed to resolve credential (post_id: %s): %w", post.ID(), err)
	}

	if _, pubErr := s.attemptPublish(ctx, post, cred); pubErr != nil {
		var publishErr *content.PublishError
		if errors.As(pubErr, &publishErr) {
			// The failure is recorded on the post; the fire itself completed.
			span.AddEvent("fire_publish_failed")
			return nil
		}
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, "fire failed on infrastructure error")
		return pubErr
	}

	span.SetStatus(codes.Ok, "fired post published")
	return nil
}

// Get retrieves a post owned by the given account.
func (s *Service) Get(ctx context.Context, ownerID, postID uuid.UUID) (*content.Post, error) {
	return s.posts.GetByID(ctx, ownerID, postID)
}

// ListCalendarWindow returns the owner's scheduled and published posts whose
// scheduled time falls within [from, to].
func (s *Service) ListCalendarWindow(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*content.Post, error) {
	return s.posts.ListScheduledInWindow(ctx, ownerID, from, to)
}

// attemptPublish performs one publish attempt for a post the caller has
// already validated and locked. On gateway failure the post transitions to
// PUBLISH_FAILED and a *content.PublishError is returned; other errors are
// infrastructure failures.
func (s *Service) attemptPublish(ctx context.Context, post *content.Post, cred content.Credential) (string, error) {
	attemptID := uuid.New()

	gatewayCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	remoteID, err := s.publisher.Publish(gatewayCtx, cred, content.PublishRequest{
		Body:      post.Body(),
		Hashtags:  post.Hashtags(),
		AttemptID: attemptID,
	})
	if err != nil {
		return s.failPublish(ctx, post, attemptID, err.Error())
	}

	if err := post.MarkPublished(remoteID); err != nil {
		return "", err
	}
	if err := s.posts.Update(ctx, post); err != nil {
		return "", fmt.Errorf("failed to persist published post (post_id: %s): %w", post.ID(), err)
	}

	s.publishEvent(ctx,
		content.NewPostPublishedEvent(post.ID(), post.OwnerID(), remoteID, *post.PublishedAt()),
		post.ID(),
	)
	s.logger.Info(ctx, "Post published", "post_id", post.ID(), "linkedin_post_id", remoteID)
	return remoteID, nil
}

// failPublish records a failed attempt on the post and returns the
// *content.PublishError the caller surfaces or absorbs.
func (s *Service) failPublish(ctx context.Context, post *content.Post, attemptID uuid.UUID, reason string) (string, error) {
	if err := post.MarkPublishFailed(reason); err != nil {
		return "", err
	}
	if err := s.posts.Update(ctx, post); err != nil {
		return "", fmt.Errorf("failed to persist publish failure (post_id: %s): %w", post.ID(), err)
	}

	s.publishEvent(ctx,
		content.NewPostPublishFailedEvent(post.ID(), post.OwnerID(), attemptID, reason),
		post.ID(),
	)
	s.logger.Warn(ctx, "Publish attempt failed",
		"post_id", post.ID(), "attempt_id", attemptID, "reason", reason)

	return "", &content.PublishError{AttemptID: attemptID, Reason: reason}
}

// publishEvent emits a lifecycle event. Event delivery is best-effort: a
// broker outage must not fail an operation whose state change has already
// committed.
func (s *Service) publishEvent(ctx context.Context, evt events.DomainEvent, postID uuid.UUID) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.PublishDomainEvent(ctx, evt, events.WithKey(postID.String())); err != nil {
		s.logger.Error(ctx, "Failed to publish lifecycle event",
			"event_type", evt.EventType(), "post_id", postID, "error", err)
	}
}
