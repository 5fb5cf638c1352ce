package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	appscheduling "github.com/ahrav/postflow/internal/app/scheduling"
	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/internal/domain/scheduling"
	contentmemory "github.com/ahrav/postflow/internal/infra/storage/content/memory"
	credsmemory "github.com/ahrav/postflow/internal/infra/storage/credentials/memory"
	schedmemory "github.com/ahrav/postflow/internal/infra/storage/scheduling/memory"
	"github.com/ahrav/postflow/pkg/common/logger"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, cred content.Credential, req content.PublishRequest) (string, error) {
	args := m.Called(ctx, cred, req)
	return args.String(0), args.Error(1)
}

type fakeEnricher struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (f *fakeEnricher) Enqueue(postID uuid.UUID, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, postID)
}

func (f *fakeEnricher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type capturingEventPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (c *capturingEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingEventPublisher) eventTypes() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]events.EventType, 0, len(c.events))
	for _, evt := range c.events {
		types = append(types, evt.EventType())
	}
	return types
}

type serviceHarness struct {
	svc       *Service
	posts     *contentmemory.PostStore
	jobs      *schedmemory.JobStore
	creds     *credsmemory.CredentialStore
	publisher *mockPublisher
	enricher  *fakeEnricher
	captured  *capturingEventPublisher
	ownerID   uuid.UUID
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	posts := contentmemory.NewPostStore()
	jobs := schedmemory.NewJobStore()
	creds := credsmemory.NewCredentialStore()
	publisher := new(mockPublisher)
	enricher := &fakeEnricher{}
	captured := &capturingEventPublisher{}

	noopLogger := logger.Noop()
	tracer := noop.NewTracerProvider().Tracer("test")

	var svc *Service
	engine := appscheduling.NewEngine(
		appscheduling.Config{PollInterval: time.Hour},
		jobs,
		func(ctx context.Context, jobID uuid.UUID) error { return svc.HandleJobFired(ctx, jobID) },
		noopLogger,
		tracer,
	)

	svc = NewService(Config{}, posts, creds, publisher, engine, enricher, captured, noopLogger, tracer)

	ownerID := uuid.New()
	creds.Put(ownerID, content.Credential{AccessToken: "token", MemberID: "member-1"})

	return &serviceHarness{
		svc:       svc,
		posts:     posts,
		jobs:      jobs,
		creds:     creds,
		publisher: publisher,
		enricher:  enricher,
		captured:  captured,
		ownerID:   ownerID,
	}
}

func (h *serviceHarness) createDraft(t *testing.T) *content.Post {
	t.Helper()
	post, err := h.svc.CreateDraft(context.Background(), h.ownerID, "Launch day!", "announcement", []string{"golang"})
	require.NoError(t, err)
	return post
}

func TestCreateDraft(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	assert.Equal(t, content.PostStatusDraft, post.Status())
	assert.Equal(t, int64(1), post.Version())
	assert.Equal(t, 1, h.enricher.count(), "creation should enqueue enrichment")

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, "Launch day!", stored.Body())
}

func TestGet_ScopedToOwner(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	_, err := h.svc.Get(context.Background(), uuid.New(), post.ID())
	require.ErrorIs(t, err, content.ErrPostNotFound, "another account must not see the post")
}

func TestUpdateDraft_PersistsAndReEnqueues(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	updated, err := h.svc.UpdateDraft(context.Background(), h.ownerID, post.ID(), "edited body", "casual", []string{"go"})
	require.NoError(t, err)
	assert.Equal(t, "edited body", updated.Body())
	assert.Equal(t, 2, h.enricher.count(), "edits should re-enqueue enrichment")

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, "edited body", stored.Body())
	assert.Equal(t, int64(2), stored.Version(), "committed edit should advance the version by one")
}

func TestUpdateDraft_RejectedWhileScheduled(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	_, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, err = h.svc.UpdateDraft(context.Background(), h.ownerID, post.ID(), "edited", "casual", nil)
	require.Error(t, err)
	assert.True(t, content.IsInvalidStateTransition(err))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, "Launch day!", stored.Body(), "rejected edit must leave the post unchanged")
}

func TestRequestSchedule(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)
	dueAt := time.Now().UTC().Add(2 * time.Hour)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), dueAt)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, jobID)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusScheduled, stored.Status())
	require.NotNil(t, stored.SchedulerJobID())
	assert.Equal(t, jobID, *stored.SchedulerJobID())

	job, err := h.jobs.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.JobStatusPending, job.Status())
	assert.Equal(t, dueAt, job.DueAt())

	assert.Contains(t, h.captured.eventTypes(), content.EventTypePostScheduled)
}

func TestRequestSchedule_PastTimeRejected(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	_, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Now().UTC().Add(-time.Minute))
	require.ErrorIs(t, err, content.ErrInvalidScheduleTime)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusDraft, stored.Status(), "rejected schedule must leave the post a draft")
}

func TestRequestSchedule_ConcurrentRequestsOneWins(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)
	dueAt := time.Now().UTC().Add(time.Hour)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), dueAt)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.True(t, content.IsInvalidStateTransition(err), "loser must fail on the state machine, got: %v", err)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one schedule request should win")
	assert.Equal(t, attempts-1, rejected)

	due, err := h.jobs.DueJobs(context.Background(), dueAt.Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Len(t, due, 1, "only the winner's job should remain pending")
}

func TestCancelSchedule(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, h.svc.CancelSchedule(context.Background(), h.ownerID, post.ID()))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusDraft, stored.Status())
	assert.Nil(t, stored.SchedulerJobID())

	job, err := h.jobs.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.JobStatusCancelled, job.Status())

	assert.Contains(t, h.captured.eventTypes(), content.EventTypePostScheduleCancel)
}

func TestCancelSchedule_OnlyFromScheduled(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	err := h.svc.CancelSchedule(context.Background(), h.ownerID, post.ID())
	require.Error(t, err)
	assert.True(t, content.IsInvalidStateTransition(err))
}

func TestPublishNow(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("urn:li:share:42", nil).Once()

	remoteID, err := h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:42", remoteID)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, stored.Status())
	require.NotNil(t, stored.LinkedInPostID())
	assert.Equal(t, "urn:li:share:42", *stored.LinkedInPostID())
	require.NotNil(t, stored.PublishedAt())

	// The gateway receives a fresh idempotency token per attempt.
	req := h.publisher.Calls[0].Arguments.Get(2).(content.PublishRequest)
	assert.NotEqual(t, uuid.Nil, req.AttemptID)

	assert.Contains(t, h.captured.eventTypes(), content.EventTypePostPublished)
	h.publisher.AssertExpectations(t)
}

func TestPublishNow_GatewayFailure(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("503 from network")).Once()

	_, err := h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.Error(t, err)
	var pubErr *content.PublishError
	require.ErrorAs(t, err, &pubErr)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublishFailed, stored.Status())
	require.NotNil(t, stored.FailureReason())
	assert.Contains(t, *stored.FailureReason(), "503")
	require.NotNil(t, stored.LastFailedAt())

	assert.Contains(t, h.captured.eventTypes(), content.EventTypePostPublishFailed)
}

func TestPublishNow_RetryAfterFailure(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("transient outage")).Once()
	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return("urn:li:share:77", nil).Once()

	_, err := h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.Error(t, err)

	remoteID, err := h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:77", remoteID)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, stored.Status())
	assert.Nil(t, stored.FailureReason(), "successful publish should clear the failure")
	assert.Nil(t, stored.LastFailedAt())
	h.publisher.AssertExpectations(t)
}

func TestPublishNow_RejectedWhileScheduled(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	_, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, err = h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.Error(t, err)
	assert.True(t, content.IsInvalidStateTransition(err))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusScheduled, stored.Status(), "rejected publish must not disturb the schedule")
	h.publisher.AssertNotCalled(t, "Publish")
}

func TestPublishNow_MissingCredential(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)
	h.creds.Revoke(h.ownerID)

	_, err := h.svc.PublishNow(context.Background(), h.ownerID, post.ID())
	require.ErrorIs(t, err, content.ErrMissingCredential)

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusDraft, stored.Status(), "missing credential must leave the post untouched")
	h.publisher.AssertNotCalled(t, "Publish")
}

func TestHandleJobFired(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("urn:li:share:9", nil).Once()

	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, stored.Status())
	h.publisher.AssertExpectations(t)
}

func TestHandleJobFired_DuplicateFireDiscarded(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("urn:li:share:9", nil).Once()

	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID))
	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID), "duplicate fire must be absorbed")

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, stored.Status())
	h.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestHandleJobFired_CancelRaceDiscarded(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.svc.CancelSchedule(context.Background(), h.ownerID, post.ID()))

	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID), "a fire for a cancelled schedule is discarded")

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusDraft, stored.Status())
	h.publisher.AssertNotCalled(t, "Publish")
}

func TestHandleJobFired_GatewayFailure(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("network rejected the post")).Once()

	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID),
		"a publish failure completes the fire; the post records it")

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublishFailed, stored.Status())
	require.NotNil(t, stored.FailureReason())
	assert.Contains(t, *stored.FailureReason(), "network rejected")
}

func TestHandleJobFired_CredentialRevokedBetweenScheduleAndFire(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)
	h.creds.Revoke(h.ownerID)

	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublishFailed, stored.Status())
	require.NotNil(t, stored.FailureReason())
	assert.Contains(t, *stored.FailureReason(), "not connected")
	h.publisher.AssertNotCalled(t, "Publish")
}

func TestListCalendarWindow(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	now := time.Now().UTC()

	inWindow := h.createDraft(t)
	_, err := h.svc.RequestSchedule(context.Background(), h.ownerID, inWindow.ID(), now.Add(2*time.Hour))
	require.NoError(t, err)

	outOfWindow := h.createDraft(t)
	_, err = h.svc.RequestSchedule(context.Background(), h.ownerID, outOfWindow.ID(), now.Add(72*time.Hour))
	require.NoError(t, err)

	h.createDraft(t) // unscheduled; never listed

	posts, err := h.svc.ListCalendarWindow(context.Background(), h.ownerID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, inWindow.ID(), posts[0].ID())
}

// TestScheduledLaunchLifecycle walks the full happy path: draft, schedule,
// fire, publish, and the calendar view reflecting each step.
func TestScheduledLaunchLifecycle(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t)
	post := h.createDraft(t)

	jobID, err := h.svc.RequestSchedule(context.Background(), h.ownerID, post.ID(), time.Time{})
	require.NoError(t, err)

	h.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return("urn:li:share:launch", nil).Once()
	require.NoError(t, h.svc.HandleJobFired(context.Background(), jobID))

	stored, err := h.svc.Get(context.Background(), h.ownerID, post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, stored.Status())

	scheduledAt := stored.ScheduledAt()
	require.NotNil(t, scheduledAt)
	posts, err := h.svc.ListCalendarWindow(context.Background(), h.ownerID,
		scheduledAt.Add(-time.Hour), scheduledAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, posts, 1, "published posts keep their calendar slot")
	assert.Equal(t, post.ID(), posts[0].ID())

	types := h.captured.eventTypes()
	assert.Contains(t, types, content.EventTypePostScheduled)
	assert.Contains(t, types, content.EventTypePostPublished)
}
