package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/infra/storage"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

func setupPostTest(t *testing.T) (context.Context, *postStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewPostStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, store, cleanup
}

func createTestPost(t *testing.T, ctx context.Context, store *postStore) *content.Post {
	t.Helper()
	post := content.NewPost(uuid.New(), "Launch day!", "announcement", []string{"golang", "shipit"}, nil)
	require.NoError(t, store.Create(ctx, post))
	return post
}

func TestPostStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)

	assert.Equal(t, post.ID(), loaded.ID())
	assert.Equal(t, post.OwnerID(), loaded.OwnerID())
	assert.Equal(t, "Launch day!", loaded.Body())
	assert.Equal(t, "announcement", loaded.ContentType())
	assert.Equal(t, []string{"golang", "shipit"}, loaded.Hashtags())
	assert.Equal(t, content.PostStatusDraft, loaded.Status())
	assert.Equal(t, int64(1), loaded.Version())
	assert.Nil(t, loaded.ViralityScore())
	assert.Nil(t, loaded.ScheduledAt())
}

func TestPostStore_GetByID_OwnerScoped(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	_, err := store.GetByID(ctx, uuid.New(), post.ID())
	require.ErrorIs(t, err, content.ErrPostNotFound, "another owner must not see the post")

	_, err = store.GetByID(ctx, post.OwnerID(), uuid.New())
	require.ErrorIs(t, err, content.ErrPostNotFound)
}

func TestPostStore_GetByJobID(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)
	jobID := uuid.New()

	require.NoError(t, post.Schedule(jobID, time.Now().UTC().Add(time.Hour)))
	require.NoError(t, store.Update(ctx, post))

	loaded, err := store.GetByJobID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, post.ID(), loaded.ID())
	assert.Equal(t, content.PostStatusScheduled, loaded.Status())

	_, err = store.GetByJobID(ctx, uuid.New())
	require.ErrorIs(t, err, content.ErrPostNotFound)
}

func TestPostStore_Update_VersionAdvances(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	require.NoError(t, post.UpdateDraft("edited", "casual", []string{"update"}))
	require.NoError(t, store.Update(ctx, post))
	assert.Equal(t, int64(2), post.Version())

	version, err := store.CurrentVersion(ctx, post.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, "edited", loaded.Body())
	assert.Equal(t, []string{"update"}, loaded.Hashtags())
}

func TestPostStore_Update_StaleVersionRejected(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	first, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	second, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)

	require.NoError(t, first.UpdateDraft("first writer", "casual", nil))
	require.NoError(t, store.Update(ctx, first))

	require.NoError(t, second.UpdateDraft("second writer", "casual", nil))
	require.ErrorIs(t, store.Update(ctx, second), content.ErrConcurrentModification)

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, "first writer", loaded.Body(), "the losing write must not land")
}

func TestPostStore_Update_MissingPost(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := content.NewPost(uuid.New(), "never created", "casual", nil, nil)
	require.ErrorIs(t, store.Update(ctx, post), content.ErrPostNotFound)
}

func TestPostStore_Update_PublishedFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	require.NoError(t, post.MarkPublished("urn:li:share:42"))
	require.NoError(t, store.Update(ctx, post))

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublished, loaded.Status())
	require.NotNil(t, loaded.LinkedInPostID())
	assert.Equal(t, "urn:li:share:42", *loaded.LinkedInPostID())
	require.NotNil(t, loaded.PublishedAt())
	assert.WithinDuration(t, time.Now(), *loaded.PublishedAt(), time.Minute)
}

func TestPostStore_Update_FailureFieldsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	require.NoError(t, post.Schedule(uuid.New(), time.Now().UTC().Add(time.Hour)))
	require.NoError(t, store.Update(ctx, post))
	require.NoError(t, post.MarkPublishFailed("linkedin returned 503"))
	require.NoError(t, store.Update(ctx, post))

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	assert.Equal(t, content.PostStatusPublishFailed, loaded.Status())
	require.NotNil(t, loaded.FailureReason())
	assert.Equal(t, "linkedin returned 503", *loaded.FailureReason())
	require.NotNil(t, loaded.LastFailedAt())
	assert.WithinDuration(t, time.Now(), *loaded.LastFailedAt(), time.Minute)
	assert.Nil(t, loaded.SchedulerJobID(), "a failed attempt consumes the job handle")
}

func TestPostStore_UpdateViralityScore(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	require.NoError(t, store.UpdateViralityScore(ctx, post.ID(), 1, 0.72))

	loaded, err := store.GetByID(ctx, post.OwnerID(), post.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded.ViralityScore())
	assert.Equal(t, 0.72, *loaded.ViralityScore())
	assert.Equal(t, int64(2), loaded.Version(), "a score write is a committed mutation")
	assert.Equal(t, "Launch day!", loaded.Body())
}

func TestPostStore_UpdateViralityScore_StaleVersion(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	post := createTestPost(t, ctx, store)

	require.ErrorIs(t, store.UpdateViralityScore(ctx, post.ID(), 99, 0.5), content.ErrConcurrentModification)
	require.ErrorIs(t, store.UpdateViralityScore(ctx, uuid.New(), 1, 0.5), content.ErrPostNotFound)
}

func TestPostStore_CurrentVersion_MissingPost(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	_, err := store.CurrentVersion(ctx, uuid.New())
	require.ErrorIs(t, err, content.ErrPostNotFound)
}

func TestPostStore_ListScheduledInWindow(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	ownerID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mkScheduled := func(at time.Time) *content.Post {
		post := content.NewPost(ownerID, "body", "announcement", nil, nil)
		require.NoError(t, store.Create(ctx, post))
		require.NoError(t, post.Schedule(uuid.New(), at))
		require.NoError(t, store.Update(ctx, post))
		return post
	}

	late := mkScheduled(now.Add(10 * time.Hour))
	early := mkScheduled(now.Add(time.Hour))
	mkScheduled(now.Add(100 * time.Hour)) // outside window

	draft := content.NewPost(ownerID, "draft", "casual", nil, nil)
	require.NoError(t, store.Create(ctx, draft))

	other := content.NewPost(uuid.New(), "other owner", "casual", nil, nil)
	require.NoError(t, store.Create(ctx, other))
	require.NoError(t, other.Schedule(uuid.New(), now.Add(2*time.Hour)))
	require.NoError(t, store.Update(ctx, other))

	posts, err := store.ListScheduledInWindow(ctx, ownerID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, early.ID(), posts[0].ID(), "results ordered by scheduled time")
	assert.Equal(t, late.ID(), posts[1].ID())
}

func TestPostStore_ListScheduledInWindow_IncludesPublished(t *testing.T) {
	t.Parallel()
	ctx, store, cleanup := setupPostTest(t)
	defer cleanup()

	ownerID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	post := content.NewPost(ownerID, "body", "announcement", nil, nil)
	require.NoError(t, store.Create(ctx, post))
	require.NoError(t, post.Schedule(uuid.New(), now.Add(time.Hour)))
	require.NoError(t, store.Update(ctx, post))
	require.NoError(t, post.MarkPublished("urn:li:share:1"))
	require.NoError(t, store.Update(ctx, post))

	posts, err := store.ListScheduledInWindow(ctx, ownerID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, posts, 1, "a published post keeps its calendar slot")
	assert.Equal(t, content.PostStatusPublished, posts[0].Status())
}
