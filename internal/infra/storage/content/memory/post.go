// Package memory provides an in-memory implementation of the post repository
// for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

var _ content.PostRepository = (*PostStore)(nil)

// PostStore is a mutex-guarded map store. Aggregates are deep-copied on both
// write and read so callers can never mutate stored state behind the
// version check.
type PostStore struct {
	mu    sync.Mutex
	posts map[uuid.UUID]*content.Post
}

// NewPostStore creates a new in-memory post store.
func NewPostStore() *PostStore {
	return &PostStore{posts: make(map[uuid.UUID]*content.Post)}
}

// Create persists a new post.
func (s *PostStore) Create(ctx context.Context, post *content.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts[post.ID()] = clonePost(post)
	return nil
}

// GetByID retrieves a post owned by the given account.
func (s *PostStore) GetByID(ctx context.Context, ownerID, postID uuid.UUID) (*content.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok || post.OwnerID() != ownerID {
		return nil, content.ErrPostNotFound
	}
	return clonePost(post), nil
}

// GetByJobID retrieves a post by its scheduler job handle.
func (s *PostStore) GetByJobID(ctx context.Context, jobID uuid.UUID) (*content.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, post := range s.posts {
		if ref := post.SchedulerJobID(); ref != nil && *ref == jobID {
			return clonePost(post), nil
		}
	}
	return nil, content.ErrPostNotFound
}

// Update persists the post's state under an optimistic version check and
// advances the version on success.
func (s *PostStore) Update(ctx context.Context, post *content.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.posts[post.ID()]
	if !ok {
		return content.ErrPostNotFound
	}
	if stored.Version() != post.Version() {
		return content.ErrConcurrentModification
	}

	post.IncrementVersion()
	s.posts[post.ID()] = clonePost(post)
	return nil
}

// CurrentVersion returns the post's committed version.
func (s *PostStore) CurrentVersion(ctx context.Context, postID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return 0, content.ErrPostNotFound
	}
	return post.Version(), nil
}

// UpdateViralityScore writes the derived score iff the stored version still
// matches the expected one.
func (s *PostStore) UpdateViralityScore(ctx context.Context, postID uuid.UUID, expectedVersion int64, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.posts[postID]
	if !ok {
		return content.ErrPostNotFound
	}
	if stored.Version() != expectedVersion {
		return content.ErrConcurrentModification
	}

	updated := content.ReconstructPost(
		stored.ID(),
		stored.OwnerID(),
		stored.Body(),
		stored.ContentType(),
		append([]string(nil), stored.Hashtags()...),
		stored.Status(),
		stored.ScheduledAt(),
		stored.SchedulerJobID(),
		stored.PublishedAt(),
		stored.LinkedInPostID(),
		stored.FailureReason(),
		stored.LastFailedAt(),
		&score,
		stored.Version()+1,
		content.ReconstructTimeline(stored.Timeline().CreatedAt(), time.Now().UTC()),
	)
	s.posts[postID] = updated
	return nil
}

// ListScheduledInWindow returns the owner's scheduled and published posts in
// the window, ordered by scheduled time.
func (s *PostStore) ListScheduledInWindow(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*content.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*content.Post
	for _, post := range s.posts {
		if post.OwnerID() != ownerID {
			continue
		}
		if post.Status() != content.PostStatusScheduled && post.Status() != content.PostStatusPublished {
			continue
		}
		at := post.ScheduledAt()
		if at == nil || at.Before(from) || at.After(to) {
			continue
		}
		out = append(out, clonePost(post))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt().Before(*out[j].ScheduledAt())
	})
	return out, nil
}

func clonePost(p *content.Post) *content.Post {
	return content.ReconstructPost(
		p.ID(),
		p.OwnerID(),
		p.Body(),
		p.ContentType(),
		append([]string(nil), p.Hashtags()...),
		p.Status(),
		copyTime(p.ScheduledAt()),
		copyUUID(p.SchedulerJobID()),
		copyTime(p.PublishedAt()),
		copyString(p.LinkedInPostID()),
		copyString(p.FailureReason()),
		copyTime(p.LastFailedAt()),
		copyFloat(p.ViralityScore()),
		p.Version(),
		content.ReconstructTimeline(p.Timeline().CreatedAt(), p.Timeline().UpdatedAt()),
	)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyUUID(u *uuid.UUID) *uuid.UUID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
