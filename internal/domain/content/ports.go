package content

import (
	"context"
	"time"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// PostRepository defines the persistence contract for posts. Implementations
// must enforce optimistic concurrency: Update and UpdateViralityScore only
// commit when the stored version matches the expected one, returning
// ErrConcurrentModification otherwise.
type PostRepository interface {
	// Create persists a new post.
	Create(ctx context.Context, post *Post) error

	// GetByID retrieves a post owned by the given account. Returns
	// ErrPostNotFound when the post does not exist or belongs to another
	// account.
	GetByID(ctx context.Context, ownerID, postID uuid.UUID) (*Post, error)

	// GetByJobID retrieves a post by its scheduler job handle. Returns
	// ErrPostNotFound when no post carries the handle (e.g. the schedule was
	// cancelled).
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*Post, error)

	// Update persists the post's current state, expecting the stored version
	// to equal post.Version(). On success the post's version is advanced.
	Update(ctx context.Context, post *Post) error

	// CurrentVersion returns the post's committed version without loading the
	// full aggregate. Used by the enrichment path to key its conditional
	// write. Returns ErrPostNotFound when the post does not exist.
	CurrentVersion(ctx context.Context, postID uuid.UUID) (int64, error)

	// UpdateViralityScore writes the derived score iff the stored version
	// still equals expectedVersion. This is the only write path that bypasses
	// the full aggregate, keeping the enrichment runner's footprint narrow.
	UpdateViralityScore(ctx context.Context, postID uuid.UUID, expectedVersion int64, score float64) error

	// ListScheduledInWindow returns an owner's SCHEDULED and PUBLISHED posts
	// whose scheduled time falls within [from, to], ordered by scheduled time.
	ListScheduledInWindow(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*Post, error)
}

// Credential carries what the Publisher Gateway needs to post on behalf of an
// account.
type Credential struct {
	// AccessToken is the OAuth access token for the external network.
	AccessToken string
	// MemberID is the external network's identifier for the account.
	MemberID string
	// ExpiresAt bounds the token's validity; zero means unknown.
	ExpiresAt time.Time
}

// Valid reports whether the credential can be used for a publish attempt now.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// CredentialStore resolves publish credentials for an account. Token exchange
// and refresh are collaborator concerns; the core only reads.
type CredentialStore interface {
	// Credential returns the account's publish credential, or
	// ErrMissingCredential when none is connected or it has expired.
	Credential(ctx context.Context, ownerID uuid.UUID) (Credential, error)
}

// PublishRequest carries one publish attempt to the external network.
type PublishRequest struct {
	// Body is the rendered post text.
	Body string
	// Hashtags are appended to the body by the gateway in network-native form.
	Hashtags []string
	// AttemptID is an idempotency token minted per attempt. Gateways that
	// support idempotency keys forward it; others may ignore it.
	AttemptID uuid.UUID
}

// PublisherGateway abstracts the external social-network publish call.
// Implementations must bound the call with a timeout; a timed-out call is a
// failed publish, not an indeterminate state.
type PublisherGateway interface {
	// Publish delivers the post and returns the remote post identifier.
	Publish(ctx context.Context, cred Credential, req PublishRequest) (remotePostID string, err error)
}

// ScoringGateway abstracts the external AI scoring call used by background
// enrichment. No other component couples to it.
type ScoringGateway interface {
	// Score returns a virality estimate in [0, 1] for the content.
	Score(ctx context.Context, body string) (float64, error)
}
