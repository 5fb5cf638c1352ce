package content

import (
	"errors"
	"fmt"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// Sentinel errors surfaced by the lifecycle operations. Callers are expected
// to branch with errors.Is.
var (
	// ErrPostNotFound indicates the post does not exist or is not owned by the
	// requesting account. The two cases are deliberately indistinguishable.
	ErrPostNotFound = errors.New("post not found")

	// ErrInvalidScheduleTime indicates a schedule request whose due time is
	// not in the future.
	ErrInvalidScheduleTime = errors.New("schedule time must be in the future")

	// ErrMissingCredential indicates a publish attempt for an account without
	// a valid LinkedIn credential.
	ErrMissingCredential = errors.New("linkedin account not connected")

	// ErrConcurrentModification indicates an optimistic-concurrency write lost
	// a race: the post's version changed between read and write.
	ErrConcurrentModification = errors.New("post was modified concurrently")
)

// InvalidStateTransitionError indicates an operation that is not legal in the
// post's current status.
type InvalidStateTransitionError struct {
	From   PostStatus
	To     PostStatus
	Reason string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("invalid operation in status %s: %s", e.From, e.Reason)
	}
	return fmt.Sprintf("invalid post status transition from %s to %s", e.From, e.To)
}

// IsInvalidStateTransition reports whether err is an InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var target *InvalidStateTransitionError
	return errors.As(err, &target)
}

// PublishError indicates the external publish call failed or timed out. The
// post transitions to PUBLISH_FAILED and the reason is retained on the post
// until the next publish attempt resolves it.
type PublishError struct {
	// AttemptID is the idempotency token minted for the failed attempt.
	AttemptID uuid.UUID
	// Reason is a human-readable description of the failure.
	Reason string
	// Err is the underlying gateway error, if any.
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish attempt %s failed: %s", e.AttemptID, e.Reason)
}

func (e *PublishError) Unwrap() error { return e.Err }
