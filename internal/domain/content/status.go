package content

import "fmt"

// PostStatus represents the current state of a post within its publishing
// lifecycle. It enables tracking of a post from drafting through scheduling
// to publication or failure.
type PostStatus string

const (
	// PostStatusDraft indicates a post has been created but not yet scheduled
	// or published.
	PostStatusDraft PostStatus = "DRAFT"

	// PostStatusScheduled indicates a post has a registered scheduler job and
	// will be published at its due time.
	PostStatusScheduled PostStatus = "SCHEDULED"

	// PostStatusPublished indicates the post was successfully delivered to the
	// external network. This is the only terminal state.
	PostStatusPublished PostStatus = "PUBLISHED"

	// PostStatusPublishFailed indicates the most recent publish attempt
	// failed. Failures are recoverable; the post can be rescheduled or
	// published again manually.
	PostStatusPublishFailed PostStatus = "PUBLISH_FAILED"
)

func (s PostStatus) String() string { return string(s) }

// ParsePostStatus converts a string to a PostStatus.
func ParsePostStatus(s string) PostStatus {
	switch s {
	case "DRAFT":
		return PostStatusDraft
	case "SCHEDULED":
		return PostStatusScheduled
	case "PUBLISHED":
		return PostStatusPublished
	case "PUBLISH_FAILED":
		return PostStatusPublishFailed
	default:
		return "" // represents unspecified
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s PostStatus) IsTerminal() bool { return s == PostStatusPublished }

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s PostStatus) ValidateTransition(target PostStatus) error {
	if !s.isValidTransition(target) {
		return &InvalidStateTransitionError{From: s, To: target}
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target
// status. It enforces the post lifecycle rules to prevent invalid state
// changes.
func (s PostStatus) isValidTransition(target PostStatus) bool {
	switch s {
	case PostStatusDraft:
		// A draft can be scheduled, or published directly. A direct publish
		// attempt may also fail.
		return target == PostStatusScheduled ||
			target == PostStatusPublished ||
			target == PostStatusPublishFailed
	case PostStatusScheduled:
		// A fired job publishes or fails; cancelling returns the post to draft.
		return target == PostStatusPublished ||
			target == PostStatusPublishFailed ||
			target == PostStatusDraft
	case PostStatusPublishFailed:
		// Failed posts are retryable: reschedule, publish manually, or fail
		// again on the retry.
		return target == PostStatusScheduled ||
			target == PostStatusPublished ||
			target == PostStatusPublishFailed
	case PostStatusPublished:
		// Terminal state - no further transitions allowed.
		return false
	default:
		return false
	}
}

// mustBe returns an InvalidStateTransitionError when the status is not one of
// the allowed states for an operation.
func (s PostStatus) mustBe(allowed ...PostStatus) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return &InvalidStateTransitionError{From: s, To: "", Reason: fmt.Sprintf("operation requires status in %v", allowed)}
}
