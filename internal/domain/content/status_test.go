package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    PostStatus
		to      PostStatus
		allowed bool
	}{
		{name: "draft to scheduled", from: PostStatusDraft, to: PostStatusScheduled, allowed: true},
		{name: "draft to published", from: PostStatusDraft, to: PostStatusPublished, allowed: true},
		{name: "draft to publish_failed", from: PostStatusDraft, to: PostStatusPublishFailed, allowed: true},
		{name: "scheduled to published", from: PostStatusScheduled, to: PostStatusPublished, allowed: true},
		{name: "scheduled to publish_failed", from: PostStatusScheduled, to: PostStatusPublishFailed, allowed: true},
		{name: "scheduled back to draft via cancel", from: PostStatusScheduled, to: PostStatusDraft, allowed: true},
		{name: "publish_failed to scheduled", from: PostStatusPublishFailed, to: PostStatusScheduled, allowed: true},
		{name: "publish_failed to published", from: PostStatusPublishFailed, to: PostStatusPublished, allowed: true},
		{name: "publish_failed stays on repeat failure", from: PostStatusPublishFailed, to: PostStatusPublishFailed, allowed: true},
		{name: "published is terminal for draft", from: PostStatusPublished, to: PostStatusDraft, allowed: false},
		{name: "published is terminal for scheduled", from: PostStatusPublished, to: PostStatusScheduled, allowed: false},
		{name: "published is terminal for publish_failed", from: PostStatusPublished, to: PostStatusPublishFailed, allowed: false},
		{name: "draft cannot jump to draft", from: PostStatusDraft, to: PostStatusDraft, allowed: false},
		{name: "scheduled cannot reschedule without cancel", from: PostStatusScheduled, to: PostStatusScheduled, allowed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.from.ValidateTransition(tc.to)
			if tc.allowed {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			var transitionErr *InvalidStateTransitionError
			require.ErrorAs(t, err, &transitionErr)
			assert.Equal(t, tc.from, transitionErr.From)
			assert.Equal(t, tc.to, transitionErr.To)
		})
	}
}

func TestParsePostStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PostStatusDraft, ParsePostStatus("DRAFT"))
	assert.Equal(t, PostStatusScheduled, ParsePostStatus("SCHEDULED"))
	assert.Equal(t, PostStatusPublished, ParsePostStatus("PUBLISHED"))
	assert.Equal(t, PostStatusPublishFailed, ParsePostStatus("PUBLISH_FAILED"))
	assert.Equal(t, PostStatus(""), ParsePostStatus("bogus"))
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, PostStatusPublished.IsTerminal())
	assert.False(t, PostStatusDraft.IsTerminal())
	assert.False(t, PostStatusScheduled.IsTerminal())
	assert.False(t, PostStatusPublishFailed.IsTerminal())
}
