package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

func publishedEnvelope(postID uuid.UUID) events.EventEnvelope {
	return events.EventEnvelope{
		Type:      content.EventTypePostPublished,
		Timestamp: time.Now(),
		Payload:   content.NewPostPublishedEvent(postID, uuid.New(), "urn:li:share:42", time.Now()),
	}
}

func TestPublish_DispatchesByType(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	var published, failed int
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublished},
		func(ctx context.Context, env events.EventEnvelope) error {
			published++
			return nil
		}))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublishFailed},
		func(ctx context.Context, env events.EventEnvelope) error {
			failed++
			return nil
		}))

	require.NoError(t, bus.Publish(ctx, publishedEnvelope(uuid.New())))

	assert.Equal(t, 1, published)
	assert.Equal(t, 0, failed, "handlers only see their subscribed types")
}

func TestPublish_KeyOptionSetsEnvelopeKey(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()
	postID := uuid.New()

	var gotKey string
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublished},
		func(ctx context.Context, env events.EventEnvelope) error {
			gotKey = env.Key
			return nil
		}))

	require.NoError(t, bus.Publish(ctx, publishedEnvelope(postID), events.WithKey(postID.String())))
	assert.Equal(t, postID.String(), gotKey)
}

func TestPublish_CollectsHandlerErrors(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()

	handlerErr := errors.New("projection update failed")
	var secondCalled bool
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublished},
		func(ctx context.Context, env events.EventEnvelope) error { return handlerErr }))
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublished},
		func(ctx context.Context, env events.EventEnvelope) error {
			secondCalled = true
			return nil
		}))

	err := bus.Publish(ctx, publishedEnvelope(uuid.New()))
	require.ErrorIs(t, err, handlerErr)
	assert.True(t, secondCalled, "one failing handler must not starve the rest")
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ctx := context.Background()
	require.NoError(t, bus.Close())

	require.Error(t, bus.Publish(ctx, publishedEnvelope(uuid.New())))
	require.Error(t, bus.Subscribe(ctx, []events.EventType{content.EventTypePostPublished},
		func(ctx context.Context, env events.EventEnvelope) error { return nil }))
}
