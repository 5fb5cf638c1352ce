package linkedin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

func testCredential() content.Credential {
	return content.Credential{AccessToken: "test-token", MemberID: "abc123"}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	attemptID := uuid.New()
	var gotReq ugcPostRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ugcPosts", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, attemptID.String(), r.Header.Get("X-Idempotency-Key"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "urn:li:share:42"})
	}))
	defer srv.Close()

	pub := NewPublisherWithBaseURL(srv.Client(), srv.URL, noop.NewTracerProvider().Tracer("test"))

	remoteID, err := pub.Publish(context.Background(), testCredential(), content.PublishRequest{
		Body:      "Launch day!",
		Hashtags:  []string{"golang", "#shipit"},
		AttemptID: attemptID,
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:42", remoteID)

	assert.Equal(t, "urn:li:person:abc123", gotReq.Author)
	assert.Equal(t, "PUBLISHED", gotReq.LifecycleState)
	commentary := gotReq.SpecificContent.ShareContent.ShareCommentary.Text
	assert.Contains(t, commentary, "Launch day!")
	assert.Contains(t, commentary, "#golang")
	assert.Contains(t, commentary, "#shipit")
	assert.NotContains(t, commentary, "##", "already-prefixed hashtags must not be doubled")
}

func TestPublish_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"token expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	pub := NewPublisherWithBaseURL(srv.Client(), srv.URL, noop.NewTracerProvider().Tracer("test"))

	_, err := pub.Publish(context.Background(), testCredential(), content.PublishRequest{
		Body:      "Launch day!",
		AttemptID: uuid.New(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "token expired")
}

func TestPublish_MissingRemoteID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	pub := NewPublisherWithBaseURL(srv.Client(), srv.URL, noop.NewTracerProvider().Tracer("test"))

	_, err := pub.Publish(context.Background(), testCredential(), content.PublishRequest{
		Body:      "Launch day!",
		AttemptID: uuid.New(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestPublish_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pub := NewPublisherWithBaseURL(srv.Client(), srv.URL, noop.NewTracerProvider().Tracer("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pub.Publish(ctx, testCredential(), content.PublishRequest{
		Body:      "Launch day!",
		AttemptID: uuid.New(),
	})
	require.Error(t, err, "a cancelled attempt is a failed publish, not an indeterminate state")
}
