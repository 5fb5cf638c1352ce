// Package linkedin implements the publisher gateway against LinkedIn's UGC
// Posts API.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common"
)

const defaultBaseURL = "https://api.linkedin.com/v2"

var _ content.PublisherGateway = (*Publisher)(nil)

// Publisher posts content to LinkedIn with rate limiting and tracing.
// Every call is bounded by the caller's context deadline; a timed-out call
// surfaces as a failed publish.
type Publisher struct {
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	baseURL     string
	tracer      trace.Tracer
}

// NewPublisher creates a LinkedIn publisher gateway.
// LinkedIn's member posting quota is roughly 150 requests per day per member;
// the limiter here only smooths bursts across members sharing the process.
func NewPublisher(httpClient *http.Client, tracer trace.Tracer) *Publisher {
	return &Publisher{
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(5, 10),
		baseURL:     defaultBaseURL,
		tracer:      tracer,
	}
}

// NewPublisherWithBaseURL creates a publisher pointed at a non-default API
// host, used by tests.
func NewPublisherWithBaseURL(httpClient *http.Client, baseURL string, tracer trace.Tracer) *Publisher {
	p := NewPublisher(httpClient, tracer)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// ugcPostRequest mirrors the subset of LinkedIn's ugcPosts payload we use.
type ugcPostRequest struct {
	Author          string `json:"author"`
	LifecycleState  string `json:"lifecycleState"`
	SpecificContent struct {
		ShareContent struct {
			ShareCommentary struct {
				Text string `json:"text"`
			} `json:"shareCommentary"`
			ShareMediaCategory string `json:"shareMediaCategory"`
		} `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
	Visibility struct {
		MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
	} `json:"visibility"`
}

type ugcPostResponse struct {
	ID string `json:"id"`
}

// Publish delivers the post and returns LinkedIn's post identifier.
func (p *Publisher) Publish(ctx context.Context, cred content.Credential, req content.PublishRequest) (string, error) {
	ctx, span := p.tracer.Start(ctx, "linkedin_publisher.publish",
		trace.WithAttributes(
			attribute.String("attempt_id", req.AttemptID.String()),
			attribute.Int("body_len", len(req.Body)),
			attribute.Int("hashtag_count", len(req.Hashtags)),
		))
	defer span.End()

	if err := p.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	payload := buildUGCPost(cred.MemberID, req)
	bodyData, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal ugc post: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/ugcPosts", bytes.NewReader(bodyData))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create ugc post request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	// Idempotency token so a retried attempt after an ambiguous failure does
	// not double-post.
	httpReq.Header.Set("X-Idempotency-Key", req.AttemptID.String())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish request failed")
		return "", fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("non-2xx response from LinkedIn ugcPosts API: %d %s", resp.StatusCode, string(data))
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish rejected")
		return "", err
	}

	var result ugcPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to decode ugc post response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("ugc post response missing id")
	}

	span.SetStatus(codes.Ok, "post published")
	return result.ID, nil
}

// buildUGCPost assembles the payload, appending hashtags to the commentary in
// LinkedIn's native form.
func buildUGCPost(memberID string, req content.PublishRequest) ugcPostRequest {
	text := req.Body
	if len(req.Hashtags) > 0 {
		var tags []string
		for _, h := range req.Hashtags {
			tags = append(tags, "#"+strings.TrimPrefix(h, "#"))
		}
		text = text + "\n\n" + strings.Join(tags, " ")
	}

	var payload ugcPostRequest
	payload.Author = "urn:li:person:" + memberID
	payload.LifecycleState = "PUBLISHED"
	payload.SpecificContent.ShareContent.ShareCommentary.Text = text
	payload.SpecificContent.ShareContent.ShareMediaCategory = "NONE"
	payload.Visibility.MemberNetworkVisibility = "PUBLIC"
	return payload
}

// DefaultHTTPClient returns an HTTP client with sane timeouts for publish
// calls. The per-attempt deadline still comes from the caller's context.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
