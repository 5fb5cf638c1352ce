// Package gemini implements the scoring gateway against Google's Gemini
// generateContent API. The model is prompted to return a bare number; anything
// else is a gateway error and the post is simply left unenriched.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/pkg/common"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"

	scorePrompt = `Rate the viral potential of the following LinkedIn post on a scale ` +
		`from 0.0 to 1.0, considering hook strength, relatability, and shareability. ` +
		`Respond with only the number.

Post:
`
)

var _ content.ScoringGateway = (*Scorer)(nil)

// Scorer estimates content virality through Gemini with rate limiting and
// tracing.
type Scorer struct {
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	baseURL     string
	model       string
	apiKey      string
	tracer      trace.Tracer
}

// NewScorer creates a Gemini scoring gateway.
func NewScorer(httpClient *http.Client, apiKey string, tracer trace.Tracer) *Scorer {
	// Free-tier Gemini quota is 15 RPM; stay under it.
	return &Scorer{
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(0.2, 2),
		baseURL:     defaultBaseURL,
		model:       defaultModel,
		apiKey:      apiKey,
		tracer:      tracer,
	}
}

// NewScorerWithBaseURL creates a scorer pointed at a non-default API host,
// used by tests.
func NewScorerWithBaseURL(httpClient *http.Client, baseURL, apiKey string, tracer trace.Tracer) *Scorer {
	s := NewScorer(httpClient, apiKey, tracer)
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

type contentPart struct {
	Text string `json:"text"`
}

type contentBlock struct {
	Parts []contentPart `json:"parts"`
}

type generateContentRequest struct {
	Contents []contentBlock `json:"contents"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content contentBlock `json:"content"`
	} `json:"candidates"`
}

// Score returns a virality estimate in [0, 1] for the content.
func (s *Scorer) Score(ctx context.Context, body string) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "gemini_scorer.score",
		trace.WithAttributes(attribute.Int("body_len", len(body))))
	defer span.End()

	if err := s.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	payload := generateContentRequest{
		Contents: []contentBlock{{Parts: []contentPart{{Text: scorePrompt + body}}}},
	}
	bodyData, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", s.baseURL, s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyData))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate request failed")
		return 0, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("non-200 response from Gemini API: %d %s", resp.StatusCode, string(data))
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring rejected")
		return 0, err
	}

	var result generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to decode generate response: %w", err)
	}

	score, err := parseScore(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable score")
		return 0, err
	}

	span.SetAttributes(attribute.Float64("score", score))
	span.SetStatus(codes.Ok, "content scored")
	return score, nil
}

// parseScore extracts the numeric score from the model's text response and
// clamps it into [0, 1].
func parseScore(resp generateContentResponse) (float64, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return 0, fmt.Errorf("generate response has no candidates")
	}

	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	score, err := strconv.ParseFloat(strings.TrimSuffix(text, "."), 64)
	if err != nil {
		return 0, fmt.Errorf("model returned non-numeric score %q: %w", text, err)
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
