// Package enrichment implements the background runner that computes derived
// scores for posts after the request that created them has already returned.
// The runner owns its own worker pool and error handling: nothing here ever
// propagates to a user-visible response or touches any field other than the
// virality score.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/pkg/common/logger"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

// Config carries the runner's tunables.
type Config struct {
	// Workers is the number of concurrent scoring workers.
	Workers int
	// QueueSize bounds the task queue. Enqueue drops work (logged) rather
	// than block a request path when the queue is full.
	QueueSize int
	// ScoreTimeout bounds each Scoring Gateway call.
	ScoreTimeout time.Duration
	// MaxRetries bounds the backoff retries for a single scoring call.
	MaxRetries uint64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ScoreTimeout <= 0 {
		c.ScoreTimeout = 20 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	return c
}

type task struct {
	postID uuid.UUID
	body   string
}

// Runner computes virality scores off the request path and writes them back
// under optimistic concurrency.
type Runner struct {
	cfg Config

	scorer content.ScoringGateway
	posts  content.PostRepository

	eventPublisher events.DomainEventPublisher

	tasks chan task

	// pending de-duplicates outstanding work per post. Double enrichment is
	// wasted gateway spend, not a correctness bug, so the guard is best-effort.
	mu      sync.Mutex
	pending map[uuid.UUID]struct{}

	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRunner returns a Runner scoring posts through the given gateway and
// writing results to the given repository. The event publisher may be nil.
func NewRunner(
	cfg Config,
	scorer content.ScoringGateway,
	posts content.PostRepository,
	eventPublisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Runner {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "enrichment_runner")
	return &Runner{
		cfg:            cfg,
		scorer:         scorer,
		posts:          posts,
		eventPublisher: eventPublisher,
		tasks:          make(chan task, cfg.QueueSize),
		pending:        make(map[uuid.UUID]struct{}),
		logger:         logger,
		tracer:         tracer,
	}
}

// Enqueue submits a post for background scoring and returns immediately. A
// post with enrichment already outstanding is skipped; a full queue drops the
// task with a log line rather than block the caller.
func (r *Runner) Enqueue(postID uuid.UUID, body string) {
	r.mu.Lock()
	if _, outstanding := r.pending[postID]; outstanding {
		r.mu.Unlock()
		return
	}
	r.pending[postID] = struct{}{}
	r.mu.Unlock()

	select {
	case r.tasks <- task{postID: postID, body: body}:
	default:
		r.clearPending(postID)
		r.logger.Warn(context.Background(), "Enrichment queue full; dropping task", "post_id", postID)
	}
}

// Start launches the worker pool. Workers exit when the context is cancelled
// or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancelCause(ctx)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-r.tasks:
					r.process(ctx, t)
				}
			}
		}()
	}
	r.logger.Info(ctx, "Enrichment workers started", "workers", r.cfg.Workers)
}

// Stop terminates the worker pool and waits for in-flight tasks to drain.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel(errors.New("enrichment runner stopped"))
	}
	r.wg.Wait()
}

func (r *Runner) clearPending(postID uuid.UUID) {
	r.mu.Lock()
	delete(r.pending, postID)
	r.mu.Unlock()
}

// process scores one post and writes the result back. Every failure path is
// absorbed here: scoring errors, conflicts, and missing posts are logged and
// never affect the post's status or any other field.
func (r *Runner) process(ctx context.Context, t task) {
	defer r.clearPending(t.postID)

	ctx, span := r.tracer.Start(ctx, "enrichment_runner.process",
		trace.WithAttributes(attribute.String("post_id", t.postID.String())),
	)
	defer span.End()

	score, err := r.score(ctx, t.body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		r.logger.Error(ctx, "Scoring failed; post left unenriched", "post_id", t.postID, "error", err)
		return
	}
	span.SetAttributes(attribute.Float64("score", score))

	if err := r.writeScore(ctx, t.postID, score); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "score write abandoned")
		r.logger.Error(ctx, "Score write abandoned", "post_id", t.postID, "error", err)
		return
	}
	span.SetStatus(codes.Ok, "post enriched")

	if r.eventPublisher != nil {
		evt := content.NewPostScoreUpdatedEvent(t.postID, score)
		if err := r.eventPublisher.PublishDomainEvent(ctx, evt, events.WithKey(t.postID.String())); err != nil {
			r.logger.Error(ctx, "Failed to publish score event", "post_id", t.postID, "error", err)
		}
	}
	r.logger.Debug(ctx, "Post enriched", "post_id", t.postID, "score", score)
}

// score calls the gateway under a bounded timeout with exponential backoff on
// transient failures.
func (r *Runner) score(ctx context.Context, body string) (float64, error) {
	var score float64

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.ScoreTimeout)
		defer cancel()

		var err error
		score, err = r.scorer.Score(callCtx, body)
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.cfg.MaxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return 0, fmt.Errorf("scoring gateway call failed: %w", err)
	}
	return score, nil
}

// writeScore performs the version-conditional write. On a conflict with the
// main path the write is retried once against the fresh version, then
// abandoned: the next edit re-enqueues enrichment anyway.
func (r *Runner) writeScore(ctx context.Context, postID uuid.UUID, score float64) error {
	const attempts = 2

	for i := 0; i < attempts; i++ {
		version, err := r.posts.CurrentVersion(ctx, postID)
		if err != nil {
			if errors.Is(err, content.ErrPostNotFound) {
				return fmt.Errorf("post disappeared before score write: %w", err)
			}
			return fmt.Errorf("failed to read post version: %w", err)
		}

		err = r.posts.UpdateViralityScore(ctx, postID, version, score)
		if err == nil {
			return nil
		}
		if !errors.Is(err, content.ErrConcurrentModification) {
			return fmt.Errorf("failed to write score: %w", err)
		}
		r.logger.Debug(ctx, "Score write conflicted; retrying against fresh version",
			"post_id", postID, "stale_version", version)
	}

	return content.ErrConcurrentModification
}
