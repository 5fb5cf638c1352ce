// Package scheduling implements the engine that fires publish attempts at
// their requested times. The engine owns nothing but the mapping from post to
// due time: it polls the durable job store, compares stored due times against
// the wall clock, and invokes the fire handler for whatever is due. No
// in-memory timer is assumed to survive a restart.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/postflow/internal/domain/scheduling"
	"github.com/ahrav/postflow/pkg/common/logger"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

// ErrDueTimeInPast indicates a schedule request whose due time is not
// strictly after the current time.
var ErrDueTimeInPast = errors.New("due time must be in the future")

// FireHandler is invoked for each due job. The engine guarantees at-least-once
// invocation at or after the job's due time; handlers must be idempotent
// because duplicate fires are possible after a crash or restart. A nil return
// completes the job (including handler-level publish failures, which the
// handler records on the post); an error leaves the job pending for the next
// polling pass.
type FireHandler func(ctx context.Context, jobID uuid.UUID) error

type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Config carries the engine's tunables. All values are injected at
// construction so tests can run the engine deterministically.
type Config struct {
	// PollInterval controls how often the engine re-derives due jobs.
	PollInterval time.Duration
	// BatchSize bounds how many due jobs a single pass claims.
	BatchSize int
	// MaxConcurrentFires bounds how many fire handlers run at once.
	MaxConcurrentFires int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrentFires <= 0 {
		c.MaxConcurrentFires = 8
	}
	return c
}

// Engine dispatches scheduled posts for execution at or after their due time.
type Engine struct {
	cfg     Config
	jobs    scheduling.JobRepository
	handler FireHandler

	timeProvider timeProvider

	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEngine returns an Engine polling the given job store and dispatching due
// jobs to handler.
func NewEngine(
	cfg Config,
	jobs scheduling.JobRepository,
	handler FireHandler,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Engine {
	logger = logger.With("component", "scheduling_engine")
	return &Engine{
		cfg:          cfg.withDefaults(),
		jobs:         jobs,
		handler:      handler,
		timeProvider: realTimeProvider{},
		logger:       logger,
		tracer:       tracer,
	}
}

// Schedule registers a job for the post due at the given time and returns its
// reference immediately; it never blocks until the fire. A zero due time is
// the "now" sentinel for immediate execution on the next polling pass. Any
// other due time must be strictly in the future.
func (e *Engine) Schedule(ctx context.Context, postID uuid.UUID, at time.Time) (uuid.UUID, error) {
	now := e.timeProvider.Now()
	ctx, span := e.tracer.Start(ctx, "scheduling_engine.schedule",
		trace.WithAttributes(
			attribute.String("post_id", postID.String()),
			attribute.String("due_at", at.String()),
		),
	)
	defer span.End()

	if at.IsZero() {
		at = now
	} else if !at.After(now) {
		span.SetStatus(codes.Error, "due time in past")
		return uuid.Nil, ErrDueTimeInPast
	}

	job := scheduling.NewJob(postID, at, now)
	if err := e.jobs.Create(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist job")
		return uuid.Nil, fmt.Errorf("failed to persist scheduled job (post_id: %s): %w", postID, err)
	}
	span.AddEvent("job_persisted")
	span.SetStatus(codes.Ok, "job scheduled")

	e.logger.Debug(ctx, "Job scheduled", "job_id", job.JobID(), "post_id", postID, "due_at", at)
	return job.JobID(), nil
}

// Cancel marks the job cancelled. It is idempotent: cancelling an unknown,
// fired, or already-cancelled job is a no-op. Cancel racing a
// near-simultaneous fire is resolved by the fire handler's own status guard.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID) error {
	ctx, span := e.tracer.Start(ctx, "scheduling_engine.cancel",
		trace.WithAttributes(attribute.String("job_id", jobID.String())),
	)
	defer span.End()

	if err := e.jobs.Cancel(ctx, jobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel job")
		return fmt.Errorf("failed to cancel job (job_id: %s): %w", jobID, err)
	}
	span.SetStatus(codes.Ok, "job cancelled")
	return nil
}

// Reschedule cancels the job and registers a new one for the same post at the
// new time, returning the new reference.
func (e *Engine) Reschedule(ctx context.Context, jobID uuid.UUID, newAt time.Time) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "scheduling_engine.reschedule",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("new_due_at", newAt.String()),
		),
	)
	defer span.End()

	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load job")
		return uuid.Nil, fmt.Errorf("failed to load job for reschedule (job_id: %s): %w", jobID, err)
	}

	if err := e.Cancel(ctx, jobID); err != nil {
		return uuid.Nil, err
	}
	return e.Schedule(ctx, job.PostID(), newAt)
}

// Start launches the polling loop on its own goroutine. The loop exits when
// the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancelCause(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		e.logger.Info(ctx, "Polling loop started", "poll_interval", e.cfg.PollInterval.String())
		for {
			select {
			case <-ctx.Done():
				e.logger.Info(ctx, "Polling loop stopped")
				return
			case <-ticker.C:
				if err := e.pollOnce(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error(ctx, "Polling pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop terminates the polling loop and waits for in-flight fires to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel(errors.New("scheduling engine stopped"))
	}
	e.wg.Wait()
}

// pollOnce claims due jobs and dispatches their fire handlers with bounded
// concurrency. Jobs are marked completed only after the handler returns nil,
// so a crash mid-dispatch leaves them due for the next pass.
func (e *Engine) pollOnce(ctx context.Context) error {
	now := e.timeProvider.Now()
	ctx, span := e.tracer.Start(ctx, "scheduling_engine.poll",
		trace.WithAttributes(attribute.String("now", now.String())),
	)
	defer span.End()

	due, err := e.jobs.DueJobs(ctx, now, e.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch due jobs")
		return fmt.Errorf("failed to fetch due jobs: %w", err)
	}
	span.SetAttributes(attribute.Int("due_count", len(due)))
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentFires)

	for _, job := range due {
		g.Go(func() error {
			if err := e.fire(gctx, job); err != nil {
				// Leave the job pending; the next pass retries it.
				e.logger.Error(gctx, "Fire dispatch failed; job remains pending",
					"job_id", job.JobID(), "post_id", job.PostID(), "error", err)
			}
			// Dispatch failures are isolated per job; never abort the group.
			return nil
		})
	}
	_ = g.Wait()

	span.AddEvent("due_jobs_dispatched")
	return nil
}

func (e *Engine) fire(ctx context.Context, job *scheduling.Job) error {
	ctx, span := e.tracer.Start(ctx, "scheduling_engine.fire",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("post_id", job.PostID().String()),
			attribute.String("due_at", job.DueAt().String()),
		),
	)
	defer span.End()

	if err := e.handler(ctx, job.JobID()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fire handler failed")
		return fmt.Errorf("fire handler failed (job_id: %s): %w", job.JobID(), err)
	}

	if err := e.jobs.MarkCompleted(ctx, job.JobID(), e.timeProvider.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark job completed")
		// The handler already ran; a refire is harmless because the handler
		// is idempotent.
		return fmt.Errorf("failed to mark job completed (job_id: %s): %w", job.JobID(), err)
	}

	span.SetStatus(codes.Ok, "job fired")
	return nil
}
