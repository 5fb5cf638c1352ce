// Package postgres provides the PostgreSQL-backed scheduler job repository.
// Jobs remain PENDING until their fire handler completes, which is what makes
// firing at-least-once across process restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/postflow/internal/domain/scheduling"
	"github.com/ahrav/postflow/internal/infra/storage"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

var _ scheduling.JobRepository = (*jobStore)(nil)

type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed scheduler job repository with tracing.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Create persists a new scheduler job.
func (r *jobStore) Create(ctx context.Context, job *scheduling.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("post_id", job.PostID().String()),
		attribute.String("due_at", job.DueAt().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_scheduler_job", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO scheduler_jobs (job_id, post_id, due_at, status, fired_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgtype.UUID{Bytes: job.JobID(), Valid: true},
			pgtype.UUID{Bytes: job.PostID(), Valid: true},
			pgtype.Timestamptz{Time: job.DueAt(), Valid: true},
			string(job.Status()),
			firedAtParam(job.FiredAt()),
			pgtype.Timestamptz{Time: job.CreatedAt(), Valid: true},
		)
		if err != nil {
			return fmt.Errorf("create scheduler job insert error: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a scheduler job.
func (r *jobStore) GetByID(ctx context.Context, jobID uuid.UUID) (*scheduling.Job, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var job *scheduling.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_scheduler_job", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT job_id, post_id, due_at, status, fired_at, created_at
			FROM scheduler_jobs WHERE job_id = $1`,
			pgtype.UUID{Bytes: jobID, Valid: true},
		)
		var err error
		job, err = scanJob(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel marks a pending job cancelled. Jobs already fired or cancelled are
// left untouched, so cancellation is idempotent and never resurrects a job.
func (r *jobStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.cancel_scheduler_job", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			UPDATE scheduler_jobs SET status = $2
			WHERE job_id = $1 AND status = $3`,
			pgtype.UUID{Bytes: jobID, Valid: true},
			string(scheduling.JobStatusCancelled),
			string(scheduling.JobStatusPending),
		)
		if err != nil {
			return fmt.Errorf("cancel scheduler job error: %w", err)
		}
		return nil
	})
}

// DueJobs returns pending jobs whose due time is at or before now, oldest
// first, up to limit.
func (r *jobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*scheduling.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("now", now.String()),
		attribute.Int("limit", limit),
	)

	var jobs []*scheduling.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.due_scheduler_jobs", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT job_id, post_id, due_at, status, fired_at, created_at
			FROM scheduler_jobs
			WHERE status = $1 AND due_at <= $2
			ORDER BY due_at ASC
			LIMIT $3`,
			string(scheduling.JobStatusPending),
			pgtype.Timestamptz{Time: now, Valid: true},
			limit,
		)
		if err != nil {
			return fmt.Errorf("due scheduler jobs query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkCompleted records that a job's fire handler finished. Only pending jobs
// transition; a duplicate completion is a no-op.
func (r *jobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, firedAt time.Time) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("fired_at", firedAt.String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.complete_scheduler_job", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE scheduler_jobs SET status = $2, fired_at = $3
			WHERE job_id = $1 AND status = $4`,
			pgtype.UUID{Bytes: jobID, Valid: true},
			string(scheduling.JobStatusCompleted),
			pgtype.Timestamptz{Time: firedAt, Valid: true},
			string(scheduling.JobStatusPending),
		)
		if err != nil {
			return fmt.Errorf("complete scheduler job error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := r.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM scheduler_jobs WHERE job_id = $1)`,
				pgtype.UUID{Bytes: jobID, Valid: true},
			).Scan(&exists); err != nil {
				return fmt.Errorf("complete scheduler job existence check error: %w", err)
			}
			if !exists {
				return scheduling.ErrJobNotFound
			}
		}
		return nil
	})
}

func scanJob(row pgx.Row) (*scheduling.Job, error) {
	var (
		jobID, postID pgtype.UUID
		dueAt         pgtype.Timestamptz
		status        string
		firedAt       pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
	)

	err := row.Scan(&jobID, &postID, &dueAt, &status, &firedAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduling.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler job row scan error: %w", err)
	}

	var fired *time.Time
	if firedAt.Valid {
		v := firedAt.Time
		fired = &v
	}

	return scheduling.ReconstructJob(
		uuid.UUID(jobID.Bytes),
		uuid.UUID(postID.Bytes),
		dueAt.Time,
		scheduling.JobStatus(status),
		fired,
		createdAt.Time,
	), nil
}

func firedAtParam(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
