// Package postgres provides the PostgreSQL-backed post repository. It is the
// component that actually enforces optimistic concurrency: every write is
// conditioned on the stored version and bumps it on success.
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

	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/infra/storage"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

var _ content.PostRepository = (*postStore)(nil)

type postStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewPostStore creates a PostgreSQL-backed post repository with tracing.
func NewPostStore(pool *pgxpool.Pool, tracer trace.Tracer) *postStore {
	return &postStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const postColumns = `id, owner_id, body, content_type, hashtags, status,
	scheduled_at, scheduler_job_id, published_at, linkedin_post_id,
	failure_reason, last_failed_at, virality_score, version, created_at, updated_at`

// Create persists a new post.
func (r *postStore) Create(ctx context.Context, post *content.Post) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("post_id", post.ID().String()),
		attribute.String("status", string(post.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_post", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO posts (
				id, owner_id, body, content_type, hashtags, status,
				scheduled_at, scheduler_job_id, published_at, linkedin_post_id,
				failure_reason, last_failed_at, virality_score, version,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			pgUUID(post.ID()),
			pgUUID(post.OwnerID()),
			post.Body(),
			post.ContentType(),
			post.Hashtags(),
			string(post.Status()),
			pgTimePtr(post.ScheduledAt()),
			pgUUIDPtr(post.SchedulerJobID()),
			pgTimePtr(post.PublishedAt()),
			post.LinkedInPostID(),
			post.FailureReason(),
			pgTimePtr(post.LastFailedAt()),
			post.ViralityScore(),
			post.Version(),
			pgTime(post.Timeline().CreatedAt()),
			pgTime(post.Timeline().UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("create post insert error: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a post owned by the given account.
func (r *postStore) GetByID(ctx context.Context, ownerID, postID uuid.UUID) (*content.Post, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("post_id", postID.String()),
		attribute.String("owner_id", ownerID.String()),
	)

	var post *content.Post
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_post", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx,
			`SELECT `+postColumns+` FROM posts WHERE id = $1 AND owner_id = $2`,
			pgUUID(postID), pgUUID(ownerID),
		)
		var err error
		post, err = scanPost(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetByJobID retrieves a post by its scheduler job handle.
func (r *postStore) GetByJobID(ctx context.Context, jobID uuid.UUID) (*content.Post, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var post *content.Post
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_post_by_job", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx,
			`SELECT `+postColumns+` FROM posts WHERE scheduler_job_id = $1`,
			pgUUID(jobID),
		)
		var err error
		post, err = scanPost(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// Update persists the post's state under an optimistic version check. The
// UPDATE is conditioned on the version the aggregate was loaded at; zero rows
// affected with the post still present means a concurrent writer won.
func (r *postStore) Update(ctx context.Context, post *content.Post) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("post_id", post.ID().String()),
		attribute.String("status", string(post.Status())),
		attribute.Int64("version", post.Version()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_post", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE posts SET
				body = $3,
				content_type = $4,
				hashtags = $5,
				status = $6,
				scheduled_at = $7,
				scheduler_job_id = $8,
				published_at = $9,
				linkedin_post_id = $10,
				failure_reason = $11,
				last_failed_at = $12,
				version = version + 1,
				updated_at = $13
			WHERE id = $1 AND version = $2`,
			pgUUID(post.ID()),
			post.Version(),
			post.Body(),
			post.ContentType(),
			post.Hashtags(),
			string(post.Status()),
			pgTimePtr(post.ScheduledAt()),
			pgUUIDPtr(post.SchedulerJobID()),
			pgTimePtr(post.PublishedAt()),
			post.LinkedInPostID(),
			post.FailureReason(),
			pgTimePtr(post.LastFailedAt()),
			pgTime(post.Timeline().UpdatedAt()),
		)
		if err != nil {
			return fmt.Errorf("update post error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.classifyMissedWrite(ctx, post.ID())
		}

		post.IncrementVersion()
		return nil
	})
}

// CurrentVersion returns the post's committed version.
func (r *postStore) CurrentVersion(ctx context.Context, postID uuid.UUID) (int64, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("post_id", postID.String()))

	var version int64
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.post_version", dbAttrs, func(ctx context.Context) error {
		err := r.db.QueryRow(ctx, `SELECT version FROM posts WHERE id = $1`, pgUUID(postID)).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return content.ErrPostNotFound
		}
		if err != nil {
			return fmt.Errorf("post version query error: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// UpdateViralityScore writes the derived score iff the stored version still
// equals expectedVersion. No other column besides the score (and the version
// and timestamp bookkeeping) is touched.
func (r *postStore) UpdateViralityScore(ctx context.Context, postID uuid.UUID, expectedVersion int64, score float64) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("post_id", postID.String()),
		attribute.Int64("expected_version", expectedVersion),
		attribute.Float64("score", score),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_virality_score", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE posts SET
				virality_score = $3,
				version = version + 1,
				updated_at = now()
			WHERE id = $1 AND version = $2`,
			pgUUID(postID), expectedVersion, score,
		)
		if err != nil {
			return fmt.Errorf("update virality score error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.classifyMissedWrite(ctx, postID)
		}
		return nil
	})
}

// ListScheduledInWindow returns an owner's scheduled and published posts whose
// scheduled time falls within [from, to], ordered by scheduled time.
func (r *postStore) ListScheduledInWindow(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*content.Post, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("owner_id", ownerID.String()),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	var posts []*content.Post
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_calendar_window", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT `+postColumns+` FROM posts
			WHERE owner_id = $1
			  AND status IN ('SCHEDULED', 'PUBLISHED')
			  AND scheduled_at BETWEEN $2 AND $3
			ORDER BY scheduled_at ASC`,
			pgUUID(ownerID), pgTime(from), pgTime(to),
		)
		if err != nil {
			return fmt.Errorf("list calendar window query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			post, err := scanPost(rows)
			if err != nil {
				return err
			}
			posts = append(posts, post)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// classifyMissedWrite distinguishes a lost version race from a missing row
// after a conditional UPDATE touched nothing.
func (r *postStore) classifyMissedWrite(ctx context.Context, postID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, pgUUID(postID),
	).Scan(&exists); err != nil {
		return fmt.Errorf("post existence check error: %w", err)
	}
	if !exists {
		return content.ErrPostNotFound
	}
	return content.ErrConcurrentModification
}

func scanPost(row pgx.Row) (*content.Post, error) {
	var (
		id, ownerID       pgtype.UUID
		body, contentType string
		hashtags          []string
		status            string
		scheduledAt       pgtype.Timestamptz
		schedulerJobID    pgtype.UUID
		publishedAt       pgtype.Timestamptz
		linkedinPostID    *string
		failureReason     *string
		lastFailedAt      pgtype.Timestamptz
		viralityScore     *float64
		version           int64
		createdAt         pgtype.Timestamptz
		updatedAt         pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &ownerID, &body, &contentType, &hashtags, &status,
		&scheduledAt, &schedulerJobID, &publishedAt, &linkedinPostID,
		&failureReason, &lastFailedAt, &viralityScore, &version,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, content.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post row scan error: %w", err)
	}

	parsedStatus := content.ParsePostStatus(status)
	if parsedStatus == "" {
		return nil, fmt.Errorf("invalid stored post status %q", status)
	}

	return content.ReconstructPost(
		uuid.UUID(id.Bytes),
		uuid.UUID(ownerID.Bytes),
		body,
		contentType,
		hashtags,
		parsedStatus,
		timePtr(scheduledAt),
		uuidPtr(schedulerJobID),
		timePtr(publishedAt),
		linkedinPostID,
		failureReason,
		timePtr(lastFailedAt),
		viralityScore,
		version,
		content.ReconstructTimeline(createdAt.Time, updatedAt.Time),
	), nil
}

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func pgTime(t time.Time) pgtype.Timestamptz { return pgtype.Timestamptz{Time: t, Valid: true} }

func pgTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func uuidPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}
