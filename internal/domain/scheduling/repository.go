package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// ErrJobNotFound indicates the referenced job does not exist.
var ErrJobNotFound = errors.New("scheduled job not found")

// JobRepository is the durable store the scheduling engine polls. A failed
// write on Create must leave no record behind: the caller treats a schedule
// request as all-or-nothing.
type JobRepository interface {
	// Create persists a new pending job.
	Create(ctx context.Context, job *Job) error

	// GetByID retrieves a job by its reference. Returns ErrJobNotFound when
	// the job does not exist.
	GetByID(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// Cancel marks a pending job cancelled. It is idempotent: cancelling an
	// unknown, completed, or already-cancelled job is a no-op.
	Cancel(ctx context.Context, jobID uuid.UUID) error

	// DueJobs returns pending jobs whose due time is at or before now,
	// ordered by due time, limited to limit records. Jobs stay pending until
	// MarkCompleted so a crash between fetch and dispatch refires them.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// MarkCompleted records that the fire handler ran for the job.
	MarkCompleted(ctx context.Context, jobID uuid.UUID, firedAt time.Time) error
}
