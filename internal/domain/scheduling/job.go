// Package scheduling defines the durable job records that back the scheduling
// engine. A job is the persistence-side half of a schedule request: the engine
// re-derives due work from these records and wall-clock time on every polling
// pass, so firing survives process restarts.
package scheduling

import (
	"time"

	"github.com/ahrav/postflow/pkg/common/uuid"
)

// JobStatus represents the state of a scheduled job record.
type JobStatus string

const (
	// JobStatusPending indicates the job has not fired yet.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusCompleted indicates the fire handler ran to completion for this
	// job. A publish failure still completes the job; the post records the
	// failure.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusCancelled indicates the job was cancelled before firing.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "COMPLETED":
		return JobStatusCompleted
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// Job is a durable record mapping a post to a future execution time.
type Job struct {
	jobID     uuid.UUID
	postID    uuid.UUID
	dueAt     time.Time
	status    JobStatus
	firedAt   *time.Time
	createdAt time.Time
}

// NewJob creates a pending job for the given post due at the given time.
func NewJob(postID uuid.UUID, dueAt time.Time, now time.Time) *Job {
	return &Job{
		jobID:     uuid.New(),
		postID:    postID,
		dueAt:     dueAt,
		status:    JobStatusPending,
		createdAt: now,
	}
}

// ReconstructJob creates a Job from stored fields. Repository use only.
func ReconstructJob(
	jobID, postID uuid.UUID,
	dueAt time.Time,
	status JobStatus,
	firedAt *time.Time,
	createdAt time.Time,
) *Job {
	return &Job{
		jobID:     jobID,
		postID:    postID,
		dueAt:     dueAt,
		status:    status,
		firedAt:   firedAt,
		createdAt: createdAt,
	}
}

// JobID returns the opaque reference handed back to schedule callers.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// PostID returns the post this job will fire for.
func (j *Job) PostID() uuid.UUID { return j.postID }

// DueAt returns the requested execution time.
func (j *Job) DueAt() time.Time { return j.dueAt }

// Status returns the job's current state.
func (j *Job) Status() JobStatus { return j.status }

// FiredAt returns when the fire handler completed, if it has.
func (j *Job) FiredAt() *time.Time { return j.firedAt }

// CreatedAt returns when the job record was created.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// MarkCompleted records that the fire handler ran for this job.
func (j *Job) MarkCompleted(at time.Time) {
	j.status = JobStatusCompleted
	j.firedAt = &at
}

// Cancel marks the job cancelled. Cancelling a completed job is a no-op so
// cancel/fire races resolve quietly.
func (j *Job) Cancel() {
	if j.status == JobStatusPending {
		j.status = JobStatusCancelled
	}
}
