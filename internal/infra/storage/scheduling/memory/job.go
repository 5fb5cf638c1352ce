// Package memory provides an in-memory implementation of the scheduler job
// repository for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/postflow/internal/domain/scheduling"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

var _ scheduling.JobRepository = (*JobStore)(nil)

// JobStore is a mutex-guarded map store for scheduler jobs.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*scheduling.Job
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*scheduling.Job)}
}

// Create persists a new job.
func (s *JobStore) Create(ctx context.Context, job *scheduling.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.JobID()] = cloneJob(job)
	return nil
}

// GetByID retrieves a job.
func (s *JobStore) GetByID(ctx context.Context, jobID uuid.UUID) (*scheduling.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, scheduling.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Cancel marks a pending job cancelled. Cancelling an unknown or already
// terminal job is a no-op.
func (s *JobStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	job.Cancel()
	return nil
}

// DueJobs returns pending jobs whose due time is at or before now, oldest
// first, up to limit.
func (s *JobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*scheduling.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduling.Job
	for _, job := range s.jobs {
		if job.Status() == scheduling.JobStatusPending && !job.DueAt().After(now) {
			due = append(due, cloneJob(job))
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].DueAt().Before(due[j].DueAt()) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkCompleted records that a job's fire handler finished.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scheduling.ErrJobNotFound
	}
	job.MarkCompleted(firedAt)
	return nil
}

func cloneJob(j *scheduling.Job) *scheduling.Job {
	var firedAt *time.Time
	if f := j.FiredAt(); f != nil {
		v := *f
		firedAt = &v
	}
	return scheduling.ReconstructJob(j.JobID(), j.PostID(), j.DueAt(), j.Status(), firedAt, j.CreatedAt())
}
