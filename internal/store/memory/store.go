// Package memory provides an in-process job store for tests and dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/domain"
)

// Store keeps job records in a map. It evaluates filters with
// domain.Filter.Matches and applies the same guarded transitions as the
// SQL stores.
type Store struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]domain.Job
	clock func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]domain.Job),
		clock: time.Now,
	}
}

// WithClock replaces the clock used for UpdatedOn.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// InsertJob stores a new record. Returns domain.ErrDuplicateJob if the id, or
// a non-empty request id for the same principal, is already present.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrDuplicateJob
	}
	if job.RequestID != "" {
		for _, j := range s.jobs {
			if j.Principal == job.Principal && j.RequestID == job.RequestID {
				return domain.ErrDuplicateJob
			}
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob returns the record with the given id.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// UpdateStatus applies a guarded transition.
func (s *Store) UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error {
	return s.FinishJob(ctx, jobID, status, nil, "")
}

// FinishJob applies a guarded transition and stores result and errMsg.
func (s *Store) FinishJob(ctx context.Context, jobID uuid.UUID, status domain.Status, result *domain.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return domain.ErrTerminalStatus
	}
	job.Status = status
	job.UpdatedOn = s.clock().UTC()
	if result != nil {
		r := *result
		job.Result = &r
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	s.jobs[jobID] = job
	return nil
}

// LoadMatching returns the records matching filter, oldest first.
func (s *Store) LoadMatching(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, job := range s.jobs {
		if filter.Matches(job) {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedOn.Before(out[j].CreatedOn)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteMatching removes the given records. Missing records are skipped.
func (s *Store) DeleteMatching(ctx context.Context, jobs []domain.Job) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range jobs {
		if _, ok := s.jobs[job.ID]; ok {
			delete(s.jobs, job.ID)
			n++
		}
	}
	return n, nil
}

// UpdateStatusMatching moves each given record that is still QUEUED or
// PROCESSING to status.
func (s *Store) UpdateStatusMatching(ctx context.Context, jobs []domain.Job, status domain.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	n := 0
	for _, j := range jobs {
		job, ok := s.jobs[j.ID]
		if !ok || !job.Status.IsActive() {
			continue
		}
		job.Status = status
		job.UpdatedOn = now
		s.jobs[j.ID] = job
		n++
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(job domain.Job) domain.Job {
	if job.Result != nil {
		r := *job.Result
		job.Result = &r
	}
	return job
}
