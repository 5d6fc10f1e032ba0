// Package service ties the executor, supervisor and job store together into
// the submit / poll / cancel lifecycle used by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/executor"
	"github.com/djlord-it/asyncq/internal/supervisor"
)

// Store is the job store the service reads and corrects.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error
}

// PayloadReader resolves result payload references.
type PayloadReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// WorkFunc builds the unit of work for a job.
type WorkFunc func(job domain.Job) executor.Work

// Submission is what a caller asks to run.
type Submission struct {
	Principal string
	Query     string
	QueryType domain.QueryType
	RequestID string
}

// Service manages async query jobs for callers.
type Service struct {
	executor   *executor.Executor
	supervisor *supervisor.Supervisor
	store      Store
	work       WorkFunc
	payloads   PayloadReader // optional, nil = inline results only

	// watchCtx scopes supervisor goroutines; cancelled on Shutdown.
	watchCtx    context.Context
	cancelWatch context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup // Submit calls past the stopped check
}

// New creates a new Service.
func New(exec *executor.Executor, sup *supervisor.Supervisor, store Store, work WorkFunc) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		executor:    exec,
		supervisor:  sup,
		store:       store,
		work:        work,
		watchCtx:    ctx,
		cancelWatch: cancel,
	}
}

// WithPayloads resolves PayloadRef results through p on Get.
func (s *Service) WithPayloads(p PayloadReader) *Service {
	s.payloads = p
	return s
}

// Submit persists a QUEUED job, schedules its work and starts its
// supervisor. The returned record is the acknowledgement.
func (s *Service) Submit(ctx context.Context, sub Submission) (domain.Job, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return domain.Job{}, executor.ErrStopped
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	job := domain.Job{
		ID:        uuid.New(),
		Principal: sub.Principal,
		RequestID: sub.RequestID,
		Query:     sub.Query,
		QueryType: sub.QueryType,
	}

	h, submittedOn, err := s.executor.Submit(ctx, job, s.work(job))
	if err != nil {
		return domain.Job{}, err
	}
	s.supervisor.Go(s.watchCtx, job.ID, h, submittedOn)

	job.Status = domain.StatusQueued
	job.CreatedOn = submittedOn.UTC()
	job.UpdatedOn = job.CreatedOn
	log.Printf("service: job=%s submitted principal=%s type=%s", job.ID, job.Principal, job.QueryType)
	return job, nil
}

// Get returns the job if it belongs to principal. Jobs owned by someone else
// are reported as domain.ErrJobNotFound.
func (s *Service) Get(ctx context.Context, principal string, jobID uuid.UUID) (domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Principal != principal {
		return domain.Job{}, domain.ErrJobNotFound
	}

	if job.Result != nil && job.Result.PayloadRef != "" && s.payloads != nil {
		body, err := s.payloads.Get(ctx, job.Result.PayloadRef)
		if err != nil {
			return domain.Job{}, fmt.Errorf("load result payload: %w", err)
		}
		job.Result.ResponseBody = string(body)
	}
	return job, nil
}

// Cancel stops a job owned by principal. Running work is cancelled and the
// executor records CANCELLED; a job not running in this process is marked
// CANCELLED directly. Returns domain.ErrTerminalStatus if the job already ended.
func (s *Service) Cancel(ctx context.Context, principal string, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Principal != principal {
		return domain.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ErrTerminalStatus
	}

	err = s.executor.Cancel(jobID)
	if err == nil {
		log.Printf("service: job=%s cancel requested", jobID)
		return nil
	}
	if !errors.Is(err, executor.ErrNotRunning) {
		return err
	}

	if err := s.store.UpdateStatus(ctx, jobID, domain.StatusCancelled); err != nil {
		return err
	}
	log.Printf("service: job=%s marked %s (not running here)", jobID, domain.StatusCancelled)
	return nil
}

// Shutdown stops accepting jobs, lets running work drain until ctx ends,
// then stops all supervisors.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.executor.Stop(ctx)
	// Every supervisor.Go call happens before Wait starts.
	s.inflight.Wait()
	s.cancelWatch()
	s.supervisor.Wait()
	log.Println("service: stopped")
}
