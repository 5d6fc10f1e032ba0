// Package supervisor enforces the maximum run time of async query jobs.
//
// One supervisor goroutine is bound to each submitted job. It waits for the
// work to finish within the remaining window; if the window elapses first it
// cancels the work and marks the job TIMEDOUT. The status write is guarded
// so whichever terminal write lands first wins.
package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/executor"
)

// State is the supervisor's view of a job.
type State string

const (
	StateWaiting   State = "WAITING"
	StateCompleted State = "COMPLETED"
	StateTimedOut  State = "TIMED_OUT"
	StateErrored   State = "ERRORED"
)

// Handle is the part of an executor handle the supervisor drives.
type Handle interface {
	Await(ctx context.Context, maxWait time.Duration) executor.AwaitResult
	Cancel(cause error)
}

// StatusUpdater applies a guarded status transition. It returns
// domain.ErrTerminalStatus when the job already ended and
// domain.ErrJobNotFound when it does not exist.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error
}

// MetricsSink defines the interface for recording supervisor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SupervisorOutcome(state string)
}

// Supervisor watches jobs against a fixed maximum run time.
type Supervisor struct {
	maxRunTime time.Duration
	store      StatusUpdater
	clock      func() time.Time
	metrics    MetricsSink // optional, nil = disabled

	wg sync.WaitGroup
}

// New creates a new Supervisor.
func New(maxRunTime time.Duration, store StatusUpdater) *Supervisor {
	return &Supervisor{
		maxRunTime: maxRunTime,
		store:      store,
		clock:      time.Now,
	}
}

// WithClock replaces the clock used for deadline computation. It must be
// the same clock that produced the submission timestamps.
func (s *Supervisor) WithClock(clock func() time.Time) *Supervisor {
	s.clock = clock
	return s
}

// WithMetrics attaches a metrics sink to the supervisor.
func (s *Supervisor) WithMetrics(sink MetricsSink) *Supervisor {
	s.metrics = sink
	return s
}

// MaxRunTime returns the configured maximum run time.
func (s *Supervisor) MaxRunTime() time.Duration { return s.maxRunTime }

// Go watches the job on a new goroutine. Use Wait to block until every
// watch started this way has returned.
func (s *Supervisor) Go(ctx context.Context, jobID uuid.UUID, h Handle, submittedOn time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Watch(ctx, jobID, h, submittedOn)
	}()
}

// Wait blocks until all watches started with Go have returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Watch blocks until the job completes, its deadline passes, or ctx ends,
// and returns the resulting state.
//
// COMPLETED covers failed work too; the executor records FAILED itself.
// ERRORED means ctx ended first: nothing is cancelled or written, and the
// sweeper reclaims the job if it never finishes.
func (s *Supervisor) Watch(ctx context.Context, jobID uuid.UUID, h Handle, submittedOn time.Time) State {
	state := s.watch(ctx, jobID, h, submittedOn)
	if s.metrics != nil {
		s.metrics.SupervisorOutcome(string(state))
	}
	return state
}

func (s *Supervisor) watch(ctx context.Context, jobID uuid.UUID, h Handle, submittedOn time.Time) State {
	remaining := Remaining(s.maxRunTime, submittedOn, s.clock())
	if remaining <= 0 {
		log.Printf("supervisor: job=%s past deadline at start (overrun=%s)", jobID, (-remaining).Round(time.Millisecond))
		s.timeout(ctx, jobID, h)
		return StateTimedOut
	}

	switch h.Await(ctx, remaining) {
	case executor.AwaitCompleted:
		return StateCompleted
	case executor.AwaitInterrupted:
		log.Printf("supervisor: job=%s wait interrupted: %v", jobID, context.Cause(ctx))
		return StateErrored
	default:
		log.Printf("supervisor: job=%s exceeded max run time %s", jobID, s.maxRunTime)
		s.timeout(ctx, jobID, h)
		return StateTimedOut
	}
}

// timeout cancels the work and records TIMEDOUT. Store errors are logged
// only; the sweeper marks the job later if this write never lands.
func (s *Supervisor) timeout(ctx context.Context, jobID uuid.UUID, h Handle) {
	h.Cancel(executor.ErrTimedOut)

	err := s.store.UpdateStatus(context.WithoutCancel(ctx), jobID, domain.StatusTimedOut)
	switch {
	case err == nil:
		log.Printf("supervisor: job=%s marked %s", jobID, domain.StatusTimedOut)
	case errors.Is(err, domain.ErrTerminalStatus):
		log.Printf("supervisor: job=%s already terminal, skipping %s", jobID, domain.StatusTimedOut)
	default:
		log.Printf("supervisor: job=%s failed to mark %s: %v", jobID, domain.StatusTimedOut, err)
	}
}
