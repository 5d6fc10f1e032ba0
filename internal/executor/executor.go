// Package executor runs async query jobs on a bounded worker pool.
//
// Submit persists the job as QUEUED and returns a Handle immediately. The
// work runs on its own goroutine once a worker slot is free; the executor
// moves the record to PROCESSING and, when the work returns, to its terminal
// status. Every status write is a guarded transition, so a job already ended
// by a supervisor, sweeper or user cancel is never overwritten.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/metrics"
)

var (
	// ErrTimedOut is the cancellation cause used when a job overruns its
	// maximum run time.
	ErrTimedOut = errors.New("job exceeded maximum run time")

	// ErrCancelled is the cancellation cause used for user cancellation.
	ErrCancelled = errors.New("job cancelled")

	// ErrStopped is the cancellation cause used when the executor shuts
	// down with work still running. Such jobs keep their non-terminal
	// status and are reclaimed by the sweeper.
	ErrStopped = errors.New("executor stopped")

	ErrQueueFull  = errors.New("executor queue full")
	ErrNotRunning = errors.New("job not running on this executor")
)

// Output is what a unit of work produces.
type Output struct {
	Body       []byte
	HTTPStatus int
}

// Work is an opaque unit of work. It must return promptly once ctx is done.
type Work func(ctx context.Context) (Output, error)

// Store is the persistence the executor needs.
type Store interface {
	InsertJob(ctx context.Context, job domain.Job) error
	// UpdateStatus applies a guarded transition and returns
	// domain.ErrTerminalStatus if the job already ended.
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error
	// FinishJob moves a non-terminal job to a terminal status, storing the
	// result (COMPLETE) or error message (FAILED) in the same write.
	FinishJob(ctx context.Context, jobID uuid.UUID, status domain.Status, result *domain.Result, errMsg string) error
}

// PayloadStore holds result bodies outside the job store.
type PayloadStore interface {
	Put(ctx context.Context, jobID uuid.UUID, body []byte) (string, error)
}

// MetricsSink defines the interface for recording executor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobSubmitted()
	JobRejected(reason string)
	JobsInFlightIncr()
	JobsInFlightDecr()
	JobFinished(status string, duration time.Duration)
}

// Config holds executor configuration.
type Config struct {
	// Workers is the number of jobs that may execute concurrently.
	// Default: 6.
	Workers int

	// QueueSize is the maximum number of accepted jobs waiting for a worker.
	// Default: 100.
	QueueSize int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   6,
		QueueSize: 100,
	}
}

// Executor runs submitted work and records its terminal status.
type Executor struct {
	config   Config
	store    Store
	payloads PayloadStore // optional, nil = inline result bodies
	metrics  MetricsSink  // optional, nil = disabled
	clock    func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	halted  bool // drain deadline passed; late handles start cancelled
	waiting int
	active  map[uuid.UUID]*Handle
}

// New creates a new Executor.
func New(config Config, store Store) *Executor {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Executor{
		config: config,
		store:  store,
		clock:  time.Now,
		sem:    semaphore.NewWeighted(int64(config.Workers)),
		active: make(map[uuid.UUID]*Handle),
	}
}

// WithPayloads stores result bodies in p instead of inline.
func (e *Executor) WithPayloads(p PayloadStore) *Executor {
	e.payloads = p
	return e
}

// WithClock replaces the clock used for submission and completion times.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// Submit persists job as QUEUED and schedules work. It returns the handle
// and the submission time; the latter carries a monotonic clock reading and
// is the value deadlines must be computed from.
func (e *Executor) Submit(ctx context.Context, job domain.Job, work Work) (*Handle, time.Time, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.reject(metrics.RejectStopped)
		return nil, time.Time{}, ErrStopped
	}
	if e.waiting >= e.config.QueueSize {
		e.mu.Unlock()
		e.reject(metrics.RejectQueueFull)
		return nil, time.Time{}, ErrQueueFull
	}
	e.waiting++
	// Counted before the lock is released so Stop waits for this submission.
	e.wg.Add(1)
	e.mu.Unlock()

	submittedOn := e.clock()
	job.Status = domain.StatusQueued
	job.CreatedOn = submittedOn.UTC()
	job.UpdatedOn = job.CreatedOn
	job.Result = nil
	job.Error = ""

	if err := e.store.InsertJob(ctx, job); err != nil {
		e.mu.Lock()
		e.waiting--
		e.mu.Unlock()
		e.wg.Done()
		e.reject(metrics.RejectStore)
		return nil, time.Time{}, fmt.Errorf("insert job: %w", err)
	}

	h := newHandle(context.Background(), job.ID)

	e.mu.Lock()
	e.active[job.ID] = h
	if e.halted {
		h.Cancel(ErrStopped)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.JobSubmitted()
	}

	go e.run(h, work)

	return h, submittedOn, nil
}

// Cancel cancels a job running on this executor with ErrCancelled.
// Returns ErrNotRunning if the job is not tracked here.
func (e *Executor) Cancel(jobID uuid.UUID) error {
	e.mu.Lock()
	h, ok := e.active[jobID]
	e.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	h.Cancel(ErrCancelled)
	return nil
}

// Active returns the number of tracked jobs, queued or running.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Stop rejects new submissions and waits for tracked work to return. If ctx
// ends first, remaining work is cancelled with ErrStopped and Stop waits for
// it to unwind.
func (e *Executor) Stop(ctx context.Context) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("executor: drained")
	case <-ctx.Done():
		e.mu.Lock()
		e.halted = true
		n := len(e.active)
		for _, h := range e.active {
			h.Cancel(ErrStopped)
		}
		e.mu.Unlock()
		log.Printf("executor: drain timeout, cancelled %d jobs", n)
		<-done
	}
}

func (e *Executor) run(h *Handle, work Work) {
	var workErr error
	defer func() {
		e.untrack(h.jobID)
		h.cancel(context.Canceled)
		h.finish(workErr)
		e.wg.Done()
	}()

	// Store writes outlive job cancellation: a timed out job still needs its
	// terminal status written.
	storeCtx := context.WithoutCancel(h.ctx)

	if err := e.sem.Acquire(h.ctx, 1); err != nil {
		e.mu.Lock()
		e.waiting--
		e.mu.Unlock()
		// Cancelled while waiting for a worker.
		workErr = h.cause()
		e.record(storeCtx, h, 0, Output{}, workErr)
		return
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	e.waiting--
	e.mu.Unlock()

	if err := e.store.UpdateStatus(storeCtx, h.jobID, domain.StatusProcessing); err != nil {
		if errors.Is(err, domain.ErrTerminalStatus) {
			log.Printf("executor: job=%s already terminal before start, skipping", h.jobID)
			return
		}
		// The record stays QUEUED; the sweeper reclaims it if we never finish.
		log.Printf("executor: job=%s failed to mark processing: %v", h.jobID, err)
	}

	if e.metrics != nil {
		e.metrics.JobsInFlightIncr()
		defer e.metrics.JobsInFlightDecr()
	}

	start := e.clock()
	var out Output
	out, workErr = e.invoke(h.ctx, work)
	e.record(storeCtx, h, e.clock().Sub(start), out, workErr)
}

// invoke runs work, converting a panic into an error.
func (e *Executor) invoke(ctx context.Context, work Work) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()
	return work(ctx)
}

// record writes the terminal status for a finished job.
func (e *Executor) record(ctx context.Context, h *Handle, elapsed time.Duration, out Output, workErr error) {
	status, result, errMsg := e.outcome(ctx, h, out, workErr)
	if status == "" {
		log.Printf("executor: job=%s interrupted by shutdown, leaving status for sweeper", h.jobID)
		return
	}

	if e.metrics != nil {
		e.metrics.JobFinished(string(status), elapsed)
	}

	if err := e.store.FinishJob(ctx, h.jobID, status, result, errMsg); err != nil {
		if errors.Is(err, domain.ErrTerminalStatus) {
			log.Printf("executor: job=%s already terminal, skipping %s", h.jobID, status)
			return
		}
		log.Printf("executor: job=%s failed to record %s: %v", h.jobID, status, err)
		return
	}
	log.Printf("executor: job=%s finished status=%s elapsed=%s", h.jobID, status, elapsed.Round(time.Millisecond))
}

// outcome decides the terminal status. A cancellation cause takes precedence
// over whatever the work returned, so the executor agrees with whoever
// cancelled it. An empty status means no write.
func (e *Executor) outcome(ctx context.Context, h *Handle, out Output, workErr error) (domain.Status, *domain.Result, string) {
	switch cause := h.cause(); {
	case errors.Is(cause, ErrTimedOut):
		return domain.StatusTimedOut, nil, ""
	case errors.Is(cause, ErrCancelled):
		return domain.StatusCancelled, nil, ""
	case errors.Is(cause, ErrStopped):
		return "", nil, ""
	case cause != nil:
		return domain.StatusFailed, nil, cause.Error()
	}

	if workErr != nil {
		return domain.StatusFailed, nil, workErr.Error()
	}

	status := out.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	result := &domain.Result{
		ContentLength: int64(len(out.Body)),
		HTTPStatus:    status,
		CompletedOn:   e.clock().UTC(),
	}

	if e.payloads == nil {
		result.ResponseBody = string(out.Body)
		return domain.StatusComplete, result, ""
	}

	ref, err := e.payloads.Put(ctx, h.jobID, out.Body)
	if err != nil {
		return domain.StatusFailed, nil, fmt.Sprintf("store result payload: %v", err)
	}
	result.PayloadRef = ref
	return domain.StatusComplete, result, ""
}

func (e *Executor) untrack(jobID uuid.UUID) {
	e.mu.Lock()
	delete(e.active, jobID)
	e.mu.Unlock()
}

func (e *Executor) reject(reason string) {
	if e.metrics != nil {
		e.metrics.JobRejected(reason)
	}
}
