package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AwaitResult is the outcome of waiting on a Handle.
type AwaitResult int

const (
	// AwaitCompleted means the work returned, successfully or not.
	AwaitCompleted AwaitResult = iota
	// AwaitTimedOut means maxWait elapsed before the work returned.
	AwaitTimedOut
	// AwaitInterrupted means the waiter's own context ended first.
	AwaitInterrupted
)

func (r AwaitResult) String() string {
	switch r {
	case AwaitCompleted:
		return "completed"
	case AwaitTimedOut:
		return "timed_out"
	case AwaitInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Handle is the process-local link between a job id and its running work.
// It is never persisted.
type Handle struct {
	jobID  uuid.UUID
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(parent context.Context, jobID uuid.UUID) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle{
		jobID:  jobID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// JobID returns the id of the job this handle controls.
func (h *Handle) JobID() uuid.UUID { return h.jobID }

// Done is closed once the work has returned and its terminal status write
// has been attempted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error the work returned. Only meaningful after Done.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Await blocks until the work completes, maxWait elapses, or ctx ends,
// whichever happens first. A non-positive maxWait does not block.
func (h *Handle) Await(ctx context.Context, maxWait time.Duration) AwaitResult {
	if maxWait <= 0 {
		select {
		case <-h.done:
			return AwaitCompleted
		default:
			return AwaitTimedOut
		}
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-h.done:
		return AwaitCompleted
	case <-timer.C:
		return AwaitTimedOut
	case <-ctx.Done():
		return AwaitInterrupted
	}
}

// Cancel signals the work to stop. Cancellation is cooperative: the work's
// context is cancelled with cause, and the work must observe it. Only the
// first call's cause is kept.
func (h *Handle) Cancel(cause error) {
	h.cancel(cause)
}

// cause returns why the work's context was cancelled, or nil if it was not.
func (h *Handle) cause() error {
	if h.ctx.Err() == nil {
		return nil
	}
	return context.Cause(h.ctx)
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
