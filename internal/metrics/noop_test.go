package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Executor metrics
	s.JobSubmitted()
	s.JobRejected(RejectQueueFull)
	s.JobsInFlightIncr()
	s.JobsInFlightDecr()
	s.JobFinished("COMPLETE", 100*time.Millisecond)

	// Supervisor metrics
	s.SupervisorOutcome("TIMED_OUT")

	// Sweeper metrics
	s.SweepCompleted(time.Second, 3, 1, nil)
	s.SweepCompleted(time.Second, 0, 0, errors.New("db down"))
	s.SweepSkipped()

	// Leader metrics
	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
