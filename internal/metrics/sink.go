package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Executor metrics
	JobSubmitted()
	JobRejected(reason string)
	JobsInFlightIncr()
	JobsInFlightDecr()
	JobFinished(status string, duration time.Duration)

	// Supervisor metrics
	SupervisorOutcome(state string)

	// Sweeper metrics
	SweepCompleted(duration time.Duration, deleted, timedOut int, err error)
	SweepSkipped()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Rejection reasons for JobRejected.
const (
	RejectQueueFull = "queue_full"
	RejectStopped   = "stopped"
	RejectStore     = "store_error"
)
