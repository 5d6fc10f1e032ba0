package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobSubmitted()                                                           {}
func (n *NoopSink) JobRejected(reason string)                                               {}
func (n *NoopSink) JobsInFlightIncr()                                                       {}
func (n *NoopSink) JobsInFlightDecr()                                                       {}
func (n *NoopSink) JobFinished(status string, duration time.Duration)                       {}
func (n *NoopSink) SupervisorOutcome(state string)                                          {}
func (n *NoopSink) SweepCompleted(duration time.Duration, deleted, timedOut int, err error) {}
func (n *NoopSink) SweepSkipped()                                                           {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                       {}
func (n *NoopSink) LeaderAcquired()                                                         {}
func (n *NoopSink) LeaderLost(reason string)                                                {}
