// Package leaderelection elects the single asyncq instance that sweeps.
//
// A Postgres session-scoped advisory lock determines the leader. The lock
// is held for the lifetime of a dedicated database connection; there is no
// renewal or TTL. If the connection dies, Postgres releases the lock
// server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop sweeping promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Loss reasons reported to the metrics sink.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
	ReasonDutyExit = "duty_exit"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Session is a dedicated connection able to hold the lock.
type Session interface {
	// TryLock attempts the lock without blocking.
	TryLock(ctx context.Context) (bool, error)
	// Ping checks the connection is still alive.
	Ping(ctx context.Context) error
	// Close ends the session, releasing the lock if held.
	Close() error
}

// Connector opens a new Session.
type Connector func(ctx context.Context) (Session, error)

// Duty is the work performed while leader. Its context is cancelled when
// leadership is lost; the elector waits for it to return before retrying.
type Duty func(ctx context.Context)

// Config holds elector configuration.
type Config struct {
	// RetryInterval is how often a follower attempts to take the lock.
	// Default: 5s.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the leader pings its connection.
	// Default: 2s.
	HeartbeatInterval time.Duration
}

// Elector runs a duty only while it holds the lock.
type Elector struct {
	config  Config
	connect Connector
	duty    Duty
	metrics MetricsSink // optional, nil = disabled

	leader atomic.Bool
}

// New creates a new Elector.
func New(config Config, connect Connector, duty Duty) *Elector {
	if config.RetryInterval <= 0 {
		config.RetryInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Second
	}
	return &Elector{
		config:  config,
		connect: connect,
		duty:    duty,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run starts the election loop. It blocks until ctx is cancelled and any
// running duty has returned.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (retry=%s, heartbeat=%s)",
		e.config.RetryInterval, e.config.HeartbeatInterval)

	for {
		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}
		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), will retry in %s", reason, e.config.RetryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.config.RetryInterval):
		}
	}
}

// runOnce attempts to take the lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	session, err := e.connect(ctx)
	if err != nil {
		log.Printf("leader: failed to open session: %v", err)
		return ""
	}
	defer session.Close()

	acquired, err := session.TryLock(ctx)
	if err != nil {
		log.Printf("leader: lock attempt failed: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Println("leader: acquired lock")
	e.setLeader(true)
	if e.metrics != nil {
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	dutyDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(dutyDone)
		e.duty(leaderCtx)
	}()

	reason := e.holdLock(ctx, session, dutyDone)

	cancelLeader()
	wg.Wait()

	e.setLeader(false)
	if e.metrics != nil {
		e.metrics.LeaderLost(reason)
	}

	log.Println("leader: released lock")
	return reason
}

// holdLock blocks while pinging the session.
// Returns the reason the lock is being given up.
func (e *Elector) holdLock(ctx context.Context, session Session, dutyDone <-chan struct{}) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-dutyDone:
			return ReasonDutyExit
		case <-ticker.C:
			if err := session.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Printf("leader: session ping failed: %v", err)
				return ReasonConnLost
			}
		}
	}
}

func (e *Elector) setLeader(v bool) {
	e.leader.Store(v)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(v)
	}
}
