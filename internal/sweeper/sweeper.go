// Package sweeper reclaims stale async query records.
//
// Each sweep runs two independent steps. Retention deletes every record
// older than the retention window, whatever its status. Orphan reclamation
// marks TIMEDOUT every QUEUED or PROCESSING record older than the maximum
// run time; these are jobs whose process crashed or restarted before a
// terminal status was written.
//
// Both steps are idempotent. Only records still QUEUED or PROCESSING are
// touched by the orphan step, so a sweep never rewrites a terminal status.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/djlord-it/asyncq/internal/domain"
)

// ErrSweepInProgress is returned by RunOnce when another sweep holds the lock.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Store is the persistence the sweeper needs.
type Store interface {
	LoadMatching(ctx context.Context, filter domain.Filter) ([]domain.Job, error)
	// DeleteMatching deletes the given records and any payloads they own.
	DeleteMatching(ctx context.Context, jobs []domain.Job) (int, error)
	// UpdateStatusMatching moves the given records to status, skipping any
	// that are no longer QUEUED or PROCESSING.
	UpdateStatusMatching(ctx context.Context, jobs []domain.Job, status domain.Status) (int, error)
}

// MetricsSink defines the interface for recording sweeper metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SweepCompleted(duration time.Duration, deleted, timedOut int, err error)
	SweepSkipped()
}

// Config holds sweeper configuration.
type Config struct {
	// MaxRunTime is the age after which an active job is an orphan.
	// Default: 60 minutes.
	MaxRunTime time.Duration

	// RetentionDays is how long records are kept, in whole days.
	// Default: 7.
	RetentionDays int

	// BatchSize caps the records processed per step per sweep.
	// Default: 0 (no cap).
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		MaxRunTime:    60 * time.Minute,
		RetentionDays: 7,
	}
}

// Result summarises one sweep.
type Result struct {
	Deleted  int
	TimedOut int
}

// Sweeper deletes expired records and times out orphans.
type Sweeper struct {
	config  Config
	store   Store
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled

	running sync.Mutex
}

// New creates a new Sweeper.
func New(config Config, store Store) *Sweeper {
	return &Sweeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithClock replaces the sweeper's clock.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run sweeps once immediately and then on every activation of schedule,
// until ctx is cancelled. Sweeps run on the calling goroutine, one at a time.
func (s *Sweeper) Run(ctx context.Context, schedule cron.Schedule) {
	log.Printf("sweeper: started (max_run_time=%s, retention_days=%d, batch=%d)",
		s.config.MaxRunTime, s.config.RetentionDays, s.config.BatchSize)

	s.sweep(ctx)

	for {
		now := s.clock()
		next := schedule.Next(now)
		if next.IsZero() {
			log.Println("sweeper: schedule has no further activations, stopping")
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("sweeper: stopped")
			return
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		log.Println("sweeper: previous sweep still running, skipping")
	case err != nil:
		log.Printf("sweeper: sweep finished with errors (deleted=%d, timed_out=%d): %v", res.Deleted, res.TimedOut, err)
	}
}

// RunOnce performs a single sweep. Both steps always run; their errors are
// joined. If another sweep is running, RunOnce returns ErrSweepInProgress
// without touching the store.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		if s.metrics != nil {
			s.metrics.SweepSkipped()
		}
		return Result{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := s.clock()
	now := start.UTC()

	var res Result
	deleted, retentionErr := s.deleteExpired(ctx, now)
	if retentionErr != nil {
		log.Printf("sweeper: retention step failed: %v", retentionErr)
	}
	res.Deleted = deleted

	timedOut, orphanErr := s.timeoutOrphans(ctx, now)
	if orphanErr != nil {
		log.Printf("sweeper: orphan step failed: %v", orphanErr)
	}
	res.TimedOut = timedOut

	err := errors.Join(retentionErr, orphanErr)
	if s.metrics != nil {
		s.metrics.SweepCompleted(s.clock().Sub(start), res.Deleted, res.TimedOut, err)
	}
	if err == nil && (res.Deleted > 0 || res.TimedOut > 0) {
		log.Printf("sweeper: sweep complete, deleted=%d, timed_out=%d", res.Deleted, res.TimedOut)
	}
	return res, err
}

// RetentionFilter returns the filter selecting records past retention at now.
func (s *Sweeper) RetentionFilter(now time.Time) domain.Filter {
	return domain.Filter{
		CreatedOnOrBefore: now.AddDate(0, 0, -s.config.RetentionDays),
		Limit:             s.config.BatchSize,
	}
}

// OrphanFilter returns the filter selecting active records past the maximum
// run time at now.
func (s *Sweeper) OrphanFilter(now time.Time) domain.Filter {
	return domain.Filter{
		Statuses:          domain.ActiveStatuses,
		CreatedOnOrBefore: now.Add(-s.config.MaxRunTime),
		Limit:             s.config.BatchSize,
	}
}

func (s *Sweeper) deleteExpired(ctx context.Context, now time.Time) (int, error) {
	filter := s.RetentionFilter(now)
	jobs, err := s.store.LoadMatching(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("retention: load %s: %w", filter, err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	n, err := s.store.DeleteMatching(ctx, jobs)
	if err != nil {
		return n, fmt.Errorf("retention: delete %d records: %w", len(jobs), err)
	}
	log.Printf("sweeper: deleted %d records past retention (%s)", n, filter)
	return n, nil
}

func (s *Sweeper) timeoutOrphans(ctx context.Context, now time.Time) (int, error) {
	filter := s.OrphanFilter(now)
	jobs, err := s.store.LoadMatching(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("orphans: load %s: %w", filter, err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	n, err := s.store.UpdateStatusMatching(ctx, jobs, domain.StatusTimedOut)
	if err != nil {
		return n, fmt.Errorf("orphans: mark %d records %s: %w", len(jobs), domain.StatusTimedOut, err)
	}
	log.Printf("sweeper: marked %d orphaned records %s (%s)", n, domain.StatusTimedOut, filter)
	return n, nil
}
