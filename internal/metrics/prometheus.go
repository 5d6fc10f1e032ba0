package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Executor metrics
	jobsSubmittedTotal prometheus.Counter
	jobsRejectedTotal  *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge
	jobOutcomesTotal   *prometheus.CounterVec
	jobDuration        prometheus.Histogram

	// Supervisor metrics
	supervisorOutcomesTotal *prometheus.CounterVec

	// Sweeper metrics
	sweepRunsTotal     prometheus.Counter
	sweepErrorsTotal   prometheus.Counter
	sweepSkippedTotal  prometheus.Counter
	sweepDeletedTotal  prometheus.Counter
	sweepTimedOutTotal prometheus.Counter
	sweepDuration      prometheus.Histogram

	// Leader metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register keep working but are not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initExecutorMetrics(reg)
	s.initSupervisorMetrics(reg)
	s.initSweeperMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.jobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_executor_jobs_submitted_total",
		Help: "Total number of jobs accepted by the executor.",
	})
	s.jobsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncq_executor_jobs_rejected_total",
		Help: "Total number of submissions rejected by the executor.",
	}, []string{"reason"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asyncq_executor_jobs_in_flight",
		Help: "Number of jobs currently executing.",
	})
	s.jobOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncq_executor_job_outcomes_total",
		Help: "Total number of finished jobs by terminal status.",
	}, []string{"status"})
	s.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "asyncq_executor_job_duration_seconds",
		Help:    "Wall time from execution start to finish in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 3600},
	})

	s.register(reg, s.jobsSubmittedTotal, "asyncq_executor_jobs_submitted_total")
	s.register(reg, s.jobsRejectedTotal, "asyncq_executor_jobs_rejected_total")
	s.register(reg, s.jobsInFlight, "asyncq_executor_jobs_in_flight")
	s.register(reg, s.jobOutcomesTotal, "asyncq_executor_job_outcomes_total")
	s.register(reg, s.jobDuration, "asyncq_executor_job_duration_seconds")
}

func (s *PrometheusSink) initSupervisorMetrics(reg prometheus.Registerer) {
	s.supervisorOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncq_supervisor_outcomes_total",
		Help: "Total number of supervisor exits by final state.",
	}, []string{"state"})

	s.register(reg, s.supervisorOutcomesTotal, "asyncq_supervisor_outcomes_total")
}

func (s *PrometheusSink) initSweeperMetrics(reg prometheus.Registerer) {
	s.sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_sweeper_runs_total",
		Help: "Total number of completed sweeps.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_sweeper_errors_total",
		Help: "Total number of sweeps that finished with an error.",
	})
	s.sweepSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_sweeper_skipped_total",
		Help: "Total number of sweeps skipped because one was already running.",
	})
	s.sweepDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_sweeper_deleted_total",
		Help: "Total number of job records deleted by retention.",
	})
	s.sweepTimedOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_sweeper_timed_out_total",
		Help: "Total number of orphaned jobs marked TIMEDOUT.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "asyncq_sweeper_duration_seconds",
		Help:    "Duration of each sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.sweepRunsTotal, "asyncq_sweeper_runs_total")
	s.register(reg, s.sweepErrorsTotal, "asyncq_sweeper_errors_total")
	s.register(reg, s.sweepSkippedTotal, "asyncq_sweeper_skipped_total")
	s.register(reg, s.sweepDeletedTotal, "asyncq_sweeper_deleted_total")
	s.register(reg, s.sweepTimedOutTotal, "asyncq_sweeper_timed_out_total")
	s.register(reg, s.sweepDuration, "asyncq_sweeper_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asyncq_leader_is_leader",
		Help: "1 if this instance currently holds the sweeper lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asyncq_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asyncq_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "asyncq_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "asyncq_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "asyncq_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Executor metrics implementation

func (s *PrometheusSink) JobSubmitted() {
	s.jobsSubmittedTotal.Inc()
}

func (s *PrometheusSink) JobRejected(reason string) {
	s.jobsRejectedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) JobFinished(status string, duration time.Duration) {
	s.jobOutcomesTotal.WithLabelValues(status).Inc()
	s.jobDuration.Observe(duration.Seconds())
}

// Supervisor metrics implementation

func (s *PrometheusSink) SupervisorOutcome(state string) {
	s.supervisorOutcomesTotal.WithLabelValues(state).Inc()
}

// Sweeper metrics implementation

func (s *PrometheusSink) SweepCompleted(duration time.Duration, deleted, timedOut int, err error) {
	s.sweepRunsTotal.Inc()
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepDeletedTotal.Add(float64(deleted))
	s.sweepTimedOutTotal.Add(float64(timedOut))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) SweepSkipped() {
	s.sweepSkippedTotal.Inc()
}

// Leader metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
