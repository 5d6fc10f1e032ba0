package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all configuration for the asyncq server.
// Values are loaded from environment variables; see Usage for the full list.
type Config struct {
	// StoreDriver: "postgres", "sqlite" or "memory".
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	SQLitePath  string `json:"sqlite_path"`

	// QueryDatabaseURL is the database submitted SQL jobs run against:
	// a connection string for postgres, a file path for sqlite. It must not
	// be the job store's database. Empty fails every SQL job.
	QueryDriver      string `json:"query_database_driver"`
	QueryDatabaseURL string `json:"query_database_url,omitempty"`

	// RedisAddr enables the Redis result payload store when set.
	RedisAddr string `json:"redis_addr,omitempty"`
	HTTPAddr  string `json:"http_addr"`

	// CORSAllowedOrigins enables CORS for browser clients when non-empty.
	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`

	// SubmitRateLimit is sustained submissions per second per principal.
	// 0 disables rate limiting.
	SubmitRateLimit float64 `json:"submit_rate_limit"`
	SubmitRateBurst int     `json:"submit_rate_burst"`

	// MaxRunTimeMinutes bounds how long a job may run before it is timed out,
	// and how old an active record must be before the sweeper claims it.
	MaxRunTimeMinutes int `json:"max_run_time_minutes"`
	CleanupDays       int `json:"cleanup_days"`

	// SweepSchedule is a cron expression or descriptor, e.g. "@every 5m".
	SweepSchedule  string `json:"sweep_schedule"`
	SweepBatchSize int    `json:"sweep_batch_size"`

	ExecutorWorkers   int `json:"executor_workers"`
	ExecutorQueueSize int `json:"executor_queue_size"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	ExecutorDrainTimeout    time.Duration `json:"-"`
	ExecutorDrainTimeoutStr string        `json:"executor_drain_timeout"`

	// CircuitBreakerThreshold: consecutive result payload store failures
	// before calls fail fast. 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	// LeaderElectionEnabled restricts sweeping to the instance holding the
	// advisory lock. Requires the postgres driver.
	LeaderElectionEnabled bool `json:"leader_election_enabled"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// MaxRunTime returns the maximum run time as a duration.
func (c Config) MaxRunTime() time.Duration {
	return time.Duration(c.MaxRunTimeMinutes) * time.Minute
}

// Retention returns the retention window as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.CleanupDays) * 24 * time.Hour
}

// QueryDatabaseDriver returns QueryDriver, defaulting to postgres.
func (c Config) QueryDatabaseDriver() string {
	if c.QueryDriver == "" {
		return DriverPostgres
	}
	return c.QueryDriver
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		StoreDriver:                os.Getenv("STORE_DRIVER"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		SQLitePath:                 os.Getenv("SQLITE_PATH"),
		QueryDriver:                os.Getenv("QUERY_DATABASE_DRIVER"),
		QueryDatabaseURL:           os.Getenv("QUERY_DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		SweepSchedule:              os.Getenv("SWEEP_SCHEDULE"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		ExecutorDrainTimeoutStr:    os.Getenv("EXECUTOR_DRAIN_TIMEOUT"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		LeaderElectionEnabled:      os.Getenv("LEADER_ELECTION_ENABLED") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	// Values validated as non-positive keep the raw number so Validate can
	// report them; unparseable values fall back to the default.
	cfg.MaxRunTimeMinutes = envInt("MAX_RUN_TIME_MINUTES", 60)
	cfg.CleanupDays = envInt("CLEANUP_DAYS", 7)
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", 0)
	cfg.ExecutorWorkers = envInt("EXECUTOR_WORKERS", 6)
	cfg.ExecutorQueueSize = envInt("EXECUTOR_QUEUE_SIZE", 100)
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.MetricsPort = envInt("METRICS_PORT", 9090)
	cfg.CircuitBreakerThreshold = envInt("CIRCUIT_BREAKER_THRESHOLD", 5)
	cfg.SubmitRateBurst = envInt("SUBMIT_RATE_BURST", 10)
	cfg.SubmitRateLimit = envFloat("SUBMIT_RATE_LIMIT", 0)
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	cfg.LeaderLockKey = int64(envInt("LEADER_LOCK_KEY", 728380))

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverPostgres
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "asyncq.db"
	}
	if cfg.QueryDriver == "" {
		cfg.QueryDriver = DriverPostgres
	}
	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 5m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.ExecutorDrainTimeoutStr == "" {
		cfg.ExecutorDrainTimeoutStr = "30s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ExecutorDrainTimeoutStr); err == nil {
		cfg.ExecutorDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// envInt reads an integer variable, falling back to def when it is unset or
// not an integer.
func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("config: invalid %s %q (must be an integer), using default %d", name, s, def)
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Printf("config: invalid %s %q (must be a number), using default %g", name, s, def)
		return def
	}
	return f
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.QueryDatabaseURL = maskSecret(c.QueryDatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// Usage describes the environment variables read by Load.
const Usage = `Environment variables:
  STORE_DRIVER               postgres | sqlite | memory (default: postgres)
  DATABASE_URL               PostgreSQL connection string (required for postgres)
  SQLITE_PATH                SQLite database file (default: asyncq.db)
  QUERY_DATABASE_DRIVER      postgres | sqlite, database for SQL jobs (default: postgres)
  QUERY_DATABASE_URL         Read-only target of SQL jobs; must differ from the job store (optional)
  REDIS_ADDR                 Redis address for result payloads (optional)
  HTTP_ADDR                  HTTP listen address (default: :8080, falls back to :$PORT)
  CORS_ALLOWED_ORIGINS       Comma-separated origins allowed by CORS (optional)
  SUBMIT_RATE_LIMIT          Submissions per second per principal, 0 = off (default: 0)
  SUBMIT_RATE_BURST          Submission burst per principal (default: 10)
  MAX_RUN_TIME_MINUTES       Maximum job run time (default: 60)
  CLEANUP_DAYS               Record retention in days (default: 7)
  SWEEP_SCHEDULE             Sweep cadence, cron or descriptor (default: @every 5m)
  SWEEP_BATCH_SIZE           Max records per sweep step, 0 = unbounded (default: 0)
  EXECUTOR_WORKERS           Concurrent jobs (default: 6)
  EXECUTOR_QUEUE_SIZE        Jobs waiting for a worker (default: 100)
  DB_OP_TIMEOUT              Per-operation database timeout (default: 5s)
  DB_MAX_OPEN_CONNS          Max open connections (default: 25)
  DB_MAX_IDLE_CONNS          Max idle connections (default: 5)
  DB_CONN_MAX_LIFETIME       Connection max lifetime (default: 30m)
  DB_CONN_MAX_IDLE_TIME      Connection max idle time (default: 5m)
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: 10s)
  EXECUTOR_DRAIN_TIMEOUT     Time to let running jobs finish on shutdown (default: 30s)
  CIRCUIT_BREAKER_THRESHOLD  Result payload store failures before failing fast, 0 = off (default: 5)
  CIRCUIT_BREAKER_COOLDOWN   Time before a probe call is allowed (default: 2m)
  METRICS_ENABLED            Expose Prometheus metrics (default: false)
  METRICS_PATH               Metrics path (default: /metrics)
  METRICS_PORT               Metrics listen port (default: 9090)
  LEADER_ELECTION_ENABLED    Only the advisory lock holder sweeps (default: false)
  LEADER_LOCK_KEY            Advisory lock key (default: 728380)
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: 5s)
  LEADER_HEARTBEAT_INTERVAL  Leader connection ping interval (default: 2s)
`
