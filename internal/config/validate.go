package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/asyncq/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE_DRIVER=sqlite")
		}
	case DriverMemory:
	default:
		add("STORE_DRIVER", "must be 'postgres', 'sqlite' or 'memory', got %q", cfg.StoreDriver)
	}

	switch cfg.QueryDriver {
	case "", DriverPostgres, DriverSQLite:
	default:
		add("QUERY_DATABASE_DRIVER", "must be 'postgres' or 'sqlite', got %q", cfg.QueryDriver)
	}
	if cfg.QueryDatabaseURL != "" && cfg.QueryDatabaseURL == cfg.storeLocation() {
		add("QUERY_DATABASE_URL", "must not be the job store database")
	}

	if cfg.LeaderElectionEnabled && cfg.StoreDriver != DriverPostgres {
		add("LEADER_ELECTION_ENABLED", "requires STORE_DRIVER=postgres")
	}

	if cfg.MaxRunTimeMinutes <= 0 {
		add("MAX_RUN_TIME_MINUTES", "must be positive")
	}
	if cfg.CleanupDays <= 0 {
		add("CLEANUP_DAYS", "must be positive")
	}
	if cfg.SweepBatchSize < 0 {
		add("SWEEP_BATCH_SIZE", "must not be negative")
	}
	if cfg.ExecutorWorkers <= 0 {
		add("EXECUTOR_WORKERS", "must be positive")
	}
	if cfg.ExecutorQueueSize <= 0 {
		add("EXECUTOR_QUEUE_SIZE", "must be positive")
	}

	if cfg.SubmitRateLimit < 0 {
		add("SUBMIT_RATE_LIMIT", "must not be negative")
	}
	if cfg.SubmitRateLimit > 0 && cfg.SubmitRateBurst <= 0 {
		add("SUBMIT_RATE_BURST", "must be positive when SUBMIT_RATE_LIMIT is set")
	}

	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}

	if cfg.SweepSchedule == "" {
		add("SWEEP_SCHEDULE", "required")
	} else if _, err := cron.NewParser().Parse(cfg.SweepSchedule); err != nil {
		add("SWEEP_SCHEDULE", "%v", err)
	}

	durations := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"EXECUTOR_DRAIN_TIMEOUT", cfg.ExecutorDrainTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			add(d.field, "invalid duration: %v", err)
		} else if parsed <= 0 {
			add(d.field, "must be positive")
		}
	}

	if cfg.MetricsEnabled && (cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535) {
		add("METRICS_PORT", "must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// storeLocation returns the job store's DSN or path when the query database
// uses the same driver, and "" otherwise.
func (c Config) storeLocation() string {
	if c.QueryDatabaseDriver() != c.StoreDriver {
		return ""
	}
	switch c.StoreDriver {
	case DriverPostgres:
		return c.DatabaseURL
	case DriverSQLite:
		return c.SQLitePath
	}
	return ""
}
