package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		StoreDriver:       DriverPostgres,
		DatabaseURL:       "postgres://localhost/asyncq",
		MaxRunTimeMinutes: 60,
		CleanupDays:       7,
		SweepSchedule:     "@every 5m",
		ExecutorWorkers:   6,
		ExecutorQueueSize: 100,
		DBOpTimeoutStr:    "5s",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}

	cfg := validConfig()
	cfg.QueryDatabaseURL = "postgres://replica/warehouse"
	if err := Validate(cfg); err != nil {
		t.Errorf("separate query database should be valid, got: %v", err)
	}

	cfg = validConfig()
	cfg.StoreDriver = DriverMemory
	cfg.DatabaseURL = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("memory driver needs no DATABASE_URL, got: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL: %q", err.Error())
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "mysql" }, "STORE_DRIVER"},
		{"sqlite without path", func(c *Config) { c.StoreDriver = DriverSQLite; c.SQLitePath = "" }, "SQLITE_PATH"},
		{"leader election on sqlite", func(c *Config) {
			c.StoreDriver = DriverSQLite
			c.SQLitePath = "x.db"
			c.LeaderElectionEnabled = true
		}, "LEADER_ELECTION_ENABLED"},
		{"zero max run time", func(c *Config) { c.MaxRunTimeMinutes = 0 }, "MAX_RUN_TIME_MINUTES"},
		{"negative cleanup days", func(c *Config) { c.CleanupDays = -1 }, "CLEANUP_DAYS"},
		{"negative batch", func(c *Config) { c.SweepBatchSize = -1 }, "SWEEP_BATCH_SIZE"},
		{"zero workers", func(c *Config) { c.ExecutorWorkers = 0 }, "EXECUTOR_WORKERS"},
		{"zero queue", func(c *Config) { c.ExecutorQueueSize = 0 }, "EXECUTOR_QUEUE_SIZE"},
		{"bad schedule", func(c *Config) { c.SweepSchedule = "every five minutes" }, "SWEEP_SCHEDULE"},
		{"empty schedule", func(c *Config) { c.SweepSchedule = "" }, "SWEEP_SCHEDULE"},
		{"non-parseable timeout", func(c *Config) { c.DBOpTimeoutStr = "soon" }, "invalid duration"},
		{"zero timeout", func(c *Config) { c.DBOpTimeoutStr = "0s" }, "must be positive"},
		{"negative rate", func(c *Config) { c.SubmitRateLimit = -1 }, "SUBMIT_RATE_LIMIT"},
		{"rate without burst", func(c *Config) { c.SubmitRateLimit = 1; c.SubmitRateBurst = 0 }, "SUBMIT_RATE_BURST"},
		{"negative breaker threshold", func(c *Config) { c.CircuitBreakerThreshold = -1 }, "CIRCUIT_BREAKER_THRESHOLD"},
		{"bad breaker cooldown", func(c *Config) { c.CircuitBreakerCooldownStr = "later" }, "CIRCUIT_BREAKER_COOLDOWN"},
		{"unknown query driver", func(c *Config) { c.QueryDriver = "duckdb" }, "QUERY_DATABASE_DRIVER"},
		{"query database is the store", func(c *Config) { c.QueryDatabaseURL = c.DatabaseURL }, "QUERY_DATABASE_URL"},
		{"query database is the sqlite store", func(c *Config) {
			c.StoreDriver = DriverSQLite
			c.SQLitePath = "/data/asyncq.db"
			c.QueryDriver = DriverSQLite
			c.QueryDatabaseURL = "/data/asyncq.db"
		}, "QUERY_DATABASE_URL"},
		{"metrics port", func(c *Config) { c.MetricsEnabled = true; c.MetricsPort = 70000 }, "METRICS_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.CleanupDays = 0
	cfg.SweepSchedule = "nope"

	err := Validate(cfg)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verrs), err)
	}
	if !strings.HasPrefix(err.Error(), "3 validation errors:") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
