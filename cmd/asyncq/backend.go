package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/djlord-it/asyncq/internal/config"
	"github.com/djlord-it/asyncq/internal/engine"
	"github.com/djlord-it/asyncq/internal/executor"
	"github.com/djlord-it/asyncq/internal/service"
	"github.com/djlord-it/asyncq/internal/store/memory"
	"github.com/djlord-it/asyncq/internal/store/postgres"
	"github.com/djlord-it/asyncq/internal/store/sqlite"
	"github.com/djlord-it/asyncq/internal/sweeper"

	_ "github.com/lib/pq"
)

// jobStore is everything the server needs from a store driver.
type jobStore interface {
	executor.Store
	service.Store
	sweeper.Store
}

// backend is an opened store driver. db is nil for the memory driver.
type backend struct {
	store jobStore
	db    *sql.DB
	close func() error
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("asyncq: sqlite store opened (path=%s)", cfg.SQLitePath)
		return &backend{store: s, db: s.DB(), close: s.Close}, nil

	case config.DriverMemory:
		log.Println("asyncq: using in-memory store; job records do not survive restarts")
		return &backend{store: memory.New(), close: func() error { return nil }}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openPostgres(ctx context.Context, cfg config.Config) (*backend, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("asyncq: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	opCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()

	if err := db.PingContext(opCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := postgres.New(db)
	if err := store.Migrate(opCtx); err != nil {
		db.Close()
		return nil, err
	}

	return &backend{store: store, db: db, close: db.Close}, nil
}

// openQueryDB opens the database SQL jobs run against. It returns nil when
// QUERY_DATABASE_URL is unset, which fails every SQL job.
func openQueryDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.QueryDatabaseURL == "" {
		log.Println("asyncq: QUERY_DATABASE_URL not set; SQL jobs will fail")
		return nil, nil
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver := cfg.QueryDatabaseDriver(); driver {
	case config.DriverPostgres:
		db, err = sql.Open("postgres", cfg.QueryDatabaseURL)
	case config.DriverSQLite:
		db, err = sql.Open("sqlite3", engine.SQLiteReadOnlyDSN(cfg.QueryDatabaseURL))
	default:
		return nil, fmt.Errorf("unknown query database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open query database: %w", err)
	}
	db.SetMaxOpenConns(cfg.ExecutorWorkers)

	opCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(opCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to query database: %w", err)
	}

	log.Printf("asyncq: query database opened (driver=%s, read-only)", cfg.QueryDatabaseDriver())
	return db, nil
}
