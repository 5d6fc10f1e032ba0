package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/asyncq/internal/api"
	"github.com/djlord-it/asyncq/internal/circuitbreaker"
	"github.com/djlord-it/asyncq/internal/config"
	"github.com/djlord-it/asyncq/internal/cron"
	"github.com/djlord-it/asyncq/internal/engine"
	"github.com/djlord-it/asyncq/internal/executor"
	"github.com/djlord-it/asyncq/internal/leaderelection"
	"github.com/djlord-it/asyncq/internal/metrics"
	"github.com/djlord-it/asyncq/internal/results"
	"github.com/djlord-it/asyncq/internal/service"
	"github.com/djlord-it/asyncq/internal/supervisor"
	"github.com/djlord-it/asyncq/internal/sweeper"
)

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
}

// runServe starts every component and blocks until ctx is cancelled or a
// server fails, then shuts down in order: HTTP, executor drain, supervisors,
// sweeper, metrics.
func runServe(ctx context.Context, cfg config.Config) error {
	logConfigWarnings(&cfg)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	schedule, err := cron.NewParser().Parse(cfg.SweepSchedule)
	if err != nil {
		return &configError{err: fmt.Errorf("SWEEP_SCHEDULE: %w", err)}
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.MetricsPort),
			Handler: metricsMux,
		}
		log.Printf("asyncq: metrics enabled (port=%d, path=%s)", cfg.MetricsPort, cfg.MetricsPath)
	} else {
		log.Println("asyncq: METRICS_ENABLED not set; metrics disabled")
	}

	exec := executor.New(executor.Config{
		Workers:   cfg.ExecutorWorkers,
		QueueSize: cfg.ExecutorQueueSize,
	}, b.store).WithMetrics(sink)

	sup := supervisor.New(cfg.MaxRunTime(), b.store).WithMetrics(sink)

	queryDB, err := openQueryDB(ctx, cfg)
	if err != nil {
		return err
	}
	if queryDB != nil {
		defer queryDB.Close()
	}

	queryEngine := engine.New(queryDB)
	svc := service.New(exec, sup, b.store, queryEngine.Work)

	var sweepStore sweeper.Store = b.store
	handler := api.NewHandler(svc)
	if b.db != nil {
		handler = handler.WithHealthCheck("database", b.db.PingContext)
	}
	if queryDB != nil {
		handler = handler.WithHealthCheck("query_database", queryDB.PingContext)
	}

	if cfg.RedisAddr != "" {
		client := newRedisClient(cfg)
		defer client.Close()

		payloads := results.NewGuardedStore(
			results.NewRedisStore(client, cfg.Retention()),
			circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown),
		)
		exec.WithPayloads(payloads)
		svc.WithPayloads(payloads)
		sweepStore = results.NewPruningStore(sweepStore, payloads)
		handler = handler.WithHealthCheck("redis", payloads.Ping)
		log.Printf("asyncq: result payloads stored in redis (addr=%s, ttl=%s)", cfg.RedisAddr, cfg.Retention())
	} else {
		log.Println("asyncq: REDIS_ADDR not set; results stored inline")
	}

	sw := sweeper.New(sweeperConfig(cfg), sweepStore).WithMetrics(sink)
	handler = handler.WithSweeper(sw)

	var elector *leaderelection.Elector
	if cfg.LeaderElectionEnabled {
		elector = leaderelection.New(
			leaderelection.Config{
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			leaderelection.PostgresConnector(b.db, cfg.LeaderLockKey),
			func(ctx context.Context) { sw.Run(ctx, schedule) },
		).WithMetrics(sink)
		handler = handler.WithLeaderStatus(elector)
		log.Printf("asyncq: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	}

	if cfg.SubmitRateLimit > 0 {
		handler = handler.WithSubmitLimiter(api.NewSubmitLimiter(cfg.SubmitRateLimit, cfg.SubmitRateBurst))
		log.Printf("asyncq: submit rate limit %g/s per principal (burst=%d)", cfg.SubmitRateLimit, cfg.SubmitRateBurst)
	}

	var root http.Handler = handler
	if len(cfg.CORSAllowedOrigins) > 0 {
		root = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", api.PrincipalHeader},
		}).Handler(handler)
		log.Printf("asyncq: cors enabled (origins=%v)", cfg.CORSAllowedOrigins)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: root,
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("asyncq: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			log.Printf("asyncq: metrics server listening on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if elector != nil {
			elector.Run(sweepCtx)
			return
		}
		sw.Run(sweepCtx, schedule)
	}()

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("asyncq: shutting down")

		// Phase 1: stop accepting requests
		httpCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Printf("asyncq: http server shutdown error: %v", err)
		}
		log.Println("asyncq: http server stopped")

		// Phase 2: drain running jobs, then stop supervisors
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ExecutorDrainTimeout)
		defer cancelDrain()
		svc.Shutdown(drainCtx)

		// Phase 3: stop sweeping and release leadership
		cancelSweep()
		<-sweepDone
		log.Println("asyncq: sweeper stopped")

		// Phase 4: metrics last so shutdown is observable
		if metricsServer != nil {
			metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
			defer cancelMetrics()
			if err := metricsServer.Shutdown(metricsCtx); err != nil {
				log.Printf("asyncq: metrics server shutdown error: %v", err)
			}
			log.Println("asyncq: metrics server stopped")
		}
		return nil
	})

	log.Printf("asyncq: started (driver=%s, http=%s, max_run_time=%s, sweep=%q)",
		cfg.StoreDriver, cfg.HTTPAddr, cfg.MaxRunTime(), cfg.SweepSchedule)

	err = g.Wait()
	log.Println("asyncq: stopped")
	return err
}
