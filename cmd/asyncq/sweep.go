package main

import (
	"context"

	"github.com/djlord-it/asyncq/internal/config"
	"github.com/djlord-it/asyncq/internal/results"
	"github.com/djlord-it/asyncq/internal/sweeper"
)

func sweeperConfig(cfg config.Config) sweeper.Config {
	return sweeper.Config{
		MaxRunTime:    cfg.MaxRunTime(),
		RetentionDays: cfg.CleanupDays,
		BatchSize:     cfg.SweepBatchSize,
	}
}

// runSweep performs a single sweep. Result payloads in Redis are pruned along
// with their records when REDIS_ADDR is set.
func runSweep(ctx context.Context, cfg config.Config) (sweeper.Result, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return sweeper.Result{}, err
	}
	defer b.close()

	var store sweeper.Store = b.store
	if cfg.RedisAddr != "" {
		client := newRedisClient(cfg)
		defer client.Close()
		store = results.NewPruningStore(store, results.NewRedisStore(client, cfg.Retention()))
	}

	return sweeper.New(sweeperConfig(cfg), store).RunOnce(ctx)
}
