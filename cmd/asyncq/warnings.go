package main

import (
	"log"

	"github.com/djlord-it/asyncq/internal/config"
)

// logConfigWarnings logs operational risks in an otherwise valid config.
// P0 warnings describe setups that lose or strand job records.
func logConfigWarnings(cfg *config.Config) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Println("WARNING [P0]: STORE_DRIVER=memory; job records are lost on restart and the sweeper cannot reclaim them")
	}

	if cfg.StoreDriver == config.DriverPostgres && !cfg.LeaderElectionEnabled {
		log.Println("WARNING [P1]: LEADER_ELECTION_ENABLED=false; every instance sharing this database will sweep")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false; executor and sweeper health are not observable")
	}

	if cfg.ExecutorDrainTimeout >= cfg.MaxRunTime() {
		log.Printf("INFO: EXECUTOR_DRAIN_TIMEOUT=%s is not shorter than the max run time (%s); shutdown may wait for the supervisor deadline",
			cfg.ExecutorDrainTimeout, cfg.MaxRunTime())
	}

	if cfg.SweepBatchSize == 0 {
		log.Println("INFO: SWEEP_BATCH_SIZE=0; each sweep step loads every matching record")
	}
}
