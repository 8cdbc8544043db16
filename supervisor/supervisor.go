// Package supervisor reverts stale in_progress tasks back to new so
// work stranded by a crashed or shut-down cycle is picked up again.
package supervisor

import (
	"context"
	"sync"
	"time"

	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/storage"
)

// Config ...
type Config struct {
	Repository      storage.TaskRepository
	Workers         int
	StaleTimeout    int
	RepairBatchSize int
	Interval        time.Duration
}

func worker(ctx context.Context, cfg *Config, workerID int, group *sync.WaitGroup) {
	repo := cfg.Repository
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second * 5
	}
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": workerID,
			}).Info("exit goroutine")
			group.Done()
			return
		case <-time.After(interval):
			repaired, err := repo.RepairStale(ctx, cfg.StaleTimeout, cfg.RepairBatchSize)
			if err != nil {
				log.WithFields(log.Fields{
					"event":  "stale_task_repair_failed",
					"worker": workerID,
				}).Error(err)
				continue
			}
			if repaired > 0 {
				log.WithFields(log.Fields{
					"event":  "stale_task_repair",
					"worker": workerID,
				}).Info("reverted stale tasks:", repaired)
			}
		}
	}
}

// Run ...
func Run(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	log.WithFields(log.Fields{
		"event": "start_service",
	}).Info("starting ", cfg.Workers, " workers")
	for wrk := 1; wrk <= cfg.Workers; wrk++ {
		group.Add(1)
		go worker(ctx, cfg, wrk, group)
	}
}
