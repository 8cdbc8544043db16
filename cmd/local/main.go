// Local harness: the whole pipeline in one process against in-memory
// stores. Seeds a burst of tasks (some gated, some flaky), approves
// pending ones after a delay and lets the dispatcher grind through
// retries and escalations.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/freundallein/taskgate/approval"
	"github.com/freundallein/taskgate/chassis/alert"
	"github.com/freundallein/taskgate/chassis/config"
	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/ratelimit"
	"github.com/freundallein/taskgate/chassis/storage"
	"github.com/freundallein/taskgate/dispatcher"
	"github.com/freundallein/taskgate/supervisor"
)

var priorities = []storage.Priority{storage.LOW, storage.MEDIUM, storage.HIGH, storage.URGENT}
var handlers = []string{"noop-success", "flaky", "noop-failure"}

func seed(repo *storage.MemRepository, count int) []string {
	var gated []string
	for i := 0; i < count; i++ {
		handler := handlers[rand.Intn(len(handlers))]
		requiresApproval := rand.Float64() < 0.3
		task := storage.NewTask(
			"demo task "+strconv.Itoa(i),
			handler,
			priorities[rand.Intn(len(priorities))],
			requiresApproval,
			map[string]string{"seq": strconv.Itoa(i)},
		)
		if err := repo.Create(context.Background(), task); err != nil {
			log.WithFields(log.Fields{
				"event": "seed_failed",
			}).Error(err)
			continue
		}
		if requiresApproval {
			gated = append(gated, task.ID)
		}
	}
	return gated
}

func approveAll(ctx context.Context, gate *approval.Gate, ids []string) {
	for _, id := range ids {
		if _, err := gate.Approve(ctx, id, "local-operator"); err != nil {
			log.WithFields(log.Fields{
				"event":  "approve_failed",
				"taskID": id,
			}).Error(err)
		}
	}
}

func main() {
	log.Init("local", "debug")

	repo := storage.NewMemRepository()
	activity := storage.NewMemActivity()
	limiter := ratelimit.NewMemLimiter()
	gate := approval.NewGate(repo, activity)

	registry := dispatcher.NewRegistry().
		Register("noop-success", dispatcher.NoopSuccess()).
		Register("noop-failure", dispatcher.NoopFailure()).
		Register("flaky", dispatcher.Flaky(0.4)).
		Register(config.DefaultReviewer, dispatcher.ReviewNotify(alert.LogSink{}))

	service := dispatcher.New(dispatcher.Config{
		Repository:        repo,
		Activity:          activity,
		Limiter:           limiter,
		Alerts:            alert.LogSink{},
		Registry:          registry,
		BatchSize:         10,
		MaxAttempts:       3,
		TaskTimeout:       10 * time.Second,
		RateMax:           30,
		RateWindowSeconds: 60,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var group sync.WaitGroup
	supervisor.Run(ctx, &supervisor.Config{
		Repository:      repo,
		Workers:         1,
		StaleTimeout:    30,
		RepairBatchSize: 10,
		Interval:        5 * time.Second,
	}, &group)

	gated := seed(repo, 40)
	log.WithFields(log.Fields{
		"event": "seeded",
		"gated": len(gated),
	}).Info("seeded 40 demo tasks")

	go func() {
		time.Sleep(6 * time.Second)
		approveAll(ctx, gate, gated)
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-done:
			log.WithFields(log.Fields{
				"event": "ctx_cancel",
			}).Info("received syscall")
			cancel()
			group.Wait()
			return
		case <-ticker.C:
			summary, err := service.PollAndExecute(ctx)
			if err != nil {
				log.WithFields(log.Fields{
					"event": "poll_cycle_failed",
				}).Error(err)
				continue
			}
			log.Info("-----------------------")
			log.Info("EXECUTED ", summary.Executed)
			log.Info("FAILED   ", summary.Failed)
			log.Info("SKIPPED  ", summary.Skipped)
			log.Info("ACTIVITY ", len(activity.Entries()))
		}
	}
}
