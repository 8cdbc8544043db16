package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/freundallein/taskgate/api"
	"github.com/freundallein/taskgate/approval"
	"github.com/freundallein/taskgate/chassis/alert"
	"github.com/freundallein/taskgate/chassis/config"
	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/queue"
	"github.com/freundallein/taskgate/chassis/ratelimit"
	"github.com/freundallein/taskgate/chassis/storage"
	"github.com/freundallein/taskgate/dispatcher"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	log.Init("dispatcher", appCfg.Dispatcher.LogLevel)
	log.WithFields(log.Fields{
		"event": "init_service",
	}).Info("service initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoCfg := storage.Config{
		DSN: appCfg.Storage.DSN,
	}
	repo, err := storage.InitPGRepository(ctx, repoCfg)
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_storage_failed",
		}).Fatal(err)
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.WithFields(log.Fields{
			"event": "init_schema_failed",
		}).Fatal(err)
	}
	activity := storage.InitPGActivity(repo)
	limiter := ratelimit.InitPGLimiter(repo.Pool())

	var sink alert.Sink = alert.LogSink{}
	if appCfg.Alerts.Queue.URL != "" {
		queueCfg := queue.Config{
			Name:    appCfg.Alerts.Queue.Name,
			URL:     appCfg.Alerts.Queue.URL,
			Retries: appCfg.Alerts.Queue.Retries,

			//AWS specific
			Region:             appCfg.AWS.Region,
			CredentialsFile:    appCfg.AWS.CredentialsFile,
			CredentialsProfile: appCfg.AWS.CredentialsProfile,
		}
		sink = alert.NewQueueSink(queue.InitAWSQueue(queueCfg), appCfg.Alerts.PerMinute)
	}

	registry := dispatcher.NewRegistry().
		Register("noop-success", dispatcher.NoopSuccess()).
		Register("noop-failure", dispatcher.NoopFailure()).
		Register("flaky", dispatcher.Flaky(0.3)).
		Register(appCfg.Dispatcher.Reviewer, dispatcher.ReviewNotify(sink))

	service := dispatcher.New(dispatcher.Config{
		Repository:        repo,
		Activity:          activity,
		Limiter:           limiter,
		Alerts:            sink,
		Registry:          registry,
		BatchSize:         appCfg.Dispatcher.BatchSize,
		MaxAttempts:       appCfg.Dispatcher.MaxAttempts,
		Concurrency:       appCfg.Dispatcher.Concurrency,
		TaskTimeout:       time.Duration(appCfg.Dispatcher.TaskTimeoutSeconds) * time.Second,
		RateMax:           appCfg.Dispatcher.RateLimit.Max,
		RateWindowSeconds: appCfg.Dispatcher.RateLimit.WindowSeconds,
		Reviewer:          appCfg.Dispatcher.Reviewer,
	})
	gate := approval.NewGate(repo, activity)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(appCfg.Dispatcher.PollSpec, func() {
		summary, err := service.PollAndExecute(ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"event": "poll_cycle_failed",
			}).Error(err)
			return
		}
		log.WithFields(log.Fields{
			"event":    "poll_cycle",
			"executed": summary.Executed,
			"failed":   summary.Failed,
			"skipped":  summary.Skipped,
		}).Info("poll cycle finished")
	})
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_cron_failed",
			"spec":  appCfg.Dispatcher.PollSpec,
		}).Fatal(err)
	}
	scheduler.Start()

	router := api.NewRouter(api.Config{
		Repository: repo,
		Gate:       gate,
		Dispatcher: service,
		Token:      appCfg.Dispatcher.APIToken,
	})
	srv := &http.Server{
		Addr:    appCfg.Dispatcher.Port,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen: %s\n", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.WithFields(log.Fields{
		"event": "ctx_cancel",
	}).Info("received syscall")
	cancel()
	cronCtx := scheduler.Stop()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("Server Shutdown Failed:%+v", err)
	}
	<-cronCtx.Done()
}
