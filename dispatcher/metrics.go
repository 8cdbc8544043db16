package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_dispatch_cycles_total",
		Help: "Poll cycles started, including rate limited ones.",
	})
	rateLimitedCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_dispatch_cycles_rate_limited_total",
		Help: "Poll cycles skipped entirely by the rate limiter.",
	})
	tasksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_tasks_executed_total",
		Help: "Tasks that completed successfully.",
	})
	tasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_tasks_failed_total",
		Help: "Task executions that failed an attempt.",
	})
	tasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_tasks_skipped_total",
		Help: "Fetched tasks lost to an overlapping cycle's claim.",
	})
	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskgate_escalations_total",
		Help: "Escalation tasks created for exhausted originals.",
	})
	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskgate_task_duration_seconds",
		Help:    "Handler execution duration.",
		Buckets: prometheus.DefBuckets,
	})
)
