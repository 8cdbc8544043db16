package alert

import (
	"context"

	"golang.org/x/time/rate"

	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/queue"
)

// QueueSink publishes alerts as JSON messages. A token bucket caps
// delivery so an escalation storm cannot flood the queue; over-rate
// alerts are dropped with a log line.
type QueueSink struct {
	client  queue.Client
	limiter *rate.Limiter
}

// NewQueueSink ...
func NewQueueSink(client queue.Client, perMinute int) *QueueSink {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &QueueSink{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Notify ...
func (s *QueueSink) Notify(ctx context.Context, a Alert) {
	if !s.limiter.Allow() {
		log.WithFields(log.Fields{
			"event":    "alert_throttled",
			"severity": a.Severity,
		}).Info(a.Title)
		return
	}
	msg, err := a.JSON()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "alert_serialize_failed",
		}).Error(err)
		return
	}
	if err := s.client.SendMessage(ctx, msg); err != nil {
		log.WithFields(log.Fields{
			"event":    "alert_send_failed",
			"severity": a.Severity,
		}).Error(err)
	}
}

// LogSink writes alerts through the process logger. Fallback for
// deployments without an alert queue, and the local harness.
type LogSink struct{}

// Notify ...
func (s LogSink) Notify(ctx context.Context, a Alert) {
	entry := log.WithFields(log.Fields{
		"event":    "alert",
		"severity": a.Severity,
		"title":    a.Title,
	})
	if a.Severity == URGENT {
		entry.Error(a.Message)
		return
	}
	entry.Info(a.Message)
}
