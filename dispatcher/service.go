// Package dispatcher polls the task store for eligible work, runs
// handlers with bounded parallelism and escalates tasks that exhaust
// their attempt budget.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/freundallein/taskgate/chassis/alert"
	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/ratelimit"
	"github.com/freundallein/taskgate/chassis/storage"
)

// Config ...
type Config struct {
	Repository storage.TaskRepository
	Activity   storage.ActivityRepository
	Limiter    ratelimit.Limiter
	Alerts     alert.Sink
	Registry   *Registry

	BatchSize   int
	MaxAttempts int
	Concurrency int
	TaskTimeout time.Duration

	// Rate window for the dispatcher's own resource.
	RateResource      string
	RateMax           int
	RateWindowSeconds int

	// Handler name assigned to escalation tasks.
	Reviewer string
}

// Summary - per-cycle outcome counts. Skipped counts fetched tasks
// lost to an overlapping cycle's claim, not tasks excluded from the
// eligible set.
type Summary struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Service ...
type Service struct {
	cfg Config
}

// New ...
func New(cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.RateResource == "" {
		cfg.RateResource = "dispatcher"
	}
	if cfg.Reviewer == "" {
		cfg.Reviewer = "human-review"
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alert.LogSink{}
	}
	return &Service{cfg: cfg}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeExecuted
	outcomeFailed
)

// PollAndExecute - one scheduling cycle. A denied rate window skips
// the whole cycle with a zero summary; that is backpressure, not an
// error. Task store errors propagate loudly.
func (s *Service) PollAndExecute(ctx context.Context) (Summary, error) {
	cyclesTotal.Inc()
	if s.cfg.RateMax > 0 {
		decision := s.cfg.Limiter.CheckAndConsume(ctx, s.cfg.RateResource, s.cfg.RateMax, s.cfg.RateWindowSeconds)
		if !decision.Allowed {
			rateLimitedCycles.Inc()
			log.WithFields(log.Fields{
				"event":    "cycle_rate_limited",
				"resource": s.cfg.RateResource,
				"resetAt":  decision.ResetAt,
			}).Info("poll cycle skipped")
			return Summary{}, nil
		}
	}

	tasks, err := s.cfg.Repository.FindEligible(ctx, s.cfg.BatchSize, s.cfg.MaxAttempts)
	if err != nil {
		return Summary{}, fmt.Errorf("find eligible tasks: %w", err)
	}
	if len(tasks) == 0 {
		return Summary{}, nil
	}

	var mu sync.Mutex
	var summary Summary
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for _, task := range tasks {
		task := task
		group.Go(func() error {
			result := s.executeOne(groupCtx, task)
			mu.Lock()
			switch result {
			case outcomeExecuted:
				summary.Executed++
			case outcomeFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait() // per-task failures never abort the batch
	return summary, nil
}

// executeOne - the single-task execution protocol: claim, resolve,
// invoke, record. Claiming is the point of mutual exclusion between
// overlapping cycles.
func (s *Service) executeOne(ctx context.Context, task *storage.Task) outcome {
	claimed, err := s.cfg.Repository.Claim(ctx, task.ID)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "claim_failed",
			"taskID": task.ID,
		}).Error(err)
		tasksSkipped.Inc()
		return outcomeSkipped
	}
	if !claimed {
		log.WithFields(log.Fields{
			"event":  "claim_lost",
			"taskID": task.ID,
		}).Debug("task already taken by another cycle")
		tasksSkipped.Inc()
		return outcomeSkipped
	}
	s.record(ctx, task.ID, "task_claimed", "claimed for execution by "+task.AssignedHandler)

	handler, ok := s.cfg.Registry.Resolve(task.AssignedHandler)
	var result Result
	if !ok {
		result = Result{Success: false, Error: fmt.Sprintf("no handler registered for %s", task.AssignedHandler)}
	} else {
		started := time.Now()
		result = s.invoke(ctx, handler, task)
		taskDuration.Observe(time.Since(started).Seconds())
	}

	if result.Success {
		if err := s.cfg.Repository.Complete(ctx, task.ID, result.DeliverableURL); err != nil {
			log.WithFields(log.Fields{
				"event":  "complete_failed",
				"taskID": task.ID,
			}).Error(err)
			tasksFailed.Inc()
			return outcomeFailed
		}
		log.WithFields(log.Fields{
			"event":   "task_completed",
			"taskID":  task.ID,
			"handler": task.AssignedHandler,
		}).Info("task completed")
		s.record(ctx, task.ID, "task_completed", result.DeliverableURL)
		s.cfg.Alerts.Notify(ctx, alert.Alert{
			Severity: alert.INFO,
			Title:    "Task completed",
			Message:  task.Title,
			Metadata: map[string]string{"task_id": task.ID, "handler": task.AssignedHandler},
		})
		tasksExecuted.Inc()
		return outcomeExecuted
	}

	attempts, err := s.cfg.Repository.RecordFailure(ctx, task.ID, result.Error, s.cfg.MaxAttempts)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "record_failure_failed",
			"taskID": task.ID,
		}).Error(err)
		tasksFailed.Inc()
		return outcomeFailed
	}
	log.WithFields(log.Fields{
		"event":    "task_attempt_failed",
		"taskID":   task.ID,
		"handler":  task.AssignedHandler,
		"attempts": attempts,
	}).Error(result.Error)
	if attempts >= s.cfg.MaxAttempts {
		s.escalate(ctx, task, result.Error)
	}
	tasksFailed.Inc()
	return outcomeFailed
}

// invoke runs the handler under the per-task deadline, converting
// panics and timeouts into ordinary failures so one bad handler
// cannot take down the batch.
func (s *Service) invoke(ctx context.Context, handler Handler, task *storage.Task) Result {
	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Success: false, Error: fmt.Sprintf("handler panic: %v", r)}
			}
		}()
		done <- handler.Execute(taskCtx, task)
	}()
	select {
	case result := <-done:
		return result
	case <-taskCtx.Done():
		return Result{Success: false, Error: fmt.Sprintf("handler timeout after %s", s.cfg.TaskTimeout)}
	}
}

// escalate - fires at most once per exhausted task: RecordFailure
// already parked the original in failed, and the unique
// escalated_from constraint deduplicates the follow-up. Alerting is
// best effort on top of the state transition.
func (s *Service) escalate(ctx context.Context, task *storage.Task, finalError string) {
	escalation, created, err := s.cfg.Repository.CreateEscalation(ctx, task, s.cfg.Reviewer, finalError)
	if err != nil {
		log.WithFields(log.Fields{
			"event":  "escalation_create_failed",
			"taskID": task.ID,
		}).Error(err)
		return
	}
	if !created {
		log.WithFields(log.Fields{
			"event":  "escalation_duplicate",
			"taskID": task.ID,
		}).Debug("escalation already exists")
		return
	}
	escalationsTotal.Inc()
	log.WithFields(log.Fields{
		"event":        "task_escalated",
		"taskID":       task.ID,
		"escalationID": escalation.ID,
		"reviewer":     s.cfg.Reviewer,
	}).Error("task exhausted execution attempts")
	s.record(ctx, task.ID, "task_escalated", "escalation "+escalation.ID)
	s.cfg.Alerts.Notify(ctx, alert.Alert{
		Severity: alert.URGENT,
		Title:    "Task escalated: " + task.Title,
		Message:  finalError,
		Metadata: map[string]string{
			"original_task_id": task.ID,
			"escalation_id":    escalation.ID,
			"handler":          task.AssignedHandler,
		},
	})
}

func (s *Service) record(ctx context.Context, taskID, event, message string) {
	if s.cfg.Activity == nil {
		return
	}
	if err := s.cfg.Activity.Record(ctx, taskID, event, message); err != nil {
		log.WithFields(log.Fields{
			"event":  "activity_write_failed",
			"taskID": taskID,
		}).Error(err)
	}
}
