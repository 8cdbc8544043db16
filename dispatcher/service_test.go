package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freundallein/taskgate/chassis/alert"
	"github.com/freundallein/taskgate/chassis/ratelimit"
	"github.com/freundallein/taskgate/chassis/storage"
)

type fakeSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *fakeSink) Notify(ctx context.Context, a alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *fakeSink) bySeverity(severity alert.Severity) []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alert.Alert
	for _, a := range s.alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

func testRegistry() *Registry {
	return NewRegistry().
		Register("noop-success", NoopSuccess()).
		Register("noop-failure", NoopFailure()).
		Register("human-review", ReviewNotify(&fakeSink{})).
		Register("panics", HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
			panic("handler exploded")
		})).
		Register("slow", HandlerFunc(func(ctx context.Context, task *storage.Task) Result {
			select {
			case <-time.After(5 * time.Second):
				return Result{Success: true}
			case <-ctx.Done():
				return Result{Success: false, Error: ctx.Err().Error()}
			}
		}))
}

func newService(repo storage.TaskRepository, sink alert.Sink) *Service {
	return New(Config{
		Repository:        repo,
		Activity:          storage.NewMemActivity(),
		Limiter:           ratelimit.NewMemLimiter(),
		Alerts:            sink,
		Registry:          testRegistry(),
		BatchSize:         10,
		MaxAttempts:       3,
		TaskTimeout:       time.Second,
		RateMax:           1000,
		RateWindowSeconds: 60,
	})
}

func escalations(repo *storage.MemRepository) []*storage.Task {
	var out []*storage.Task
	for _, task := range repo.All() {
		if task.EscalatedFrom != "" {
			out = append(out, task)
		}
	}
	return out
}

func TestConcreteScenario(t *testing.T) {
	repo := storage.NewMemRepository()
	service := newService(repo, &fakeSink{})
	ctx := context.Background()

	t1 := storage.NewTask("T1", "noop-success", storage.HIGH, false, nil)
	require.NoError(t, repo.Create(ctx, t1))
	t2 := storage.NewTask("T2", "noop-success", storage.URGENT, true, nil)
	require.NoError(t, repo.Create(ctx, t2))

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Executed: 1, Failed: 0, Skipped: 0}, summary,
		"unapproved T2 is excluded from the eligible set, not skipped")

	got, err := repo.Get(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.COMPLETED, got.Status)
	assert.NotNil(t, got.CompletedAt)

	applied, err := repo.SetApproval(ctx, t2.ID, "alice", time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	summary, err = service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Executed: 1, Failed: 0, Skipped: 0}, summary,
		"completed T1 is excluded by status, T2 runs alone")

	got, err = repo.Get(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.COMPLETED, got.Status)
}

func TestBatchIsolation(t *testing.T) {
	repo := storage.NewMemRepository()
	service := newService(repo, &fakeSink{})
	ctx := context.Background()

	first := storage.NewTask("ok-1", "noop-success", storage.MEDIUM, false, nil)
	boom := storage.NewTask("boom", "panics", storage.MEDIUM, false, nil)
	third := storage.NewTask("ok-2", "noop-success", storage.MEDIUM, false, nil)
	for _, task := range []*storage.Task{first, boom, third} {
		require.NoError(t, repo.Create(ctx, task))
	}

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Executed: 2, Failed: 1, Skipped: 0}, summary)

	got, err := repo.Get(ctx, boom.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.NEW, got.Status, "panicked task stays retryable")
	assert.Equal(t, 1, got.ExecutionAttempts)
	assert.Contains(t, got.ExecutionError, "handler panic")
}

func TestUnknownHandler(t *testing.T) {
	repo := storage.NewMemRepository()
	service := newService(repo, &fakeSink{})
	ctx := context.Background()

	task := storage.NewTask("orphan", "does-not-exist", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, task))

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "no handler registered for does-not-exist", got.ExecutionError)
	assert.Equal(t, 1, got.ExecutionAttempts)
}

func TestHandlerTimeout(t *testing.T) {
	repo := storage.NewMemRepository()
	service := New(Config{
		Repository:  repo,
		Limiter:     ratelimit.NewMemLimiter(),
		Registry:    testRegistry(),
		BatchSize:   10,
		MaxAttempts: 3,
		TaskTimeout: 20 * time.Millisecond,
		RateMax:     1000,
	})
	ctx := context.Background()

	task := storage.NewTask("sluggish", "slow", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, task))

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionAttempts)
	assert.NotEmpty(t, got.ExecutionError)
}

func TestExhaustionEscalatesExactlyOnce(t *testing.T) {
	repo := storage.NewMemRepository()
	sink := &fakeSink{}
	service := newService(repo, sink)
	ctx := context.Background()

	task := storage.NewTask("doomed", "noop-failure", storage.HIGH, false, nil)
	task.ExecutionAttempts = 2 // one attempt left
	repo.Put(task)

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.FAILED, got.Status)
	assert.Equal(t, 3, got.ExecutionAttempts)

	created := escalations(repo)
	require.Len(t, created, 1)
	assert.Equal(t, storage.URGENT, created[0].Priority)
	assert.Equal(t, "human-review", created[0].AssignedHandler)
	assert.Equal(t, task.ID, created[0].Metadata["original_task_id"])
	assert.Len(t, sink.bySeverity(alert.URGENT), 1)

	// Simulate a racing cycle re-running the exhausted task.
	raced, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	raced.Status = storage.NEW
	raced.ExecutionAttempts = 2
	repo.Put(raced)

	summary, err = service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Executed: 1, Failed: 1}, summary,
		"review task runs, re-exhausted original fails again")
	assert.Len(t, escalations(repo), 1, "re-exhaustion must not duplicate the escalation")
}

func TestEscalationSurvivesAlertOutage(t *testing.T) {
	repo := storage.NewMemRepository()
	service := New(Config{
		Repository:  repo,
		Limiter:     ratelimit.NewMemLimiter(),
		Alerts:      alert.LogSink{},
		Registry:    testRegistry(),
		BatchSize:   10,
		MaxAttempts: 1,
		TaskTimeout: time.Second,
		RateMax:     1000,
	})
	ctx := context.Background()

	task := storage.NewTask("doomed", "noop-failure", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, task))

	_, err := service.PollAndExecute(ctx)
	require.NoError(t, err)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.FAILED, got.Status)
	assert.Len(t, escalations(repo), 1)
}

func TestRateLimitedCycleSkipsEntirely(t *testing.T) {
	repo := storage.NewMemRepository()
	service := New(Config{
		Repository:        repo,
		Limiter:           ratelimit.NewMemLimiter(),
		Registry:          testRegistry(),
		BatchSize:         10,
		MaxAttempts:       3,
		TaskTimeout:       time.Second,
		RateMax:           1,
		RateWindowSeconds: 3600,
	})
	ctx := context.Background()

	task := storage.NewTask("waiting", "noop-success", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, task))

	summary, err := service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Executed: 1}, summary)

	// Window consumed: the next cycle is backpressure, not an error.
	second := storage.NewTask("waiting-2", "noop-success", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, second))

	summary, err = service.PollAndExecute(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.NEW, got.Status, "rate limited cycle must not touch tasks")
}

func TestStorageErrorFailsCycleLoudly(t *testing.T) {
	repo := storage.NewMemRepository()
	repo.FailWith = assert.AnError
	service := newService(repo, &fakeSink{})

	_, err := service.PollAndExecute(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLostClaimCountsAsSkipped(t *testing.T) {
	repo := storage.NewMemRepository()
	service := newService(repo, &fakeSink{})
	ctx := context.Background()

	task := storage.NewTask("contested", "noop-success", storage.MEDIUM, false, nil)
	require.NoError(t, repo.Create(ctx, task))

	// Another cycle claims between fetch and claim.
	claimed, err := repo.Claim(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, outcomeSkipped, service.executeOne(ctx, task))
}

func TestSuccessAlertEmitted(t *testing.T) {
	repo := storage.NewMemRepository()
	sink := &fakeSink{}
	service := newService(repo, sink)
	ctx := context.Background()

	task := storage.NewTask("shiny", "noop-success", storage.MEDIUM, false,
		map[string]string{"deliverable_url": "https://example.com/report"})
	require.NoError(t, repo.Create(ctx, task))

	_, err := service.PollAndExecute(ctx)
	require.NoError(t, err)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/report", got.DeliverableURL)
	assert.Len(t, sink.bySeverity(alert.INFO), 1)
}
