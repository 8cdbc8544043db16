package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PGActivity - activity trail on top of the shared pool.
type PGActivity struct {
	pool *pgxpool.Pool
}

// InitPGActivity - ...
func InitPGActivity(repo *PGRepository) *PGActivity {
	return &PGActivity{pool: repo.pool}
}

// Record - ...
func (a *PGActivity) Record(ctx context.Context, taskID, event, message string) error {
	query := `insert into t_activity(task_id, event, message) values ($1, $2, $3)`
	_, err := a.pool.Exec(ctx, query, taskID, event, message)
	return err
}

// ActivityEntry - one recorded operational event.
type ActivityEntry struct {
	TaskID    string
	Event     string
	Message   string
	CreatedDt time.Time
}

// MemActivity - in-memory trail for tests and the local harness.
type MemActivity struct {
	mu      sync.Mutex
	entries []ActivityEntry

	// FailWith, when set, is returned by Record. Lets tests prove
	// that activity failures never gate task transitions.
	FailWith error
}

// NewMemActivity - ...
func NewMemActivity() *MemActivity {
	return &MemActivity{}
}

// Record - ...
func (a *MemActivity) Record(ctx context.Context, taskID, event, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailWith != nil {
		return a.FailWith
	}
	a.entries = append(a.entries, ActivityEntry{
		TaskID:    taskID,
		Event:     event,
		Message:   message,
		CreatedDt: time.Now(),
	})
	return nil
}

// Entries - snapshot copy.
func (a *MemActivity) Entries() []ActivityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ActivityEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
