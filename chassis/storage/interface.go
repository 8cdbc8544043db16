package storage

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound - no row for the requested task id.
var ErrTaskNotFound = errors.New("task not found")

var (
	errDuplicatedTask = errors.New("duplicated task")
	errZeroRows       = errors.New("zero rows affected")
)

// Config - ...
type Config struct {
	DSN string
}

// TaskRepository - pure task persistence, no scheduling rules.
// Implementations never delete rows; retention is an external concern.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)

	// FindEligible returns dispatchable tasks: status=new, approval
	// satisfied, attempts below the cap. Ordered by priority rank
	// descending, then created_dt ascending.
	FindEligible(ctx context.Context, limit, maxAttempts int) ([]*Task, error)

	// Claim moves a task new -> in_progress, stamping the attempt
	// timestamp. Returns false when the row was no longer claimable,
	// which is how overlapping poll cycles lose the race.
	Claim(ctx context.Context, id string) (bool, error)

	// Complete moves a claimed task to completed with its deliverable.
	Complete(ctx context.Context, id, deliverableURL string) error

	// RecordFailure increments the attempt counter, stores the error
	// and flips status back to new - or to failed once the counter
	// reaches maxAttempts. Returns the new attempt count.
	RecordFailure(ctx context.Context, id, errMsg string, maxAttempts int) (int, error)

	// CreateEscalation inserts the urgent follow-up task for an
	// exhausted original. Idempotent per original id: the bool is
	// false when an escalation already exists.
	CreateEscalation(ctx context.Context, original *Task, reviewer, errMsg string) (*Task, bool, error)

	// SetApproval / SetRejection record a decision once. They return
	// false when a decision was already present.
	SetApproval(ctx context.Context, id, approver string, at time.Time) (bool, error)
	SetRejection(ctx context.Context, id, approver, reason string, at time.Time) (bool, error)

	// RepairStale reverts in_progress tasks whose attempt stamp is
	// older than the timeout back to new, so a crashed cycle cannot
	// strand them. Returns the number of repaired rows.
	RepairStale(ctx context.Context, staleTimeoutSeconds, batchSize int) (int, error)
}

// ActivityRepository - append-only operational event trail.
type ActivityRepository interface {
	Record(ctx context.Context, taskID, event, message string) error
}
