package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

const taskColumns = `
	id, title, description, status, assigned_handler, priority,
	requires_approval, approved_at, approved_by, rejected_at, rejected_by,
	rejection_reason, execution_attempts, last_execution_attempt,
	completed_at, deliverable_url, execution_error, metadata,
	coalesce(escalated_from, ''), created_dt, updated_dt`

// PGRepository - ...
type PGRepository struct {
	pool *pgxpool.Pool
}

// InitPGRepository - ...
func InitPGRepository(ctx context.Context, cfg Config) (*PGRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &PGRepository{
		pool: pool,
	}, nil
}

// Close releases the underlying pool.
func (repo *PGRepository) Close() {
	repo.pool.Close()
}

// Pool exposes the connection pool for collaborators that share the
// same database (rate limiter windows, activity trail).
func (repo *PGRepository) Pool() *pgxpool.Pool {
	return repo.pool
}

// EnsureSchema applies the DDL. Safe to run on every start.
func (repo *PGRepository) EnsureSchema(ctx context.Context) error {
	_, err := repo.pool.Exec(ctx, schema)
	return err
}

func scanTask(row pgx.Row) (*Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.AssignedHandler,
		&task.Priority,
		&task.RequiresApproval,
		&task.ApprovedAt,
		&task.ApprovedBy,
		&task.RejectedAt,
		&task.RejectedBy,
		&task.RejectionReason,
		&task.ExecutionAttempts,
		&task.LastExecutionAttempt,
		&task.CompletedAt,
		&task.DeliverableURL,
		&task.ExecutionError,
		&task.Metadata,
		&task.EscalatedFrom,
		&task.CreatedDt,
		&task.UpdatedDt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Create - ...
func (repo *PGRepository) Create(ctx context.Context, task *Task) error {
	query := `
	insert into t_task(
		id, title, description, status, assigned_handler, priority,
		requires_approval, metadata, created_dt, updated_dt)
	values ($1, $2, $3, $4, $5, $6, $7, $8, localtimestamp, localtimestamp);
	`
	_, err := repo.pool.Exec(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.AssignedHandler,
		task.Priority,
		task.RequiresApproval,
		task.Metadata,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errDuplicatedTask
	}
	return err
}

// Get - ...
func (repo *PGRepository) Get(ctx context.Context, id string) (*Task, error) {
	query := `select ` + taskColumns + ` from t_task where id = $1`
	task, err := scanTask(repo.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// FindEligible - ...
func (repo *PGRepository) FindEligible(ctx context.Context, limit, maxAttempts int) ([]*Task, error) {
	query := `
	select ` + taskColumns + `
	from t_task
	where
		status = 'new'
		and (not requires_approval or approved_at is not null)
		and execution_attempts < $2
	order by
		case priority
			when 'urgent' then 3
			when 'high' then 2
			when 'medium' then 1
			else 0
		end desc,
		created_dt asc
	limit $1;
	`
	rows, err := repo.pool.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Claim - conditional new -> in_progress update, the single point of
// mutual exclusion between overlapping poll cycles.
func (repo *PGRepository) Claim(ctx context.Context, id string) (bool, error) {
	query := `
	update t_task
	set
		status = 'in_progress',
		last_execution_attempt = localtimestamp,
		updated_dt = localtimestamp
	where id = $1 and status = 'new';
	`
	tag, err := repo.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete - ...
func (repo *PGRepository) Complete(ctx context.Context, id, deliverableURL string) error {
	query := `
	update t_task
	set
		status = 'completed',
		completed_at = localtimestamp,
		deliverable_url = $2,
		execution_error = '',
		updated_dt = localtimestamp
	where id = $1 and status = 'in_progress';
	`
	tag, err := repo.pool.Exec(ctx, query, id, deliverableURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errZeroRows
	}
	return nil
}

// RecordFailure - single atomic update: bump the counter, keep the
// task retryable while budget remains, park it in failed once the
// counter reaches the cap.
func (repo *PGRepository) RecordFailure(ctx context.Context, id, errMsg string, maxAttempts int) (int, error) {
	var attempts int
	query := `
	update t_task
	set
		execution_attempts = execution_attempts + 1,
		execution_error = $2,
		status = CASE WHEN execution_attempts + 1 < $3 THEN 'new' ELSE 'failed' END,
		updated_dt = localtimestamp
	where id = $1 and status = 'in_progress'
	returning execution_attempts;
	`
	err := repo.pool.QueryRow(ctx, query, id, errMsg, maxAttempts).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errZeroRows
	}
	return attempts, err
}

// CreateEscalation - at most one escalation row per original task,
// enforced by the unique index on escalated_from.
func (repo *PGRepository) CreateEscalation(ctx context.Context, original *Task, reviewer, errMsg string) (*Task, bool, error) {
	escalation := NewTask("Escalation: "+original.Title, reviewer, URGENT, false, map[string]string{
		"original_task_id": original.ID,
		"original_handler": original.AssignedHandler,
		"final_error":      errMsg,
	})
	escalation.Description = "Automatic escalation after exhausted execution attempts"
	escalation.EscalatedFrom = original.ID
	query := `
	insert into t_task(
		id, title, description, status, assigned_handler, priority,
		requires_approval, metadata, escalated_from, created_dt, updated_dt)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, localtimestamp, localtimestamp)
	on conflict (escalated_from) where escalated_from is not null do nothing;
	`
	tag, err := repo.pool.Exec(ctx, query,
		escalation.ID,
		escalation.Title,
		escalation.Description,
		escalation.Status,
		escalation.AssignedHandler,
		escalation.Priority,
		escalation.RequiresApproval,
		escalation.Metadata,
		escalation.EscalatedFrom,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return escalation, true, nil
}

// SetApproval - ...
func (repo *PGRepository) SetApproval(ctx context.Context, id, approver string, at time.Time) (bool, error) {
	query := `
	update t_task
	set
		approved_at = $2,
		approved_by = $3,
		updated_dt = localtimestamp
	where id = $1
		and requires_approval
		and approved_at is null
		and rejected_at is null;
	`
	tag, err := repo.pool.Exec(ctx, query, id, at, approver)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetRejection - rejection is terminal, the status flip removes the
// task from eligibility for good.
func (repo *PGRepository) SetRejection(ctx context.Context, id, approver, reason string, at time.Time) (bool, error) {
	query := `
	update t_task
	set
		rejected_at = $2,
		rejected_by = $3,
		rejection_reason = $4,
		status = 'rejected',
		updated_dt = localtimestamp
	where id = $1
		and requires_approval
		and approved_at is null
		and rejected_at is null;
	`
	tag, err := repo.pool.Exec(ctx, query, id, at, approver, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RepairStale - ...
func (repo *PGRepository) RepairStale(ctx context.Context, staleTimeoutSeconds, batchSize int) (int, error) {
	query := `
	with tasks as (
		select id
		from t_task
		where status = 'in_progress'
			and last_execution_attempt < localtimestamp - concat($1::int, ' seconds')::INTERVAL
		limit $2 for update skip locked
	) update t_task
	set
		status = 'new',
		execution_error = 'stale execution reverted',
		updated_dt = localtimestamp
	from tasks
	where t_task.id = tasks.id;
	`
	cmdTag, err := repo.pool.Exec(ctx, query, staleTimeoutSeconds, batchSize)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}
