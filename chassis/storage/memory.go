package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepository - mutex-guarded in-memory TaskRepository with the
// same transition semantics as the Postgres implementation. Used by
// tests and the local harness; not durable.
type MemRepository struct {
	mu    sync.Mutex
	tasks map[string]*Task

	// creation order index for deterministic created_dt tie-breaks
	seq int64
	ord map[string]int64

	// FailWith, when set, is returned by every method. Lets tests
	// exercise the fail-loud storage policy.
	FailWith error
}

// NewMemRepository - ...
func NewMemRepository() *MemRepository {
	return &MemRepository{
		tasks: map[string]*Task{},
		ord:   map[string]int64{},
	}
}

func (repo *MemRepository) clone(task *Task) *Task {
	cp := *task
	cp.Metadata = map[string]string{}
	for k, v := range task.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Create - ...
func (repo *MemRepository) Create(ctx context.Context, task *Task) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return repo.FailWith
	}
	if _, ok := repo.tasks[task.ID]; ok {
		return errDuplicatedTask
	}
	repo.seq++
	repo.ord[task.ID] = repo.seq
	repo.tasks[task.ID] = repo.clone(task)
	return nil
}

// Get - ...
func (repo *MemRepository) Get(ctx context.Context, id string) (*Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return nil, repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return repo.clone(task), nil
}

// FindEligible - ...
func (repo *MemRepository) FindEligible(ctx context.Context, limit, maxAttempts int) ([]*Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return nil, repo.FailWith
	}
	var eligible []*Task
	for _, task := range repo.tasks {
		if task.Status != NEW {
			continue
		}
		if task.RequiresApproval && task.ApprovedAt == nil {
			continue
		}
		if task.ExecutionAttempts >= maxAttempts {
			continue
		}
		eligible = append(eligible, task)
	}
	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i].Priority.Rank(), eligible[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return repo.ord[eligible[i].ID] < repo.ord[eligible[j].ID]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]*Task, len(eligible))
	for i, task := range eligible {
		out[i] = repo.clone(task)
	}
	return out, nil
}

// Claim - ...
func (repo *MemRepository) Claim(ctx context.Context, id string) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return false, repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok || task.Status != NEW {
		return false, nil
	}
	now := time.Now().UTC()
	task.Status = IN_PROGRESS
	task.LastExecutionAttempt = &now
	task.UpdatedDt = now
	return true, nil
}

// Complete - ...
func (repo *MemRepository) Complete(ctx context.Context, id, deliverableURL string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok || task.Status != IN_PROGRESS {
		return errZeroRows
	}
	now := time.Now().UTC()
	task.Status = COMPLETED
	task.CompletedAt = &now
	task.DeliverableURL = deliverableURL
	task.ExecutionError = ""
	task.UpdatedDt = now
	return nil
}

// RecordFailure - ...
func (repo *MemRepository) RecordFailure(ctx context.Context, id, errMsg string, maxAttempts int) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return 0, repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok || task.Status != IN_PROGRESS {
		return 0, errZeroRows
	}
	task.ExecutionAttempts++
	task.ExecutionError = errMsg
	if task.ExecutionAttempts < maxAttempts {
		task.Status = NEW
	} else {
		task.Status = FAILED
	}
	task.UpdatedDt = time.Now().UTC()
	return task.ExecutionAttempts, nil
}

// CreateEscalation - ...
func (repo *MemRepository) CreateEscalation(ctx context.Context, original *Task, reviewer, errMsg string) (*Task, bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return nil, false, repo.FailWith
	}
	for _, task := range repo.tasks {
		if task.EscalatedFrom == original.ID {
			return nil, false, nil
		}
	}
	escalation := NewTask("Escalation: "+original.Title, reviewer, URGENT, false, map[string]string{
		"original_task_id": original.ID,
		"original_handler": original.AssignedHandler,
		"final_error":      errMsg,
	})
	escalation.Description = "Automatic escalation after exhausted execution attempts"
	escalation.EscalatedFrom = original.ID
	repo.seq++
	repo.ord[escalation.ID] = repo.seq
	repo.tasks[escalation.ID] = repo.clone(escalation)
	return escalation, true, nil
}

// SetApproval - ...
func (repo *MemRepository) SetApproval(ctx context.Context, id, approver string, at time.Time) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return false, repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok || !task.RequiresApproval || task.ApprovalDecided() {
		return false, nil
	}
	task.ApprovedAt = &at
	task.ApprovedBy = approver
	task.UpdatedDt = at
	return true, nil
}

// SetRejection - ...
func (repo *MemRepository) SetRejection(ctx context.Context, id, approver, reason string, at time.Time) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return false, repo.FailWith
	}
	task, ok := repo.tasks[id]
	if !ok || !task.RequiresApproval || task.ApprovalDecided() {
		return false, nil
	}
	task.RejectedAt = &at
	task.RejectedBy = approver
	task.RejectionReason = reason
	task.Status = REJECTED
	task.UpdatedDt = at
	return true, nil
}

// RepairStale - ...
func (repo *MemRepository) RepairStale(ctx context.Context, staleTimeoutSeconds, batchSize int) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.FailWith != nil {
		return 0, repo.FailWith
	}
	cutoff := time.Now().UTC().Add(-time.Duration(staleTimeoutSeconds) * time.Second)
	repaired := 0
	for _, task := range repo.tasks {
		if repaired >= batchSize {
			break
		}
		if task.Status != IN_PROGRESS {
			continue
		}
		if task.LastExecutionAttempt == nil || task.LastExecutionAttempt.After(cutoff) {
			continue
		}
		task.Status = NEW
		task.ExecutionError = "stale execution reverted"
		task.UpdatedDt = time.Now().UTC()
		repaired++
	}
	return repaired, nil
}

// All returns every stored task. Test helper.
func (repo *MemRepository) All() []*Task {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	out := make([]*Task, 0, len(repo.tasks))
	for _, task := range repo.tasks {
		out = append(out, repo.clone(task))
	}
	return out
}

// Put replaces a stored task wholesale. Test helper for staging
// specific lifecycle states.
func (repo *MemRepository) Put(task *Task) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if _, ok := repo.ord[task.ID]; !ok {
		repo.seq++
		repo.ord[task.ID] = repo.seq
	}
	repo.tasks[task.ID] = repo.clone(task)
}
