package storage

import (
	"time"

	"github.com/google/uuid"
)

// Status - task's possible lifecycle states
type Status string

const (
	NEW         Status = "new"
	IN_PROGRESS Status = "in_progress"
	COMPLETED   Status = "completed"
	FAILED      Status = "failed"
	REJECTED    Status = "rejected"
)

// Priority - dispatch ranking, URGENT first
type Priority string

const (
	LOW    Priority = "low"
	MEDIUM Priority = "medium"
	HIGH   Priority = "high"
	URGENT Priority = "urgent"
)

// Rank maps a priority to its dispatch order, higher first.
func (p Priority) Rank() int {
	switch p {
	case URGENT:
		return 3
	case HIGH:
		return 2
	case MEDIUM:
		return 1
	default:
		return 0
	}
}

// Task - a unit of work. The scheduler mutates lifecycle fields only;
// Title, Description, DeliverableURL and Metadata are opaque to it.
type Task struct {
	ID                   string
	Title                string
	Description          string
	Status               Status
	AssignedHandler      string
	Priority             Priority
	RequiresApproval     bool
	ApprovedAt           *time.Time
	ApprovedBy           string
	RejectedAt           *time.Time
	RejectedBy           string
	RejectionReason      string
	ExecutionAttempts    int
	LastExecutionAttempt *time.Time
	CompletedAt          *time.Time
	DeliverableURL       string
	ExecutionError       string
	Metadata             map[string]string
	EscalatedFrom        string
	CreatedDt            time.Time
	UpdatedDt            time.Time
}

// NewTask builds a task in its initial state with a fresh id.
func NewTask(title, handler string, priority Priority, requiresApproval bool, metadata map[string]string) *Task {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Task{
		ID:               uuid.NewString(),
		Title:            title,
		Status:           NEW,
		AssignedHandler:  handler,
		Priority:         priority,
		RequiresApproval: requiresApproval,
		Metadata:         metadata,
		CreatedDt:        now,
		UpdatedDt:        now,
	}
}

// ApprovalDecided reports whether an approve or reject decision exists.
func (t *Task) ApprovalDecided() bool {
	return t.ApprovedAt != nil || t.RejectedAt != nil
}
