package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/freundallein/taskgate/chassis/storage"
)

type taskView struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Description          string            `json:"description,omitempty"`
	Status               string            `json:"status"`
	AssignedHandler      string            `json:"assigned_handler"`
	Priority             string            `json:"priority"`
	RequiresApproval     bool              `json:"requires_approval"`
	ApprovedAt           *time.Time        `json:"approved_at,omitempty"`
	ApprovedBy           string            `json:"approved_by,omitempty"`
	RejectedAt           *time.Time        `json:"rejected_at,omitempty"`
	RejectedBy           string            `json:"rejected_by,omitempty"`
	RejectionReason      string            `json:"rejection_reason,omitempty"`
	ExecutionAttempts    int               `json:"execution_attempts"`
	LastExecutionAttempt *time.Time        `json:"last_execution_attempt,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	DeliverableURL       string            `json:"deliverable_url,omitempty"`
	ExecutionError       string            `json:"execution_error,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	EscalatedFrom        string            `json:"escalated_from,omitempty"`
	CreatedDt            time.Time         `json:"created_at"`
}

func taskToView(task *storage.Task) taskView {
	return taskView{
		ID:                   task.ID,
		Title:                task.Title,
		Description:          task.Description,
		Status:               string(task.Status),
		AssignedHandler:      task.AssignedHandler,
		Priority:             string(task.Priority),
		RequiresApproval:     task.RequiresApproval,
		ApprovedAt:           task.ApprovedAt,
		ApprovedBy:           task.ApprovedBy,
		RejectedAt:           task.RejectedAt,
		RejectedBy:           task.RejectedBy,
		RejectionReason:      task.RejectionReason,
		ExecutionAttempts:    task.ExecutionAttempts,
		LastExecutionAttempt: task.LastExecutionAttempt,
		CompletedAt:          task.CompletedAt,
		DeliverableURL:       task.DeliverableURL,
		ExecutionError:       task.ExecutionError,
		Metadata:             task.Metadata,
		EscalatedFrom:        task.EscalatedFrom,
		CreatedDt:            task.CreatedDt,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
