// Package approval decides whether gated tasks may be dispatched and
// records approve/reject decisions exactly once.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/freundallein/taskgate/chassis/logging"
	"github.com/freundallein/taskgate/chassis/storage"
)

// ErrAlreadyDecided - the task already carries an approve or reject
// decision, or never required one. Deciding twice is an error, not a
// silent double-apply.
var ErrAlreadyDecided = errors.New("approval already decided")

// Gate - approval state machine over a task's decision fields.
// Tasks with RequiresApproval=false are implicitly approved and
// cannot be decided on.
type Gate struct {
	repo     storage.TaskRepository
	activity storage.ActivityRepository
}

// NewGate - ...
func NewGate(repo storage.TaskRepository, activity storage.ActivityRepository) *Gate {
	return &Gate{repo: repo, activity: activity}
}

// Approve - records the approver once. Races between deciders are
// resolved by the conditional storage update: the loser gets
// ErrAlreadyDecided.
func (g *Gate) Approve(ctx context.Context, taskID, approver string) (*storage.Task, error) {
	if _, err := g.repo.Get(ctx, taskID); err != nil {
		return nil, err
	}
	applied, err := g.repo.SetApproval(ctx, taskID, approver, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrAlreadyDecided
	}
	log.WithFields(log.Fields{
		"event":    "task_approved",
		"taskID":   taskID,
		"approver": approver,
	}).Info("task approved")
	g.record(ctx, taskID, "approved", fmt.Sprintf("approved by %s", approver))
	return g.repo.Get(ctx, taskID)
}

// Reject - mutually exclusive with Approve; flips the task to its
// terminal rejected status so the dispatcher never reconsiders it.
func (g *Gate) Reject(ctx context.Context, taskID, approver, reason string) (*storage.Task, error) {
	if _, err := g.repo.Get(ctx, taskID); err != nil {
		return nil, err
	}
	applied, err := g.repo.SetRejection(ctx, taskID, approver, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrAlreadyDecided
	}
	log.WithFields(log.Fields{
		"event":    "task_rejected",
		"taskID":   taskID,
		"approver": approver,
		"reason":   reason,
	}).Info("task rejected")
	g.record(ctx, taskID, "rejected", fmt.Sprintf("rejected by %s: %s", approver, reason))
	return g.repo.Get(ctx, taskID)
}

func (g *Gate) record(ctx context.Context, taskID, event, message string) {
	if g.activity == nil {
		return
	}
	if err := g.activity.Record(ctx, taskID, event, message); err != nil {
		log.WithFields(log.Fields{
			"event":  "activity_write_failed",
			"taskID": taskID,
		}).Error(err)
	}
}
