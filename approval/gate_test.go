package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freundallein/taskgate/chassis/storage"
)

func newGated(t *testing.T, repo *storage.MemRepository) *storage.Task {
	t.Helper()
	task := storage.NewTask("needs approval", "noop-success", storage.HIGH, true, nil)
	require.NoError(t, repo.Create(context.Background(), task))
	return task
}

func TestApprove(t *testing.T) {
	repo := storage.NewMemRepository()
	activity := storage.NewMemActivity()
	gate := NewGate(repo, activity)
	task := newGated(t, repo)

	approved, err := gate.Approve(context.Background(), task.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, "alice", approved.ApprovedBy)
	assert.Equal(t, storage.NEW, approved.Status, "approval does not change status")

	entries := activity.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "approved", entries[0].Event)
}

func TestApproveTwice(t *testing.T) {
	repo := storage.NewMemRepository()
	gate := NewGate(repo, nil)
	task := newGated(t, repo)
	ctx := context.Background()

	_, err := gate.Approve(ctx, task.ID, "alice")
	require.NoError(t, err)

	_, err = gate.Approve(ctx, task.ID, "bob")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ApprovedBy, "second approver must not overwrite the first")
}

func TestApproveUnknownTask(t *testing.T) {
	gate := NewGate(storage.NewMemRepository(), nil)
	_, err := gate.Approve(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, storage.ErrTaskNotFound)
}

func TestApproveUngatedTask(t *testing.T) {
	repo := storage.NewMemRepository()
	gate := NewGate(repo, nil)
	task := storage.NewTask("ungated", "noop-success", storage.LOW, false, nil)
	require.NoError(t, repo.Create(context.Background(), task))

	_, err := gate.Approve(context.Background(), task.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyDecided, "ungated tasks are implicitly approved")
}

func TestReject(t *testing.T) {
	repo := storage.NewMemRepository()
	gate := NewGate(repo, nil)
	task := newGated(t, repo)

	rejected, err := gate.Reject(context.Background(), task.ID, "alice", "budget cut")
	require.NoError(t, err)
	assert.Equal(t, storage.REJECTED, rejected.Status)
	assert.Equal(t, "budget cut", rejected.RejectionReason)
	assert.Equal(t, "alice", rejected.RejectedBy)
}

func TestRejectAfterApprove(t *testing.T) {
	repo := storage.NewMemRepository()
	gate := NewGate(repo, nil)
	task := newGated(t, repo)
	ctx := context.Background()

	_, err := gate.Approve(ctx, task.ID, "alice")
	require.NoError(t, err)

	_, err = gate.Reject(ctx, task.ID, "bob", "changed mind")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestActivityFailureDoesNotBlockDecision(t *testing.T) {
	repo := storage.NewMemRepository()
	activity := storage.NewMemActivity()
	activity.FailWith = assert.AnError
	gate := NewGate(repo, activity)
	task := newGated(t, repo)

	approved, err := gate.Approve(context.Background(), task.ID, "alice")
	require.NoError(t, err)
	assert.NotNil(t, approved.ApprovedAt)
}
