package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

func savePausedWorkflow(t *testing.T, store persistence.Persistence, workflowID string, mode models.ExecutionMode, createdAt time.Time, timeoutSeconds int) {
	t.Helper()

	now := time.Now().UTC()

	require.NoError(t, store.WorkflowStates().Save(t.Context(), &models.WorkflowState{
		WorkflowID:       workflowID,
		UserID:           "u1",
		Status:           models.WorkflowStatusPausedForHuman,
		CurrentStep:      stepAwaitingReview,
		HumanReviewQueue: []string{workflowID},
		ExecutionMode:    mode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	require.NoError(t, store.ReviewRequests().Save(t.Context(), &models.HumanReviewRequest{
		WorkflowID:       workflowID,
		UserID:           "u1",
		StepName:         "address",
		StepDescription:  "Review required for: What is your address?",
		CurrentData:      map[string]any{"data": map[string]any{"name": "Ada"}},
		CreatedAt:        createdAt,
		RequiresApproval: true,
		TimeoutSeconds:   timeoutSeconds,
	}))
}

func TestRecoverReattachesWaiterToOrphanedWorkflow(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	savePausedWorkflow(t, store, "wf-orphan", models.ExecutionModeAsync, time.Now().UTC(), 60)

	require.NoError(t, o.Recover(t.Context()))
	assert.Equal(t, 1, o.ActiveTasks())

	// A second sweep must not attach a duplicate waiter.
	require.NoError(t, o.Recover(t.Context()))
	assert.Equal(t, 1, o.ActiveTasks())

	_, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: "wf-orphan",
		Action:     models.ReviewActionApprove,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), "wf-orphan")

		return err == nil && state.Status == models.WorkflowStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-orphan")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada"}, state.CollectedData)
}

func TestRecoverFailsExpiredReview(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	savePausedWorkflow(t, store, "wf-expired", models.ExecutionModeAsync, time.Now().UTC().Add(-2*time.Hour), 60)

	require.NoError(t, o.Recover(t.Context()))
	assert.Zero(t, o.ActiveTasks())

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-expired")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "human review timeout", state.ErrorMessage)
	require.NotNil(t, state.CompletedAt)
}

func TestRecoverSkipsSyncWorkflows(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	savePausedWorkflow(t, store, "wf-sync", models.ExecutionModeSync, time.Now().UTC(), 60)

	require.NoError(t, o.Recover(t.Context()))
	assert.Zero(t, o.ActiveTasks())

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-sync")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPausedForHuman, state.Status)
}

func TestRecoverLeavesExpiredSyncWorkflowPaused(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	// An expired deadline must not fail a sync workflow either; only its
	// caller decides when to give up.
	savePausedWorkflow(t, store, "wf-sync-expired", models.ExecutionModeSync, time.Now().UTC().Add(-2*time.Hour), 60)

	require.NoError(t, o.Recover(t.Context()))
	assert.Zero(t, o.ActiveTasks())

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-sync-expired")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPausedForHuman, state.Status)
	assert.Empty(t, state.ErrorMessage)
}

func TestRecoverIgnoresResolvedWorkflowWithPendingRequest(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	// A rejected workflow leaves its request pending; recovery must not
	// touch the terminal workflow.
	savePausedWorkflow(t, store, "wf-rejected", models.ExecutionModeAsync, time.Now().UTC(), 60)

	now := time.Now().UTC()
	require.NoError(t, store.WorkflowStates().Save(t.Context(), &models.WorkflowState{
		WorkflowID:    "wf-rejected",
		UserID:        "u1",
		Status:        models.WorkflowStatusFailed,
		ExecutionMode: models.ExecutionModeAsync,
		CreatedAt:     now,
		UpdatedAt:     now,
		CompletedAt:   &now,
		ErrorMessage:  "Rejected by human reviewer: no",
	}))

	require.NoError(t, o.Recover(t.Context()))
	assert.Zero(t, o.ActiveTasks())

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-rejected")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "Rejected by human reviewer: no", state.ErrorMessage)
}

func TestStartRunsInitialSweep(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	savePausedWorkflow(t, store, "wf-stale", models.ExecutionModeAsync, time.Now().UTC().Add(-time.Hour), 60)

	require.NoError(t, o.Start(t.Context()))

	state, err := store.WorkflowStates().ByID(t.Context(), "wf-stale")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "human review timeout", state.ErrorMessage)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}
