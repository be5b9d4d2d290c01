package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
	"github.com/formloop/formloop/pkg/persistence/file"
)

type stubEngine struct {
	mu     sync.Mutex
	result *models.StepResult
	err    error
	calls  int
}

func (s *stubEngine) Advance(_ context.Context, _, _ string) (*models.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	return s.result, s.err
}

func newTestOrchestrator(t *testing.T, eng *stubEngine, cfg Config) (*Orchestrator, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	o := New(slog.Default(), store, eng, nil, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = o.Shutdown(ctx)
	})

	return o, store
}

func fastConfig() Config {
	return Config{
		ReviewTimeout: 2 * time.Second,
		PollInterval:  20 * time.Millisecond,
		StartupDelay:  time.Millisecond,
		TurnWorkers:   2,
	}
}

func doneResult(data map[string]any) *models.StepResult {
	return &models.StepResult{Done: true, Data: data}
}

func compositeResult() *models.StepResult {
	return &models.StepResult{
		Question:  "What is your address?",
		NextField: &models.FieldSpec{Field: "address", Format: models.FormatObject},
	}
}

func TestExecuteSyncCompleted(t *testing.T) {
	data := map[string]any{"account_type": "savings"}
	eng := &stubEngine{result: doneResult(data)}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{UserID: "u1", UserInput: "open account"})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)
	assert.Equal(t, data, result.Data)
	assert.False(t, result.HumanReviewRequired)

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, state.Status)
	assert.Equal(t, data, state.CollectedData)
	require.NotNil(t, state.CompletedAt)
}

func TestExecuteSyncEngineFailureMarksWorkflowFailed(t *testing.T) {
	eng := &stubEngine{err: errors.New("step function exploded")}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{UserID: "u1", UserInput: "hi"})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Equal(t, "step function exploded", result.Error)

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "step function exploded", state.ErrorMessage)
}

func TestExecuteSyncPausesForCompositeField(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
		ReviewerID:        "rev-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusPausedForHuman, result.Status)
	assert.True(t, result.HumanReviewRequired)
	assert.Equal(t, result.WorkflowID, result.ReviewRequestID)
	assert.Equal(t, "What is your address?", result.NextQuestion)

	request, err := store.ReviewRequests().ByWorkflowID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.True(t, request.RequiresApproval)
	assert.Equal(t, "address", request.StepName)
	assert.Equal(t, "rev-1", request.ReviewerID())

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPausedForHuman, state.Status)
	assert.Contains(t, state.HumanReviewQueue, result.ReviewRequestID)
}

func TestExecuteSyncSkipsReviewWhenDisabled(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{UserID: "u1", UserInput: "hello"})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)

	_, err = store.ReviewRequests().ByWorkflowID(t.Context(), result.WorkflowID)
	assert.True(t, persistence.IsReviewRequestNotFound(err))
}

func TestExecuteAsyncApproveCompletes(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	accepted, err := o.ExecuteAsync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusPending, accepted.Status)
	assert.Equal(t, PollURLPrefix+accepted.WorkflowID, accepted.PollURL)
	assert.False(t, accepted.EstimatedCompletionTime.IsZero())

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusPausedForHuman
	}, 2*time.Second, 10*time.Millisecond)

	outcome, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: accepted.WorkflowID,
		Action:     models.ReviewActionApprove,
		ReviewerID: "rev-1",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Approved)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	request, err := store.ReviewRequests().ByWorkflowID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.False(t, request.RequiresApproval)

	require.Eventually(t, func() bool {
		return o.ActiveTasks() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteAsyncReviewTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.ReviewTimeout = 100 * time.Millisecond

	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, cfg)

	accepted, err := o.ExecuteAsync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "human review timeout", state.ErrorMessage)
	require.NotNil(t, state.CompletedAt)
}

func TestExecuteAsyncWithoutReviewCompletes(t *testing.T) {
	data := map[string]any{"name": "Ada"}
	eng := &stubEngine{result: doneResult(data)}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	accepted, err := o.ExecuteAsync(t.Context(), ExecuteRequest{UserID: "u1", UserInput: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, data, state.CollectedData)
}

func TestProcessReviewRejectLeavesRequestPending(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	accepted, err := o.ExecuteAsync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusPausedForHuman
	}, 2*time.Second, 10*time.Millisecond)

	outcome, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: accepted.WorkflowID,
		Action:     models.ReviewActionReject,
		Comments:   "wrong account type",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Rejected)
	assert.Equal(t, "Rejected by human reviewer: wrong account type", outcome.Message)

	state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "Rejected by human reviewer: wrong account type", state.ErrorMessage)

	// Rejection does not resolve the request: it stays in the pending
	// queue until cleanup.
	request, err := store.ReviewRequests().ByWorkflowID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.True(t, request.RequiresApproval)

	// The waiter notices the terminal workflow and exits cleanly.
	require.Eventually(t, func() bool {
		return o.ActiveTasks() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessReviewModifyUsesModifiedData(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusPausedForHuman, result.Status)

	modified := map[string]any{"address": map[string]any{"city": "Lisbon"}}

	outcome, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID:   result.WorkflowID,
		Action:       models.ReviewActionModify,
		ModifiedData: modified,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Approved)
	assert.Equal(t, modified, outcome.Data)

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusRunning, state.Status)
	assert.Equal(t, stepProcessingFeedback, state.CurrentStep)
}

func TestProcessReviewRequestMoreInfoKeepsWorkflowPaused(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	outcome, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: result.WorkflowID,
		Action:     models.ReviewActionRequestMoreInfo,
		Comments:   "which branch?",
	})
	require.NoError(t, err)
	assert.True(t, outcome.MoreInfoRequested)

	request, err := store.ReviewRequests().ByWorkflowID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.True(t, request.RequiresApproval)
	assert.True(t, strings.HasPrefix(request.StepDescription, "More info requested: "))

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPausedForHuman, state.Status)
}

func TestProcessReviewUnknownAction(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, _ := newTestOrchestrator(t, eng, fastConfig())

	_, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: "wf-1",
		Action:     models.HumanReviewAction("escalate"),
	})
	require.ErrorIs(t, err, ErrUnknownReviewAction)
}

func TestProcessReviewRequestNotFound(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, _ := newTestOrchestrator(t, eng, fastConfig())

	_, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: "missing",
		Action:     models.ReviewActionApprove,
	})
	require.ErrorIs(t, err, persistence.ErrReviewRequestNotFound)
}

func TestProcessReviewApproveIsIdempotent(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	result, err := o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	first, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: result.WorkflowID,
		Action:     models.ReviewActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, first.Approved)

	second, err := o.ProcessReview(t.Context(), &models.HumanReviewResponse{
		WorkflowID: result.WorkflowID,
		Action:     models.ReviewActionApprove,
	})
	require.NoError(t, err)
	assert.True(t, second.Approved)

	state, err := store.WorkflowStates().ByID(t.Context(), result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusRunning, state.Status)
}

func TestWorkflowStatusNotFound(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, _ := newTestOrchestrator(t, eng, fastConfig())

	_, err := o.WorkflowStatus(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestUserWorkflowsAndPendingReviews(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, _ := newTestOrchestrator(t, eng, fastConfig())

	first, err := o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
		ReviewerID:        "rev-1",
	})
	require.NoError(t, err)

	_, err = o.ExecuteSync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello again",
		EnableHumanReview: true,
		ReviewerID:        "rev-2",
	})
	require.NoError(t, err)

	workflows, err := o.UserWorkflows(t.Context(), "u1")
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	all, err := o.PendingReviews(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := o.PendingReviews(t.Context(), "rev-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, first.WorkflowID, scoped[0].WorkflowID)
}

func TestShutdownAbandonsPausedWorkflow(t *testing.T) {
	eng := &stubEngine{result: compositeResult()}
	o, store := newTestOrchestrator(t, eng, fastConfig())

	accepted, err := o.ExecuteAsync(t.Context(), ExecuteRequest{
		UserID:            "u1",
		UserInput:         "hello",
		EnableHumanReview: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)

		return err == nil && state.Status == models.WorkflowStatusPausedForHuman
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	// The paused record survives for the next recovery sweep.
	state, err := store.WorkflowStates().ByID(t.Context(), accepted.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPausedForHuman, state.Status)
	assert.Zero(t, o.ActiveTasks())
}
