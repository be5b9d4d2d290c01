// Package lifecycle owns workflow state transitions. Every transition is
// a read-modify-write against the store: no transition is observable to
// other readers before the store acknowledges the write.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

// ErrInvalidTransition is returned when a transition is fired from a
// state that does not permit it. Calling a mark method on a terminal
// workflow is a programming error, reported rather than ignored.
var ErrInvalidTransition = errors.New("invalid workflow status transition")

// Manager is the only writer of WorkflowState.Status.
type Manager struct {
	store  persistence.Persistence
	logger *slog.Logger
}

// NewManager creates a workflow lifecycle manager.
func NewManager(store persistence.Persistence, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With("module", "lifecycle"),
	}
}

// Create allocates a fresh workflow in PENDING and persists it. IDs are
// v4 UUIDs so concurrent creation cannot collide.
func (m *Manager) Create(ctx context.Context, userID string, mode models.ExecutionMode) (*models.WorkflowState, error) {
	now := time.Now().UTC()

	state := &models.WorkflowState{
		WorkflowID:       uuid.NewString(),
		UserID:           userID,
		Status:           models.WorkflowStatusPending,
		HumanReviewQueue: []string{},
		ExecutionMode:    mode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.WorkflowStates().Save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "workflow created",
		"workflow_id", state.WorkflowID, "user_id", userID, "mode", mode)

	return state, nil
}

// MarkRunning moves PENDING or PAUSED_FOR_HUMAN to RUNNING. Repeated
// calls while already RUNNING are no-ops.
func (m *Manager) MarkRunning(ctx context.Context, workflowID, stepLabel string) (*models.WorkflowState, error) {
	state, err := m.store.WorkflowStates().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if state.Status == models.WorkflowStatusRunning {
		return state, nil
	}

	return m.transition(ctx, state, triggerRun, func(s *models.WorkflowState) {
		s.CurrentStep = stepLabel
	})
}

// MarkPaused moves RUNNING to PAUSED_FOR_HUMAN and appends the review
// request id to the workflow's queue.
func (m *Manager) MarkPaused(ctx context.Context, workflowID, reviewRequestID string) (*models.WorkflowState, error) {
	state, err := m.store.WorkflowStates().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, state, triggerPause, func(s *models.WorkflowState) {
		s.CurrentStep = "awaiting_human_review"
		s.HumanReviewQueue = append(s.HumanReviewQueue, reviewRequestID)
	})
}

// MarkCompleted moves RUNNING to COMPLETED and records the collected data.
func (m *Manager) MarkCompleted(ctx context.Context, workflowID string, data map[string]any) (*models.WorkflowState, error) {
	state, err := m.store.WorkflowStates().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, state, triggerComplete, func(s *models.WorkflowState) {
		s.CollectedData = data
	})
}

// MarkFailed moves any non-terminal state to FAILED with the reason.
func (m *Manager) MarkFailed(ctx context.Context, workflowID, reason string) (*models.WorkflowState, error) {
	state, err := m.store.WorkflowStates().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, state, triggerFail, func(s *models.WorkflowState) {
		s.ErrorMessage = reason
	})
}

// MarkCancelled moves any non-terminal state to CANCELLED.
func (m *Manager) MarkCancelled(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	state, err := m.store.WorkflowStates().ByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, state, triggerCancel, nil)
}

func (m *Manager) transition(ctx context.Context, state *models.WorkflowState, trig trigger, mutate func(*models.WorkflowState)) (*models.WorkflowState, error) {
	from := state.Status

	sm := newMachine(from)
	if err := sm.FireCtx(ctx, trig); err != nil {
		return nil, fmt.Errorf("%w: cannot %s workflow %s in status %s",
			ErrInvalidTransition, trig, state.WorkflowID, from)
	}

	next, ok := sm.MustState().(models.WorkflowStatus)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected machine state for workflow %s", ErrInvalidTransition, state.WorkflowID)
	}

	now := time.Now().UTC()
	state.Status = next
	state.UpdatedAt = now

	if next.IsTerminal() && state.CompletedAt == nil {
		state.CompletedAt = &now
	}

	if mutate != nil {
		mutate(state)
	}

	if err := m.store.WorkflowStates().Save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "workflow transition",
		"workflow_id", state.WorkflowID, "from", from, "to", next)

	return state, nil
}
