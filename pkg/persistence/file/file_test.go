package file

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

func TestWorkflowStateRoundTrip(t *testing.T) {
	p := NewPersistence(t.TempDir())

	state := &models.WorkflowState{
		WorkflowID:       "wf-1",
		UserID:           "u1",
		Status:           models.WorkflowStatusPending,
		ExecutionMode:    models.ExecutionModeSync,
		HumanReviewQueue: []string{},
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	require.NoError(t, p.WorkflowStates().Save(t.Context(), state))

	loaded, err := p.WorkflowStates().ByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, state.UserID, loaded.UserID)
	assert.Equal(t, models.WorkflowStatusPending, loaded.Status)
	assert.Nil(t, loaded.CompletedAt)
}

func TestWorkflowStateNotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.WorkflowStates().ByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowStateListByUser(t *testing.T) {
	p := NewPersistence(t.TempDir())

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"wf-b", "wf-a", "wf-c"} {
		owner := "u1"
		if id == "wf-c" {
			owner = "u2"
		}

		require.NoError(t, p.WorkflowStates().Save(t.Context(), &models.WorkflowState{
			WorkflowID:    id,
			UserID:        owner,
			Status:        models.WorkflowStatusPending,
			ExecutionMode: models.ExecutionModeAsync,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	states, err := p.WorkflowStates().ListByUser(t.Context(), "u1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "wf-b", states[0].WorkflowID)
	assert.Equal(t, "wf-a", states[1].WorkflowID)
}

func TestReviewRequestListPending(t *testing.T) {
	p := NewPersistence(t.TempDir())

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	resolved := &models.HumanReviewRequest{
		WorkflowID:       "wf-resolved",
		UserID:           "u1",
		RequiresApproval: false,
		CreatedAt:        base,
	}
	require.NoError(t, p.ReviewRequests().Save(t.Context(), resolved))

	for i, id := range []string{"wf-late", "wf-early"} {
		require.NoError(t, p.ReviewRequests().Save(t.Context(), &models.HumanReviewRequest{
			WorkflowID:       id,
			UserID:           "u1",
			RequiresApproval: true,
			CreatedAt:        base.Add(time.Duration(2-i) * time.Minute),
		}))
	}

	pending, err := p.ReviewRequests().ListPending(t.Context())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "wf-early", pending[0].WorkflowID)
	assert.Equal(t, "wf-late", pending[1].WorkflowID)
}

func TestReviewRequestNotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.ReviewRequests().ByWorkflowID(t.Context(), "missing")
	assert.True(t, persistence.IsReviewRequestNotFound(err))
}

func TestSessionRoundTrip(t *testing.T) {
	p := NewPersistence(t.TempDir())

	session := models.NewUserSession("u1")
	session.Collected["Name"] = "Ada"
	session.FieldIndex = 1
	session.Append("user", "Ada")

	require.NoError(t, p.Sessions().Save(t.Context(), session))

	loaded, err := p.Sessions().ByUserID(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.Collected["Name"])
	assert.Equal(t, 1, loaded.FieldIndex)
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "user", loaded.History[0].Role)

	_, err = p.Sessions().ByUserID(t.Context(), "nobody")
	assert.True(t, persistence.IsSessionNotFound(err))
}

func TestHealthCheck(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence(dir)
	assert.NoError(t, p.HealthCheck(t.Context()))
	assert.NoError(t, p.Close(t.Context()))

	missing := NewPersistence(dir + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(t.Context()))
}
