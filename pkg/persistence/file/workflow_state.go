package file

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

// WorkflowStateRepository handles workflow-state file operations.
type WorkflowStateRepository struct {
	root string
}

// NewWorkflowStateRepository creates a new workflow state repository.
func NewWorkflowStateRepository(root string) *WorkflowStateRepository {
	return &WorkflowStateRepository{root: root}
}

func (wr *WorkflowStateRepository) dir() string {
	return filepath.Join(wr.root, "workflows")
}

func (wr *WorkflowStateRepository) path(workflowID string) string {
	return filepath.Join(wr.dir(), workflowID+".json")
}

// Save writes the full record; the write is the transition's commit point.
func (wr *WorkflowStateRepository) Save(_ context.Context, state *models.WorkflowState) error {
	if err := os.MkdirAll(wr.dir(), 0o755); err != nil {
		return persistence.NewStoreError("Save", state.WorkflowID, err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return persistence.NewStoreError("Save", state.WorkflowID, err)
	}

	if err := os.WriteFile(wr.path(state.WorkflowID), data, 0o644); err != nil {
		return persistence.NewStoreError("Save", state.WorkflowID, err)
	}

	return nil
}

func (wr *WorkflowStateRepository) ByID(_ context.Context, workflowID string) (*models.WorkflowState, error) {
	data, err := os.ReadFile(wr.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("ByID", workflowID, err)
	}

	var state models.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, persistence.NewStoreError("ByID", workflowID, err)
	}

	return &state, nil
}

// ListByUser returns the user's workflow history, oldest first.
func (wr *WorkflowStateRepository) ListByUser(ctx context.Context, userID string) ([]*models.WorkflowState, error) {
	states := make([]*models.WorkflowState, 0)

	root := os.DirFS(wr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, persistence.NewStoreError("ListByUser", userID, err)
	}

	for _, name := range jsonFiles {
		workflowID := name[:len(name)-len(".json")]

		state, err := wr.ByID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		if state.UserID == userID {
			states = append(states, state)
		}
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].WorkflowID < states[j].WorkflowID
		}

		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})

	return states, nil
}
