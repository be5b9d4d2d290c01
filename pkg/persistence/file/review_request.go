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

// ReviewRequestRepository handles review-request file operations.
type ReviewRequestRepository struct {
	root string
}

// NewReviewRequestRepository creates a new review request repository.
func NewReviewRequestRepository(root string) *ReviewRequestRepository {
	return &ReviewRequestRepository{root: root}
}

func (rr *ReviewRequestRepository) dir() string {
	return filepath.Join(rr.root, "reviews")
}

func (rr *ReviewRequestRepository) path(workflowID string) string {
	return filepath.Join(rr.dir(), workflowID+".json")
}

func (rr *ReviewRequestRepository) Save(_ context.Context, request *models.HumanReviewRequest) error {
	if err := os.MkdirAll(rr.dir(), 0o755); err != nil {
		return persistence.NewStoreError("Save", request.WorkflowID, err)
	}

	data, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return persistence.NewStoreError("Save", request.WorkflowID, err)
	}

	if err := os.WriteFile(rr.path(request.WorkflowID), data, 0o644); err != nil {
		return persistence.NewStoreError("Save", request.WorkflowID, err)
	}

	return nil
}

func (rr *ReviewRequestRepository) ByWorkflowID(_ context.Context, workflowID string) (*models.HumanReviewRequest, error) {
	data, err := os.ReadFile(rr.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrReviewRequestNotFound
		}

		return nil, persistence.NewStoreError("ByWorkflowID", workflowID, err)
	}

	var request models.HumanReviewRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, persistence.NewStoreError("ByWorkflowID", workflowID, err)
	}

	return &request, nil
}

// ListPending returns requests still awaiting a decision, oldest first
// so the ordering is stable for a fixed backing snapshot.
func (rr *ReviewRequestRepository) ListPending(ctx context.Context) ([]*models.HumanReviewRequest, error) {
	pending := make([]*models.HumanReviewRequest, 0)

	root := os.DirFS(rr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, persistence.NewStoreError("ListPending", "", err)
	}

	for _, name := range jsonFiles {
		workflowID := name[:len(name)-len(".json")]

		request, err := rr.ByWorkflowID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		if request.RequiresApproval {
			pending = append(pending, request)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].WorkflowID < pending[j].WorkflowID
		}

		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}
