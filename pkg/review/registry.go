// Package review owns the lifecycle of human review requests: creation,
// lookup, resolution and pending queries. It is the only writer of
// HumanReviewRequest.RequiresApproval.
package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

// DefaultTimeoutSeconds is the deadline hint attached to new requests.
const DefaultTimeoutSeconds = 1800

// Registry manages human review requests.
type Registry struct {
	store  persistence.Persistence
	logger *slog.Logger
}

// NewRegistry creates a review request registry.
func NewRegistry(store persistence.Persistence, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("module", "review"),
	}
}

// CreateParams carries the inputs for a new review request.
type CreateParams struct {
	WorkflowID      string
	UserID          string
	StepName        string
	StepDescription string
	CurrentData     map[string]any
	AISuggestion    any
	ReviewerID      string
	TimeoutSeconds  int
}

// Create persists a pending request built from params.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*models.HumanReviewRequest, error) {
	timeout := params.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}

	request := &models.HumanReviewRequest{
		WorkflowID:       params.WorkflowID,
		UserID:           params.UserID,
		StepName:         params.StepName,
		StepDescription:  params.StepDescription,
		CurrentData:      params.CurrentData,
		AISuggestion:     params.AISuggestion,
		CreatedAt:        time.Now().UTC(),
		RequiresApproval: true,
		TimeoutSeconds:   timeout,
	}

	if params.ReviewerID != "" {
		request.Context = map[string]any{"reviewer_id": params.ReviewerID}
	}

	if err := r.store.ReviewRequests().Save(ctx, request); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "review request created",
		"workflow_id", request.WorkflowID, "step", request.StepName)

	return request, nil
}

// Get returns the request for workflowID, or ErrReviewRequestNotFound.
func (r *Registry) Get(ctx context.Context, workflowID string) (*models.HumanReviewRequest, error) {
	return r.store.ReviewRequests().ByWorkflowID(ctx, workflowID)
}

// Resolve flips RequiresApproval to false and records the decision
// snapshot in the request context. Resolving an already resolved request
// is a no-op, so a duplicate APPROVE stays benign.
func (r *Registry) Resolve(ctx context.Context, workflowID string, decision map[string]any) error {
	request, err := r.store.ReviewRequests().ByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	if !request.RequiresApproval {
		return nil
	}

	request.RequiresApproval = false

	if decision != nil {
		if request.Context == nil {
			request.Context = make(map[string]any)
		}

		request.Context["decision"] = decision
	}

	if err := r.store.ReviewRequests().Save(ctx, request); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "review request resolved", "workflow_id", workflowID)

	return nil
}

// UpdateDescription rewrites the step description while leaving the
// request pending; used when the reviewer asks for more information.
func (r *Registry) UpdateDescription(ctx context.Context, workflowID, description string) error {
	request, err := r.store.ReviewRequests().ByWorkflowID(ctx, workflowID)
	if err != nil {
		return err
	}

	request.StepDescription = description

	return r.store.ReviewRequests().Save(ctx, request)
}

// ListPending returns pending requests, optionally filtered to the
// reviewer identity carried in the request context. Ordering is oldest
// first, stable for a fixed backing snapshot.
func (r *Registry) ListPending(ctx context.Context, reviewerID string) ([]*models.HumanReviewRequest, error) {
	pending, err := r.store.ReviewRequests().ListPending(ctx)
	if err != nil {
		return nil, err
	}

	if reviewerID == "" {
		return pending, nil
	}

	filtered := make([]*models.HumanReviewRequest, 0, len(pending))

	for _, request := range pending {
		if request.ReviewerID() == reviewerID {
			filtered = append(filtered, request)
		}
	}

	return filtered, nil
}
