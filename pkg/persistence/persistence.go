// Package persistence provides the data storage abstraction layer for
// workflow states, human review requests and collection sessions.
package persistence

import (
	"context"

	"github.com/formloop/formloop/pkg/models"
)

// WorkflowStateRepository stores workflow execution records keyed by
// workflow id.
type WorkflowStateRepository interface {
	Save(ctx context.Context, state *models.WorkflowState) error
	ByID(ctx context.Context, workflowID string) (*models.WorkflowState, error)
	ListByUser(ctx context.Context, userID string) ([]*models.WorkflowState, error)
}

// ReviewRequestRepository stores human review requests keyed by the
// paused workflow's id.
type ReviewRequestRepository interface {
	Save(ctx context.Context, request *models.HumanReviewRequest) error
	ByWorkflowID(ctx context.Context, workflowID string) (*models.HumanReviewRequest, error)
	ListPending(ctx context.Context) ([]*models.HumanReviewRequest, error)
}

// SessionRepository stores per-user collection sessions.
type SessionRepository interface {
	Save(ctx context.Context, session *models.UserSession) error
	ByUserID(ctx context.Context, userID string) (*models.UserSession, error)
}

type Persistence interface {
	WorkflowStates() WorkflowStateRepository
	ReviewRequests() ReviewRequestRepository
	Sessions() SessionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
