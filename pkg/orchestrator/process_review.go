package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/formloop/formloop/pkg/events"
	"github.com/formloop/formloop/pkg/lifecycle"
	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/otelhelper"
	"github.com/formloop/formloop/pkg/persistence"
)

// ErrUnknownReviewAction marks a decision outside the closed action set.
var ErrUnknownReviewAction = errors.New("unknown review action")

// ReviewOutcome summarizes the effect of one reviewer decision.
type ReviewOutcome struct {
	WorkflowID        string                   `json:"workflow_id"`
	Action            models.HumanReviewAction `json:"action"`
	Approved          bool                     `json:"approved"`
	Rejected          bool                     `json:"rejected"`
	MoreInfoRequested bool                     `json:"more_info_requested"`
	Data              map[string]any           `json:"data,omitempty"`
	Message           string                   `json:"message,omitempty"`
}

// ProcessReview applies a reviewer decision to a paused workflow.
//
// APPROVE and MODIFY resolve the request and put the workflow back into
// RUNNING. REJECT fails the workflow but deliberately leaves the request
// pending, matching the long-standing reviewer-facing behavior: rejected
// items stay visible in the pending queue until they expire or are
// cleaned up. REQUEST_MORE_INFO only annotates the request; the workflow
// stays paused and the wait clock keeps running.
func (o *Orchestrator) ProcessReview(ctx context.Context, response *models.HumanReviewResponse) (*ReviewOutcome, error) {
	ctx, span := o.startSpan(ctx, "review.process",
		attribute.String(otelhelper.WorkflowIDKey, response.WorkflowID),
		attribute.String(otelhelper.ReviewActionKey, string(response.Action)),
		attribute.String(otelhelper.ReviewerIDKey, response.ReviewerID))
	defer span.End()

	if !response.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReviewAction, response.Action)
	}

	request, err := o.reviews.Get(ctx, response.WorkflowID)
	if err != nil {
		if persistence.IsReviewRequestNotFound(err) {
			return nil, fmt.Errorf("no review request for workflow %s: %w", response.WorkflowID, err)
		}

		return nil, err
	}

	state, err := o.store.WorkflowStates().ByID(ctx, request.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, fmt.Errorf("no workflow %s for review request: %w", request.WorkflowID, err)
		}

		return nil, err
	}

	switch response.Action {
	case models.ReviewActionApprove, models.ReviewActionModify:
		return o.acceptReview(ctx, request, state, response)
	case models.ReviewActionReject:
		return o.rejectReview(ctx, request, state, response)
	case models.ReviewActionRequestMoreInfo:
		return o.requestMoreInfo(ctx, request, response)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReviewAction, response.Action)
	}
}

func (o *Orchestrator) acceptReview(ctx context.Context, request *models.HumanReviewRequest, state *models.WorkflowState, response *models.HumanReviewResponse) (*ReviewOutcome, error) {
	data := request.CurrentData
	if response.Action == models.ReviewActionModify && response.ModifiedData != nil {
		data = response.ModifiedData
	}

	// An already resolved request makes a repeat APPROVE a benign
	// duplicate: report the same outcome without touching state again.
	if request.RequiresApproval {
		if _, err := o.lifecycle.MarkRunning(ctx, state.WorkflowID, stepProcessingFeedback); err != nil {
			return nil, err
		}

		if err := o.reviews.Resolve(ctx, request.WorkflowID, map[string]any{
			"action":      string(response.Action),
			"reviewer_id": response.ReviewerID,
			"comments":    response.Comments,
			"data":        data,
		}); err != nil {
			return nil, err
		}

		o.publish(ctx, state.WorkflowID, events.ReviewResolved{
			BaseEvent:  events.NewBaseEvent(events.ReviewResolvedEvent, state.WorkflowID, state.UserID),
			Action:     string(response.Action),
			ReviewerID: response.ReviewerID,
		})
	}

	o.logger.InfoContext(ctx, "review accepted",
		"workflow_id", state.WorkflowID, "action", response.Action, "reviewer_id", response.ReviewerID)

	return &ReviewOutcome{
		WorkflowID: state.WorkflowID,
		Action:     response.Action,
		Approved:   true,
		Data:       data,
		Message:    response.Comments,
	}, nil
}

func (o *Orchestrator) rejectReview(ctx context.Context, request *models.HumanReviewRequest, state *models.WorkflowState, response *models.HumanReviewResponse) (*ReviewOutcome, error) {
	reason := "Rejected by human reviewer: " + response.Comments

	if _, err := o.lifecycle.MarkFailed(ctx, state.WorkflowID, reason); err != nil {
		if !errors.Is(err, lifecycle.ErrInvalidTransition) {
			return nil, err
		}
	}

	// The request is intentionally not resolved here; see ProcessReview.

	o.publish(ctx, state.WorkflowID, events.WorkflowExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowExecutionFailedEvent, state.WorkflowID, state.UserID),
		Error:     reason,
	})

	o.logger.InfoContext(ctx, "review rejected",
		"workflow_id", state.WorkflowID, "reviewer_id", response.ReviewerID)

	return &ReviewOutcome{
		WorkflowID: request.WorkflowID,
		Action:     response.Action,
		Rejected:   true,
		Message:    reason,
	}, nil
}

func (o *Orchestrator) requestMoreInfo(ctx context.Context, request *models.HumanReviewRequest, response *models.HumanReviewResponse) (*ReviewOutcome, error) {
	description := "More info requested: " + response.Comments

	if err := o.reviews.UpdateDescription(ctx, request.WorkflowID, description); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "review needs more info",
		"workflow_id", request.WorkflowID, "reviewer_id", response.ReviewerID)

	return &ReviewOutcome{
		WorkflowID:        request.WorkflowID,
		Action:            response.Action,
		MoreInfoRequested: true,
		Message:           description,
	}, nil
}
