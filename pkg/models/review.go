package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// HumanReviewRequest is a structured ask for a human decision about one
// workflow step. RequiresApproval is true while the request is pending
// and flipped to false exactly once when a final decision is recorded.
type HumanReviewRequest struct {
	WorkflowID       string         `json:"workflow_id"`
	UserID           string         `json:"user_id"`
	StepName         string         `json:"step_name"`
	StepDescription  string         `json:"step_description"`
	CurrentData      map[string]any `json:"current_data,omitempty"`
	AISuggestion     any            `json:"ai_suggestion,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	RequiresApproval bool           `json:"requires_approval"`
	TimeoutSeconds   int            `json:"timeout_seconds,omitempty"`
}

// ReviewerID returns the reviewer identity carried in Context, if any.
func (r *HumanReviewRequest) ReviewerID() string {
	if r.Context == nil {
		return ""
	}

	id, _ := r.Context["reviewer_id"].(string)

	return id
}

// Deadline returns the moment the request times out, or the zero time
// when no timeout hint was set.
func (r *HumanReviewRequest) Deadline() time.Time {
	if r.TimeoutSeconds <= 0 {
		return time.Time{}
	}

	return r.CreatedAt.Add(time.Duration(r.TimeoutSeconds) * time.Second)
}

// HumanReviewAction is the closed set of decisions a reviewer can take.
type HumanReviewAction string

const (
	ReviewActionApprove         HumanReviewAction = "approve"
	ReviewActionReject          HumanReviewAction = "reject"
	ReviewActionModify          HumanReviewAction = "modify"
	ReviewActionRequestMoreInfo HumanReviewAction = "request_more_info"
)

// Valid reports whether a is one of the four known actions.
func (a HumanReviewAction) Valid() bool {
	switch a {
	case ReviewActionApprove, ReviewActionReject, ReviewActionModify, ReviewActionRequestMoreInfo:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown action values at the decoding boundary
// so they can never silently fall through a decision switch.
func (a *HumanReviewAction) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	action := HumanReviewAction(raw)
	if !action.Valid() {
		return fmt.Errorf("unknown human review action: %q", raw)
	}

	*a = action

	return nil
}

// HumanReviewResponse carries a reviewer decision. WorkflowID targets the
// review request; request and workflow share the id value.
type HumanReviewResponse struct {
	WorkflowID   string            `json:"workflow_id"             validate:"required"`
	Action       HumanReviewAction `json:"action"                  validate:"required"`
	ModifiedData map[string]any    `json:"modified_data,omitempty"`
	Comments     string            `json:"comments,omitempty"`
	ReviewerID   string            `json:"reviewer_id,omitempty"`
}
