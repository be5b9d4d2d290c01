// Package web provides HTTP handlers and request types for the
// human-in-the-loop workflow API.
package web

// CollectRequest is one conversational data-collection turn.
type CollectRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// ExecuteWorkflowRequest starts a workflow execution, synchronous or
// asynchronous depending on the endpoint.
type ExecuteWorkflowRequest struct {
	UserID            string   `json:"user_id"                      validate:"required"`
	UserInput         string   `json:"user_input"`
	EnableHumanReview bool     `json:"enable_human_review"`
	HumanReviewSteps  []string `json:"human_review_steps,omitempty"`
	ReviewerID        string   `json:"reviewer_id,omitempty"`
}
