// Package models defines the core domain models for human-in-the-loop
// data-collection workflows.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow execution.
type WorkflowStatus string

const (
	WorkflowStatusPending        WorkflowStatus = "pending"          // Created, not yet running
	WorkflowStatusRunning        WorkflowStatus = "running"          // Actively executing a turn
	WorkflowStatusPausedForHuman WorkflowStatus = "paused_for_human" // Waiting for a reviewer decision
	WorkflowStatusCompleted      WorkflowStatus = "completed"        // Terminal, data collected
	WorkflowStatusFailed         WorkflowStatus = "failed"           // Terminal, see ErrorMessage
	WorkflowStatusCancelled      WorkflowStatus = "cancelled"        // Terminal, externally cancelled
)

// IsTerminal reports whether no further transition is permitted out of s.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionMode is fixed at workflow creation and never changes.
type ExecutionMode string

const (
	ExecutionModeSync  ExecutionMode = "sync"
	ExecutionModeAsync ExecutionMode = "async"
)

// WorkflowState is the durable record of one end-to-end execution attempt.
//
// CompletedAt is non-nil iff Status is terminal, and is set exactly once
// on the first transition into a terminal status.
type WorkflowState struct {
	WorkflowID       string         `json:"workflow_id"`
	UserID           string         `json:"user_id"           validate:"required"`
	Status           WorkflowStatus `json:"status"            validate:"required"`
	CurrentStep      string         `json:"current_step,omitempty"`
	CollectedData    map[string]any `json:"collected_data,omitempty"`
	HumanReviewQueue []string       `json:"human_review_queue"`
	ExecutionMode    ExecutionMode  `json:"execution_mode"    validate:"required,oneof=sync async"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}
