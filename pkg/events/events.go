// Package events defines event types for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries all workflow lifecycle events.
const Topic = "formloop.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionPausedEvent    EventType = "workflow.execution.paused"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"

	ReviewRequestedEvent EventType = "review.requested"
	ReviewResolvedEvent  EventType = "review.resolved"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, userID string) BaseEvent {
	return BaseEvent{
		ID:         "event-" + uuid.New().String()[:8],
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		UserID:     userID,
	}
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionMode string `json:"execution_mode"`
}

func (e WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionPaused struct {
	BaseEvent

	ReviewRequestID string `json:"review_request_id"`
	StepName        string `json:"step_name,omitempty"`
}

func (e WorkflowExecutionPaused) GetType() EventType {
	return WorkflowExecutionPausedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	CollectedData map[string]any `json:"collected_data,omitempty"`
}

func (e WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	Error string `json:"error"`
}

func (e WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type ReviewRequested struct {
	BaseEvent

	ReviewRequestID string `json:"review_request_id"`
	StepName        string `json:"step_name,omitempty"`
	ReviewerID      string `json:"reviewer_id,omitempty"`
}

func (e ReviewRequested) GetType() EventType {
	return ReviewRequestedEvent
}

type ReviewResolved struct {
	BaseEvent

	Action     string `json:"action"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}

func (e ReviewResolved) GetType() EventType {
	return ReviewResolvedEvent
}
