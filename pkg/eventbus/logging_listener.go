package eventbus

import (
	"context"
	"log/slog"

	"github.com/formloop/formloop/pkg/events"
)

// RegisterLoggingListener attaches a handler for every workflow lifecycle
// event type that logs the event at info level. Call it before Subscribe.
func RegisterLoggingListener(bus EventSubscriber, logger *slog.Logger) {
	for _, eventType := range []events.EventType{
		events.WorkflowExecutionStartedEvent,
		events.WorkflowExecutionPausedEvent,
		events.WorkflowExecutionCompletedEvent,
		events.WorkflowExecutionFailedEvent,
		events.ReviewRequestedEvent,
		events.ReviewResolvedEvent,
	} {
		bus.Handle(eventType, logEvent(logger, eventType))
	}
}

func logEvent(logger *slog.Logger, eventType events.EventType) EventHandler {
	return func(ctx context.Context, event any) error {
		base := baseOf(event)

		logger.InfoContext(ctx, "workflow event",
			"event_type", string(eventType),
			"event_id", base.ID,
			"workflow_id", base.WorkflowID,
			"user_id", base.UserID,
		)

		return nil
	}
}

func baseOf(event any) events.BaseEvent {
	switch e := event.(type) {
	case *events.WorkflowExecutionStarted:
		return e.BaseEvent
	case *events.WorkflowExecutionPaused:
		return e.BaseEvent
	case *events.WorkflowExecutionCompleted:
		return e.BaseEvent
	case *events.WorkflowExecutionFailed:
		return e.BaseEvent
	case *events.ReviewRequested:
		return e.BaseEvent
	case *events.ReviewResolved:
		return e.BaseEvent
	default:
		return events.BaseEvent{}
	}
}
