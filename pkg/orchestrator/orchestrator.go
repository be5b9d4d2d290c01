// Package orchestrator coordinates the turn engine, the workflow
// lifecycle and the review registry to run human-in-the-loop
// data-collection workflows in synchronous and asynchronous modes.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/formloop/formloop/pkg/engine"
	"github.com/formloop/formloop/pkg/eventbus"
	"github.com/formloop/formloop/pkg/events"
	"github.com/formloop/formloop/pkg/lifecycle"
	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/otelhelper"
	"github.com/formloop/formloop/pkg/persistence"
	"github.com/formloop/formloop/pkg/review"
)

const (
	DefaultReviewTimeout    = 30 * time.Minute
	DefaultPollInterval     = 10 * time.Second
	DefaultStartupDelay     = time.Second
	DefaultTurnWorkers      = 10
	DefaultRecoverySchedule = "@every 5m"
)

const (
	stepProcessingInput    = "processing_user_input"
	stepAwaitingReview     = "awaiting_human_review"
	stepProcessingFeedback = "processing_human_feedback"
)

// PollURLPrefix is where asynchronous callers poll for status.
const PollURLPrefix = "/human-workflow/status/"

// Config carries the orchestrator's timing and sizing knobs. The zero
// value is usable; tests shrink the durations.
type Config struct {
	// ReviewTimeout bounds the wait for a human decision.
	ReviewTimeout time.Duration
	// PollInterval is the review re-read interval during the wait.
	PollInterval time.Duration
	// StartupDelay simulates processing latency in the async path.
	StartupDelay time.Duration
	// TurnWorkers bounds concurrent turn engine invocations.
	TurnWorkers int
	// RecoverySchedule is the cron spec of the orphan-recovery sweep.
	RecoverySchedule string
}

func (c Config) withDefaults() Config {
	if c.ReviewTimeout <= 0 {
		c.ReviewTimeout = DefaultReviewTimeout
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.StartupDelay <= 0 {
		c.StartupDelay = DefaultStartupDelay
	}

	if c.TurnWorkers <= 0 {
		c.TurnWorkers = DefaultTurnWorkers
	}

	if c.RecoverySchedule == "" {
		c.RecoverySchedule = DefaultRecoverySchedule
	}

	return c
}

// Orchestrator is constructed once at process start with injected
// dependencies. The durable store is authoritative; the in-memory task
// registry only tracks live background executions and can be rebuilt
// empty on restart without breaking status polling.
type Orchestrator struct {
	store     persistence.Persistence
	engine    engine.TurnEngine
	bus       eventbus.EventPublisher
	tracer    trace.Tracer
	lifecycle *lifecycle.Manager
	reviews   *review.Registry
	logger    *slog.Logger
	cfg       Config

	turnSlots chan struct{}

	mu     sync.Mutex
	active map[string]context.CancelFunc

	cron *cron.Cron
	wg   sync.WaitGroup
}

// New creates an orchestrator. bus may be nil to disable lifecycle
// event publishing.
func New(logger *slog.Logger, store persistence.Persistence, turnEngine engine.TurnEngine, bus eventbus.EventPublisher, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()

	return &Orchestrator{
		store:     store,
		engine:    turnEngine,
		bus:       bus,
		lifecycle: lifecycle.NewManager(store, logger),
		reviews:   review.NewRegistry(store, logger),
		logger:    logger.With("module", "orchestrator"),
		cfg:       cfg,
		turnSlots: make(chan struct{}, cfg.TurnWorkers),
		active:    make(map[string]context.CancelFunc),
	}
}

// WithTracer enables execution spans.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	o.tracer = tracer

	return o
}

// ExecuteRequest is one workflow execution ask.
type ExecuteRequest struct {
	UserID            string
	UserInput         string
	EnableHumanReview bool
	HumanReviewSteps  []string
	ReviewerID        string
}

// SyncResult is the outcome of a synchronous execution: terminal or
// paused, delivered in the same call.
type SyncResult struct {
	WorkflowID          string                `json:"workflow_id"`
	Status              models.WorkflowStatus `json:"status"`
	Data                map[string]any        `json:"data,omitempty"`
	HumanReviewRequired bool                  `json:"human_review_required"`
	ReviewRequestID     string                `json:"review_request_id,omitempty"`
	NextQuestion        string                `json:"next_question,omitempty"`
	Error               string                `json:"error,omitempty"`
}

// AsyncAccepted acknowledges a scheduled background execution.
type AsyncAccepted struct {
	WorkflowID              string                `json:"workflow_id"`
	Status                  models.WorkflowStatus `json:"status"`
	Message                 string                `json:"message"`
	PollURL                 string                `json:"poll_url"`
	EstimatedCompletionTime time.Time             `json:"estimated_completion_time"`
}

// ExecuteSync runs one turn on the caller's context. Failures of the
// turn engine convert the workflow to FAILED and come back as a FAILED
// result; store failures propagate as errors so the caller can retry.
func (o *Orchestrator) ExecuteSync(ctx context.Context, req ExecuteRequest) (*SyncResult, error) {
	ctx, span := o.startSpan(ctx, "workflow.execute_sync",
		attribute.String(otelhelper.UserIDKey, req.UserID),
		attribute.String(otelhelper.ExecutionModeKey, string(models.ExecutionModeSync)))
	defer span.End()

	state, err := o.lifecycle.Create(ctx, req.UserID, models.ExecutionModeSync)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, state.WorkflowID))

	if _, err := o.lifecycle.MarkRunning(ctx, state.WorkflowID, stepProcessingInput); err != nil {
		return nil, err
	}

	o.publish(ctx, state.WorkflowID, events.WorkflowExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.WorkflowExecutionStartedEvent, state.WorkflowID, req.UserID),
		ExecutionMode: string(models.ExecutionModeSync),
	})

	result, err := o.engine.Advance(ctx, req.UserID, req.UserInput)
	if err != nil {
		return o.failSync(ctx, state.WorkflowID, req.UserID, err)
	}

	if req.EnableHumanReview && ShouldRequestReview(result, req.HumanReviewSteps) {
		request, err := o.openReview(ctx, state.WorkflowID, req, result)
		if err != nil {
			return o.failSync(ctx, state.WorkflowID, req.UserID, err)
		}

		if _, err := o.lifecycle.MarkPaused(ctx, state.WorkflowID, request.WorkflowID); err != nil {
			return o.failSync(ctx, state.WorkflowID, req.UserID, err)
		}

		o.publish(ctx, state.WorkflowID, events.WorkflowExecutionPaused{
			BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionPausedEvent, state.WorkflowID, req.UserID),
			ReviewRequestID: request.WorkflowID,
			StepName:        request.StepName,
		})

		// The caller resumes the conversation once a human decides;
		// synchronous workflows are not auto-resumed here.
		return &SyncResult{
			WorkflowID:          state.WorkflowID,
			Status:              models.WorkflowStatusPausedForHuman,
			HumanReviewRequired: true,
			ReviewRequestID:     request.WorkflowID,
			NextQuestion:        result.Question,
		}, nil
	}

	if _, err := o.lifecycle.MarkCompleted(ctx, state.WorkflowID, result.Data); err != nil {
		return o.failSync(ctx, state.WorkflowID, req.UserID, err)
	}

	o.publish(ctx, state.WorkflowID, events.WorkflowExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, state.WorkflowID, req.UserID),
		CollectedData: result.Data,
	})

	return &SyncResult{
		WorkflowID:   state.WorkflowID,
		Status:       models.WorkflowStatusCompleted,
		Data:         result.Data,
		NextQuestion: result.Question,
	}, nil
}

func (o *Orchestrator) failSync(ctx context.Context, workflowID, userID string, cause error) (*SyncResult, error) {
	if persistence.IsStoreFailure(cause) {
		return nil, cause
	}

	o.logger.ErrorContext(ctx, "sync workflow execution failed",
		"workflow_id", workflowID, "error", cause)

	if _, err := o.lifecycle.MarkFailed(ctx, workflowID, cause.Error()); err != nil {
		if persistence.IsStoreFailure(err) {
			return nil, err
		}

		o.logger.ErrorContext(ctx, "failed to mark workflow failed",
			"workflow_id", workflowID, "error", err)
	}

	o.publish(ctx, workflowID, events.WorkflowExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowExecutionFailedEvent, workflowID, userID),
		Error:     cause.Error(),
	})

	return &SyncResult{
		WorkflowID: workflowID,
		Status:     models.WorkflowStatusFailed,
		Error:      cause.Error(),
	}, nil
}

// ExecuteAsync creates the workflow and schedules a background task,
// returning before the task runs. The caller discovers the outcome by
// polling WorkflowStatus.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, req ExecuteRequest) (*AsyncAccepted, error) {
	state, err := o.lifecycle.Create(ctx, req.UserID, models.ExecutionModeAsync)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.track(state.WorkflowID, cancel)
	o.wg.Add(1)

	go o.runAsyncTask(taskCtx, state.WorkflowID, req)

	return &AsyncAccepted{
		WorkflowID:              state.WorkflowID,
		Status:                  models.WorkflowStatusPending,
		Message:                 "Workflow started successfully",
		PollURL:                 PollURLPrefix + state.WorkflowID,
		EstimatedCompletionTime: time.Now().UTC().Add(5 * time.Minute),
	}, nil
}

func (o *Orchestrator) runAsyncTask(ctx context.Context, workflowID string, req ExecuteRequest) {
	defer o.wg.Done()
	// Cleanup must run on every exit path, success or failure.
	defer o.untrack(workflowID)

	ctx, span := o.startSpan(ctx, "workflow.execute_async",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.UserIDKey, req.UserID))
	defer span.End()

	if _, err := o.lifecycle.MarkRunning(ctx, workflowID, stepProcessingInput); err != nil {
		o.failAsync(ctx, workflowID, req.UserID, err)

		return
	}

	o.publish(ctx, workflowID, events.WorkflowExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.WorkflowExecutionStartedEvent, workflowID, req.UserID),
		ExecutionMode: string(models.ExecutionModeAsync),
	})

	select {
	case <-time.After(o.cfg.StartupDelay):
	case <-ctx.Done():
		return
	}

	result, err := o.runTurn(ctx, req.UserID, req.UserInput)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		o.failAsync(ctx, workflowID, req.UserID, err)

		return
	}

	if req.EnableHumanReview && ShouldRequestReview(result, req.HumanReviewSteps) {
		request, err := o.openReview(ctx, workflowID, req, result)
		if err != nil {
			o.failAsync(ctx, workflowID, req.UserID, err)

			return
		}

		if _, err := o.lifecycle.MarkPaused(ctx, workflowID, request.WorkflowID); err != nil {
			o.failAsync(ctx, workflowID, req.UserID, err)

			return
		}

		o.publish(ctx, workflowID, events.WorkflowExecutionPaused{
			BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionPausedEvent, workflowID, req.UserID),
			ReviewRequestID: request.WorkflowID,
			StepName:        request.StepName,
		})

		// Block this task, not the caller, until a human decides.
		if err := o.waitForReview(ctx, workflowID, time.Now().Add(o.cfg.ReviewTimeout)); err != nil {
			switch {
			case errors.Is(err, errWorkflowFinalized):
				// Another actor (reject, cancel) already finalized it.
			case ctx.Err() != nil:
				// Shutdown abandons in-flight tasks; the store keeps
				// the paused record for the recovery sweep.
			default:
				o.failAsync(ctx, workflowID, req.UserID, err)
			}

			return
		}
	}

	o.complete(ctx, workflowID, req.UserID, result.Data)
}

func (o *Orchestrator) complete(ctx context.Context, workflowID, userID string, data map[string]any) {
	if _, err := o.lifecycle.MarkCompleted(ctx, workflowID, data); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// Already finalized elsewhere.
			return
		}

		o.failAsync(ctx, workflowID, userID, err)

		return
	}

	o.publish(ctx, workflowID, events.WorkflowExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, workflowID, userID),
		CollectedData: data,
	})
}

func (o *Orchestrator) failAsync(ctx context.Context, workflowID, userID string, cause error) {
	o.logger.ErrorContext(ctx, "async workflow execution failed",
		"workflow_id", workflowID, "error", cause)

	if _, err := o.lifecycle.MarkFailed(ctx, workflowID, cause.Error()); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return
		}

		o.logger.ErrorContext(ctx, "failed to mark workflow failed",
			"workflow_id", workflowID, "error", err)

		return
	}

	o.publish(ctx, workflowID, events.WorkflowExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowExecutionFailedEvent, workflowID, userID),
		Error:     cause.Error(),
	})
}

// runTurn routes the turn engine call through the bounded worker pool so
// a slow step function cannot starve other concurrent workflows.
func (o *Orchestrator) runTurn(ctx context.Context, userID, input string) (*models.StepResult, error) {
	select {
	case o.turnSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	defer func() { <-o.turnSlots }()

	return o.engine.Advance(ctx, userID, input)
}

func (o *Orchestrator) openReview(ctx context.Context, workflowID string, req ExecuteRequest, result *models.StepResult) (*models.HumanReviewRequest, error) {
	stepName := "current_step"
	if result.NextField != nil && result.NextField.Field != "" {
		stepName = result.NextField.Field
	}

	description := "No description"
	if result.Question != "" {
		description = result.Question
	}

	request, err := o.reviews.Create(ctx, review.CreateParams{
		WorkflowID:      workflowID,
		UserID:          req.UserID,
		StepName:        stepName,
		StepDescription: "Review required for: " + description,
		CurrentData:     result.Snapshot(),
		AISuggestion:    result.AISuggestion,
		ReviewerID:      req.ReviewerID,
		TimeoutSeconds:  int(o.cfg.ReviewTimeout.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	o.publish(ctx, workflowID, events.ReviewRequested{
		BaseEvent:       events.NewBaseEvent(events.ReviewRequestedEvent, workflowID, req.UserID),
		ReviewRequestID: request.WorkflowID,
		StepName:        request.StepName,
		ReviewerID:      req.ReviewerID,
	})

	return request, nil
}

// WorkflowStatus performs a point read of the persisted state. It never
// consults the in-memory task registry, so status stays queryable after
// a restart.
func (o *Orchestrator) WorkflowStatus(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	return o.store.WorkflowStates().ByID(ctx, workflowID)
}

// UserWorkflows lists a user's workflow history.
func (o *Orchestrator) UserWorkflows(ctx context.Context, userID string) ([]*models.WorkflowState, error) {
	return o.store.WorkflowStates().ListByUser(ctx, userID)
}

// PendingReviews lists unresolved review requests, optionally scoped to
// one reviewer.
func (o *Orchestrator) PendingReviews(ctx context.Context, reviewerID string) ([]*models.HumanReviewRequest, error) {
	return o.reviews.ListPending(ctx, reviewerID)
}

// ActiveTasks reports the number of live background executions.
func (o *Orchestrator) ActiveTasks() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.active)
}

func (o *Orchestrator) track(workflowID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.active[workflowID] = cancel
}

func (o *Orchestrator) untrack(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.active, workflowID)
}

func (o *Orchestrator) tracked(workflowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.active[workflowID]

	return ok
}

func (o *Orchestrator) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if o.bus == nil {
		return
	}

	// Publishing is best effort and never fails an execution.
	if err := o.bus.Publish(ctx, workflowID, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish event",
			"workflow_id", workflowID, "event_type", event.GetType(), "error", err)
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, o.tracer, name, attrs...)
}
