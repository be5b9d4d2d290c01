package orchestrator

import (
	"context"
	"errors"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

// Start runs an immediate recovery sweep and schedules periodic sweeps.
// Recovery re-attaches waiters to asynchronous workflows that were left
// paused by a previous process and fails the ones whose review deadline
// already passed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		o.logger.WarnContext(ctx, "initial recovery sweep failed", "error", err)
	}

	c := cron.New()

	if _, err := c.AddFunc(o.cfg.RecoverySchedule, func() {
		if err := o.Recover(context.Background()); err != nil {
			o.logger.Error("recovery sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	c.Start()
	o.cron = c

	o.logger.InfoContext(ctx, "orchestrator started", "recovery_schedule", o.cfg.RecoverySchedule)

	return nil
}

// Recover scans pending review requests and reconciles each with its
// workflow. Sync workflows stay paused for their caller; async ones get
// a fresh waiter unless one is already live in this process.
func (o *Orchestrator) Recover(ctx context.Context) error {
	pending, err := o.store.ReviewRequests().ListPending(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	for _, request := range pending {
		state, err := o.store.WorkflowStates().ByID(ctx, request.WorkflowID)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				o.logger.WarnContext(ctx, "pending review request without workflow",
					"workflow_id", request.WorkflowID)

				continue
			}

			return err
		}

		if state.Status != models.WorkflowStatusPausedForHuman {
			continue
		}

		// Sync workflows stay paused for their caller, expired or not.
		if state.ExecutionMode != models.ExecutionModeAsync {
			continue
		}

		deadline := request.Deadline()
		if deadline.IsZero() {
			deadline = now.Add(o.cfg.ReviewTimeout)
		}

		if !deadline.After(now) {
			o.logger.InfoContext(ctx, "failing workflow with expired review",
				"workflow_id", request.WorkflowID, "deadline", deadline)
			o.failAsync(ctx, request.WorkflowID, state.UserID, ErrReviewTimeout)

			continue
		}

		if o.tracked(request.WorkflowID) {
			continue
		}

		o.logger.InfoContext(ctx, "re-attaching waiter to orphaned workflow",
			"workflow_id", request.WorkflowID, "deadline", deadline)

		taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		o.track(request.WorkflowID, cancel)
		o.wg.Add(1)

		go o.resumeWait(taskCtx, request, state.UserID, deadline)
	}

	return nil
}

func (o *Orchestrator) resumeWait(ctx context.Context, request *models.HumanReviewRequest, userID string, deadline time.Time) {
	defer o.wg.Done()
	defer o.untrack(request.WorkflowID)

	if err := o.waitForReview(ctx, request.WorkflowID, deadline); err != nil {
		switch {
		case errors.Is(err, errWorkflowFinalized):
		case ctx.Err() != nil:
		default:
			o.failAsync(ctx, request.WorkflowID, userID, err)
		}

		return
	}

	// The original turn result died with the crashed task; the request
	// snapshot is the closest surviving record of it.
	data := request.CurrentData
	if inner, ok := request.CurrentData["data"].(map[string]any); ok {
		data = inner
	}

	o.complete(ctx, request.WorkflowID, userID, data)
}

// Shutdown stops the recovery schedule, cancels live background tasks
// and waits for them to exit. Paused workflows survive in the store for
// the next process's recovery sweep.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.cron != nil {
		o.cron.Stop()
	}

	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})

	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
