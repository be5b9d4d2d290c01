package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/formloop/formloop/pkg/persistence"
)

// ErrReviewTimeout is the exact failure reason recorded on a workflow
// whose review request expired unanswered.
var ErrReviewTimeout = errors.New("human review timeout")

var (
	errStillPending      = errors.New("review still pending")
	errWorkflowFinalized = errors.New("workflow already finalized")
)

// waitForReview polls the review request until it is resolved, the
// deadline passes, or the workflow reaches a terminal state out of band
// (a rejection finalizes the workflow without resolving the request).
func (o *Orchestrator) waitForReview(ctx context.Context, workflowID string, deadline time.Time) error {
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	err := retry.Do(waitCtx, retry.NewConstant(o.cfg.PollInterval), func(ctx context.Context) error {
		request, err := o.reviews.Get(ctx, workflowID)
		if err != nil {
			if persistence.IsReviewRequestNotFound(err) {
				return err
			}

			// Transient store failure; keep polling until the deadline.
			return retry.RetryableError(err)
		}

		if !request.RequiresApproval {
			return nil
		}

		state, err := o.store.WorkflowStates().ByID(ctx, workflowID)
		if err == nil && state.Status.IsTerminal() {
			return errWorkflowFinalized
		}

		return retry.RetryableError(errStillPending)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, errWorkflowFinalized) {
		return errWorkflowFinalized
	}

	// Shutdown cancellation outranks the deadline mapping.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, errStillPending) || errors.Is(err, context.DeadlineExceeded) {
		return ErrReviewTimeout
	}

	return fmt.Errorf("wait for review of workflow %s: %w", workflowID, err)
}
