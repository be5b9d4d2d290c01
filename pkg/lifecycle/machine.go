package lifecycle

import (
	"github.com/qmuntal/stateless"

	"github.com/formloop/formloop/pkg/models"
)

type trigger string

const (
	triggerRun      trigger = "run"
	triggerPause    trigger = "pause"
	triggerComplete trigger = "complete"
	triggerFail     trigger = "fail"
	triggerCancel   trigger = "cancel"
)

// newMachine builds the transition table anchored at the record's
// current status. Terminal states permit nothing.
//
//	pending          -> running | failed | cancelled
//	running          -> paused_for_human | completed | failed | cancelled
//	paused_for_human -> running | failed | cancelled
func newMachine(current models.WorkflowStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(current)

	sm.Configure(models.WorkflowStatusPending).
		Permit(triggerRun, models.WorkflowStatusRunning).
		Permit(triggerFail, models.WorkflowStatusFailed).
		Permit(triggerCancel, models.WorkflowStatusCancelled)

	sm.Configure(models.WorkflowStatusRunning).
		Permit(triggerPause, models.WorkflowStatusPausedForHuman).
		Permit(triggerComplete, models.WorkflowStatusCompleted).
		Permit(triggerFail, models.WorkflowStatusFailed).
		Permit(triggerCancel, models.WorkflowStatusCancelled)

	sm.Configure(models.WorkflowStatusPausedForHuman).
		Permit(triggerRun, models.WorkflowStatusRunning).
		Permit(triggerFail, models.WorkflowStatusFailed).
		Permit(triggerCancel, models.WorkflowStatusCancelled)

	return sm
}
