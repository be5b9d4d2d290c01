// Package engine defines the turn engine contract and a deterministic
// schema-driven implementation of it.
//
// A turn engine is a pure step function over its own opaque session
// state: given a user and an optional message it advances the data
// collection by at most one question or one completion. It never touches
// workflow state or review requests.
package engine

import (
	"context"

	"github.com/formloop/formloop/pkg/models"
)

// TurnEngine advances one turn of data collection for a user.
type TurnEngine interface {
	Advance(ctx context.Context, userID, message string) (*models.StepResult, error)
}
