package orchestrator

import (
	"slices"

	"github.com/formloop/formloop/pkg/models"
)

// ShouldRequestReview decides whether a turn result needs a human
// decision before the workflow proceeds. It is a pure predicate over the
// result and the configured review steps; the enable flag is checked by
// the caller.
//
// A review is required when the result carries an error indicator, when
// the upcoming field is explicitly listed in reviewSteps, or when the
// upcoming field is a composite (object or array) value.
func ShouldRequestReview(result *models.StepResult, reviewSteps []string) bool {
	if result == nil {
		return false
	}

	if result.Error != "" {
		return true
	}

	if result.NextField == nil {
		return false
	}

	if slices.Contains(reviewSteps, result.NextField.Field) {
		return true
	}

	return result.NextField.Composite()
}
