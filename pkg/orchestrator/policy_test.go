package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/formloop/formloop/pkg/models"
)

func TestShouldRequestReview(t *testing.T) {
	tests := []struct {
		name        string
		result      *models.StepResult
		reviewSteps []string
		want        bool
	}{
		{
			name: "nil result",
			want: false,
		},
		{
			name:   "error indicator",
			result: &models.StepResult{Error: "validation failed"},
			want:   true,
		},
		{
			name: "field listed in review steps",
			result: &models.StepResult{
				NextField: &models.FieldSpec{Field: "salary", Format: models.FormatNumber},
			},
			reviewSteps: []string{"salary", "address"},
			want:        true,
		},
		{
			name: "composite field",
			result: &models.StepResult{
				NextField: &models.FieldSpec{Field: "address", Format: models.FormatObject},
			},
			want: true,
		},
		{
			name: "array field",
			result: &models.StepResult{
				NextField: &models.FieldSpec{Field: "dependents", Format: models.FormatArray},
			},
			want: true,
		},
		{
			name: "plain scalar field",
			result: &models.StepResult{
				NextField: &models.FieldSpec{Field: "name", Format: models.FormatString},
			},
			reviewSteps: []string{"salary"},
			want:        false,
		},
		{
			name:   "done result without next field",
			result: &models.StepResult{Done: true, Data: map[string]any{"name": "Ada"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRequestReview(tt.result, tt.reviewSteps))
		})
	}
}
