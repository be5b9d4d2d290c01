package models

import "encoding/json"

// Field formats understood by the collection schema.
const (
	FormatString  = "string"
	FormatNumber  = "number"
	FormatBoolean = "boolean"
	FormatObject  = "object"
	FormatArray   = "array"
)

// FieldSpec describes one field of the collection schema. Object fields
// carry SubFields and are collected one sub-field at a time.
type FieldSpec struct {
	Field      string       `json:"field"               validate:"required"`
	Format     string       `json:"format"              validate:"required,oneof=string number boolean object array"`
	IsRequired bool         `json:"isRequired"`
	SubFields  []*FieldSpec `json:"subFields,omitempty"`
}

// Composite reports whether the field holds structured data. Composite
// fields always draw human review when the feature is enabled.
func (f *FieldSpec) Composite() bool {
	return f.Format == FormatObject || f.Format == FormatArray
}

// StepResult is the outcome of a single turn-engine invocation.
// When Done is false, Question tells the user what to provide next and
// NextField describes the awaited field. Error carries a validation
// message for the previous input, if any.
type StepResult struct {
	Done         bool           `json:"done"`
	Data         map[string]any `json:"data,omitempty"`
	Question     string         `json:"question,omitempty"`
	NextField    *FieldSpec     `json:"next_field,omitempty"`
	Error        string         `json:"error,omitempty"`
	Examples     []string       `json:"examples,omitempty"`
	AISuggestion any            `json:"ai_suggestion,omitempty"`
}

// Snapshot renders the result as a plain map, the form review requests
// persist as the candidate decision.
func (r *StepResult) Snapshot() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{"done": r.Done}
	}

	snapshot := make(map[string]any)
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]any{"done": r.Done}
	}

	return snapshot
}
