package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

var greetings = map[string]struct{}{
	"hi":             {},
	"hello":          {},
	"hey":            {},
	"greetings":      {},
	"good morning":   {},
	"good afternoon": {},
	"good evening":   {},
}

// Collector walks an ordered field schema one question at a time,
// descending into object fields sub-field by sub-field. Collected values
// and conversation history live in the user's session.
type Collector struct {
	fields   []*models.FieldSpec
	sessions persistence.SessionRepository
	logger   *slog.Logger
}

// NewCollector creates a collector over the given schema.
func NewCollector(fields []*models.FieldSpec, sessions persistence.SessionRepository, logger *slog.Logger) *Collector {
	return &Collector{
		fields:   fields,
		sessions: sessions,
		logger:   logger.With("module", "collector"),
	}
}

// Advance runs one collection turn for userID.
func (c *Collector) Advance(ctx context.Context, userID, message string) (*models.StepResult, error) {
	session, err := c.sessions.ByUserID(ctx, userID)
	if err != nil {
		if !persistence.IsSessionNotFound(err) {
			return nil, err
		}

		session = models.NewUserSession(userID)
	}

	if message != "" && isGreeting(message) {
		session.Append("user", message)
		session.Append("assistant", "Hello! Let's get started.")

		if err := c.sessions.Save(ctx, session); err != nil {
			return nil, err
		}

		return &models.StepResult{Done: false, Question: "Hello! Let's get started."}, nil
	}

	if message != "" {
		field, parent := c.nextField(session)
		if field == nil {
			return &models.StepResult{
				Done:  true,
				Data:  session.Collected,
				Error: "all fields are already collected",
			}, nil
		}

		value, examples, coerceErr := coerce(field, message)
		if coerceErr != nil {
			question := generateQuestion(field, parent)
			combined := coerceErr.Error() + " " + question

			session.Append("user", message)
			session.Append("assistant", combined)

			if err := c.sessions.Save(ctx, session); err != nil {
				return nil, err
			}

			return &models.StepResult{
				Done:      false,
				NextField: field,
				Question:  combined,
				Error:     coerceErr.Error(),
				Examples:  examples,
			}, nil
		}

		c.record(session, field, parent, value)
		session.Append("user", message)
		session.Append("assistant", fmt.Sprintf("%v", value))

		if err := c.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
	}

	if c.complete(session) {
		return &models.StepResult{Done: true, Data: session.Collected}, nil
	}

	field, parent := c.nextField(session)
	question := generateQuestion(field, parent)

	session.Append("assistant", question)

	if err := c.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	return &models.StepResult{Done: false, NextField: field, Question: question}, nil
}

// nextField returns the awaited field and, for sub-fields, the parent
// field name. It normalizes the session cursor on the way: exhausted
// sub-field frames are popped and the parent marked collected.
func (c *Collector) nextField(session *models.UserSession) (*models.FieldSpec, string) {
	for len(session.SubFields) > 0 {
		frame := &session.SubFields[len(session.SubFields)-1]

		parent := c.topLevelField(frame.Parent)
		if parent == nil || frame.Index >= len(parent.SubFields) {
			session.SubFields = session.SubFields[:len(session.SubFields)-1]
			session.FieldIndex++

			continue
		}

		return parent.SubFields[frame.Index], frame.Parent
	}

	for session.FieldIndex < len(c.fields) {
		field := c.fields[session.FieldIndex]
		if len(field.SubFields) > 0 {
			session.SubFields = append(session.SubFields, models.SubFieldFrame{Parent: field.Field})

			return c.nextField(session)
		}

		return field, ""
	}

	return nil, ""
}

func (c *Collector) topLevelField(name string) *models.FieldSpec {
	for _, field := range c.fields {
		if field.Field == name {
			return field
		}
	}

	return nil
}

func (c *Collector) record(session *models.UserSession, field *models.FieldSpec, parent string, value any) {
	if parent != "" {
		nested, ok := session.Collected[parent].(map[string]any)
		if !ok {
			nested = make(map[string]any)
		}

		nested[field.Field] = value
		session.Collected[parent] = nested
		session.SubFields[len(session.SubFields)-1].Index++

		return
	}

	session.Collected[field.Field] = value
	session.FieldIndex++
}

func (c *Collector) complete(session *models.UserSession) bool {
	// Normalize any exhausted frames before deciding.
	if field, _ := c.nextField(session); field != nil {
		return false
	}

	return session.FieldIndex >= len(c.fields) && len(session.SubFields) == 0
}

func isGreeting(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, "!.?,")

	_, ok := greetings[normalized]

	return ok
}

func generateQuestion(field *models.FieldSpec, parent string) string {
	if parent != "" {
		return fmt.Sprintf("What is the %s for your %s?", field.Field, parent)
	}

	return fmt.Sprintf("What is your %s?", field.Field)
}

// coerce turns free-text input into a typed value for the field. The
// returned examples accompany validation errors.
func coerce(field *models.FieldSpec, input string) (any, []string, error) {
	trimmed := strings.TrimSpace(input)

	switch field.Format {
	case models.FormatString:
		if trimmed == "" {
			return nil, nil, fmt.Errorf("Please provide a value for %s.", field.Field)
		}

		return trimmed, nil, nil

	case models.FormatNumber:
		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, []string{"42", "3.14"}, fmt.Errorf("%q doesn't look like a number.", trimmed)
		}

		return value, nil, nil

	case models.FormatBoolean:
		switch strings.ToLower(trimmed) {
		case "yes", "y":
			return true, nil, nil
		case "no", "n":
			return false, nil, nil
		}

		value, err := strconv.ParseBool(trimmed)
		if err != nil {
			return nil, []string{"yes", "no"}, fmt.Errorf("%q doesn't look like a yes or no.", trimmed)
		}

		return value, nil, nil

	case models.FormatArray:
		parts := strings.Split(trimmed, ",")

		values := make([]any, 0, len(parts))
		for _, part := range parts {
			if item := strings.TrimSpace(part); item != "" {
				values = append(values, item)
			}
		}

		if len(values) == 0 {
			return nil, []string{"red, green, blue"}, fmt.Errorf("Please provide a comma-separated list for %s.", field.Field)
		}

		return values, nil, nil

	case models.FormatObject:
		// Object fields with sub-fields are collected one sub-field at a
		// time and never reach coercion; a bare object field takes JSON.
		value := make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
			return nil, []string{`{"key": "value"}`}, fmt.Errorf("Please provide a JSON object for %s.", field.Field)
		}

		return value, nil, nil

	default:
		return nil, nil, errors.New("unsupported field format: " + field.Format)
	}
}
