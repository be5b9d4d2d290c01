package models

import "time"

// ChatMessage is one entry of a user's conversation history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SubFieldFrame tracks progress through the sub-fields of an object
// field: Parent names the top-level field, Index the next sub-field.
type SubFieldFrame struct {
	Parent string `json:"parent"`
	Index  int    `json:"index"`
}

// UserSession is the turn engine's durable per-user collection state.
// Only the turn engine mutates it; the orchestrator treats it as opaque.
type UserSession struct {
	UserID     string          `json:"user_id"`
	Collected  map[string]any  `json:"collected"`
	FieldIndex int             `json:"field_index"`
	SubFields  []SubFieldFrame `json:"sub_fields,omitempty"`
	History    []ChatMessage   `json:"history,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewUserSession returns an empty session for userID.
func NewUserSession(userID string) *UserSession {
	return &UserSession{
		UserID:    userID,
		Collected: make(map[string]any),
	}
}

// Append records one conversation message.
func (s *UserSession) Append(role, content string) {
	s.History = append(s.History, ChatMessage{Role: role, Content: content, Timestamp: time.Now().UTC()})
}
