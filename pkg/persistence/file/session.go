package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

// SessionRepository handles collection-session file operations.
type SessionRepository struct {
	root string
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(root string) *SessionRepository {
	return &SessionRepository{root: root}
}

func (sr *SessionRepository) dir() string {
	return filepath.Join(sr.root, "sessions")
}

func (sr *SessionRepository) path(userID string) string {
	return filepath.Join(sr.dir(), userID+".json")
}

func (sr *SessionRepository) Save(_ context.Context, session *models.UserSession) error {
	if err := os.MkdirAll(sr.dir(), 0o755); err != nil {
		return persistence.NewStoreError("Save", session.UserID, err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return persistence.NewStoreError("Save", session.UserID, err)
	}

	if err := os.WriteFile(sr.path(session.UserID), data, 0o644); err != nil {
		return persistence.NewStoreError("Save", session.UserID, err)
	}

	return nil
}

func (sr *SessionRepository) ByUserID(_ context.Context, userID string) (*models.UserSession, error) {
	data, err := os.ReadFile(sr.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrSessionNotFound
		}

		return nil, persistence.NewStoreError("ByUserID", userID, err)
	}

	var session models.UserSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, persistence.NewStoreError("ByUserID", userID, err)
	}

	return &session, nil
}
