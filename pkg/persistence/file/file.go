// Package file provides file-based persistence for workflow states,
// review requests and collection sessions. Each record is one JSON file
// under the root directory; intended for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/formloop/formloop/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root         string
	workflowRepo *WorkflowStateRepository
	reviewRepo   *ReviewRequestRepository
	sessionRepo  *SessionRepository
}

// NewPersistence creates a file-backed persistence rooted at root.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowStateRepository(cleanRoot),
		reviewRepo:   NewReviewRequestRepository(cleanRoot),
		sessionRepo:  NewSessionRepository(cleanRoot),
	}
}

func (fp *Persistence) WorkflowStates() persistence.WorkflowStateRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ReviewRequests() persistence.ReviewRequestRepository {
	return fp.reviewRepo
}

func (fp *Persistence) Sessions() persistence.SessionRepository {
	return fp.sessionRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
