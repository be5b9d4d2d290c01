// Package redis provides Redis-backed persistence for workflow states,
// review requests and collection sessions. Records are JSON strings with
// per-user and pending-review index sets for queryability.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/persistence"
)

const (
	workflowKeyPrefix = "formloop:workflow:"
	userIndexPrefix   = "formloop:user:"
	reviewKeyPrefix   = "formloop:review:"
	pendingIndexKey   = "formloop:reviews:pending"
	sessionKeyPrefix  = "formloop:session:"
)

// Persistence implements persistence.Persistence on a Redis server.
type Persistence struct {
	client redis.UniversalClient
}

// NewPersistence connects using a redis:// URL.
func NewPersistence(databaseURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, persistence.NewStoreError("Connect", "", err)
	}

	return &Persistence{client: redis.NewClient(opts)}, nil
}

// NewPersistenceWithClient wraps an existing client, used by tests.
func NewPersistenceWithClient(client redis.UniversalClient) *Persistence {
	return &Persistence{client: client}
}

func (rp *Persistence) WorkflowStates() persistence.WorkflowStateRepository {
	return &workflowStateRepository{client: rp.client}
}

func (rp *Persistence) ReviewRequests() persistence.ReviewRequestRepository {
	return &reviewRequestRepository{client: rp.client}
}

func (rp *Persistence) Sessions() persistence.SessionRepository {
	return &sessionRepository{client: rp.client}
}

func (rp *Persistence) HealthCheck(ctx context.Context) error {
	if err := rp.client.Ping(ctx).Err(); err != nil {
		return persistence.NewStoreError("HealthCheck", "", err)
	}

	return nil
}

func (rp *Persistence) Close(_ context.Context) error {
	return rp.client.Close()
}

type workflowStateRepository struct {
	client redis.UniversalClient
}

func (wr *workflowStateRepository) Save(ctx context.Context, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return persistence.NewStoreError("Save", state.WorkflowID, err)
	}

	pipe := wr.client.TxPipeline()
	pipe.Set(ctx, workflowKeyPrefix+state.WorkflowID, data, 0)
	pipe.SAdd(ctx, userIndexPrefix+state.UserID+":workflows", state.WorkflowID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewStoreError("Save", state.WorkflowID, err)
	}

	return nil
}

func (wr *workflowStateRepository) ByID(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	data, err := wr.client.Get(ctx, workflowKeyPrefix+workflowID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("ByID", workflowID, err)
	}

	var state models.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, persistence.NewStoreError("ByID", workflowID, err)
	}

	return &state, nil
}

func (wr *workflowStateRepository) ListByUser(ctx context.Context, userID string) ([]*models.WorkflowState, error) {
	ids, err := wr.client.SMembers(ctx, userIndexPrefix+userID+":workflows").Result()
	if err != nil {
		return nil, persistence.NewStoreError("ListByUser", userID, err)
	}

	states := make([]*models.WorkflowState, 0, len(ids))

	for _, id := range ids {
		state, err := wr.ByID(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].WorkflowID < states[j].WorkflowID
		}

		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})

	return states, nil
}

type reviewRequestRepository struct {
	client redis.UniversalClient
}

func (rr *reviewRequestRepository) Save(ctx context.Context, request *models.HumanReviewRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return persistence.NewStoreError("Save", request.WorkflowID, err)
	}

	pipe := rr.client.TxPipeline()
	pipe.Set(ctx, reviewKeyPrefix+request.WorkflowID, data, 0)

	if request.RequiresApproval {
		pipe.SAdd(ctx, pendingIndexKey, request.WorkflowID)
	} else {
		pipe.SRem(ctx, pendingIndexKey, request.WorkflowID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewStoreError("Save", request.WorkflowID, err)
	}

	return nil
}

func (rr *reviewRequestRepository) ByWorkflowID(ctx context.Context, workflowID string) (*models.HumanReviewRequest, error) {
	data, err := rr.client.Get(ctx, reviewKeyPrefix+workflowID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.ErrReviewRequestNotFound
		}

		return nil, persistence.NewStoreError("ByWorkflowID", workflowID, err)
	}

	var request models.HumanReviewRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, persistence.NewStoreError("ByWorkflowID", workflowID, err)
	}

	return &request, nil
}

func (rr *reviewRequestRepository) ListPending(ctx context.Context) ([]*models.HumanReviewRequest, error) {
	ids, err := rr.client.SMembers(ctx, pendingIndexKey).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ListPending", "", err)
	}

	pending := make([]*models.HumanReviewRequest, 0, len(ids))

	for _, id := range ids {
		request, err := rr.ByWorkflowID(ctx, id)
		if err != nil {
			if persistence.IsReviewRequestNotFound(err) {
				continue
			}

			return nil, err
		}

		// The index can lag behind a concurrent resolve; trust the record.
		if request.RequiresApproval {
			pending = append(pending, request)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].WorkflowID < pending[j].WorkflowID
		}

		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	return pending, nil
}

type sessionRepository struct {
	client redis.UniversalClient
}

func (sr *sessionRepository) Save(ctx context.Context, session *models.UserSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return persistence.NewStoreError("Save", session.UserID, err)
	}

	if err := sr.client.Set(ctx, sessionKeyPrefix+session.UserID, data, 0).Err(); err != nil {
		return persistence.NewStoreError("Save", session.UserID, err)
	}

	return nil
}

func (sr *sessionRepository) ByUserID(ctx context.Context, userID string) (*models.UserSession, error) {
	data, err := sr.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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
