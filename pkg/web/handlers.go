package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/formloop/formloop/pkg/engine"
	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/orchestrator"
	"github.com/formloop/formloop/pkg/persistence"
)

type APIHandlers struct {
	orchestrator *orchestrator.Orchestrator
	engine       engine.TurnEngine
	validator    *validator.Validate
	persistence  persistence.Persistence
}

func NewAPIHandlers(
	orch *orchestrator.Orchestrator,
	turnEngine engine.TurnEngine,
	validator *validator.Validate,
	persistence persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		orchestrator: orch,
		engine:       turnEngine,
		validator:    validator,
		persistence:  persistence,
	}
}

// Collect runs one conversational turn outside workflow tracking. The
// turn result carries any re-ask or completion signal; Go errors here
// mean the backend misbehaved.
func (h *APIHandlers) Collect(c fiber.Ctx) error {
	var req CollectRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Advance(c.Context(), req.UserID, req.Message)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	req, err := h.parseExecuteRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.orchestrator.ExecuteSync(c.Context(), *req)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ExecuteWorkflowAsync(c fiber.Ctx) error {
	req, err := h.parseExecuteRequest(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	accepted, err := h.orchestrator.ExecuteAsync(c.Context(), *req)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(accepted)
}

func (h *APIHandlers) parseExecuteRequest(c fiber.Ctx) (*orchestrator.ExecuteRequest, error) {
	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, err
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &orchestrator.ExecuteRequest{
		UserID:            req.UserID,
		UserInput:         req.UserInput,
		EnableHumanReview: req.EnableHumanReview,
		HumanReviewSteps:  req.HumanReviewSteps,
		ReviewerID:        req.ReviewerID,
	}, nil
}

func (h *APIHandlers) GetWorkflowStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	state, err := h.orchestrator.WorkflowStatus(c.Context(), id)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(state)
}

// SubmitReview applies a reviewer decision. Unknown actions are rejected
// at the decoding boundary before the orchestrator sees them.
func (h *APIHandlers) SubmitReview(c fiber.Ctx) error {
	var response models.HumanReviewResponse
	if err := c.Bind().JSON(&response); err != nil {
		return badRequest(c, "Invalid review response: "+err.Error())
	}

	if err := h.validator.Struct(response); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.orchestrator.ProcessReview(c.Context(), &response)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) GetPendingReviews(c fiber.Ctx) error {
	reviewerID := c.Query("reviewer_id")

	pending, err := h.orchestrator.PendingReviews(c.Context(), reviewerID)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(fiber.Map{
		"pending_reviews": pending,
		"count":           len(pending),
	})
}

func (h *APIHandlers) GetUserWorkflows(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	workflows, err := h.orchestrator.UserWorkflows(c.Context(), userID)
	if err != nil {
		return handleOrchestratorError(c, err)
	}

	return c.JSON(fiber.Map{
		"user_id":   userID,
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "FormLoop API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "FormLoop API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
