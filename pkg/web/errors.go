package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/formloop/formloop/pkg/orchestrator"
	"github.com/formloop/formloop/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

func storeUnavailable(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType("storage_unavailable").
		WithDetail("storage backend unavailable, retry later")

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

// handleOrchestratorError provides typed error handling for orchestrator
// and persistence errors.
func handleOrchestratorError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownReviewAction):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsReviewRequestNotFound(err):
		return notFound(c, "review request not found")

	case persistence.IsStoreFailure(err):
		return storeUnavailable(c)

	default:
		return internalError(c, err)
	}
}
