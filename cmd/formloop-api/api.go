// Package main provides the FormLoop API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/formloop/formloop/pkg/engine"
	"github.com/formloop/formloop/pkg/eventbus"
	"github.com/formloop/formloop/pkg/models"
	"github.com/formloop/formloop/pkg/orchestrator"
	"github.com/formloop/formloop/pkg/persistence"
	"github.com/formloop/formloop/pkg/web"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	engine       engine.TurnEngine
	orchestrator *orchestrator.Orchestrator
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	fields []*models.FieldSpec,
	cfg orchestrator.Config,
) *API {
	collector := engine.NewCollector(fields, store.Sessions(), logger)

	return &API{
		logger:       logger,
		persistence:  store,
		engine:       collector,
		orchestrator: orchestrator.New(logger, store, collector, eventBus, cfg),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) WithTracer(tracer trace.Tracer) {
	a.orchestrator.WithTracer(tracer)
}

func (a *API) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.engine, a.validate, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("FormLoop API")
	})

	api := app.Group("/api")
	api.Post("/collect", handlers.Collect)

	hw := api.Group("/human-workflow")
	hw.Post("/execute", handlers.ExecuteWorkflow)
	hw.Post("/execute-async", handlers.ExecuteWorkflowAsync)
	hw.Get("/status/:id", handlers.GetWorkflowStatus)
	hw.Post("/review", handlers.SubmitReview)
	hw.Get("/pending-reviews", handlers.GetPendingReviews)
	hw.Get("/users/:userId/workflows", handlers.GetUserWorkflows)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
