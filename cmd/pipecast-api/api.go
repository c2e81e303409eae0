// Package main provides the PipeCast API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/pipecast/pipecast/pkg/eventbus"
	"github.com/pipecast/pipecast/pkg/otelhelper"
	"github.com/pipecast/pipecast/pkg/persistence"
	"github.com/pipecast/pipecast/pkg/pipeline"
	"github.com/pipecast/pipecast/pkg/services"
	"github.com/pipecast/pipecast/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	scheduler   pipeline.Scheduler
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	scheduler pipeline.Scheduler,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		scheduler:   scheduler,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(ctx context.Context) (*fiber.App, error) {
	tracer, err := otelhelper.NewTracer(ctx, "pipecast-api")
	if err != nil {
		return nil, err
	}

	// The API's engine only resolves approvals; stage execution lives in the
	// worker, so the provider registries stay empty here.
	engine := pipeline.NewEngine(pipeline.Deps{
		Logger:      a.logger,
		Persistence: a.persistence,
		EventBus:    a.eventBus,
		Scheduler:   a.scheduler,
		Tracer:      tracer,
		WorkerID:    "api",
	})

	workflowService := services.NewWorkflow(a.persistence, a.eventBus, a.logger)
	approvalService := services.NewApproval(a.persistence, engine, a.logger)
	researchService := services.NewResearch(a.persistence, a.eventBus, a.logger)
	publicationService := services.NewPublication(a.persistence)

	handlers := web.NewAPIHandlers(workflowService, approvalService, researchService, publicationService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("PipeCast API")
	})

	w := app.Group("/workflows")
	w.Post("/", handlers.StartWorkflow)
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/cancel", handlers.CancelWorkflow)
	w.Post("/:id/retry", handlers.RetryWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Get("/:id/publications", handlers.GetWorkflowPublications)
	w.Get("/:id/approval", handlers.GetWorkflowApproval)

	approvals := app.Group("/approvals")
	approvals.Get("/", handlers.GetPendingApprovals)
	approvals.Post("/:id/resolve", handlers.ResolveApproval)

	research := app.Group("/research")
	research.Post("/", handlers.StartResearch)
	research.Get("/:id", handlers.GetResearch)

	app.Get("/health", handlers.HealthCheck)

	return app, nil
}

func (a *API) Start(ctx context.Context, port int) error {
	app, err := a.App(ctx)
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}
