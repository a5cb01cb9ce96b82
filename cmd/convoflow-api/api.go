// Package main provides the convoflow ingest API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	hub         *broadcast.WebsocketHub
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		hub:         broadcast.NewWebsocketHub(logger),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.eventBus, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Convoflow API")
	})

	v1 := app.Group("/v1")
	v1.Post("/events", handlers.IngestEvent)
	v1.Post("/responses", handlers.IngestResponse)
	v1.Post("/workflows", handlers.ImportWorkflow)
	v1.Get("/workflows/:id", handlers.GetWorkflow)

	app.Get("/ws", adaptor.HTTPHandler(a.hub))
	app.Get("/health", handlers.HealthCheck)

	return app
}

// SubscribeLifecycle forwards execution lifecycle events from the bus to
// connected websocket clients.
func (a *API) SubscribeLifecycle(ctx context.Context) error {
	for _, eventType := range []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionWaitingEvent,
		events.ExecutionResumedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
	} {
		if err := a.eventBus.Handle(eventType, a.forwardLifecycle); err != nil {
			return err
		}
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *API) forwardLifecycle(ctx context.Context, event any) error {
	msg := broadcast.Message{Kind: broadcast.KindExecutionUpdate}

	switch e := event.(type) {
	case *events.ExecutionStarted:
		msg.ConversationID = e.ConversationID
		msg.Payload = map[string]any{"status": "started", "execution_id": e.ExecutionID, "workflow_id": e.WorkflowID}
	case *events.ExecutionWaiting:
		msg.Payload = map[string]any{"status": "waiting", "execution_id": e.ExecutionID, "node_id": e.WaitingNodeID}
	case *events.ExecutionResumed:
		msg.Payload = map[string]any{"status": "resumed", "execution_id": e.ExecutionID, "reason": e.Reason}
	case *events.ExecutionCompleted:
		msg.Payload = map[string]any{"status": "completed", "execution_id": e.ExecutionID, "duration_ms": e.DurationMs}
	case *events.ExecutionFailed:
		msg.Payload = map[string]any{"status": "failed", "execution_id": e.ExecutionID, "error": e.Error}
	default:
		return nil
	}

	return a.hub.Broadcast(ctx, msg)
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
