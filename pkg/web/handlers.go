package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		eventBus:    eventBus,
		validator:   validator,
		logger:      logger.With("module", "web"),
	}
}

// IngestEvent publishes an inbound automation event onto the bus. The worker
// picks it up and runs trigger matching; the API itself never touches the
// engine.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.AutomationEvent{
		BaseEvent:      events.NewBaseEvent(events.AutomationEventReceived, req.OwnerID),
		Kind:           events.EventKind(req.Kind),
		ConversationID: req.ConversationID,
		ProfileID:      req.ProfileID,
		Channel:        req.Channel,
		Content:        req.Content,
		Tag:            req.Tag,
		Data:           req.Data,
	}

	if err := h.eventBus.Publish(c.Context(), partitionKey(req.ConversationID, req.ProfileID), event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish automation event", "error", err)

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{EventID: event.ID, Status: "accepted"})
}

// IngestResponse publishes a customer reply for the waiting node their
// conversation is parked on.
func (h *APIHandlers) IngestResponse(c fiber.Ctx) error {
	var req IngestResponseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.UserResponseReceived{
		BaseEvent:      events.NewBaseEvent(events.UserResponseReceivedEvent, req.OwnerID),
		ConversationID: req.ConversationID,
		ProfileID:      req.ProfileID,
		Text:           req.Text,
	}

	if err := h.eventBus.Publish(c.Context(), req.ConversationID, event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish user response", "error", err)

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{EventID: event.ID, Status: "accepted"})
}

// ImportWorkflow validates a workflow document against the import schema and
// the model rules, then saves it.
func (h *APIHandlers) ImportWorkflow(c fiber.Ctx) error {
	raw := c.Body()

	if err := validateWorkflowDocument(raw); err != nil {
		return badRequest(c, err.Error())
	}

	var workflow models.Workflow
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if workflow.ID == "" {
		workflow.ID = "wf-" + uuid.New().String()[:8]
	}

	if err := models.ValidateWorkflow(&workflow); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.WorkflowRepository().Save(c.Context(), &workflow); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Workflow imported",
		"workflow_id", workflow.ID,
		"owner_id", workflow.OwnerID,
		"nodes", len(workflow.Nodes),
	)

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().ByID(c.Context(), id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// partitionKey keeps per-conversation ordering on the bus. Events without a
// conversation fall back to the profile, then to a shared key.
func partitionKey(conversationID, profileID string) string {
	if conversationID != "" {
		return conversationID
	}

	if profileID != "" {
		return profileID
	}

	return "unkeyed"
}
