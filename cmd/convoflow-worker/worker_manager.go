package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/coderunner"
	"github.com/convoflow/convoflow/pkg/conditions"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/workflow"
)

// WorkerManager consumes automation events from the bus and drives the
// workflow engine. Delay and timeout callbacks run on an in-process timer
// scheduler; the minute tick for scheduled triggers is published back onto
// the bus so exactly one worker in the consumer group picks it up.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	sched       *scheduler.TimerScheduler
	ticker      *scheduler.CronTicker
}

func NewWorkerManager(
	id string,
	p persistence.Persistence,
	flags kv.Store,
	eventBus eventbus.EventBus,
	gw gateway.Gateway,
	logger *slog.Logger,
) *WorkerManager {
	w := &WorkerManager{
		id:          id,
		logger:      logger.With("module", "convoflow-worker", "worker_id", id),
		persistence: p,
		eventBus:    eventBus,
	}

	w.sched = scheduler.NewTimerScheduler(w.handleTask, logger)

	w.engine = workflow.NewEngine(workflow.Dependencies{
		Persistence: p,
		Flags:       flags,
		Scheduler:   w.sched,
		Gateway:     gw,
		Hub:         broadcast.NewMemoryHub(),
		Evaluator:   conditions.NewExprEvaluator(),
		Runner:      coderunner.NewExprRunner(),
		Publisher:   eventBus,
		Logger:      logger,
		Config:      workflow.DefaultConfig(),
	})

	return w
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.eventBus.Handle(events.AutomationEventReceived, w.handleAutomationEvent); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.UserResponseReceivedEvent, w.handleUserResponse); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	ticker, err := scheduler.NewCronTicker(w.publishScheduleTick, w.logger)
	if err != nil {
		return err
	}

	w.ticker = ticker
	w.ticker.Start(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	w.ticker.Stop(ctx)
	w.sched.Stop()

	return nil
}

// handleAutomationEvent routes one inbound fact. A message for a
// conversation parked on a waiting node is that node's response; everything
// else is a trigger candidate for the active workflows.
func (w *WorkerManager) handleAutomationEvent(ctx context.Context, event any) error {
	automationEvent, ok := event.(*events.AutomationEvent)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for AutomationEvent")

		return nil
	}

	logger := w.logger.With(
		"event_id", automationEvent.ID,
		"kind", string(automationEvent.Kind),
		"conversation_id", automationEvent.ConversationID,
	)
	logger.InfoContext(ctx, "Processing automation event")

	if automationEvent.Kind == events.KindMessageReceived && automationEvent.ConversationID != "" {
		isResponse, err := w.parkedOnWaitingNode(ctx, automationEvent.ConversationID)
		if err != nil {
			return err
		}

		if isResponse {
			return w.engine.ProcessResponse(ctx, automationEvent.ConversationID, automationEvent.Content)
		}
	}

	return w.engine.HandleEvent(ctx, automationEvent)
}

// parkedOnWaitingNode reports whether the conversation's latest waiting
// execution is parked on a waiting node. Delay actions park too, but their
// executions do not consume inbound messages: those stay trigger candidates.
func (w *WorkerManager) parkedOnWaitingNode(ctx context.Context, conversationID string) (bool, error) {
	waiting, err := w.persistence.ExecutionRepository().LatestWaiting(ctx, conversationID)
	if err != nil {
		return false, err
	}

	if waiting == nil || waiting.WaitingNodeID() == "" {
		return false, nil
	}

	workflow, err := w.persistence.WorkflowRepository().ByID(ctx, waiting.WorkflowID)
	if err != nil {
		return false, err
	}

	node := workflow.NodeByID(waiting.WaitingNodeID())

	return node != nil && node.Type == models.NodeTypeWaiting, nil
}

func (w *WorkerManager) handleUserResponse(ctx context.Context, event any) error {
	responseEvent, ok := event.(*events.UserResponseReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for UserResponseReceived")

		return nil
	}

	w.logger.InfoContext(ctx, "Processing user response",
		"event_id", responseEvent.ID,
		"conversation_id", responseEvent.ConversationID,
	)

	return w.engine.ProcessResponse(ctx, responseEvent.ConversationID, responseEvent.Text)
}

func (w *WorkerManager) handleTask(ctx context.Context, task scheduler.Task) {
	if err := w.engine.HandleTask(ctx, task); err != nil {
		w.logger.ErrorContext(ctx, "Scheduled task failed",
			"kind", string(task.Kind),
			"execution_id", task.ExecutionID,
			"node_id", task.NodeID,
			"error", err,
		)
	}
}

func (w *WorkerManager) publishScheduleTick(ctx context.Context, now time.Time) {
	event := events.AutomationEvent{
		BaseEvent: events.NewBaseEvent(events.AutomationEventReceived, ""),
		Kind:      events.KindScheduleTick,
	}
	event.Timestamp = now
	event.WorkerID = w.id

	if err := w.eventBus.Publish(ctx, "schedule-tick", event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish schedule tick", "error", err)
	}
}
