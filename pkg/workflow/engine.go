package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/convoflow/convoflow/pkg/broadcast"
	"github.com/convoflow/convoflow/pkg/coderunner"
	"github.com/convoflow/convoflow/pkg/conditions"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/scheduler"
)

// Publisher emits execution lifecycle events. The event bus satisfies it;
// tests usually pass nil and get a no-op.
type Publisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

// Dependencies carries everything the engine needs at construction time.
type Dependencies struct {
	Persistence persistence.Persistence
	Flags       kv.Store
	Scheduler   scheduler.Scheduler
	Gateway     gateway.Gateway
	Hub         broadcast.Hub
	Evaluator   conditions.Evaluator
	Runner      coderunner.Runner
	Publisher   Publisher
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Config      Config
}

// Engine is the top-level orchestrator: it starts executions for inbound
// events, walks the node chain breadth-first, manages execution status
// transitions and re-enters suspended executions on responses, elapsed
// delays and timeouts.
type Engine struct {
	workflows     persistence.WorkflowRepository
	executions    persistence.ExecutionRepository
	conversations persistence.ConversationRepository
	flags         kv.Store

	matcher  *TriggerMatcher
	executor *NodeExecutor
	resolver *NextNodeResolver
	waiting  *WaitingController

	publisher Publisher
	logger    *slog.Logger
	cfg       Config
}

func NewEngine(deps Dependencies) *Engine {
	cfg := deps.Config.withDefaults()
	logger := deps.Logger

	msg := &messenger{
		conversations: deps.Persistence.ConversationRepository(),
		profiles:      deps.Persistence.ProfileRepository(),
		gateway:       deps.Gateway,
		hub:           deps.Hub,
		logger:        logger.With("module", "messenger"),
	}

	resolver := NewNextNodeResolver(deps.Evaluator, logger)

	actions := NewActionDispatcher(
		deps.Persistence.ConversationRepository(),
		deps.Persistence.ProfileRepository(),
		deps.Flags,
		deps.Scheduler,
		deps.Runner,
		deps.Hub,
		deps.HTTPClient,
		logger,
		cfg,
	)

	waiting := NewWaitingController(deps.Persistence, deps.Flags, deps.Scheduler, resolver, msg, logger, cfg)

	publisher := deps.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}

	engine := &Engine{
		workflows:     deps.Persistence.WorkflowRepository(),
		executions:    deps.Persistence.ExecutionRepository(),
		conversations: deps.Persistence.ConversationRepository(),
		flags:         deps.Flags,
		matcher:       NewTriggerMatcher(deps.Persistence.ProfileRepository(), logger, cfg),
		executor:      NewNodeExecutor(deps.Evaluator, actions, waiting, msg, logger),
		resolver:      resolver,
		waiting:       waiting,
		publisher:     publisher,
		logger:        logger.With("module", "engine"),
		cfg:           cfg,
	}

	waiting.SetChainRunner(engine)

	return engine
}

// HandleEvent triggers every active workflow that matches the event. A
// failure for one workflow is logged and does not stop the others.
func (e *Engine) HandleEvent(ctx context.Context, event *events.AutomationEvent) error {
	var (
		workflows []*models.Workflow
		err       error
	)

	if event.OwnerID != "" {
		workflows, err = e.workflows.ActiveByOwner(ctx, event.OwnerID)
	} else {
		workflows, err = e.workflows.Active(ctx)
	}
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}

	for _, workflow := range workflows {
		if _, err := e.Trigger(ctx, workflow, event); err != nil {
			e.logger.ErrorContext(ctx, "workflow trigger failed",
				"workflow_id", workflow.ID, "event_kind", string(event.Kind), "error", err)
		}
	}

	return nil
}

// Trigger starts (or refuses to start) one execution of a workflow for an
// event. It returns nil when no when-node matches, the existing execution
// when a waiting one already covers the conversation, and a FAILED
// execution on an ownership violation.
func (e *Engine) Trigger(ctx context.Context, workflow *models.Workflow, event *events.AutomationEvent) (*models.Execution, error) {
	execContext := buildContext(event)

	if event.ConversationID != "" {
		conversation, err := e.conversations.ByID(ctx, event.ConversationID)
		if err != nil && !persistence.IsNotFound(err) {
			return nil, err
		}

		if conversation != nil && conversation.OwnerID != workflow.OwnerID {
			return e.failOwnership(ctx, workflow, event, conversation.OwnerID)
		}

		existing, err := e.executions.Waiting(ctx, workflow.ID, event.ConversationID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			e.logger.DebugContext(ctx, "waiting execution already exists, reusing",
				"workflow_id", workflow.ID, "execution_id", existing.ID)

			return existing, nil
		}
	}

	startNodes := make([]*models.WorkflowNode, 0)

	for _, node := range workflow.WhenNodes() {
		matched, err := e.matcher.Matches(ctx, node, event, execContext)
		if err != nil {
			e.logger.WarnContext(ctx, "trigger check failed",
				"workflow_id", workflow.ID, "node_id", node.ID, "error", err)

			continue
		}
		if matched {
			startNodes = append(startNodes, node)
		}
	}

	if len(startNodes) == 0 {
		return nil, nil
	}

	execution := &models.Execution{
		WorkflowID:     workflow.ID,
		OwnerID:        workflow.OwnerID,
		ConversationID: event.ConversationID,
		ProfileID:      event.ProfileID,
		Status:         models.ExecutionRunning,
		TriggerData:    models.CloneContext(execContext),
		Context:        execContext,
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	e.publish(ctx, execution.ConversationID, events.ExecutionStarted{
		BaseEvent:      events.NewBaseEvent(events.ExecutionStartedEvent, workflow.OwnerID),
		ExecutionID:    execution.ID,
		WorkflowID:     workflow.ID,
		ConversationID: execution.ConversationID,
	})

	if err := e.runChain(ctx, workflow, execution, startNodes, execContext); err != nil {
		return execution, err
	}

	return execution, nil
}

// ContinueChain re-enters a resumed execution at the given nodes and runs
// the chain walk to its next suspension point or to completion.
func (e *Engine) ContinueChain(ctx context.Context, workflow *models.Workflow, execution *models.Execution, startNodes []*models.WorkflowNode, execContext map[string]any, reason string) error {
	nodeID := ""
	if len(startNodes) > 0 {
		nodeID = startNodes[0].ID
	}

	e.publish(ctx, execution.ConversationID, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, execution.OwnerID),
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		NodeID:      nodeID,
		Reason:      reason,
	})

	return e.runChain(ctx, workflow, execution, startNodes, execContext)
}

// HandleTask re-enters an execution for a fired scheduler callback. Tasks
// are delivered at least once; stale and duplicate firings are ignored.
func (e *Engine) HandleTask(ctx context.Context, task scheduler.Task) error {
	execution, err := e.executions.ByID(ctx, task.ExecutionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			e.logger.DebugContext(ctx, "task for unknown execution", "execution_id", task.ExecutionID)

			return nil
		}

		return err
	}

	workflow, err := e.workflows.ByID(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	node := workflow.NodeByID(task.NodeID)
	if node == nil {
		e.logger.WarnContext(ctx, "task for unknown node",
			"execution_id", execution.ID, "node_id", task.NodeID)

		return nil
	}

	switch task.Kind {
	case scheduler.TaskResumeDelay:
		return e.resumeDelay(ctx, workflow, execution, node)
	case scheduler.TaskWaitingTimeout:
		if node.Type != models.NodeTypeWaiting {
			return nil
		}

		return e.waiting.HandleTimeout(ctx, workflow, execution, node)
	default:
		e.logger.WarnContext(ctx, "unknown task kind", "kind", string(task.Kind))

		return nil
	}
}

// ProcessResponse routes an inbound reply to the waiting node its
// conversation is parked on. The most recently created waiting execution
// wins; replies without one are ignored.
func (e *Engine) ProcessResponse(ctx context.Context, conversationID, text string) error {
	execution, err := e.executions.LatestWaiting(ctx, conversationID)
	if err != nil {
		return err
	}
	if execution == nil {
		e.logger.DebugContext(ctx, "response with no waiting execution",
			"conversation_id", conversationID)

		return nil
	}

	workflow, err := e.workflows.ByID(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	node := workflow.NodeByID(execution.WaitingNodeID())
	if node == nil || node.Type != models.NodeTypeWaiting {
		e.logger.WarnContext(ctx, "waiting execution parked on unknown node",
			"execution_id", execution.ID, "node_id", execution.WaitingNodeID())

		return nil
	}

	return e.waiting.ProcessResponse(ctx, workflow, execution, node, text)
}

type chainItem struct {
	node        *models.WorkflowNode
	execContext map[string]any
}

// runChain is one breadth-first walk over the node graph. A node runs at
// most once per walk; a waiting outcome parks the execution and stops the
// walk entirely; a failed node logs and lets sibling branches continue.
func (e *Engine) runChain(ctx context.Context, workflow *models.Workflow, execution *models.Execution, startNodes []*models.WorkflowNode, execContext map[string]any) error {
	queue := make([]chainItem, 0, len(startNodes))
	for _, node := range startNodes {
		queue = append(queue, chainItem{node: node, execContext: execContext})
	}

	visited := make(map[string]bool)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if visited[item.node.ID] {
			continue
		}
		visited[item.node.ID] = true

		result := e.executor.Execute(ctx, execution, item.node, item.execContext)

		for key, value := range result.Data {
			item.execContext[key] = value
		}

		if result.WaitingForResponse {
			return e.park(ctx, workflow, execution, item.node, item.execContext)
		}

		if !result.Success {
			e.logger.WarnContext(ctx, "node failed",
				"execution_id", execution.ID, "node_id", item.node.ID, "error", result.Error)
		}

		next := e.resolver.Resolve(ctx, workflow, item.node, result, item.execContext)
		for i, target := range next {
			branchContext := item.execContext
			if i > 0 {
				branchContext = models.CloneContext(item.execContext)
			}

			queue = append(queue, chainItem{node: target, execContext: branchContext})
		}
	}

	return e.finish(ctx, workflow, execution, execContext)
}

// park suspends the execution on a waiting node or a delay until an
// external callback re-enters the engine.
func (e *Engine) park(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) error {
	execution.Context = execContext
	execution.SetWaitingNode(node.ID)
	execution.Status = models.ExecutionWaiting

	if err := e.executions.Update(ctx, execution); err != nil {
		return fmt.Errorf("park execution: %w", err)
	}

	e.publish(ctx, execution.ConversationID, events.ExecutionWaiting{
		BaseEvent:     events.NewBaseEvent(events.ExecutionWaitingEvent, execution.OwnerID),
		ExecutionID:   execution.ID,
		WorkflowID:    workflow.ID,
		WaitingNodeID: node.ID,
	})

	e.logger.InfoContext(ctx, "execution parked",
		"execution_id", execution.ID, "node_id", node.ID)

	return nil
}

// finish marks an exhausted chain walk completed and hands the conversation
// back to the AI responder.
func (e *Engine) finish(ctx context.Context, workflow *models.Workflow, execution *models.Execution, execContext map[string]any) error {
	if execution.Status != models.ExecutionRunning {
		return nil
	}

	now := time.Now().UTC()
	execution.Context = execContext
	execution.Status = models.ExecutionCompleted
	execution.FinishedAt = &now

	if err := e.executions.Update(ctx, execution); err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}

	if execution.ConversationID != "" {
		if err := e.flags.Set(ctx, aiControlKey(execution.ConversationID), aiEnabled, e.cfg.AIStateTTL); err != nil {
			e.logger.WarnContext(ctx, "failed to re-enable ai responder",
				"conversation_id", execution.ConversationID, "error", err)
		}
	}

	e.publish(ctx, execution.ConversationID, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.OwnerID),
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		DurationMs:  now.Sub(execution.CreatedAt).Milliseconds(),
	})

	e.logger.InfoContext(ctx, "execution completed", "execution_id", execution.ID)

	return nil
}

// failOwnership records a cross-tenant trigger attempt as a FAILED
// execution. Never retried.
func (e *Engine) failOwnership(ctx context.Context, workflow *models.Workflow, event *events.AutomationEvent, conversationOwner string) (*models.Execution, error) {
	now := time.Now().UTC()

	execution := &models.Execution{
		WorkflowID:     workflow.ID,
		OwnerID:        workflow.OwnerID,
		ConversationID: event.ConversationID,
		ProfileID:      event.ProfileID,
		Status:         models.ExecutionFailed,
		Error: fmt.Sprintf("ownership violation: conversation owned by %s, workflow owned by %s",
			conversationOwner, workflow.OwnerID),
		FinishedAt: &now,
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("record ownership violation: %w", err)
	}

	e.publish(ctx, execution.ConversationID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, workflow.OwnerID),
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Error:       execution.Error,
	})

	e.logger.WarnContext(ctx, "ownership violation",
		"workflow_id", workflow.ID, "conversation_id", event.ConversationID)

	return execution, nil
}

// resumeDelay continues a chain walk whose delay action elapsed. The first
// firing wins the done marker; later duplicates return without effect.
func (e *Engine) resumeDelay(ctx context.Context, workflow *models.Workflow, execution *models.Execution, node *models.WorkflowNode) error {
	if execution.Status != models.ExecutionWaiting || execution.WaitingNodeID() != node.ID {
		return nil
	}

	won, err := e.flags.TryAcquire(ctx, delayDoneKey(execution.ID, node.ID), e.cfg.DoneTTL)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	execution.Context = models.CloneContext(execution.Context)
	execution.ClearWaitingNode()
	execution.Status = models.ExecutionRunning

	if err := e.executions.Update(ctx, execution); err != nil {
		return err
	}

	result := models.NodeResult{NodeID: node.ID, Success: true}
	next := e.resolver.Resolve(ctx, workflow, node, result, execution.Context)

	return e.ContinueChain(ctx, workflow, execution, next, execution.Context, "delay_elapsed")
}

func (e *Engine) publish(ctx context.Context, key string, event events.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"event_type", string(event.GetType()), "error", err)
	}
}

// buildContext seeds the execution context from the triggering event.
func buildContext(event *events.AutomationEvent) map[string]any {
	execContext := make(map[string]any, len(event.Data)+5)

	for key, value := range event.Data {
		execContext[key] = value
	}

	if event.Channel != "" {
		execContext[ContextKeyChannel] = event.Channel
	}
	if event.Content != "" {
		execContext["content"] = event.Content
	}
	if event.Tag != "" {
		execContext["tag"] = event.Tag
	}
	if event.ProfileID != "" {
		execContext["profile_id"] = event.ProfileID
	}
	if event.ConversationID != "" {
		execContext["conversation_id"] = event.ConversationID
	}

	return execContext
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, events.Event) error { return nil }
