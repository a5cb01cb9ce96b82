package workflow

import (
	"context"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/conditions"
	"github.com/convoflow/convoflow/pkg/models"
)

// NodeExecutor dispatches a single node to the component that handles its
// type. A panic inside any node is caught here and reported as a node
// failure so the surrounding chain walk keeps going.
type NodeExecutor struct {
	evaluator conditions.Evaluator
	actions   *ActionDispatcher
	waiting   *WaitingController
	msg       *messenger
	logger    *slog.Logger
}

func NewNodeExecutor(
	evaluator conditions.Evaluator,
	actions *ActionDispatcher,
	waiting *WaitingController,
	msg *messenger,
	logger *slog.Logger,
) *NodeExecutor {
	return &NodeExecutor{
		evaluator: evaluator,
		actions:   actions,
		waiting:   waiting,
		msg:       msg,
		logger:    logger.With("module", "node_executor"),
	}
}

func (x *NodeExecutor) Execute(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) (result models.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.ErrorContext(ctx, "node execution panicked",
				"execution_id", execution.ID, "node_id", node.ID, "panic", r)
			result = failure(node.ID, "node %s panicked: %v", node.ID, r)
		}
	}()

	switch node.Type {
	case models.NodeTypeWhen:
		// Trigger checks already ran; when-nodes are pass-through.
		return models.NodeResult{NodeID: node.ID, Success: true}
	case models.NodeTypeCondition:
		return x.condition(ctx, node, execContext)
	case models.NodeTypeAction:
		return x.action(ctx, execution, node, execContext)
	case models.NodeTypeWaiting:
		return x.waiting.Enter(ctx, execution, node, execContext)
	default:
		return failure(node.ID, "unknown node type %q", node.Type)
	}
}

func (x *NodeExecutor) condition(ctx context.Context, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	met, err := x.evaluator.Evaluate(ctx, node.Condition, execContext)
	if err != nil {
		return failure(node.ID, "condition: %v", err)
	}

	return models.NodeResult{
		NodeID:  node.ID,
		Success: true,
		Data: map[string]any{
			models.DataKeyConditionMet: met,
		},
	}
}

func (x *NodeExecutor) action(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, execContext map[string]any) models.NodeResult {
	result := x.actions.Execute(ctx, execution, node, execContext)

	// Mirror a message side-effect out to the channel: answered markers,
	// gateway delivery and the live UI broadcast all happen here.
	if content, ok := result.Data[models.DataKeyMessageSent].(string); ok && result.Success {
		if err := x.msg.deliver(ctx, execution, content); err != nil {
			x.logger.ErrorContext(ctx, "message delivery failed",
				"execution_id", execution.ID, "node_id", node.ID, "error", err)

			return failure(node.ID, "deliver message: %v", err)
		}
	}

	return result
}
