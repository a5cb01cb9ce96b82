package workflow

import (
	"context"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/conditions"
	"github.com/convoflow/convoflow/pkg/models"
)

// NextNodeResolver picks the nodes to traverse after a node finished, based
// on the node's outgoing connections and its last result.
type NextNodeResolver struct {
	evaluator conditions.Evaluator
	logger    *slog.Logger
}

func NewNextNodeResolver(evaluator conditions.Evaluator, logger *slog.Logger) *NextNodeResolver {
	return &NextNodeResolver{
		evaluator: evaluator,
		logger:    logger.With("module", "next_node_resolver"),
	}
}

// Resolve returns the next nodes for a result, in connection definition
// order. An explicit skip outcome follows only skip connections and never
// falls through to failure; timeout connections are never auto-followed,
// timeouts re-enter the graph through the failure outcome of the waiting
// node's own handling.
func (r *NextNodeResolver) Resolve(ctx context.Context, workflow *models.Workflow, node *models.WorkflowNode, result models.NodeResult, execContext map[string]any) []*models.WorkflowNode {
	wanted := r.outcome(node, result)

	next := make([]*models.WorkflowNode, 0)

	for _, conn := range workflow.ConnectionsFrom(node.ID) {
		if conn.Type != wanted {
			continue
		}

		if conn.Condition != "" {
			met, err := r.evaluator.EvaluateExpression(ctx, conn.Condition, execContext)
			if err != nil {
				r.logger.WarnContext(ctx, "connection condition failed, edge not followed",
					"connection_id", conn.ID, "error", err)

				continue
			}
			if !met {
				continue
			}
		}

		target := workflow.NodeByID(conn.TargetID)
		if target == nil {
			r.logger.WarnContext(ctx, "connection targets unknown node",
				"connection_id", conn.ID, "target_id", conn.TargetID)

			continue
		}

		next = append(next, target)
	}

	return next
}

func (r *NextNodeResolver) outcome(node *models.WorkflowNode, result models.NodeResult) models.ConnectionType {
	if result.Skipped() {
		return models.ConnectionSkip
	}

	if node.Type == models.NodeTypeCondition && result.Success {
		if result.ConditionMet() {
			return models.ConnectionSuccess
		}

		return models.ConnectionFailure
	}

	if result.Success {
		return models.ConnectionSuccess
	}

	return models.ConnectionFailure
}
