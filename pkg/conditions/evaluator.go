// Package conditions evaluates condition groups and connection guard
// expressions against the execution context.
package conditions

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
)

// Evaluator is the boolean evaluation capability injected into the engine.
type Evaluator interface {
	// Evaluate combines the group's clauses with its and/or operator.
	Evaluate(ctx context.Context, group *models.ConditionGroup, data map[string]any) (bool, error)
	// EvaluateExpression evaluates a single guard expression.
	EvaluateExpression(ctx context.Context, expression string, data map[string]any) (bool, error)
}
