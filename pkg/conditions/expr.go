package conditions

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/convoflow/convoflow/pkg/models"
)

// ExprEvaluator implements Evaluator on expr-lang/expr. Compiled programs
// are cached and reused across goroutines.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

func (e *ExprEvaluator) Evaluate(ctx context.Context, group *models.ConditionGroup, data map[string]any) (bool, error) {
	if group == nil || len(group.Clauses) == 0 {
		return true, nil
	}

	for _, clause := range group.Clauses {
		met, err := e.EvaluateExpression(ctx, clause, data)
		if err != nil {
			return false, err
		}

		switch group.Operator {
		case models.OperatorOr:
			if met {
				return true, nil
			}
		default: // and
			if !met {
				return false, nil
			}
		}
	}

	return group.Operator != models.OperatorOr, nil
}

func (e *ExprEvaluator) EvaluateExpression(_ context.Context, expression string, data map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("condition %q failed: %w", expression, err)
	}

	return toBool(out), nil
}

func (e *ExprEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("condition %q does not compile: %w", expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}

// toBool maps non-boolean expression results onto truthiness so conditions
// like "tags" (non-empty list) behave intuitively.
func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return true
	}
}

var _ Evaluator = (*ExprEvaluator)(nil)
