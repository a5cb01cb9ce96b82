// Package coderunner executes user-supplied custom code for custom_code
// action nodes. Code runs as an expr-lang expression over a read-only
// `context` binding: a pure data transform with no I/O, no imports and no
// access to anything outside the execution context.
package coderunner

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Runner executes a code string and returns its result map.
type Runner interface {
	Run(ctx context.Context, code string, executionContext map[string]any) (map[string]any, error)
}

// ExprRunner implements Runner on expr-lang/expr. The expression sees the
// execution context as `context`; a map result is returned as-is, any other
// result is wrapped under "value".
type ExprRunner struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprRunner() *ExprRunner {
	return &ExprRunner{
		cache: make(map[string]*vm.Program),
	}
}

func (r *ExprRunner) Run(_ context.Context, code string, executionContext map[string]any) (map[string]any, error) {
	if code == "" {
		return map[string]any{}, nil
	}

	prg, err := r.getOrCompile(code)
	if err != nil {
		return nil, err
	}

	if executionContext == nil {
		executionContext = map[string]any{}
	}

	out, err := vm.Run(prg, map[string]any{"context": executionContext})
	if err != nil {
		return nil, fmt.Errorf("custom code failed: %w", err)
	}

	if result, ok := out.(map[string]any); ok {
		return result, nil
	}

	return map[string]any{"value": out}, nil
}

func (r *ExprRunner) getOrCompile(code string) (*vm.Program, error) {
	r.mu.RLock()
	if prg, ok := r.cache[code]; ok {
		r.mu.RUnlock()

		return prg, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prg, ok := r.cache[code]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("custom code does not compile: %w", err)
	}

	r.cache[code] = prg

	return prg, nil
}

var _ Runner = (*ExprRunner)(nil)
