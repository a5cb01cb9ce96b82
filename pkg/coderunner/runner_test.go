package coderunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MapResult(t *testing.T) {
	r := NewExprRunner()

	result, err := r.Run(context.Background(),
		`{"full_name": context.first_name + " " + context.last_name}`,
		map[string]any{"first_name": "Sara", "last_name": "Ahmadi"},
	)
	require.NoError(t, err)
	assert.Equal(t, "Sara Ahmadi", result["full_name"])
}

func TestRun_ScalarResultWrapped(t *testing.T) {
	r := NewExprRunner()

	result, err := r.Run(context.Background(), `context.count * 2`, map[string]any{"count": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, result["value"])
}

func TestRun_EmptyCode(t *testing.T) {
	r := NewExprRunner()

	result, err := r.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRun_CompileError(t *testing.T) {
	r := NewExprRunner()

	_, err := r.Run(context.Background(), `context.`, nil)
	assert.ErrorContains(t, err, "does not compile")
}

func TestRun_CannotReachOutsideContext(t *testing.T) {
	r := NewExprRunner()

	// Unknown identifiers resolve to nil instead of leaking process state.
	result, err := r.Run(context.Background(), `{"env": os_environ}`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, result["env"])
}
