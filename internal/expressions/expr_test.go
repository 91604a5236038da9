package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `output contains "OK"`, map[string]any{"output": "Build finished OK"})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(ctx, `len(visited)`, map[string]any{"visited": []any{"start", "planner"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)
}

func TestExprEngine_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExprEngine_CompileErrorIsStructured(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), `output contains`, map[string]any{"output": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}

func TestExprEngine_CachesPrograms(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, `1 + 1`, nil)
	require.NoError(t, err)
	require.Len(t, e.cache, 1)

	_, err = e.Evaluate(ctx, `1 + 1`, nil)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestExprEngine_EvaluateBool(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	ok, err := e.EvaluateBool(ctx, `output == "OK"`, map[string]any{"output": "OK"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Non-boolean results are treated as no-match, not as an error.
	ok, err = e.EvaluateBool(ctx, `"a string"`, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
