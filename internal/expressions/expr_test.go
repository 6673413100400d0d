package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

// --- Basic evaluation ---

func TestExpr_Literals(t *testing.T) {
	e := NewExprEngine()

	t.Run("integer", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "42", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, 42, out)
	})

	t.Run("string", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `"hello"`, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("boolean", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "true", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"a": 10, "b": 3}

	t.Run("addition", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a + b", data)
		require.NoError(t, err)
		assert.Equal(t, 13, out)
	})

	t.Run("modulo", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a % b", data)
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})
}

// --- Slush access ---

func TestExpr_SlushAccess(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"slush": map[string]any{
			"findings": []any{
				map[string]any{"severity": "high"},
				map[string]any{"severity": "low"},
				map[string]any{"severity": "high"},
			},
		},
	}

	t.Run("filter and count", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(),
			`count(slush.findings, .severity == "high")`, data)
		require.NoError(t, err)
		assert.Equal(t, 2, out)
	})

	t.Run("any", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(),
			`any(slush.findings, .severity == "high")`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

// --- Nil coalescing and optional chaining ---

func TestExpr_NilSafety(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"slush": map[string]any{},
	}

	t.Run("nil coalescing", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `slush.missing ?? "default"`, data)
		require.NoError(t, err)
		assert.Equal(t, "default", out)
	})

	t.Run("optional chaining", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `slush.report?.summary ?? "none"`, data)
		require.NoError(t, err)
		assert.Equal(t, "none", out)
	})
}

// --- Undefined variables ---

func TestExpr_UndefinedVariable(t *testing.T) {
	e := NewExprEngine()

	// AllowUndefinedVariables makes undefined identifiers resolve to nil.
	out, err := e.Evaluate(context.Background(), `undefined_var == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Error handling ---

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `1 +++ 2`, map[string]any{})
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
	assert.Contains(t, cErr.Message, "compile")
}

func TestExpr_NilData(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

// --- Program caching and thread safety ---

func TestExpr_ProgramCaching(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"x": 1}

	_, err := e.Evaluate(context.Background(), "x + 1", data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cacheLen)

	_, err = e.Evaluate(context.Background(), "x + 1", data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen2 := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cacheLen2)
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "val * 2", map[string]any{"val": idx})
			assert.NoError(t, err)
			assert.Equal(t, idx*2, out)
		}(i)
	}
	wg.Wait()
}
