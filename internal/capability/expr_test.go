package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/pkg/schema"
)

func valueOf(t *testing.T, resp *Response) any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out["value"]
}

// --- expr.eval ---

func TestExprEval_Basic(t *testing.T) {
	c := NewExprEval(nil)

	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"expression": "a + b",
		"data":       map[string]any{"a": 2, "b": 3},
	}})
	require.NoError(t, err)
	assert.Equal(t, float64(5), valueOf(t, resp))
}

func TestExprEval_PayloadAsEnvironment(t *testing.T) {
	c := NewExprEval(nil)

	// Without "data", the whole payload is the environment, so the
	// upstream map is directly addressable.
	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"expression": `upstream.collector.count > 1`,
		"upstream": map[string]any{
			"collector": map[string]any{"count": 3},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, true, valueOf(t, resp))
}

func TestExprEval_MissingExpression(t *testing.T) {
	c := NewExprEval(nil)

	_, err := c.Invoke(context.Background(), Request{Payload: map[string]any{}})
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestExprEval_CompileError(t *testing.T) {
	c := NewExprEval(nil)

	_, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"expression": "1 +++ 2",
	}})
	require.Error(t, err)
}

// --- jq ---

func TestJQ_Transform(t *testing.T) {
	c := NewJQ(nil)

	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"expression": `{total: (.items | length)}`,
		"data": map[string]any{
			"items": []any{1.0, 2.0, 3.0},
		},
	}})
	require.NoError(t, err)

	out, ok := valueOf(t, resp).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), out["total"])
}

func TestJQ_PayloadAsInput(t *testing.T) {
	c := NewJQ(nil)

	resp, err := c.Invoke(context.Background(), Request{Payload: map[string]any{
		"expression": `.upstream.collector.city`,
		"upstream": map[string]any{
			"collector": map[string]any{"city": "osaka"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, "osaka", valueOf(t, resp))
}

func TestJQ_MissingExpression(t *testing.T) {
	c := NewJQ(nil)

	_, err := c.Invoke(context.Background(), Request{Payload: nil})
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}
