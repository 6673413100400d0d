package capability

import (
	"context"
	"encoding/json"

	"github.com/mvaldr/cascade/internal/expressions"
	"github.com/mvaldr/cascade/pkg/schema"
)

const jqInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string"},
    "data": {"type": "object"}
  },
  "required": ["expression"]
}`

// JQ implements the "jq" capability: JSON reshaping of the request payload
// (typically upstream slush) with a jq expression.
type JQ struct {
	engine *expressions.GoJQEngine
}

// NewJQ creates a jq capability backed by the given engine.
func NewJQ(engine *expressions.GoJQEngine) *JQ {
	if engine == nil {
		engine = expressions.NewGoJQEngine()
	}
	return &JQ{engine: engine}
}

func (j *JQ) Name() string { return "jq" }

func (j *JQ) Describe() Descriptor {
	return Descriptor{
		Description: "Transform the request payload with a jq expression.",
		InputSchema: json.RawMessage(jqInputSchema),
	}
}

func (j *JQ) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := req.Payload
	if params == nil {
		params = map[string]any{}
	}

	expression := stringParam(params, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq: missing required param 'expression'")
	}

	input := mapParam(params, "data")
	if input == nil {
		input = params
	}

	out, err := j.engine.Evaluate(ctx, expression, input)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(map[string]any{"value": out})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "jq: failed to marshal output").WithCause(err)
	}
	return &Response{Result: json.RawMessage(data)}, nil
}
