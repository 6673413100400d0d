package capability

import (
	"context"
	"encoding/json"

	"github.com/mvaldr/cascade/internal/expressions"
	"github.com/mvaldr/cascade/pkg/schema"
)

const exprEvalInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string"},
    "data": {"type": "object"}
  },
  "required": ["expression"]
}`

// ExprEval implements the "expr.eval" capability: deterministic logic over
// the request payload using the Expr language.
type ExprEval struct {
	engine *expressions.ExprEngine
}

// NewExprEval creates an expr.eval capability backed by the given engine.
func NewExprEval(engine *expressions.ExprEngine) *ExprEval {
	if engine == nil {
		engine = expressions.NewExprEngine()
	}
	return &ExprEval{engine: engine}
}

func (e *ExprEval) Name() string { return "expr.eval" }

func (e *ExprEval) Describe() Descriptor {
	return Descriptor{
		Description: "Evaluate an Expr expression against the request payload.",
		InputSchema: json.RawMessage(exprEvalInputSchema),
	}
}

func (e *ExprEval) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := req.Payload
	if params == nil {
		params = map[string]any{}
	}

	expression := stringParam(params, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval: missing required param 'expression'")
	}

	// The expression environment is the "data" param when present,
	// otherwise the whole payload (upstream included).
	env := mapParam(params, "data")
	if env == nil {
		env = params
	}

	out, err := e.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(map[string]any{"value": out})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "expr.eval: failed to marshal output").WithCause(err)
	}
	return &Response{Result: json.RawMessage(data)}, nil
}
