package pipeline

import (
	"context"
	"reflect"

	"github.com/mvaldr/cascade/internal/expressions"
	"github.com/mvaldr/cascade/pkg/schema"
)

// evaluateCondition reports whether the condition holds against the current
// slush. A nil slush never satisfies a condition. Expr conditions run through
// CEL with the slush and the run's initial input bound; field conditions use
// dotted-path lookup with exists/equals/presence semantics.
func (e *StepExecutor) evaluateCondition(ctx context.Context, cond *schema.Condition, slush schema.Slush, input map[string]any) (bool, error) {
	if cond == nil {
		return false, schema.NewError(schema.ErrCodeConfiguration, "step has no condition")
	}
	if slush == nil {
		return false, nil
	}

	if cond.Expr != "" {
		return e.cel.EvaluateBool(ctx, cond.Expr, map[string]any{
			"slush": map[string]any(slush),
			"input": input,
		})
	}

	value, found := expressions.LookupPath(slush, cond.Field)

	if cond.Exists != nil {
		return found == *cond.Exists, nil
	}
	if cond.Equals != nil {
		return found && equalValues(value, cond.Equals), nil
	}
	return found, nil
}

// equalValues compares two values for strict equality, widening numeric
// types first so that in-process ints match JSON-decoded float64s.
func equalValues(a, b any) bool {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
