package pipeline

import (
	"fmt"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/pkg/schema"
)

// PipelineValidator checks a pipeline spec before any step runs: step ids,
// per-kind required fields, and capability references. It never returns a Go
// error; every independent problem is collected into the ValidationResult.
// A nil resolver disables the capability existence checks.
type PipelineValidator struct {
	resolver capability.Resolver
}

// NewPipelineValidator creates a PipelineValidator over the given resolver.
func NewPipelineValidator(resolver capability.Resolver) *PipelineValidator {
	return &PipelineValidator{resolver: resolver}
}

// Validate runs all checks. Pure and deterministic: repeated calls on an
// unchanged spec return identical issue sets.
func (v *PipelineValidator) Validate(spec *schema.PipelineSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if spec == nil {
		result.AddError("", schema.ErrCodeConfiguration, "pipeline spec is nil")
		return result
	}
	if spec.Name == "" {
		result.AddError("name", schema.ErrCodeConfiguration, "pipeline has no name")
	}
	if len(spec.Steps) == 0 {
		result.AddError("steps", schema.ErrCodeConfiguration, "pipeline has no steps")
		return result
	}

	seen := make(map[string]bool, len(spec.Steps))
	for i := range spec.Steps {
		step := &spec.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if step.ID == "" {
			result.AddError(path, schema.ErrCodeConfiguration, fmt.Sprintf("step at index %d has no id", i))
		} else if seen[step.ID] {
			result.AddError(path, schema.ErrCodeConfiguration, fmt.Sprintf("duplicate step id: %s", step.ID))
		} else {
			seen[step.ID] = true
		}

		v.validateStep(result, path, step)
	}

	return result
}

// validateStep checks the per-kind required fields of one step.
func (v *PipelineValidator) validateStep(result *schema.ValidationResult, path string, step *schema.PipelineStep) {
	switch step.Kind {
	case schema.StepKindAgent, schema.StepKindLoop:
		if step.Capability == "" {
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: capability is required for %s step", step.ID, step.Kind))
		} else {
			v.checkCapability(result, path, step.ID, step.Capability)
		}

	case schema.StepKindParallel:
		if len(step.Capabilities) == 0 {
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: capabilities are required for parallel step", step.ID))
		}
		for _, name := range step.Capabilities {
			v.checkCapability(result, path, step.ID, name)
		}

	case schema.StepKindConditional:
		if step.Condition == nil {
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: condition is required for conditional step", step.ID))
		} else if step.Condition.Field == "" && step.Condition.Expr == "" {
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: condition needs a field or an expr", step.ID))
		}
		if step.Capability == "" {
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: capability is required for conditional step", step.ID))
		} else {
			v.checkCapability(result, path, step.ID, step.Capability)
		}

	case "":
		result.AddError(path, schema.ErrCodeConfiguration,
			fmt.Sprintf("step %s: kind is required", step.ID))

	default:
		result.AddError(path, schema.ErrCodeConfiguration,
			fmt.Sprintf("step %s: unknown kind %q", step.ID, step.Kind))
	}

	if step.OnError != "" {
		switch step.OnError {
		case schema.ErrorPolicyStop, schema.ErrorPolicyContinue, schema.ErrorPolicySkip:
		default:
			result.AddError(path, schema.ErrCodeConfiguration,
				fmt.Sprintf("step %s: unknown onError policy %q", step.ID, step.OnError))
		}
	}

	if step.MaxIterations < 0 {
		result.AddError(path, schema.ErrCodeConfiguration,
			fmt.Sprintf("step %s: maxIterations must not be negative", step.ID))
	}
}

func (v *PipelineValidator) checkCapability(result *schema.ValidationResult, path, stepID, name string) {
	if v.resolver == nil {
		return
	}
	if _, ok := v.resolver(name); !ok {
		result.AddError(path, schema.ErrCodeUnknownCapability,
			fmt.Sprintf("step %s: unknown capability: %s", stepID, name))
	}
}
