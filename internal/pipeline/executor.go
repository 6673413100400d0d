package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/expressions"
	"github.com/mvaldr/cascade/pkg/schema"
)

// StepExecutor runs a single pipeline step and normalizes every outcome into
// StepResults. Capability errors and panics become error results; Execute
// never returns a Go error. Parallel and loop steps yield multiple results
// sharing the step's id.
type StepExecutor struct {
	resolver capability.Resolver
	cel      *expressions.CELEngine
	logger   *slog.Logger
}

// NewStepExecutor creates a StepExecutor over the given resolver.
func NewStepExecutor(resolver capability.Resolver, logger *slog.Logger) (*StepExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &StepExecutor{resolver: resolver, cel: cel, logger: logger}, nil
}

// Execute runs one step against the current slush. The returned results are
// in invocation order; the caller threads slush and applies the step's error
// policy per result.
func (e *StepExecutor) Execute(ctx context.Context, step *schema.PipelineStep, initialInput map[string]any, lastSlush schema.Slush) []schema.StepResult {
	switch step.Kind {
	case schema.StepKindAgent:
		return []schema.StepResult{e.executeAgent(ctx, step, step.Capability, initialInput, lastSlush)}
	case schema.StepKindParallel:
		return e.executeParallel(ctx, step, initialInput, lastSlush)
	case schema.StepKindConditional:
		return []schema.StepResult{e.executeConditional(ctx, step, initialInput, lastSlush)}
	case schema.StepKindLoop:
		return e.executeLoop(ctx, step, initialInput, lastSlush)
	default:
		return []schema.StepResult{{
			StepID: step.ID,
			Status: schema.StatusError,
			Error: schema.NewErrorf(schema.ErrCodeConfiguration,
				"unknown step kind %q", step.Kind).Error(),
		}}
	}
}

// executeAgent runs a single capability invocation. The payload is a shallow
// merge of the run's initial input, the step's static input, and the last
// propagated slush under "upstream".
func (e *StepExecutor) executeAgent(ctx context.Context, step *schema.PipelineStep, capName string, initialInput map[string]any, lastSlush schema.Slush) schema.StepResult {
	result := schema.StepResult{
		StepID:     step.ID,
		Capability: capName,
	}

	impl, ok := e.resolver(capName)
	if !ok {
		result.Status = schema.StatusError
		result.Error = schema.NewErrorf(schema.ErrCodeUnknownCapability,
			"unknown capability %q", capName).WithNode(step.ID).Error()
		return result
	}

	payload := make(map[string]any)
	for k, v := range initialInput {
		payload[k] = v
	}
	for k, v := range step.StaticInput {
		payload[k] = v
	}
	if lastSlush != nil {
		payload["upstream"] = map[string]any(lastSlush)
	}

	start := time.Now()
	resp, err := e.invoke(ctx, impl, payload)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		e.logger.WarnContext(ctx, "step invocation failed",
			"step", step.ID, "capability", capName, "error", err)
		result.Status = schema.StatusError
		result.Error = err.Error()
		return result
	}

	obj, err := capability.ResultObject(resp)
	if err != nil {
		result.Status = schema.StatusError
		result.Error = err.Error()
		return result
	}

	result.Status = schema.StatusSuccess
	if resp != nil {
		result.Result = resp.Result
	}
	result.Slush = capability.ExtractSlush(obj)
	return result
}

// executeParallel fans out to every named capability concurrently, each
// receiving the same upstream slush. All members are launched before any is
// awaited; results come back in declared capability order.
func (e *StepExecutor) executeParallel(ctx context.Context, step *schema.PipelineStep, initialInput map[string]any, lastSlush schema.Slush) []schema.StepResult {
	results := make([]schema.StepResult, len(step.Capabilities))

	var wg sync.WaitGroup
	for i, capName := range step.Capabilities {
		wg.Add(1)
		go func(i int, capName string) {
			defer wg.Done()
			results[i] = e.executeAgent(ctx, step, capName, initialInput, lastSlush)
		}(i, capName)
	}
	wg.Wait()

	return results
}

// executeConditional evaluates the step's condition against the current
// slush. False yields a skipped result with no invocation and no slush
// change; true behaves like an agent step.
func (e *StepExecutor) executeConditional(ctx context.Context, step *schema.PipelineStep, initialInput map[string]any, lastSlush schema.Slush) schema.StepResult {
	met, err := e.evaluateCondition(ctx, step.Condition, lastSlush, initialInput)
	if err != nil {
		return schema.StepResult{
			StepID:     step.ID,
			Capability: step.Capability,
			Status:     schema.StatusError,
			Error:      err.Error(),
		}
	}
	if !met {
		return schema.StepResult{
			StepID:     step.ID,
			Capability: step.Capability,
			Status:     schema.StatusSkipped,
		}
	}
	return e.executeAgent(ctx, step, step.Capability, initialInput, lastSlush)
}

// executeLoop repeats an agent invocation up to maxIterations times,
// threading each iteration's slush into the next iteration's upstream. If an
// exit condition is set it is checked after every iteration against that
// iteration's slush. An error iteration ends the loop.
func (e *StepExecutor) executeLoop(ctx context.Context, step *schema.PipelineStep, initialInput map[string]any, lastSlush schema.Slush) []schema.StepResult {
	maxIterations := step.MaxIterations
	if maxIterations <= 0 {
		maxIterations = schema.DefaultMaxIterations
	}

	results := make([]schema.StepResult, 0, maxIterations)
	current := lastSlush

	for i := 0; i < maxIterations; i++ {
		result := e.executeAgent(ctx, step, step.Capability, initialInput, current)
		results = append(results, result)

		if result.Status == schema.StatusError {
			break
		}
		if result.Slush != nil {
			current = result.Slush
		}

		if step.Condition != nil {
			met, err := e.evaluateCondition(ctx, step.Condition, current, initialInput)
			if err != nil {
				results = append(results, schema.StepResult{
					StepID:     step.ID,
					Capability: step.Capability,
					Status:     schema.StatusError,
					Error:      err.Error(),
				})
				break
			}
			if met {
				break
			}
		}
	}

	return results
}

// invoke runs the capability, recovering panics into errors.
func (e *StepExecutor) invoke(ctx context.Context, impl capability.Capability, payload map[string]any) (resp *capability.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = schema.NewErrorf(schema.ErrCodeCapability, "capability panicked: %v", r)
		}
	}()
	return impl.Invoke(ctx, capability.Request{Payload: payload})
}
