package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/streaming"
	"github.com/mvaldr/cascade/pkg/schema"
)

// Recorder persists finished pipeline runs. Nil disables history.
type Recorder interface {
	RecordPipelineRun(ctx context.Context, result *schema.PipelineResult) error
}

// PipelineRunner drives a full pipeline run: validate, then execute steps
// strictly in declared order, threading the propagated slush and applying
// each step's error policy. Step N+1 never starts before step N's executor
// call has fully returned.
type PipelineRunner struct {
	resolver  capability.Resolver
	validator *PipelineValidator
	executor  *StepExecutor
	hub       streaming.EventHub
	recorder  Recorder
	logger    *slog.Logger
}

// RunnerOption configures a PipelineRunner.
type RunnerOption func(*PipelineRunner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *PipelineRunner) { r.logger = logger }
}

// WithHub publishes run lifecycle events to the given hub.
func WithHub(hub streaming.EventHub) RunnerOption {
	return func(r *PipelineRunner) { r.hub = hub }
}

// WithRecorder persists finished runs to the given recorder.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *PipelineRunner) { r.recorder = rec }
}

// NewPipelineRunner creates a PipelineRunner over the given resolver.
func NewPipelineRunner(resolver capability.Resolver, opts ...RunnerOption) (*PipelineRunner, error) {
	r := &PipelineRunner{
		resolver:  resolver,
		validator: NewPipelineValidator(resolver),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	executor, err := NewStepExecutor(resolver, r.logger)
	if err != nil {
		return nil, err
	}
	r.executor = executor
	return r, nil
}

// Validate checks the spec without running anything.
func (r *PipelineRunner) Validate(spec *schema.PipelineSpec) *schema.ValidationResult {
	return r.validator.Validate(spec)
}

// Run executes the pipeline. It returns a Go error only for pre-flight
// validation failures; every capability failure is reported inside the
// PipelineResult per the failing step's error policy.
func (r *PipelineRunner) Run(ctx context.Context, spec *schema.PipelineSpec, initialInput map[string]any) (*schema.PipelineResult, error) {
	if vr := r.validator.Validate(spec); !vr.Valid() {
		return nil, vr.ToError()
	}

	result := &schema.PipelineResult{
		RunID:  uuid.NewString(),
		Name:   spec.Name,
		Status: schema.PipelineCompleted,
	}

	r.publish(ctx, result.RunID, "", streaming.EventRunStarted, spec.Name)
	r.logger.InfoContext(ctx, "pipeline run started",
		"run_id", result.RunID, "pipeline", spec.Name, "steps", len(spec.Steps))

	var lastSlush schema.Slush
	anyError := false
	start := time.Now()

steps:
	for i := range spec.Steps {
		step := &spec.Steps[i]
		policy := step.OnError
		if policy == "" {
			policy = schema.ErrorPolicyStop
		}

		r.publish(ctx, result.RunID, step.ID, streaming.EventStepStarted, string(step.Kind))

		for _, sr := range r.executor.Execute(ctx, step, initialInput, lastSlush) {
			result.Steps = append(result.Steps, sr)
			result.FinalResult = sr.Result

			switch sr.Status {
			case schema.StatusSuccess:
				// An error step never advances the propagated slush; a
				// success without slush leaves it unchanged too.
				if sr.Slush != nil {
					lastSlush = sr.Slush
				}
				r.publish(ctx, result.RunID, step.ID, streaming.EventStepCompleted, sr.Capability)

			case schema.StatusSkipped:
				r.publish(ctx, result.RunID, step.ID, streaming.EventStepSkipped, sr.Capability)

			case schema.StatusError:
				r.publish(ctx, result.RunID, step.ID, streaming.EventStepFailed, sr.Error)
				switch policy {
				case schema.ErrorPolicyStop:
					result.Status = schema.PipelineFailed
					result.Error = sr.Error
					break steps
				case schema.ErrorPolicyContinue:
					anyError = true
				case schema.ErrorPolicySkip:
					// Best-effort side step: a no-op for propagation and
					// for the run's status.
				}
			}
		}
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()

	if result.Status != schema.PipelineFailed && anyError {
		result.Status = schema.PipelinePartial
	}

	r.publish(ctx, result.RunID, "", streaming.EventRunFinished, string(result.Status))
	r.logger.InfoContext(ctx, "pipeline run finished",
		"run_id", result.RunID, "status", result.Status, "duration_ms", result.TotalDurationMs)

	if r.recorder != nil {
		if err := r.recorder.RecordPipelineRun(ctx, result); err != nil {
			r.logger.WarnContext(ctx, "failed to record pipeline run", "run_id", result.RunID, "error", err)
		}
	}

	return result, nil
}

func (r *PipelineRunner) publish(ctx context.Context, runID, step, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.RunEvent{
		RunID:     runID,
		Node:      step,
		EventType: eventType,
		Payload:   payload,
	})
}
