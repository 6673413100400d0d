package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/streaming"
	"github.com/mvaldr/cascade/pkg/schema"
)

// Recorder persists finished graph runs. Nil disables history.
type Recorder interface {
	RecordGraphRun(ctx context.Context, result *schema.GraphResult) error
}

// GraphRunner drives a full graph run: validate, plan, then execute level by
// level. All runnable nodes in a level are launched before any is awaited,
// and the level completes only when every launched invocation has settled.
type GraphRunner struct {
	resolver  capability.Resolver
	validator *GraphValidator
	planner   *LevelPlanner
	executor  *NodeExecutor
	hub       streaming.EventHub
	recorder  Recorder
	logger    *slog.Logger
}

// RunnerOption configures a GraphRunner.
type RunnerOption func(*GraphRunner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *GraphRunner) { r.logger = logger }
}

// WithHub publishes run lifecycle events to the given hub.
func WithHub(hub streaming.EventHub) RunnerOption {
	return func(r *GraphRunner) { r.hub = hub }
}

// WithRecorder persists finished runs to the given recorder.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *GraphRunner) { r.recorder = rec }
}

// NewGraphRunner creates a GraphRunner over the given resolver.
func NewGraphRunner(resolver capability.Resolver, opts ...RunnerOption) *GraphRunner {
	r := &GraphRunner{
		resolver:  resolver,
		validator: NewGraphValidator(),
		planner:   NewLevelPlanner(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.executor = NewNodeExecutor(resolver, r.logger)
	return r
}

// Validate checks the spec without running anything.
func (r *GraphRunner) Validate(spec *schema.GraphSpec) *schema.ValidationResult {
	return r.validator.Validate(spec)
}

// settled pairs a node name with its result for the fan-in channel.
type settled struct {
	name   string
	result *schema.NodeResult
}

// Run executes the graph. It returns a Go error only for pre-flight problems
// (validation failure, bad timeout); every capability failure is reported
// inside the GraphResult.
func (r *GraphRunner) Run(ctx context.Context, spec *schema.GraphSpec, initialInput map[string]any) (*schema.GraphResult, error) {
	if vr := r.validator.Validate(spec); !vr.Valid() {
		return nil, vr.ToError()
	}

	levels, err := r.planner.Plan(spec)
	if err != nil {
		return nil, err
	}

	var nodeTimeout time.Duration
	if spec.NodeTimeout != "" {
		d, err := time.ParseDuration(spec.NodeTimeout)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"invalid node_timeout %q: %v", spec.NodeTimeout, err)
		}
		nodeTimeout = d
	}

	nodesByName := make(map[string]*schema.GraphNode, len(spec.Nodes))
	for i := range spec.Nodes {
		nodesByName[spec.Nodes[i].Name] = &spec.Nodes[i]
	}

	result := &schema.GraphResult{
		RunID:  uuid.NewString(),
		Name:   spec.Name,
		Status: schema.GraphSuccess,
		Nodes:  make(map[string]*schema.NodeResult, len(spec.Nodes)),
	}

	r.publish(ctx, result.RunID, "", streaming.EventRunStarted, spec.Name)
	r.logger.InfoContext(ctx, "graph run started",
		"run_id", result.RunID, "graph", spec.Name, "nodes", len(spec.Nodes), "levels", len(levels))

	skipper := NewSkipPropagator(spec)
	slushes := make(map[string]schema.Slush, len(spec.Nodes))
	toSkip := make(map[string]bool)
	stopped := false
	start := time.Now()

	for _, level := range levels {
		if stopped {
			for _, name := range level {
				r.recordSkip(ctx, result, nodesByName[name])
			}
			continue
		}

		runnable := make([]string, 0, len(level))
		for _, name := range level {
			if toSkip[name] {
				r.recordSkip(ctx, result, nodesByName[name])
				for _, dep := range skipper.Transitive(name) {
					toSkip[dep] = true
				}
			} else {
				runnable = append(runnable, name)
			}
		}

		// Snapshot the slush map for this level: nodes in the same level
		// never depend on each other, and the goroutines must not observe
		// writes from sibling settles.
		snapshot := make(map[string]schema.Slush, len(slushes))
		for k, v := range slushes {
			snapshot[k] = v
		}

		// Launch every runnable node before awaiting any of them.
		ch := make(chan settled, len(runnable))
		for _, name := range runnable {
			node := nodesByName[name]
			r.publish(ctx, result.RunID, name, streaming.EventNodeStarted, node.Capability)
			go func(node *schema.GraphNode) {
				ch <- settled{
					name:   node.Name,
					result: r.executor.Execute(ctx, node, initialInput, snapshot, nodeTimeout),
				}
			}(node)
		}

		// The level is complete only when all launched invocations settle.
		for range runnable {
			s := <-ch
			result.Nodes[s.name] = s.result
			result.ExecutionOrder = append(result.ExecutionOrder, s.name)

			switch s.result.Status {
			case schema.StatusSuccess:
				slushes[s.name] = s.result.Slush
				r.publish(ctx, result.RunID, s.name, streaming.EventNodeCompleted, nil)
			case schema.StatusError:
				r.publish(ctx, result.RunID, s.name, streaming.EventNodeFailed, s.result.Error)
				if spec.StopOnError {
					if !stopped {
						stopped = true
						result.Error = s.result.Error
					}
				} else {
					for _, dep := range skipper.Transitive(s.name) {
						toSkip[dep] = true
					}
				}
			}
		}
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()

	if stopped {
		result.Status = schema.GraphError
	} else {
		anyBad := false
		for _, nr := range result.Nodes {
			if nr.Status != schema.StatusSuccess {
				anyBad = true
				break
			}
		}
		if anyBad {
			result.Status = schema.GraphPartial
		}
	}

	r.publish(ctx, result.RunID, "", streaming.EventRunFinished, string(result.Status))
	r.logger.InfoContext(ctx, "graph run finished",
		"run_id", result.RunID, "status", result.Status, "duration_ms", result.TotalDurationMs)

	if r.recorder != nil {
		if err := r.recorder.RecordGraphRun(ctx, result); err != nil {
			r.logger.WarnContext(ctx, "failed to record graph run", "run_id", result.RunID, "error", err)
		}
	}

	return result, nil
}

// recordSkip records a skipped node: zero duration, nil slush, still part of
// the execution order.
func (r *GraphRunner) recordSkip(ctx context.Context, result *schema.GraphResult, node *schema.GraphNode) {
	result.Nodes[node.Name] = &schema.NodeResult{
		Name:       node.Name,
		Capability: node.Capability,
		Status:     schema.StatusSkipped,
	}
	result.ExecutionOrder = append(result.ExecutionOrder, node.Name)
	r.publish(ctx, result.RunID, node.Name, streaming.EventNodeSkipped, nil)
}

func (r *GraphRunner) publish(ctx context.Context, runID, node, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.RunEvent{
		RunID:     runID,
		Node:      node,
		EventType: eventType,
		Payload:   payload,
	})
}
