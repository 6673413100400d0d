// Package engine wires the capability registry, the graph and pipeline
// runners, the document validator, and the history store into one facade.
// Callers hand it raw spec documents or parsed specs and get results back.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/graph"
	"github.com/mvaldr/cascade/internal/history"
	"github.com/mvaldr/cascade/internal/pipeline"
	"github.com/mvaldr/cascade/internal/secrets"
	"github.com/mvaldr/cascade/internal/streaming"
	"github.com/mvaldr/cascade/internal/validation"
	"github.com/mvaldr/cascade/pkg/schema"
)

// Config bundles everything the engine needs. Store and Hub are optional;
// without a store runs are not recorded and the memory capability is not
// registered.
type Config struct {
	Store  history.Store
	Hub    streaming.EventHub
	Vault  secrets.Vault
	Logger *slog.Logger

	Shell capability.ShellConfig
	HTTP  capability.HTTPConfig
	MCP   *capability.MCPConfig
}

// Engine is the top-level entry point for validating and executing graph
// and pipeline specs. Safe for concurrent use.
type Engine struct {
	registry  *capability.Registry
	graphs    *graph.GraphRunner
	pipelines *pipeline.PipelineRunner
	docs      *validation.DocumentValidator
	store     history.Store
	hub       streaming.EventHub
	vault     secrets.Vault
	logger    *slog.Logger
}

// New builds an Engine with the builtin capabilities registered.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := capability.NewRegistry()
	builtins := capability.BuiltinConfig{
		Shell: cfg.Shell,
		HTTP:  cfg.HTTP,
		MCP:   cfg.MCP,
	}
	if cfg.Store != nil {
		builtins.Memory = cfg.Store
	}
	if err := capability.RegisterBuiltins(registry, builtins); err != nil {
		return nil, err
	}

	docs, err := validation.NewDocumentValidator()
	if err != nil {
		return nil, err
	}

	graphOpts := []graph.RunnerOption{graph.WithLogger(logger)}
	pipelineOpts := []pipeline.RunnerOption{pipeline.WithLogger(logger)}
	if cfg.Hub != nil {
		graphOpts = append(graphOpts, graph.WithHub(cfg.Hub))
		pipelineOpts = append(pipelineOpts, pipeline.WithHub(cfg.Hub))
	}
	if cfg.Store != nil {
		graphOpts = append(graphOpts, graph.WithRecorder(cfg.Store))
		pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(cfg.Store))
	}

	graphs := graph.NewGraphRunner(registry.Resolve, graphOpts...)
	pipelines, err := pipeline.NewPipelineRunner(registry.Resolve, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry:  registry,
		graphs:    graphs,
		pipelines: pipelines,
		docs:      docs,
		store:     cfg.Store,
		hub:       cfg.Hub,
		vault:     cfg.Vault,
		logger:    logger,
	}, nil
}

// Registry returns the capability registry so callers can add their own
// capabilities before running specs.
func (e *Engine) Registry() *capability.Registry {
	return e.registry
}

// Store returns the history store, or nil when the engine runs without one.
func (e *Engine) Store() history.Store {
	return e.store
}

// Hub returns the event hub, or nil when streaming is disabled.
func (e *Engine) Hub() streaming.EventHub {
	return e.hub
}

// RunGraph executes a parsed graph spec. Secret placeholders in static
// inputs and the initial input are resolved first when a vault is present.
func (e *Engine) RunGraph(ctx context.Context, spec *schema.GraphSpec, input map[string]any) (*schema.GraphResult, error) {
	spec, input, err := e.resolveGraphSecrets(ctx, spec, input)
	if err != nil {
		return nil, err
	}
	return e.graphs.Run(ctx, spec, input)
}

// RunPipeline executes a parsed pipeline spec. Secret placeholders in static
// inputs and the initial input are resolved first when a vault is present.
func (e *Engine) RunPipeline(ctx context.Context, spec *schema.PipelineSpec, input map[string]any) (*schema.PipelineResult, error) {
	spec, input, err := e.resolvePipelineSecrets(ctx, spec, input)
	if err != nil {
		return nil, err
	}
	return e.pipelines.Run(ctx, spec, input)
}

// resolveGraphSecrets resolves ${{secrets.KEY}} placeholders without
// mutating the caller's spec.
func (e *Engine) resolveGraphSecrets(ctx context.Context, spec *schema.GraphSpec, input map[string]any) (*schema.GraphSpec, map[string]any, error) {
	if e.vault == nil || spec == nil {
		return spec, input, nil
	}
	resolvedInput, err := secrets.ResolvePlaceholders(ctx, e.vault, input)
	if err != nil {
		return nil, nil, err
	}
	out := *spec
	out.Nodes = make([]schema.GraphNode, len(spec.Nodes))
	copy(out.Nodes, spec.Nodes)
	for i := range out.Nodes {
		resolved, err := secrets.ResolvePlaceholders(ctx, e.vault, out.Nodes[i].StaticInput)
		if err != nil {
			return nil, nil, err
		}
		out.Nodes[i].StaticInput = resolved
	}
	return &out, resolvedInput, nil
}

// resolvePipelineSecrets resolves ${{secrets.KEY}} placeholders without
// mutating the caller's spec.
func (e *Engine) resolvePipelineSecrets(ctx context.Context, spec *schema.PipelineSpec, input map[string]any) (*schema.PipelineSpec, map[string]any, error) {
	if e.vault == nil || spec == nil {
		return spec, input, nil
	}
	resolvedInput, err := secrets.ResolvePlaceholders(ctx, e.vault, input)
	if err != nil {
		return nil, nil, err
	}
	out := *spec
	out.Steps = make([]schema.PipelineStep, len(spec.Steps))
	copy(out.Steps, spec.Steps)
	for i := range out.Steps {
		resolved, err := secrets.ResolvePlaceholders(ctx, e.vault, out.Steps[i].StaticInput)
		if err != nil {
			return nil, nil, err
		}
		out.Steps[i].StaticInput = resolved
	}
	return &out, resolvedInput, nil
}

// ValidateGraph runs semantic validation on a parsed graph spec.
func (e *Engine) ValidateGraph(spec *schema.GraphSpec) *schema.ValidationResult {
	return e.graphs.Validate(spec)
}

// ValidatePipeline runs semantic validation on a parsed pipeline spec.
func (e *Engine) ValidatePipeline(spec *schema.PipelineSpec) *schema.ValidationResult {
	return e.pipelines.Validate(spec)
}

// ParseGraphDoc validates a raw graph document against the JSON Schema and
// unmarshals it.
func (e *Engine) ParseGraphDoc(raw []byte) (*schema.GraphSpec, error) {
	if err := e.docs.ValidateGraphDoc(raw); err != nil {
		return nil, err
	}
	var spec schema.GraphSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to parse graph spec").WithCause(err)
	}
	return &spec, nil
}

// ParsePipelineDoc validates a raw pipeline document against the JSON Schema
// and unmarshals it.
func (e *Engine) ParsePipelineDoc(raw []byte) (*schema.PipelineSpec, error) {
	if err := e.docs.ValidatePipelineDoc(raw); err != nil {
		return nil, err
	}
	var spec schema.PipelineSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to parse pipeline spec").WithCause(err)
	}
	return &spec, nil
}

// RunGraphDoc validates, parses and executes a raw graph document.
func (e *Engine) RunGraphDoc(ctx context.Context, raw []byte, input map[string]any) (*schema.GraphResult, error) {
	spec, err := e.ParseGraphDoc(raw)
	if err != nil {
		return nil, err
	}
	return e.RunGraph(ctx, spec, input)
}

// RunPipelineDoc validates, parses and executes a raw pipeline document.
func (e *Engine) RunPipelineDoc(ctx context.Context, raw []byte, input map[string]any) (*schema.PipelineResult, error) {
	spec, err := e.ParsePipelineDoc(raw)
	if err != nil {
		return nil, err
	}
	return e.RunPipeline(ctx, spec, input)
}

// ValidateGraphDoc runs schema validation followed by semantic validation
// on a raw graph document.
func (e *Engine) ValidateGraphDoc(raw []byte) error {
	spec, err := e.ParseGraphDoc(raw)
	if err != nil {
		return err
	}
	return e.graphs.Validate(spec).ToError()
}

// ValidatePipelineDoc runs schema validation followed by semantic validation
// on a raw pipeline document.
func (e *Engine) ValidatePipelineDoc(raw []byte) error {
	spec, err := e.ParsePipelineDoc(raw)
	if err != nil {
		return err
	}
	return e.pipelines.Validate(spec).ToError()
}
