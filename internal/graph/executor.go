package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/pkg/schema"
)

// NodeExecutor runs a single node: it builds the invocation input, invokes
// the capability with an optional timeout, and normalizes every outcome into
// a NodeResult. Capability errors, panics, and timeouts become error results;
// Execute never returns a Go error.
type NodeExecutor struct {
	resolver capability.Resolver
	logger   *slog.Logger
}

// NewNodeExecutor creates a NodeExecutor over the given resolver.
func NewNodeExecutor(resolver capability.Resolver, logger *slog.Logger) *NodeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeExecutor{resolver: resolver, logger: logger}
}

// invokeOutcome carries a settled invocation across the timeout race.
type invokeOutcome struct {
	resp *capability.Response
	err  error
}

// Execute runs one node. The invocation input is a shallow merge of the
// run's initial input (root nodes only), the node's static input, and an
// "upstream" mapping keyed by dependency name holding each dependency's own
// slush. A timeout win is an ordinary error result; the underlying
// invocation is not cancelled (fire and forget).
func (e *NodeExecutor) Execute(ctx context.Context, node *schema.GraphNode, initialInput map[string]any, slushes map[string]schema.Slush, timeout time.Duration) *schema.NodeResult {
	result := &schema.NodeResult{
		Name:       node.Name,
		Capability: node.Capability,
	}

	impl, ok := e.resolver(node.Capability)
	if !ok {
		result.Status = schema.StatusError
		result.Error = schema.NewErrorf(schema.ErrCodeUnknownCapability,
			"unknown capability %q", node.Capability).WithNode(node.Name).Error()
		return result
	}

	payload := e.buildPayload(node, initialInput, slushes)

	start := time.Now()
	outcome := e.invoke(ctx, impl, payload, timeout)
	result.DurationMs = time.Since(start).Milliseconds()

	if outcome.err != nil {
		e.logger.WarnContext(ctx, "node invocation failed",
			"node", node.Name, "capability", node.Capability, "error", outcome.err)
		result.Status = schema.StatusError
		result.Error = outcome.err.Error()
		return result
	}

	obj, err := capability.ResultObject(outcome.resp)
	if err != nil {
		result.Status = schema.StatusError
		result.Error = err.Error()
		return result
	}

	result.Status = schema.StatusSuccess
	if outcome.resp != nil {
		result.Result = outcome.resp.Result
	}

	if slush := capability.ExtractSlush(obj); slush != nil {
		result.Slush = slush
	} else {
		// Synthesize a minimal slush echoing the node's own outcome so
		// dependents always find their upstream key.
		result.Slush = schema.Slush{
			"node":   node.Name,
			"status": string(schema.StatusSuccess),
		}
	}

	return result
}

// buildPayload assembles the invocation input for a node.
func (e *NodeExecutor) buildPayload(node *schema.GraphNode, initialInput map[string]any, slushes map[string]schema.Slush) map[string]any {
	payload := make(map[string]any)

	// Initial input reaches root nodes only; everyone else gets its data
	// through upstream propagation.
	if len(node.DependsOn) == 0 {
		for k, v := range initialInput {
			payload[k] = v
		}
	}

	for k, v := range node.StaticInput {
		payload[k] = v
	}

	if len(node.DependsOn) > 0 {
		// Namespaced by source name: two dependencies can never overwrite
		// each other's keys.
		upstream := make(map[string]any, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			if slush, ok := slushes[dep]; ok && slush != nil {
				upstream[dep] = map[string]any(slush)
			}
		}
		payload["upstream"] = upstream
	}

	return payload
}

// invoke runs the capability, optionally racing a timer. Panics inside the
// capability are recovered and reported as errors.
func (e *NodeExecutor) invoke(ctx context.Context, impl capability.Capability, payload map[string]any, timeout time.Duration) invokeOutcome {
	ch := make(chan invokeOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- invokeOutcome{err: schema.NewErrorf(schema.ErrCodeCapability,
					"capability panicked: %v", r)}
			}
		}()
		resp, err := impl.Invoke(ctx, capability.Request{Payload: payload})
		ch <- invokeOutcome{resp: resp, err: err}
	}()

	if timeout <= 0 {
		return <-ch
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out
	case <-timer.C:
		return invokeOutcome{err: schema.NewError(schema.ErrCodeTimeout,
			fmt.Sprintf("node timed out after %s", timeout))}
	}
}
