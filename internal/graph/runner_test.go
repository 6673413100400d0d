package graph

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/streaming"
	"github.com/mvaldr/cascade/pkg/schema"
)

// okCap returns a capability that emits the given slush.
func okCap(name string, slush map[string]any) *capFunc {
	return &capFunc{name: name, fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return jsonResp(map[string]any{"status": "success", "slush": slush}), nil
	}}
}

// failCap returns a capability that always errors.
func failCap(name, msg string) *capFunc {
	return &capFunc{name: name, fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return nil, schema.NewError(schema.ErrCodeCapability, msg)
	}}
}

func diamondSpec() *schema.GraphSpec {
	return &schema.GraphSpec{
		Name: "diamond",
		Nodes: []schema.GraphNode{
			{Name: "a", Capability: "cap-a"},
			{Name: "b", Capability: "cap-b", DependsOn: []string{"a"}},
			{Name: "c", Capability: "cap-c", DependsOn: []string{"a"}},
			{Name: "d", Capability: "cap-d", DependsOn: []string{"b", "c"}},
		},
	}
}

func TestGraphRunner_Diamond(t *testing.T) {
	var dUpstream map[string]any
	resolver := resolverOf(
		okCap("cap-a", map[string]any{"from": "a"}),
		okCap("cap-b", map[string]any{"from": "b"}),
		okCap("cap-c", map[string]any{"from": "c"}),
		&capFunc{name: "cap-d", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
			dUpstream, _ = req.Payload["upstream"].(map[string]any)
			return jsonResp(map[string]any{"status": "success"}), nil
		}},
	)

	runner := NewGraphRunner(resolver)
	result, err := runner.Run(context.Background(), diamondSpec(), nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphSuccess, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Nodes, 4)
	assert.Len(t, result.ExecutionOrder, 4)

	// d's upstream mapping has exactly keys {b, c}, each that node's own slush.
	require.NotNil(t, dUpstream)
	require.Len(t, dUpstream, 2)
	assert.Equal(t, "b", dUpstream["b"].(map[string]any)["from"])
	assert.Equal(t, "c", dUpstream["c"].(map[string]any)["from"])
}

func TestGraphRunner_LevelOrdering(t *testing.T) {
	var order atomic.Int32
	settleAt := make(map[string]int32)
	mkCap := func(name string) *capFunc {
		return &capFunc{name: name, fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
			settleAt[name] = order.Add(1)
			return jsonResp(map[string]any{"status": "success"}), nil
		}}
	}

	// settleAt writes race within a level, so chain nodes strictly.
	spec := &schema.GraphSpec{Nodes: []schema.GraphNode{
		{Name: "first", Capability: "cap-1"},
		{Name: "second", Capability: "cap-2", DependsOn: []string{"first"}},
		{Name: "third", Capability: "cap-3", DependsOn: []string{"second"}},
	}}

	runner := NewGraphRunner(resolverOf(mkCap("cap-1"), mkCap("cap-2"), mkCap("cap-3")))
	result, err := runner.Run(context.Background(), spec, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphSuccess, result.Status)
	assert.Less(t, settleAt["cap-1"], settleAt["cap-2"])
	assert.Less(t, settleAt["cap-2"], settleAt["cap-3"])
	assert.Equal(t, []string{"first", "second", "third"}, result.ExecutionOrder)
}

func TestGraphRunner_LevelFanOutOverlaps(t *testing.T) {
	var inFlight, peak atomic.Int32
	slowCap := func(name string) *capFunc {
		return &capFunc{name: name, fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			return jsonResp(map[string]any{"status": "success"}), nil
		}}
	}

	spec := &schema.GraphSpec{Nodes: []schema.GraphNode{
		{Name: "x", Capability: "cap-x"},
		{Name: "y", Capability: "cap-y"},
		{Name: "z", Capability: "cap-z"},
	}}

	runner := NewGraphRunner(resolverOf(slowCap("cap-x"), slowCap("cap-y"), slowCap("cap-z")))
	result, err := runner.Run(context.Background(), spec, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphSuccess, result.Status)
	assert.Equal(t, int32(3), peak.Load(), "all level members must be launched before any is awaited")
}

func TestGraphRunner_ErrorSkipsDependents(t *testing.T) {
	resolver := resolverOf(
		okCap("cap-a", map[string]any{"from": "a"}),
		failCap("cap-b", "b exploded"),
		okCap("cap-c", map[string]any{"from": "c"}),
		okCap("cap-d", map[string]any{"from": "d"}),
	)

	runner := NewGraphRunner(resolver)
	result, err := runner.Run(context.Background(), diamondSpec(), nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphPartial, result.Status)
	assert.Equal(t, schema.StatusSuccess, result.Nodes["a"].Status)
	assert.Equal(t, schema.StatusError, result.Nodes["b"].Status)
	assert.Equal(t, schema.StatusSuccess, result.Nodes["c"].Status)
	assert.Equal(t, schema.StatusSkipped, result.Nodes["d"].Status)

	// Skipped results carry zero duration, no slush, and still appear in the
	// execution order.
	assert.Zero(t, result.Nodes["d"].DurationMs)
	assert.Nil(t, result.Nodes["d"].Slush)
	assert.Contains(t, result.ExecutionOrder, "d")
}

func TestGraphRunner_StopOnError(t *testing.T) {
	var cInvoked, dInvoked atomic.Bool
	resolver := resolverOf(
		okCap("cap-a", map[string]any{"from": "a"}),
		failCap("cap-b", "b exploded"),
		&capFunc{name: "cap-c", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
			cInvoked.Store(true)
			return jsonResp(map[string]any{"status": "success"}), nil
		}},
		&capFunc{name: "cap-d", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
			dInvoked.Store(true)
			return jsonResp(map[string]any{"status": "success"}), nil
		}},
	)

	spec := diamondSpec()
	spec.StopOnError = true

	runner := NewGraphRunner(resolver)
	result, err := runner.Run(context.Background(), spec, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphError, result.Status)
	assert.Equal(t, "[CAPABILITY_ERROR] b exploded", result.Nodes["b"].Error)
	assert.Contains(t, result.Error, "b exploded")

	// c settles (it was launched in the same level); d is never invoked.
	assert.True(t, cInvoked.Load())
	assert.False(t, dInvoked.Load())
	assert.Equal(t, schema.StatusSkipped, result.Nodes["d"].Status)
	assert.Len(t, result.Nodes, 4)
}

func TestGraphRunner_ValidationFailureBeforeAnyInvocation(t *testing.T) {
	var invoked atomic.Bool
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		invoked.Store(true)
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	spec := specOf(
		schema.GraphNode{Name: "a", Capability: "echo", DependsOn: []string{"ghost"}},
	)

	runner := NewGraphRunner(resolver)
	_, err := runner.Run(context.Background(), spec, nil)
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
	assert.False(t, invoked.Load(), "no invocation may happen when validation fails")
}

func TestGraphRunner_BadTimeoutRejected(t *testing.T) {
	runner := NewGraphRunner(resolverOf(okCap("echo", nil)))

	spec := specOf(schema.GraphNode{Name: "a", Capability: "echo"})
	spec.NodeTimeout = "not-a-duration"

	_, err := runner.Run(context.Background(), spec, nil)
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeConfiguration, cErr.Code)
}

func TestGraphRunner_NodeTimeoutBecomesErrorResult(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "slow", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		time.Sleep(time.Second)
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	spec := specOf(schema.GraphNode{Name: "a", Capability: "slow"})
	spec.NodeTimeout = "50ms"

	runner := NewGraphRunner(resolver)
	result, err := runner.Run(context.Background(), spec, nil)
	require.NoError(t, err, "a timeout is an error result, not a run failure")

	assert.Equal(t, schema.GraphPartial, result.Status)
	assert.Equal(t, schema.StatusError, result.Nodes["a"].Status)
	assert.Contains(t, result.Nodes["a"].Error, "timed out")
}

func TestGraphRunner_UnknownCapabilityIsNodeError(t *testing.T) {
	runner := NewGraphRunner(resolverOf())

	result, err := runner.Run(context.Background(), specOf(
		schema.GraphNode{Name: "a", Capability: "ghost"},
	), nil)
	require.NoError(t, err)

	assert.Equal(t, schema.GraphPartial, result.Status)
	assert.Equal(t, schema.StatusError, result.Nodes["a"].Status)
	assert.Contains(t, result.Nodes["a"].Error, "unknown capability")
}

func TestGraphRunner_PublishesLifecycleEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	runner := NewGraphRunner(
		resolverOf(okCap("echo", nil)),
		WithHub(hub),
	)

	_, err = runner.Run(context.Background(), specOf(
		schema.GraphNode{Name: "a", Capability: "echo"},
	), nil)
	require.NoError(t, err)

	types := make([]string, 0, 4)
	for len(ch) > 0 {
		types = append(types, (<-ch).EventType)
	}
	assert.Equal(t, []string{
		streaming.EventRunStarted,
		streaming.EventNodeStarted,
		streaming.EventNodeCompleted,
		streaming.EventRunFinished,
	}, types)
}

// recorderFunc adapts a function into a Recorder.
type recorderFunc func(ctx context.Context, result *schema.GraphResult) error

func (f recorderFunc) RecordGraphRun(ctx context.Context, result *schema.GraphResult) error {
	return f(ctx, result)
}

func TestGraphRunner_RecordsFinishedRun(t *testing.T) {
	var recorded *schema.GraphResult
	runner := NewGraphRunner(
		resolverOf(okCap("echo", nil)),
		WithRecorder(recorderFunc(func(ctx context.Context, result *schema.GraphResult) error {
			recorded = result
			return nil
		})),
	)

	result, err := runner.Run(context.Background(), specOf(
		schema.GraphNode{Name: "a", Capability: "echo"},
	), nil)
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, result.RunID, recorded.RunID)
}
