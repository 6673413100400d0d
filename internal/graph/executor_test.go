package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/pkg/schema"
)

// capFunc adapts a function into a Capability for tests.
type capFunc struct {
	name string
	fn   func(ctx context.Context, req capability.Request) (*capability.Response, error)
}

func (c *capFunc) Name() string                    { return c.name }
func (c *capFunc) Describe() capability.Descriptor { return capability.Descriptor{} }

func (c *capFunc) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	return c.fn(ctx, req)
}

// resolverOf builds a Resolver from a set of capFuncs.
func resolverOf(caps ...*capFunc) capability.Resolver {
	byName := make(map[string]capability.Capability, len(caps))
	for _, c := range caps {
		byName[c.name] = c
	}
	return func(name string) (capability.Capability, bool) {
		c, ok := byName[name]
		return c, ok
	}
}

func jsonResp(v any) *capability.Response {
	data, _ := json.Marshal(v)
	return &capability.Response{Result: json.RawMessage(data)}
}

func TestNodeExecutor_RootGetsInitialInput(t *testing.T) {
	var captured map[string]any
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		captured = req.Payload
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	node := &schema.GraphNode{Name: "root", Capability: "echo", StaticInput: map[string]any{"mode": "fast"}}

	res := e.Execute(context.Background(), node, map[string]any{"city": "osaka"}, nil, 0)
	require.Equal(t, schema.StatusSuccess, res.Status)

	assert.Equal(t, "osaka", captured["city"])
	assert.Equal(t, "fast", captured["mode"])
	_, hasUpstream := captured["upstream"]
	assert.False(t, hasUpstream, "root node payload must not carry upstream")
}

func TestNodeExecutor_NonRootDoesNotGetInitialInput(t *testing.T) {
	var captured map[string]any
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		captured = req.Payload
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	node := &schema.GraphNode{Name: "child", Capability: "echo", DependsOn: []string{"parent"}}
	slushes := map[string]schema.Slush{
		"parent": {"value": 42},
	}

	res := e.Execute(context.Background(), node, map[string]any{"city": "osaka"}, slushes, 0)
	require.Equal(t, schema.StatusSuccess, res.Status)

	_, hasCity := captured["city"]
	assert.False(t, hasCity, "initial input reaches roots only")

	upstream, ok := captured["upstream"].(map[string]any)
	require.True(t, ok)
	parent, ok := upstream["parent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 42, parent["value"])
}

func TestNodeExecutor_UpstreamIsNamespaced(t *testing.T) {
	var captured map[string]any
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		captured = req.Payload
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	node := &schema.GraphNode{Name: "d", Capability: "echo", DependsOn: []string{"b", "c"}}
	slushes := map[string]schema.Slush{
		"b": {"key": "from-b"},
		"c": {"key": "from-c"},
	}

	res := e.Execute(context.Background(), node, nil, slushes, 0)
	require.Equal(t, schema.StatusSuccess, res.Status)

	upstream := captured["upstream"].(map[string]any)
	require.Len(t, upstream, 2)
	assert.Equal(t, "from-b", upstream["b"].(map[string]any)["key"])
	assert.Equal(t, "from-c", upstream["c"].(map[string]any)["key"])
}

func TestNodeExecutor_SlushExtracted(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return jsonResp(map[string]any{
			"status": "success",
			"slush":  map[string]any{"temp": 21},
		}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "echo"}, nil, nil, 0)

	require.Equal(t, schema.StatusSuccess, res.Status)
	require.NotNil(t, res.Slush)
	assert.Equal(t, float64(21), res.Slush["temp"])
}

func TestNodeExecutor_SlushSynthesized(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "echo", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "quiet", Capability: "echo"}, nil, nil, 0)

	require.Equal(t, schema.StatusSuccess, res.Status)
	require.NotNil(t, res.Slush)
	assert.Equal(t, "quiet", res.Slush["node"])
	assert.Equal(t, "success", res.Slush["status"])
}

func TestNodeExecutor_UnknownCapability(t *testing.T) {
	e := NewNodeExecutor(resolverOf(), nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "ghost"}, nil, nil, 0)

	assert.Equal(t, schema.StatusError, res.Status)
	assert.Contains(t, res.Error, "unknown capability")
	assert.Nil(t, res.Slush)
}

func TestNodeExecutor_CapabilityError(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "boom", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return nil, schema.NewError(schema.ErrCodeCapability, "downstream unavailable")
	}})

	e := NewNodeExecutor(resolver, nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "boom"}, nil, nil, 0)

	assert.Equal(t, schema.StatusError, res.Status)
	assert.Contains(t, res.Error, "downstream unavailable")
}

func TestNodeExecutor_PanicRecovered(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "panicky", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		panic("broken invariant")
	}})

	e := NewNodeExecutor(resolver, nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "panicky"}, nil, nil, 0)

	assert.Equal(t, schema.StatusError, res.Status)
	assert.Contains(t, res.Error, "panicked")
}

func TestNodeExecutor_Timeout(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "slow", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		time.Sleep(2 * time.Second)
		return jsonResp(map[string]any{"status": "success"}), nil
	}})

	e := NewNodeExecutor(resolver, nil)
	start := time.Now()
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "slow"}, nil, nil, 50*time.Millisecond)

	assert.Less(t, time.Since(start), time.Second, "timer win must not wait for the capability")
	assert.Equal(t, schema.StatusError, res.Status)
	assert.Contains(t, res.Error, "timed out")
}

func TestNodeExecutor_MalformedResult(t *testing.T) {
	resolver := resolverOf(&capFunc{name: "garbled", fn: func(ctx context.Context, req capability.Request) (*capability.Response, error) {
		return &capability.Response{Result: json.RawMessage(`{broken`)}, nil
	}})

	e := NewNodeExecutor(resolver, nil)
	res := e.Execute(context.Background(), &schema.GraphNode{Name: "n", Capability: "garbled"}, nil, nil, 0)

	assert.Equal(t, schema.StatusError, res.Status)
	assert.Contains(t, res.Error, "malformed")
}
