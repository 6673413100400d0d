package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldr/cascade/internal/capability"
	"github.com/mvaldr/cascade/internal/engine"
	"github.com/mvaldr/cascade/internal/history"
)

// echoCap returns its payload back as slush.
type echoCap struct{}

func (e *echoCap) Name() string                    { return "echo" }
func (e *echoCap) Describe() capability.Descriptor { return capability.Descriptor{} }

func (e *echoCap) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	data, err := json.Marshal(map[string]any{"status": "success", "slush": req.Payload})
	if err != nil {
		return nil, err
	}
	return &capability.Response{Result: data}, nil
}

func newTestServer(t *testing.T) *CascadeServer {
	t.Helper()
	store, err := history.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(engine.Config{Store: store})
	require.NoError(t, err)
	require.NoError(t, eng.Registry().Register(&echoCap{}))

	return NewCascadeServer(CascadeServerDeps{Engine: eng})
}

func buildRequest(toolName string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcpgo.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func graphSpecArg() map[string]any {
	return map[string]any{
		"name": "mcp-graph",
		"nodes": []any{
			map[string]any{"name": "a", "capability": "echo",
				"static_input": map[string]any{"city": "osaka"}},
		},
	}
}

func pipelineSpecArg() map[string]any {
	return map[string]any{
		"name": "mcp-pipeline",
		"steps": []any{
			map[string]any{"id": "s1", "kind": "agent", "capability": "echo"},
		},
	}
}

// --- cascade.run ---

func TestRunTool_Graph(t *testing.T) {
	s := newTestServer(t)

	req := buildRequest("cascade.run", map[string]any{
		"kind": "graph",
		"spec": graphSpecArg(),
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	unmarshalResult(t, result, &run)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "success", run.Status)
}

func TestRunTool_Pipeline(t *testing.T) {
	s := newTestServer(t)

	req := buildRequest("cascade.run", map[string]any{
		"kind":  "pipeline",
		"spec":  pipelineSpecArg(),
		"input": map[string]any{"n": 1},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run struct {
		Status string `json:"status"`
	}
	unmarshalResult(t, result, &run)
	assert.Equal(t, "completed", run.Status)
}

func TestRunTool_MissingSpec(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("cascade.run", map[string]any{"kind": "graph"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRun(context.Background(),
		buildRequest("cascade.run", map[string]any{"kind": "workflow", "spec": graphSpecArg()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- cascade.validate ---

func TestValidateTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleValidate(context.Background(),
		buildRequest("cascade.validate", map[string]any{"kind": "graph", "spec": graphSpecArg()}))
	require.NoError(t, err)

	var verdict struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &verdict)
	assert.True(t, verdict.Valid)
}

func TestValidateTool_Invalid(t *testing.T) {
	s := newTestServer(t)

	spec := map[string]any{
		"nodes": []any{
			map[string]any{"name": "a", "capability": "echo", "depends_on": []any{"ghost"}},
		},
	}
	result, err := s.handleValidate(context.Background(),
		buildRequest("cascade.validate", map[string]any{"kind": "graph", "spec": spec}))
	require.NoError(t, err)

	var verdict struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	unmarshalResult(t, result, &verdict)
	assert.False(t, verdict.Valid)
	assert.NotEmpty(t, verdict.Error)
}

// --- cascade.history ---

func TestHistoryTool(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleRun(context.Background(),
		buildRequest("cascade.run", map[string]any{"kind": "graph", "spec": graphSpecArg()}))
	require.NoError(t, err)

	result, err := s.handleHistory(context.Background(),
		buildRequest("cascade.history", map[string]any{"filter": map[string]any{"kind": "graph"}}))
	require.NoError(t, err)

	var listing struct {
		Runs []struct {
			RunID string `json:"run_id"`
			Name  string `json:"name"`
		} `json:"runs"`
	}
	unmarshalResult(t, result, &listing)
	require.Len(t, listing.Runs, 1)
	assert.Equal(t, "mcp-graph", listing.Runs[0].Name)

	// Fetch the full result by run ID.
	result, err = s.handleHistory(context.Background(),
		buildRequest("cascade.history", map[string]any{
			"filter": map[string]any{"run_id": listing.Runs[0].RunID},
		}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var full struct {
		Nodes map[string]any `json:"nodes"`
	}
	unmarshalResult(t, result, &full)
	assert.Contains(t, full.Nodes, "a")
}

// --- cascade.schedule ---

func TestScheduleTool_CreateListToggleDelete(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleSchedule(ctx, buildRequest("cascade.schedule", map[string]any{
		"action": "create",
		"name":   "nightly",
		"kind":   "graph",
		"cron":   "0 3 * * *",
		"spec":   graphSpecArg(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var created struct {
		JobID string `json:"job_id"`
	}
	unmarshalResult(t, result, &created)
	require.NotEmpty(t, created.JobID)

	result, err = s.handleSchedule(ctx, buildRequest("cascade.schedule", map[string]any{"action": "list"}))
	require.NoError(t, err)
	var listing struct {
		Jobs []struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		} `json:"jobs"`
	}
	unmarshalResult(t, result, &listing)
	require.Len(t, listing.Jobs, 1)
	assert.True(t, listing.Jobs[0].Enabled)

	result, err = s.handleSchedule(ctx, buildRequest("cascade.schedule", map[string]any{
		"action": "disable", "job_id": created.JobID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleSchedule(ctx, buildRequest("cascade.schedule", map[string]any{
		"action": "delete", "job_id": created.JobID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestScheduleTool_RejectsBadCron(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSchedule(context.Background(), buildRequest("cascade.schedule", map[string]any{
		"action": "create",
		"name":   "broken",
		"kind":   "graph",
		"cron":   "every day at noon",
		"spec":   graphSpecArg(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTool_RejectsInvalidSpec(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSchedule(context.Background(), buildRequest("cascade.schedule", map[string]any{
		"action": "create",
		"name":   "broken",
		"kind":   "graph",
		"cron":   "* * * * *",
		"spec":   map[string]any{"name": "no-nodes"},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- cascade.capabilities ---

func TestCapabilitiesTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCapabilities(context.Background(),
		buildRequest("cascade.capabilities", nil))
	require.NoError(t, err)

	var listing struct {
		Capabilities []struct {
			Name string `json:"name"`
		} `json:"capabilities"`
	}
	unmarshalResult(t, result, &listing)

	names := make([]string, 0, len(listing.Capabilities))
	for _, c := range listing.Capabilities {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "expr.eval")
}

// --- cascade.diagram ---

func TestDiagramTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleDiagram(context.Background(), buildRequest("cascade.diagram", map[string]any{
		"format": "mermaid",
		"spec":   graphSpecArg(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "graph TD")

	result, err = s.handleDiagram(context.Background(), buildRequest("cascade.diagram", map[string]any{
		"format": "ascii",
		"spec":   graphSpecArg(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "mcp-graph")
}
