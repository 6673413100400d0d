package capability

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mvaldr/cascade/pkg/schema"
)

// MCPConfig configures the mcp.tool capability with the external server to
// spawn over stdio.
type MCPConfig struct {
	Command string
	Args    []string
	Env     []string
}

const mcpToolInputSchema = `{
  "type": "object",
  "properties": {
    "tool": {"type": "string"},
    "arguments": {"type": "object"}
  },
  "required": ["tool"]
}`

// MCPTool implements the "mcp.tool" capability: proxies a tool call to an
// external MCP server over stdio. The client process is started lazily on
// first invocation and reused afterwards.
type MCPTool struct {
	cfg MCPConfig

	mu     sync.Mutex
	client *client.Client
}

// NewMCPTool creates an mcp.tool capability for the given server command.
func NewMCPTool(cfg MCPConfig) *MCPTool {
	return &MCPTool{cfg: cfg}
}

func (m *MCPTool) Name() string { return "mcp.tool" }

func (m *MCPTool) Describe() Descriptor {
	return Descriptor{
		Description: "Call a tool exposed by an external MCP server.",
		InputSchema: json.RawMessage(mcpToolInputSchema),
	}
}

func (m *MCPTool) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := req.Payload
	if params == nil {
		params = map[string]any{}
	}

	toolName := stringParam(params, "tool", "")
	if toolName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "mcp.tool: missing required param 'tool'")
	}
	arguments := mapParam(params, "arguments")

	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = toolName
	callReq.Params.Arguments = arguments

	result, err := c.CallTool(ctx, callReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "mcp.tool: call %q failed: %v", toolName, err).WithCause(err)
	}

	// Collect text content; non-text content is ignored.
	var texts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}

	out := map[string]any{
		"tool":     toolName,
		"is_error": result.IsError,
		"content":  texts,
	}

	// When the tool returned a single JSON text payload, surface it parsed.
	if len(texts) == 1 && json.Valid([]byte(texts[0])) {
		var parsed any
		if err := json.Unmarshal([]byte(texts[0]), &parsed); err == nil {
			out["value"] = parsed
		}
	}

	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "mcp.tool: %q reported an error", toolName).
			WithDetails(out)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "mcp.tool: failed to marshal output").WithCause(err)
	}
	return &Response{Result: json.RawMessage(data)}, nil
}

// connect starts and initializes the stdio client on first use.
func (m *MCPTool) connect(ctx context.Context) (*client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}
	if m.cfg.Command == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "mcp.tool: no server command configured")
	}

	c, err := client.NewStdioMCPClient(m.cfg.Command, m.cfg.Env, m.cfg.Args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "mcp.tool: failed to start server %q: %v", m.cfg.Command, err).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "cascade", Version: "1.0.0"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "mcp.tool: initialize failed: %v", err).WithCause(err)
	}

	m.client = c
	return c, nil
}

// Close shuts down the underlying MCP client process, if started.
func (m *MCPTool) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
