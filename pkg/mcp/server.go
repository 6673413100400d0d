// Package mcp exposes the cascade engine as an MCP server over stdio so
// LLM agents can execute and inspect graph and pipeline runs as tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvaldr/cascade/internal/engine"
)

// CascadeServerDeps holds the dependencies for creating a CascadeServer.
type CascadeServerDeps struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

// CascadeServer wraps an MCP server with cascade-specific tool handlers.
type CascadeServer struct {
	engine    *engine.Engine
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewCascadeServer creates a CascadeServer with all tools registered.
func NewCascadeServer(deps CascadeServerDeps) *CascadeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CascadeServer{
		engine:   deps.Engine,
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"cascade",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cascade is a multi-agent orchestration engine. Use cascade.run to execute a graph or pipeline spec, cascade.validate to check a spec without running it, cascade.history to inspect past runs, cascade.schedule to manage cron jobs, cascade.capabilities to list available capabilities, and cascade.diagram to visualize a graph."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CascadeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CascadeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *CascadeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: capabilitiesTool(), Handler: s.handleCapabilities},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("cascade.run",
		mcp.WithDescription("Execute a graph or pipeline spec and return the full run result"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("graph", "pipeline"),
			mcp.Description("Kind of spec to execute"),
		),
		mcp.WithObject("spec", mcp.Required(), mcp.Description("The spec document to execute")),
		mcp.WithObject("input", mcp.Description("Initial input passed to every node or step")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("cascade.validate",
		mcp.WithDescription("Validate a graph or pipeline spec without executing it"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("graph", "pipeline"),
			mcp.Description("Kind of spec to validate"),
		),
		mcp.WithObject("spec", mcp.Required(), mcp.Description("The spec document to validate")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("cascade.history",
		mcp.WithDescription("Query past graph and pipeline runs"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (kind, status, name, limit, run_id)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("cascade.schedule",
		mcp.WithDescription("Manage cron-scheduled runs"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "list", "enable", "disable", "delete"),
			mcp.Description("Schedule operation to perform"),
		),
		mcp.WithString("job_id", mcp.Description("Job ID (required for enable, disable, delete)")),
		mcp.WithString("name", mcp.Description("Job name (required for create)")),
		mcp.WithString("kind", mcp.Description("Spec kind for create: graph or pipeline")),
		mcp.WithObject("spec", mcp.Description("Spec document to run on schedule (required for create)")),
		mcp.WithObject("input", mcp.Description("Initial input for scheduled runs")),
		mcp.WithString("cron", mcp.Description("Cron expression, five fields (required for create)")),
	)
}

func capabilitiesTool() mcp.Tool {
	return mcp.NewTool("cascade.capabilities",
		mcp.WithDescription("List the capabilities available to graph nodes and pipeline steps"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("cascade.diagram",
		mcp.WithDescription("Render a graph spec as a diagram. Returns ASCII art or Mermaid flowchart syntax"),
		mcp.WithObject("spec", mcp.Required(), mcp.Description("The graph spec to render")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format: ascii (text) or mermaid (flowchart syntax)"),
		),
	)
}
