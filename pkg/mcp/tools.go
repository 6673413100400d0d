package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"

	"github.com/mvaldr/cascade/internal/diagram"
	"github.com/mvaldr/cascade/internal/history"
)

// handleRun executes a graph or pipeline spec and returns the full result.
func (s *CascadeServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	raw, errResult := specBytes(req)
	if errResult != nil {
		return errResult, nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	s.captureSession(ctx)

	switch kind {
	case "graph":
		result, runErr := s.engine.RunGraphDoc(ctx, raw, input)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("graph run failed: %v", runErr)), nil
		}
		return marshalResult(result)
	case "pipeline":
		result, runErr := s.engine.RunPipelineDoc(ctx, raw, input)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pipeline run failed: %v", runErr)), nil
		}
		return marshalResult(result)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}
}

// handleValidate checks a spec without running it.
func (s *CascadeServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	raw, errResult := specBytes(req)
	if errResult != nil {
		return errResult, nil
	}

	switch kind {
	case "graph":
		err = s.engine.ValidateGraphDoc(raw)
	case "pipeline":
		err = s.engine.ValidatePipelineDoc(raw)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}
	if err != nil {
		return marshalResult(map[string]any{"valid": false, "error": err.Error()})
	}
	return marshalResult(map[string]any{"valid": true})
}

// handleHistory lists past runs or fetches one by run_id.
func (s *CascadeServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := s.engine.Store()
	if store == nil {
		return mcp.NewToolResultError("history is unavailable: engine runs without a store"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	if runID, ok := filter["run_id"].(string); ok && runID != "" {
		return s.historyByID(ctx, store, runID)
	}

	rf := history.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if kind, ok := filter["kind"].(string); ok {
		rf.Kind = history.RunKind(kind)
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = status
	}
	if name, ok := filter["name"].(string); ok {
		rf.Name = name
	}

	runs, err := store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// historyByID fetches a single run, trying both kinds.
func (s *CascadeServer) historyByID(ctx context.Context, store history.Store, runID string) (*mcp.CallToolResult, error) {
	if result, err := store.GetGraphRun(ctx, runID); err == nil {
		return marshalResult(result)
	}
	result, err := store.GetPipelineRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
	}
	return marshalResult(result)
}

// handleSchedule manages cron-scheduled jobs.
func (s *CascadeServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := s.engine.Store()
	if store == nil {
		return mcp.NewToolResultError("scheduling is unavailable: engine runs without a store"), nil
	}

	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "create":
		return s.scheduleCreate(ctx, store, req)
	case "list":
		jobs, listErr := store.ListScheduledJobs(ctx, history.ScheduledJobFilter{})
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"jobs": jobs})
	case "enable", "disable":
		return s.scheduleToggle(ctx, store, req, action == "enable")
	case "delete":
		jobID, idErr := req.RequireString("job_id")
		if idErr != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		if delErr := store.DeleteScheduledJob(ctx, jobID); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "job_id": jobID})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *CascadeServer) scheduleCreate(ctx context.Context, store history.Store, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	kind := req.GetString("kind", "")
	if kind != string(history.RunKindGraph) && kind != string(history.RunKindPipeline) {
		return mcp.NewToolResultError("kind must be graph or pipeline"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	raw, errResult := specBytes(req)
	if errResult != nil {
		return errResult, nil
	}

	// Reject specs that would fail at launch time.
	if kind == string(history.RunKindGraph) {
		if vErr := s.engine.ValidateGraphDoc(raw); vErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid spec: %v", vErr)), nil
		}
	} else {
		if vErr := s.engine.ValidatePipelineDoc(raw); vErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid spec: %v", vErr)), nil
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}
	next := schedule.Next(time.Now().UTC())

	job := &history.ScheduledJob{
		ID:             uuid.NewString(),
		Name:           name,
		Kind:           history.RunKind(kind),
		Spec:           json.RawMessage(raw),
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if input := mcp.ParseStringMap(req, "input", nil); input != nil {
		if inputRaw, marshalErr := json.Marshal(input); marshalErr == nil {
			job.Input = inputRaw
		}
	}

	if createErr := store.CreateScheduledJob(ctx, job); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
	}
	return marshalResult(map[string]any{"job_id": job.ID, "next_run_at": next})
}

func (s *CascadeServer) scheduleToggle(ctx context.Context, store history.Store, req mcp.CallToolRequest, enabled bool) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id is required"), nil
	}
	if updErr := store.UpdateScheduledJob(ctx, jobID, history.ScheduledJobUpdate{Enabled: &enabled}); updErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", updErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "job_id": jobID, "enabled": enabled})
}

// handleCapabilities lists the registered capabilities.
func (s *CascadeServer) handleCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"capabilities": s.engine.Registry().List()})
}

// handleDiagram renders a graph spec in the requested format.
func (s *CascadeServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	raw, errResult := specBytes(req)
	if errResult != nil {
		return errResult, nil
	}

	spec, parseErr := s.engine.ParseGraphDoc(raw)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph spec: %v", parseErr)), nil
	}
	model, buildErr := diagram.Build(spec)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}
}

// --- Internal helpers ---

// specBytes extracts the spec object argument and re-marshals it to raw JSON.
func specBytes(req mcp.CallToolRequest) ([]byte, *mcp.CallToolResult) {
	spec := mcp.ParseStringMap(req, "spec", nil)
	if spec == nil {
		return nil, mcp.NewToolResultError("spec is required")
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid spec: %v", err))
	}
	return raw, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession records the calling MCP session so run events can be
// forwarded to it.
func (s *CascadeServer) captureSession(ctx context.Context) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
