package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", NodeID(ctx))
	assert.Equal(t, "", Capability(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithNodeID(ctx, "fetch")
	ctx = WithCapability(ctx, "http.fetch")

	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "fetch", NodeID(ctx))
	assert.Equal(t, "http.fetch", Capability(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithIDs(context.Background(), "run-abc", "summarize", "expr.eval")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "node_id=summarize")
	assert.Contains(t, output, "capability=expr.eval")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only the run ID is set; the other attributes must not appear.
	ctx := WithRunID(context.Background(), "run-only")

	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-only")
	assert.NotContains(t, output, "node_id")
	assert.NotContains(t, output, "capability")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(context.Background(), logger).Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "run_id")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithIDs(context.Background(), "run-1", "plan", "shell.exec")
	logger.InfoContext(ctx, "handled")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-1")
	assert.Contains(t, output, "node_id=plan")
	assert.Contains(t, output, "capability=shell.exec")
}

func TestCorrelationHandler_WithAttrsKeepsInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ctx := WithRunID(context.Background(), "run-2")
	logger.With("component", "runner").InfoContext(ctx, "still injected")

	output := buf.String()
	assert.Contains(t, output, "component=runner")
	assert.Contains(t, output, "run_id=run-2")
}
