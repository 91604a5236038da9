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
	assert.Equal(t, "", AgentID(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithNodeID(ctx, "planner")
	ctx = WithAgentID(ctx, "agent-42")

	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "planner", NodeID(ctx))
	assert.Equal(t, "agent-42", AgentID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithRunID(ctx, "run-abc")
	ctx = WithNodeID(ctx, "coder")
	ctx = WithAgentID(ctx, "agent-7")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "node_id=coder")
	assert.Contains(t, output, "agent_id=agent-7")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithRunID(context.Background(), "run-only")
	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-only")
	assert.NotContains(t, output, "node_id=")
	assert.NotContains(t, output, "agent_id=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := slog.New(handler)

	ctx := WithRunID(WithNodeID(context.Background(), "merge"), "run-z")
	logger.InfoContext(ctx, "handled")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-z")
	assert.Contains(t, output, "node_id=merge")
}
