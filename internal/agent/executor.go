package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/skills"
)

// Executor dispatches tool calls through the skill registry with a
// bounded timeout per call.
type Executor struct {
	registry *skills.Registry
	timeout  time.Duration
	count    atomic.Int64
	logger   *slog.Logger
}

// NewExecutor builds an executor. A zero timeout means 60 seconds.
func NewExecutor(registry *skills.Registry, timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   slog.Default().With("component", "executor"),
	}
}

// Tools returns the registered tool definitions.
func (e *Executor) Tools() []skills.ToolDefinition {
	return e.registry.Tools()
}

// Execute runs one tool call. Dispatch errors (unknown tool, invalid
// arguments) surface as failed results so the LLM can correct itself
// on the next iteration.
func (e *Executor) Execute(ctx context.Context, tool string, args map[string]any) skills.ToolResult {
	n := e.count.Add(1)
	e.logger.Info("executing tool", "tool", tool, "execution_id", n)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.registry.Dispatch(runCtx, tool, args)
	if err != nil {
		e.logger.Warn("tool dispatch failed", "tool", tool, "error", err)
		return skills.Fail("%v", err)
	}

	e.logger.Info("tool execution complete", "tool", tool, "success", result.Success, "execution_id", n)
	return result
}

// ExecutionCount returns the total number of tool executions.
func (e *Executor) ExecutionCount() int64 {
	return e.count.Load()
}

// renderResult flattens a tool result to the string handed back to
// the LLM and logged in previews.
func renderResult(result skills.ToolResult) string {
	if !result.Success {
		return "Error: " + result.Error
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	return format.JSONString(result.Output, "")
}
