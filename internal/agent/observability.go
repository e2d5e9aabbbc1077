package agent

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/providers"
)

// RowWriter appends one row to a stream.
type RowWriter interface {
	Write(ctx context.Context, data map[string]any) (string, error)
}

// Observer is a thin facade over the llm_logs, tool_logs, and events
// streams. Observability writes are best effort: failures degrade to
// local logging and never fail the turn that produced them.
type Observer struct {
	llmLogs  RowWriter
	toolLogs RowWriter
	events   RowWriter
	logger   *slog.Logger
}

// NewObserver builds an observer over the three observability streams.
func NewObserver(llmLogs, toolLogs, events RowWriter) *Observer {
	return &Observer{
		llmLogs:  llmLogs,
		toolLogs: toolLogs,
		events:   events,
		logger:   slog.Default().With("component", "observer"),
	}
}

// LLMCall describes one LLM request for the llm_logs stream.
type LLMCall struct {
	SessionID         string
	Model             string
	Provider          string
	Usage             providers.Usage
	EstimatedCost     float64
	LatencyMS         int64
	SystemPrompt      string
	UserMessage       string
	AssistantResponse string
	ToolsCalled       []string
	Status            string
	ErrorMessage      string
}

// LogLLMCall appends one llm_logs row. Previews are bounded and the
// system prompt is stored only as a digest.
func (o *Observer) LogLLMCall(ctx context.Context, call LLMCall) {
	toolsCalled := call.ToolsCalled
	if toolsCalled == nil {
		toolsCalled = []string{}
	}
	_, err := o.llmLogs.Write(ctx, map[string]any{
		"session_id":                 call.SessionID,
		"model":                      call.Model,
		"provider":                   call.Provider,
		"input_tokens":               int32(call.Usage.InputTokens),
		"output_tokens":              int32(call.Usage.OutputTokens),
		"total_tokens":               int32(call.Usage.TotalTokens),
		"estimated_cost":             float32(call.EstimatedCost),
		"latency_ms":                 int32(call.LatencyMS),
		"time_to_first_token_ms":     int32(0),
		"system_prompt_hash":         format.HashContent(call.SystemPrompt),
		"user_message_preview":       format.Truncate(call.UserMessage, 200),
		"assistant_response_preview": format.Truncate(call.AssistantResponse, 200),
		"tools_called":               toolsCalled,
		"tool_call_count":            int8(len(toolsCalled)),
		"status":                     call.Status,
		"error_message":              call.ErrorMessage,
	})
	if err != nil {
		o.logger.Warn("failed to write llm log", "session_id", call.SessionID, "error", err)
	}
}

// ToolCallLog describes one tool invocation for the tool_logs stream.
type ToolCallLog struct {
	SessionID    string
	LLMRequestID string
	ToolName     string
	Arguments    map[string]any
	Result       string
	Status       string
	DurationMS   int64
}

// LogToolCall appends one tool_logs row with a bounded result preview.
func (o *Observer) LogToolCall(ctx context.Context, call ToolCallLog) {
	errorMessage := ""
	if call.Status == "error" {
		errorMessage = call.Result
	}
	_, err := o.toolLogs.Write(ctx, map[string]any{
		"session_id":     call.SessionID,
		"llm_request_id": call.LLMRequestID,
		"tool_name":      call.ToolName,
		"skill_name":     skillNameFor(call.ToolName),
		"arguments":      format.JSONString(call.Arguments, "{}"),
		"status":         call.Status,
		"result_preview": format.Truncate(call.Result, 500),
		"error_message":  errorMessage,
		"duration_ms":    int32(call.DurationMS),
	})
	if err != nil {
		o.logger.Warn("failed to write tool log", "tool", call.ToolName, "error", err)
	}
}

// Event appends one events row.
func (o *Observer) Event(ctx context.Context, eventType, source, severity string, payload map[string]any, tags []string) {
	if tags == nil {
		tags = []string{}
	}
	_, err := o.events.Write(ctx, map[string]any{
		"event_type": eventType,
		"source":     source,
		"severity":   severity,
		"payload":    format.JSONString(payload, "{}"),
		"tags":       tags,
	})
	if err != nil {
		o.logger.Warn("failed to write event", "event_type", eventType, "error", err)
	}
}

// skillNameFor derives the owning skill from a tool name by its first
// underscore-delimited token.
func skillNameFor(toolName string) string {
	for i := 0; i < len(toolName); i++ {
		if toolName[i] == '_' {
			return toolName[:i]
		}
	}
	return toolName
}
