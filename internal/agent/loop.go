package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/providers"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// MessageSource tails the message stream.
type MessageSource interface {
	Stream(ctx context.Context, filter, seekTo string) (<-chan timeplus.Row, <-chan error)
}

// agentFilter selects the rows the agent consumes from the message
// stream.
const agentFilter = "target = 'agent' AND message_type IN ('user_input', 'tool_result', 'heartbeat', 'scheduled_task')"

const truncationResponse = "I apologize, but I wasn't able to complete this task within the allowed " +
	"number of steps. Please try breaking down your request into smaller parts."

const emptyResponseFallback = "I'm not sure how to respond to that."

// Options configures an Agent.
type Options struct {
	AgentID       string
	AgentName     string
	ModelInfo     string
	MaxIterations int
}

// Agent is the reason/act loop: it tails the message stream for rows
// targeted at the agent, builds context, calls the LLM, dispatches
// tool calls, and writes responses and observability records back to
// the streams.
type Agent struct {
	id            string
	name          string
	modelInfo     string
	maxIterations int

	source    MessageSource
	messages  RowWriter
	llm       providers.Provider
	builder   *ContextBuilder
	executor  *Executor
	observer  *Observer
	extractor *Extractor

	logger *slog.Logger
}

// New builds an agent. extractor may be nil to disable memory
// extraction.
func New(
	opts Options,
	source MessageSource,
	messages RowWriter,
	llm providers.Provider,
	builder *ContextBuilder,
	executor *Executor,
	observer *Observer,
	extractor *Extractor,
) *Agent {
	if opts.AgentID == "" {
		opts.AgentID = "main"
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = 10
	}
	return &Agent{
		id:            opts.AgentID,
		name:          opts.AgentName,
		modelInfo:     opts.ModelInfo,
		maxIterations: opts.MaxIterations,
		source:        source,
		messages:      messages,
		llm:           llm,
		builder:       builder,
		executor:      executor,
		observer:      observer,
		extractor:     extractor,
		logger:        slog.Default().With("component", "agent", "agent_id", opts.AgentID),
	}
}

// Run tails the message stream until ctx is cancelled. Errors in
// individual turns are surfaced to the originating channel and the
// loop continues; only a broken tail terminates it.
func (a *Agent) Run(ctx context.Context) error {
	rows, errs := a.source.Stream(ctx, agentFilter, "latest")
	a.logger.Info("agent message loop started")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped")
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return fmt.Errorf("message tail failed: %w", err)
		case row, ok := <-rows:
			if !ok {
				a.logger.Info("message stream closed")
				return nil
			}
			msg := timeplus.MessageFromRow(row)
			if err := a.ProcessMessage(ctx, msg); err != nil {
				a.logger.Error("error processing message",
					"session_id", msg.SessionID, "error", err)
				a.reportError(ctx, msg, err)
			}
		}
	}
}

// ProcessMessage runs one full turn for an incoming message.
func (a *Agent) ProcessMessage(ctx context.Context, msg timeplus.Message) error {
	userMessage := messageText(msg.Content)

	a.logger.Info("processing message",
		"session_id", msg.SessionID,
		"type", msg.MessageType,
		"preview", format.Truncate(userMessage, 50))

	tools := a.executor.Tools()
	turnCtx := a.builder.Build(ctx, BuildRequest{
		SessionID:     msg.SessionID,
		UserMessage:   userMessage,
		Channel:       channelName(msg.Source),
		Tools:         tools,
		IncludeMemory: true,
	})

	providerTools := make([]providers.Tool, len(tools))
	for i, t := range tools {
		providerTools[i] = providers.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}

	var lastResponse *providers.Response
	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		start := time.Now()
		resp, err := a.llm.Chat(ctx, &providers.ChatRequest{
			System:   turnCtx.SystemPrompt,
			Messages: turnCtx.Messages,
			Tools:    providerTools,
		})
		latency := time.Since(start).Milliseconds()

		a.observer.LogLLMCall(ctx, a.llmCallRecord(turnCtx, resp, err, latency))
		if err != nil {
			return fmt.Errorf("LLM call failed: %w", err)
		}
		lastResponse = resp

		if len(resp.ToolCalls) == 0 {
			text := resp.Content
			if text == "" {
				a.logger.Warn("LLM returned empty response", "session_id", msg.SessionID)
				text = emptyResponseFallback
			}
			if err := a.sendResponse(ctx, msg, text); err != nil {
				return err
			}
			if a.extractor != nil {
				turnCtx.AddAssistantMessage(text, nil)
				a.extractor.Extract(ctx, msg.SessionID, turnCtx.Messages)
			}
			return nil
		}

		// Tool calls run sequentially in declaration order so
		// results and errors land in a deterministic order.
		turnCtx.AddAssistantMessage(resp.Content, resp.ToolCalls)
		for _, call := range resp.ToolCalls {
			a.runToolCall(ctx, msg, turnCtx, call)
		}
	}

	a.logger.Warn("iteration cap reached",
		"session_id", msg.SessionID, "max_iterations", a.maxIterations)

	text := ""
	if lastResponse != nil {
		text = lastResponse.Content
	}
	if text == "" {
		text = truncationResponse
	}
	if err := a.sendResponse(ctx, msg, text); err != nil {
		return err
	}
	a.observer.Event(ctx, "iteration_cap_reached", "agent", "warning", map[string]any{
		"session_id":     msg.SessionID,
		"max_iterations": a.maxIterations,
	}, []string{"agent", "truncation"})
	return nil
}

// runToolCall broadcasts, executes, and records a single tool call,
// then feeds the result back into the turn context.
func (a *Agent) runToolCall(ctx context.Context, msg timeplus.Message, turnCtx *Context, call providers.ToolCall) {
	a.broadcastToolCall(ctx, msg, call, "started", "", 0)

	start := time.Now()
	result := a.executor.Execute(ctx, call.Name, call.Arguments)
	duration := time.Since(start).Milliseconds()

	status := "success"
	if !result.Success {
		status = "error"
	}
	resultText := renderResult(result)

	a.broadcastToolCall(ctx, msg, call, status, resultText, duration)
	a.observer.LogToolCall(ctx, ToolCallLog{
		SessionID:  msg.SessionID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
		Result:     resultText,
		Status:     status,
		DurationMS: duration,
	})
	a.writeToolResult(ctx, msg, call, result.Success, resultText)
	turnCtx.AddToolResult(call.ID, resultText)
}

// sendResponse writes the agent's final response for the turn back to
// the originating channel.
func (a *Agent) sendResponse(ctx context.Context, msg timeplus.Message, text string) error {
	_, err := a.messages.Write(ctx, map[string]any{
		"source":           "agent",
		"target":           "channel:" + channelName(msg.Source),
		"session_id":       msg.SessionID,
		"message_type":     "agent_response",
		"content":          format.JSONString(map[string]any{"text": text}, "{}"),
		"user_id":          msg.UserID,
		"channel_metadata": msg.ChannelMetadata,
		"priority":         int8(0),
	})
	if err != nil {
		return fmt.Errorf("sending response: %w", err)
	}
	a.logger.Info("sent response",
		"session_id", msg.SessionID,
		"target", "channel:"+channelName(msg.Source),
		"length", len(text))
	return nil
}

// broadcastToolCall publishes a tool call status transition so UIs can
// render progress in real time.
func (a *Agent) broadcastToolCall(ctx context.Context, msg timeplus.Message, call providers.ToolCall, status, result string, durationMS int64) {
	content := map[string]any{
		"tool_name":    call.Name,
		"arguments":    call.Arguments,
		"args_summary": format.SummarizeArgs(call.Arguments),
		"status":       status,
	}
	if status != "started" {
		content["result_preview"] = format.Truncate(result, 200)
		content["duration_ms"] = durationMS
	}

	_, err := a.messages.Write(ctx, map[string]any{
		"source":           "agent",
		"target":           "channel:" + channelName(msg.Source),
		"session_id":       msg.SessionID,
		"message_type":     "tool_call",
		"content":          format.JSONString(content, "{}"),
		"user_id":          msg.UserID,
		"channel_metadata": "",
		"priority":         int8(0),
	})
	if err != nil {
		a.logger.Warn("failed to broadcast tool call", "tool", call.Name, "error", err)
	}
}

// writeToolResult appends the structured tool result into the session
// so the conversation history reflects it.
func (a *Agent) writeToolResult(ctx context.Context, msg timeplus.Message, call providers.ToolCall, success bool, result string) {
	content := map[string]any{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"success":      success,
		"result":       result,
	}
	_, err := a.messages.Write(ctx, map[string]any{
		"source":           "agent",
		"target":           "session",
		"session_id":       msg.SessionID,
		"message_type":     "tool_result",
		"content":          format.JSONString(content, "{}"),
		"user_id":          msg.UserID,
		"channel_metadata": "",
		"priority":         int8(0),
	})
	if err != nil {
		a.logger.Warn("failed to write tool result", "tool", call.Name, "error", err)
	}
}

// reportError records a failed turn on the message stream and tells
// the originating channel.
func (a *Agent) reportError(ctx context.Context, msg timeplus.Message, turnErr error) {
	a.observer.Event(ctx, "turn_failed", "agent", "error", map[string]any{
		"session_id": msg.SessionID,
		"error":      turnErr.Error(),
	}, []string{"agent", "error"})

	if _, err := a.messages.Write(ctx, map[string]any{
		"source":       "agent",
		"target":       "agent",
		"session_id":   msg.SessionID,
		"message_type": "error",
		"content": format.JSONString(map[string]any{
			"error":               turnErr.Error(),
			"original_message_id": msg.ID,
		}, "{}"),
		"user_id":          "",
		"channel_metadata": "",
		"priority":         int8(2),
	}); err != nil {
		a.logger.Warn("failed to write error record", "error", err)
	}

	if _, err := a.messages.Write(ctx, map[string]any{
		"source":       "agent",
		"target":       "channel:" + channelName(msg.Source),
		"session_id":   msg.SessionID,
		"message_type": "agent_response",
		"content": format.JSONString(map[string]any{
			"text": "Sorry, an error occurred while processing your request: " + turnErr.Error(),
		}, "{}"),
		"user_id":          msg.UserID,
		"channel_metadata": "",
		"priority":         int8(0),
	}); err != nil {
		a.logger.Warn("failed to send error response", "error", err)
	}
}

// llmCallRecord assembles the llm_logs row for one LLM call.
func (a *Agent) llmCallRecord(turnCtx *Context, resp *providers.Response, callErr error, latencyMS int64) LLMCall {
	call := LLMCall{
		SessionID:    turnCtx.SessionID,
		Model:        a.llm.Model(),
		Provider:     a.llm.Name(),
		LatencyMS:    latencyMS,
		SystemPrompt: turnCtx.SystemPrompt,
		UserMessage:  turnCtx.LastUserMessage(),
		Status:       providers.StatusFor(callErr),
	}
	if callErr != nil {
		call.ErrorMessage = callErr.Error()
		return call
	}
	call.Usage = resp.Usage
	call.EstimatedCost = a.llm.EstimateCost(resp.Usage)
	call.AssistantResponse = resp.Content
	for _, tc := range resp.ToolCalls {
		call.ToolsCalled = append(call.ToolsCalled, tc.Name)
	}
	return call
}

// channelName maps a message source to the channel it came from.
func channelName(source string) string {
	switch source {
	case "", "system", "agent":
		return "webchat"
	default:
		return source
	}
}
