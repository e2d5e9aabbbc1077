package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/memory"
	"github.com/haasonsaas/pulsebot/internal/providers"
	"github.com/haasonsaas/pulsebot/internal/skills"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// HistorySource reads a session's past conversation from the message
// stream.
type HistorySource interface {
	GetConversation(ctx context.Context, sessionID string, limit int) ([]timeplus.Row, error)
}

// MemorySearcher is the slice of the memory manager the context
// builder needs.
type MemorySearcher interface {
	Available() bool
	Search(ctx context.Context, req memory.SearchRequest) ([]memory.Record, error)
}

// Context is the assembled prompt state for one turn. The message
// list grows as tool results come back within the turn.
type Context struct {
	SystemPrompt string
	Messages     []providers.Message
	Memories     []memory.Record
	SessionID    string
	Channel      string
}

// AddAssistantMessage appends the assistant's reply, with any tool
// calls it requested.
func (c *Context) AddAssistantMessage(content string, toolCalls []providers.ToolCall) {
	c.Messages = append(c.Messages, providers.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	})
}

// AddToolResult appends a tool result keyed to its originating call.
func (c *Context) AddToolResult(toolCallID, result string) {
	c.Messages = append(c.Messages, providers.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		Content:    result,
	})
}

// LastUserMessage returns the content of the most recent user turn.
func (c *Context) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// BuildRequest describes one context assembly.
type BuildRequest struct {
	SessionID     string
	UserMessage   string
	UserName      string
	Channel       string
	Tools         []skills.ToolDefinition
	IncludeMemory bool
	MemoryLimit   int
	HistoryLimit  int
}

// ContextBuilder assembles the per-turn prompt context: system prompt
// with identity, tools, and memories, plus the session's conversation
// history.
type ContextBuilder struct {
	history            HistorySource
	memory             MemorySearcher
	agentName          string
	customIdentity     string
	customInstructions string
	modelInfo          string
	skillsIndex        string
	logger             *slog.Logger
}

// BuilderOptions configures a ContextBuilder.
type BuilderOptions struct {
	AgentName          string
	CustomIdentity     string
	CustomInstructions string
	ModelInfo          string
	SkillsIndex        string
}

// NewContextBuilder builds a context builder. memory may be nil.
func NewContextBuilder(history HistorySource, mem MemorySearcher, opts BuilderOptions) *ContextBuilder {
	return &ContextBuilder{
		history:            history,
		memory:             mem,
		agentName:          opts.AgentName,
		customIdentity:     opts.CustomIdentity,
		customInstructions: opts.CustomInstructions,
		modelInfo:          opts.ModelInfo,
		skillsIndex:        opts.SkillsIndex,
		logger:             slog.Default().With("component", "context_builder"),
	}
}

// Build assembles the context for one turn. History and memory
// failures degrade to an empty section rather than failing the turn.
func (b *ContextBuilder) Build(ctx context.Context, req BuildRequest) *Context {
	historyLimit := req.HistoryLimit
	if historyLimit == 0 {
		historyLimit = 20
	}
	memoryLimit := req.MemoryLimit
	if memoryLimit == 0 {
		memoryLimit = 10
	}

	var history []timeplus.Row
	if b.history != nil {
		rows, err := b.history.GetConversation(ctx, req.SessionID, historyLimit)
		if err != nil {
			b.logger.Warn("failed to fetch history", "session_id", req.SessionID, "error", err)
		} else {
			history = rows
		}
	}

	var memories []memory.Record
	if req.IncludeMemory && b.memory != nil && b.memory.Available() && req.UserMessage != "" {
		recs, err := b.memory.Search(ctx, memory.SearchRequest{
			Query: req.UserMessage,
			Limit: memoryLimit,
		})
		if err != nil {
			b.logger.Warn("memory search failed", "error", err)
		} else {
			memories = recs
			b.logger.Debug("retrieved memories", "count", len(recs),
				"query_preview", format.Truncate(req.UserMessage, 100))
		}
	}

	systemPrompt := buildSystemPrompt(promptParams{
		AgentName:          b.agentName,
		CustomIdentity:     b.customIdentity,
		CustomInstructions: b.customInstructions,
		ModelInfo:          b.modelInfo,
		SkillsIndex:        b.skillsIndex,
		UserName:           req.UserName,
		SessionID:          req.SessionID,
		ChannelName:        req.Channel,
		Tools:              req.Tools,
		Memories:           memories,
	})

	messages := formatHistory(history)
	messages = append(messages, providers.Message{Role: "user", Content: req.UserMessage})

	b.logger.Debug("built context",
		"session_id", req.SessionID,
		"history_count", len(history),
		"memory_count", len(memories),
		"tool_count", len(req.Tools))

	return &Context{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Memories:     memories,
		SessionID:    req.SessionID,
		Channel:      req.Channel,
	}
}

// formatHistory converts stream rows into LLM conversation turns.
// tool_call rows are status broadcasts and never reach the model.
func formatHistory(history []timeplus.Row) []providers.Message {
	var messages []providers.Message
	for _, row := range history {
		text := messageText(row.String("content"))
		switch row.String("message_type") {
		case "user_input":
			messages = append(messages, providers.Message{Role: "user", Content: text})
		case "agent_response":
			messages = append(messages, providers.Message{Role: "assistant", Content: text})
		case "tool_result":
			messages = append(messages, providers.Message{
				Role:       "tool",
				ToolCallID: row.String("id"),
				Content:    text,
			})
		}
	}
	return messages
}

// messageText extracts the text payload from a message's JSON content,
// falling back to the raw string for non-JSON rows.
func messageText(content string) string {
	if content == "" {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return content
	}
	if text, ok := parsed["text"].(string); ok {
		return text
	}
	return content
}
