// Package providers implements the LLM provider abstraction: a
// uniform chat-completion contract (messages + system + tools in,
// content + tool calls + usage out) with concrete backends for
// Anthropic, OpenAI-compatible APIs, and local Ollama.
package providers

import "context"

// Message is one turn in a conversation.
type Message struct {
	Role       string // 'user', 'assistant', 'tool'
	Content    string
	ToolCalls  []ToolCall // assistant messages requesting tools
	ToolCallID string     // tool messages answering a request
}

// ToolCall is a request from the model to execute a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Tool describes a callable tool offered to the model. Parameters is
// a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage carries token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatRequest is a full completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is the model's reply.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Provider is the uniform chat-completion contract.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)
	Name() string
	Model() string

	// EstimateCost returns the approximate USD cost of a completion.
	EstimateCost(usage Usage) float64
}
