package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ollama implements the provider contract on a local Ollama server's
// /api/chat endpoint. Local inference is free, so cost is always 0.
type Ollama struct {
	host   string
	model  string
	http   *http.Client
	logger *slog.Logger
}

var _ Provider = (*Ollama)(nil)

// NewOllama builds a provider against a local Ollama server.
func NewOllama(host, model string, timeout time.Duration) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Ollama{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		http:   &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "provider", "provider", "ollama"),
	}
}

func (p *Ollama) Name() string                     { return "ollama" }
func (p *Ollama) Model() string                    { return p.model }
func (p *Ollama) EstimateCost(usage Usage) float64 { return 0 }

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string           `json:"content"`
		Thinking  string           `json:"thinking"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// Chat sends a non-streaming completion request.
func (p *Ollama) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		m := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			if otc.Function.Arguments == nil {
				otc.Function.Arguments = map[string]any{}
			}
			m.ToolCalls = append(m.ToolCalls, otc)
		}
		messages = append(messages, m)
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.Parameters,
				},
			}
		}
		payload["tools"] = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("ollama: connecting to %s: %w", p.host, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("ollama: HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(text)))
	}

	var data ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("ollama: decoding response: %w", err)
	}

	content := data.Message.Content
	// Some models emit their answer in the thinking field or a
	// top-level response field instead of message.content.
	if content == "" && data.Message.Thinking != "" {
		p.logger.Debug("using thinking field for content", "model", model)
		content = data.Message.Thinking
	}
	if content == "" {
		content = data.Response
	}

	resp := &Response{
		Content:    content,
		StopReason: data.DoneReason,
		Usage: Usage{
			InputTokens:  data.PromptEvalCount,
			OutputTokens: data.EvalCount,
			TotalTokens:  data.PromptEvalCount + data.EvalCount,
		},
	}
	for i, tc := range data.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}
