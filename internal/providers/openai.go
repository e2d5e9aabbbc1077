package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openrouterBaseURL = "https://openrouter.ai/api/v1"
	nvidiaBaseURL     = "https://integrate.api.nvidia.com/v1"
)

// OpenAI implements the provider contract on the OpenAI chat API and
// on OpenAI-compatible endpoints (OpenRouter, NVIDIA NIM).
type OpenAI struct {
	client  *openai.Client
	name    string
	model   string
	pricing map[string]modelPricing
	flat    *modelPricing
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI builds a provider against the OpenAI API.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		client:  openai.NewClient(apiKey),
		name:    "openai",
		model:   model,
		pricing: openaiPricing,
	}, nil
}

// NewOpenRouter builds a provider against OpenRouter's
// OpenAI-compatible API. Cost comes back in the response on
// OpenRouter, so the local estimate is zero.
func NewOpenRouter(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = openrouterBaseURL
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		name:   "openrouter",
		model:  model,
	}, nil
}

// NewNvidia builds a provider against NVIDIA NIM's OpenAI-compatible
// API.
func NewNvidia(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("nvidia: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = nvidiaBaseURL
	flat := nvidiaPricing
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		name:   "nvidia",
		model:  model,
		flat:   &flat,
	}, nil
}

func (p *OpenAI) Name() string  { return p.name }
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) EstimateCost(usage Usage) float64 {
	if p.flat != nil {
		return estimateCost(*p.flat, usage)
	}
	if pricing, ok := p.pricing[p.model]; ok {
		return estimateCost(pricing, usage)
	}
	return 0
}

// Chat sends a completion request and collects the full response.
func (p *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := convertOpenAIMessages(req.System, req.Messages)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response contained no choices", p.name)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%s: invalid tool arguments for %s: %w", p.name, tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func convertOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

func classifyOpenAIError(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}
