package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// openaiModelDimensions maps known OpenAI embedding models to their
// vector widths.
var openaiModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAI generates embeddings through the OpenAI embeddings API.
type OpenAI struct {
	client     *openai.Client
	apiKey     string
	model      string
	dimensions int
	logger     *slog.Logger
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI builds an OpenAI embedding provider. When dimensions is 0
// the width is looked up from the model name, defaulting to 1536.
func NewOpenAI(apiKey, model string, dimensions int) *OpenAI {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimensions == 0 {
		if d, ok := openaiModelDimensions[model]; ok {
			dimensions = d
		} else {
			dimensions = 1536
		}
	}
	p := &OpenAI{
		client:     openai.NewClient(apiKey),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "embeddings", "provider", "openai"),
	}
	p.logger.Info("embedding provider initialized", "model", model, "dimensions", dimensions)
	return p
}

func (p *OpenAI) Name() string    { return "openai" }
func (p *OpenAI) Model() string   { return p.model }
func (p *OpenAI) Dimensions() int { return p.dimensions }

func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(resp.Data), len(texts))
	}

	// Responses carry an index; keep input order.
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
