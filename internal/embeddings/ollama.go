package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ollamaModelDimensions maps common local embedding models to their
// vector widths. Unknown models are auto-detected on first use.
var ollamaModelDimensions = map[string]int{
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"all-minilm-l6-v2":       384,
	"nomic-embed-text":       768,
	"snowflake-arctic-embed": 1024,
	"bge-large":              1024,
	"bge-base":               768,
	"bge-small":              384,
}

// Ollama generates embeddings through a local Ollama server.
type Ollama struct {
	host   string
	model  string
	http   *http.Client
	logger *slog.Logger

	mu         sync.Mutex
	dimensions int
}

var _ Provider = (*Ollama)(nil)

// NewOllama builds an Ollama embedding provider. When dimensions is 0
// and the model is not in the known table, the width is detected with
// a probe request on first use.
func NewOllama(host, model string, dimensions int, timeout time.Duration) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if dimensions == 0 {
		dimensions = knownOllamaDimensions(model)
	}
	p := &Ollama{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		http:       &http.Client{Timeout: timeout},
		dimensions: dimensions,
		logger:     slog.Default().With("component", "embeddings", "provider", "ollama"),
	}
	if dimensions > 0 {
		p.logger.Info("embedding provider initialized", "model", model, "dimensions", dimensions)
	} else {
		p.logger.Info("embedding provider initialized", "model", model, "dimensions", "auto-detect")
	}
	return p
}

// knownOllamaDimensions resolves dimensions by exact then prefix
// match, so tagged names like "nomic-embed-text:latest" still hit.
func knownOllamaDimensions(model string) int {
	if d, ok := ollamaModelDimensions[model]; ok {
		return d
	}
	for known, d := range ollamaModelDimensions {
		if strings.HasPrefix(model, known) || strings.HasPrefix(known, model) {
			return d
		}
	}
	return 0
}

func (p *Ollama) Name() string  { return "ollama" }
func (p *Ollama) Model() string { return p.model }

func (p *Ollama) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimensions
}

func (p *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.dimensions == 0 {
		p.dimensions = len(vec)
		p.logger.Info("detected embedding dimensions", "model", p.model, "dimensions", len(vec))
	}
	p.mu.Unlock()

	return vec, nil
}

// EmbedBatch issues one request per text; the embeddings endpoint has
// no batch form.
func (p *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Ollama) request(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  p.model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to ollama at %s: %w", p.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embeddings API: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding ollama embeddings response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", p.model)
	}
	return result.Embedding, nil
}
