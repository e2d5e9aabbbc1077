package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKnownOllamaDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"mxbai-embed-large", 1024},
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"all-minilm", 384},
		{"some-unknown-model", 0},
	}
	for _, tt := range tests {
		if got := knownOllamaDimensions(tt.model); got != tt.want {
			t.Errorf("knownOllamaDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestOllamaEmbed(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "custom-model", 0, time.Second)
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want 3", len(vec))
	}
	if gotPath != "/api/embeddings" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model"] != "custom-model" || gotBody["prompt"] != "hello" {
		t.Errorf("request body = %v", gotBody)
	}
	// Unknown model width is detected from the first response.
	if p.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want 3 after detection", p.Dimensions())
	}
}

func TestOllamaEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "missing", 0, time.Second)
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed() should fail on HTTP error")
	}
}

func TestOllamaEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "broken", 0, time.Second)
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed() should fail on empty embedding")
	}
}

func TestOllamaEmbedBatchOrder(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{float32(calls)},
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, "seq", 0, time.Second)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("vectors = %d, want 3", len(vecs))
	}
	for i, vec := range vecs {
		if vec[0] != float32(i+1) {
			t.Errorf("vector %d = %v, want [%d]", i, vec, i+1)
		}
	}
}

func TestOpenAIDefaults(t *testing.T) {
	p := NewOpenAI("sk-test", "", 0)
	if p.Model() != "text-embedding-3-small" {
		t.Errorf("Model() = %q", p.Model())
	}
	if p.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", p.Dimensions())
	}

	large := NewOpenAI("sk-test", "text-embedding-3-large", 0)
	if large.Dimensions() != 3072 {
		t.Errorf("large Dimensions() = %d, want 3072", large.Dimensions())
	}

	explicit := NewOpenAI("sk-test", "text-embedding-3-small", 256)
	if explicit.Dimensions() != 256 {
		t.Errorf("explicit Dimensions() = %d, want 256", explicit.Dimensions())
	}
}

func TestOpenAIEmbedWithoutKey(t *testing.T) {
	p := NewOpenAI("", "text-embedding-3-small", 0)
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed() without an API key should fail")
	}
}
