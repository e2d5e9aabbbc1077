package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/memory"
	"github.com/haasonsaas/pulsebot/internal/providers"
)

// MemoryStore is the slice of the memory manager the extractor needs.
type MemoryStore interface {
	Available() bool
	Store(ctx context.Context, req memory.StoreRequest) (string, error)
}

var (
	jsonArrayRe  = regexp.MustCompile(`\[[^\]]*\]`)
	jsonObjectRe = regexp.MustCompile(`\{[^}]*\}`)
)

// extractedMemory is one entry of the extraction response.
type extractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// Extractor asks the LLM to distill a conversation into memories and
// stores the results. Every failure is swallowed and logged; memory
// extraction never fails a turn.
type Extractor struct {
	llm    providers.Provider
	store  MemoryStore
	logger *slog.Logger
}

// NewExtractor builds an extractor. store may be nil, which disables
// extraction.
func NewExtractor(llm providers.Provider, store MemoryStore) *Extractor {
	return &Extractor{
		llm:    llm,
		store:  store,
		logger: slog.Default().With("component", "memory_extractor"),
	}
}

// Extract runs one extraction pass over the tail of a conversation and
// stores each valid entry with duplicate checking enabled. Returns the
// number of memories stored.
func (e *Extractor) Extract(ctx context.Context, sessionID string, messages []providers.Message) int {
	if e.store == nil || !e.store.Available() {
		e.logger.Debug("memory features not available, skipping extraction")
		return 0
	}

	recent := messages
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	conversation, err := json.MarshalIndent(recent, "", "  ")
	if err != nil {
		e.logger.Warn("failed to serialize conversation for extraction", "error", err)
		return 0
	}

	resp, err := e.llm.Chat(ctx, &providers.ChatRequest{
		System: extractionSystemPrompt,
		Messages: []providers.Message{{
			Role:    "user",
			Content: memoryExtractionPrompt + "\n\nConversation:\n" + string(conversation),
		}},
	})
	if err != nil {
		e.logger.Error("memory extraction LLM call failed", "session_id", sessionID, "error", err)
		return 0
	}

	entries := parseExtraction(resp.Content)
	if len(entries) == 0 {
		e.logger.Info("no memories extracted", "session_id", sessionID)
		return 0
	}

	stored := 0
	for _, entry := range entries {
		if entry.Content == "" {
			continue
		}
		importance := entry.Importance
		if importance == 0 {
			importance = 0.5
		}
		e.logger.Info("storing memory",
			"type", entry.Type,
			"importance", importance,
			"content_preview", format.Truncate(entry.Content, 100),
			"session_id", sessionID)

		if _, err := e.store.Store(ctx, memory.StoreRequest{
			Content:         entry.Content,
			MemoryType:      entry.Type,
			Importance:      importance,
			SourceSessionID: sessionID,
			CheckDuplicates: true,
		}); err != nil {
			e.logger.Warn("failed to store extracted memory", "error", err)
			continue
		}
		stored++
	}
	e.logger.Info("memory extraction complete",
		"session_id", sessionID, "stored", stored, "extracted", len(entries))
	return stored
}

// parseExtraction turns the LLM's extraction response into entries,
// tolerating markdown fences and stray prose around the JSON.
func parseExtraction(content string) []extractedMemory {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	content = stripCodeFence(content)
	if content == "[]" {
		return nil
	}

	var entries []extractedMemory
	if err := json.Unmarshal([]byte(content), &entries); err == nil {
		return entries
	}

	if match := jsonArrayRe.FindString(content); match != "" {
		if err := json.Unmarshal([]byte(match), &entries); err == nil {
			return entries
		}
	}
	if match := jsonObjectRe.FindString(content); match != "" {
		var single extractedMemory
		if err := json.Unmarshal([]byte(match), &single); err == nil {
			return []extractedMemory{single}
		}
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code block, if any.
func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "```" {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
