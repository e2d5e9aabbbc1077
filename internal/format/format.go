// Package format holds small text helpers shared across the runtime:
// preview truncation, content hashing, and tool argument summaries.
package format

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Truncate shortens s to at most max characters, replacing the tail
// with "..." when anything was cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// HashContent returns the hex-encoded SHA-256 digest of content.
// Used for system prompt hashes in LLM logs so the log never carries
// the full prompt.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SummarizeArgs builds a short human-readable summary of a tool call
// for status broadcasts. It picks the most recognizable argument.
func SummarizeArgs(args map[string]any) string {
	if cmd, ok := args["command"].(string); ok {
		return fmt.Sprintf("`%s`", Truncate(cmd, 80))
	}
	if query, ok := args["query"].(string); ok {
		return fmt.Sprintf("%q", Truncate(query, 60))
	}
	if path, ok := args["path"].(string); ok {
		return fmt.Sprintf("`%s`", path)
	}
	if url, ok := args["url"].(string); ok {
		return fmt.Sprintf("`%s`", url)
	}
	if name, ok := args["filename"].(string); ok {
		return fmt.Sprintf("`%s`", name)
	}
	if content, ok := args["content"].(string); ok {
		return fmt.Sprintf("%q", Truncate(content, 40))
	}
	for key, val := range args {
		return fmt.Sprintf("%s: %s", key, Truncate(fmt.Sprintf("%v", val), 50))
	}
	return ""
}

// JSONString marshals v, falling back to fallback on failure. Stream
// payloads are always JSON strings so writers never error on encoding.
func JSONString(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}
