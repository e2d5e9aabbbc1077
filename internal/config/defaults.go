package config

import (
	"fmt"
	"os"
)

// defaultConfigYAML is the annotated starter config written by
// `pulsebot init`.
const defaultConfigYAML = `# PulseBot Configuration
# Environment variables can be substituted with ${VAR_NAME} or
# ${VAR_NAME:-default} syntax.

agent:
  name: "PulseBot"
  model: "claude-sonnet-4-20250514"
  provider: "anthropic"
  temperature: 0.7
  max_tokens: 4096

timeplus:
  host: "${TIMEPLUS_HOST:-localhost}"
  port: 8463
  username: "${TIMEPLUS_USER:-default}"
  password: "${TIMEPLUS_PASSWORD:-}"

providers:
  anthropic:
    api_key: "${ANTHROPIC_API_KEY}"
    default_model: "claude-sonnet-4-20250514"

  openai:
    api_key: "${OPENAI_API_KEY}"
    default_model: "gpt-4o"

  openrouter:
    api_key: "${OPENROUTER_API_KEY}"

  ollama:
    enabled: false
    host: "${OLLAMA_HOST:-http://localhost:11434}"
    default_model: "llama3"

  nvidia:
    api_key: "${NVIDIA_API_KEY}"
    default_model: "moonshotai/kimi-k2.5"

channels:
  telegram:
    enabled: false
    token: "${TELEGRAM_BOT_TOKEN}"
    allow_from: []

  webchat:
    enabled: true
    port: 8000

skills:
  builtin:
    - web_search
    - file_ops
    - shell

  # Directories scanned for instruction skill packages (SKILL.md).
  skill_dirs: []
  disabled_skills: []
  watch: false

  web_search:
    provider: "brave"
    api_key: "${BRAVE_API_KEY}"
    searxng_url: "http://localhost:8080"

scheduled_tasks:
  heartbeat:
    enabled: true
    interval: "30m"

  daily_summary:
    enabled: false
    cron: "0 9 * * *"

  cost_alert:
    enabled: true
    threshold_usd: 5.0

api:
  host: "0.0.0.0"
  port: 8000

logging:
  level: "info"
  format: "json"

memory:
  enabled: true
  similarity_threshold: 0.95  # Duplicate detection sensitivity (0.0-1.0)

  # Embedding provider for memory operations: "openai" or "ollama".
  embedding_provider: "openai"
  embedding_model: "text-embedding-3-small"  # OpenAI: text-embedding-3-small (1536), text-embedding-3-large (3072)
                                             # Ollama: mxbai-embed-large (1024), all-minilm (384), nomic-embed-text (768)
  # embedding_api_key: "${OPENAI_API_KEY}"   # Optional: override the OpenAI API key
  # embedding_host: "${OLLAMA_HOST}"         # Optional: override the Ollama host
  # embedding_dimensions: 1536               # Optional: auto-detected if not set
  embedding_timeout_seconds: 30
`

// WriteDefault writes the annotated default configuration to path.
func WriteDefault(path string) error {
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
