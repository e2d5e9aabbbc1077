// Package config loads PulseBot configuration from YAML with
// environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for PulseBot.
type Config struct {
	Agent          AgentConfig          `yaml:"agent"`
	Timeplus       TimeplusConfig       `yaml:"timeplus"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Channels       ChannelsConfig       `yaml:"channels"`
	Skills         SkillsConfig         `yaml:"skills"`
	ScheduledTasks ScheduledTasksConfig `yaml:"scheduled_tasks"`
	API            APIConfig            `yaml:"api"`
	Logging        LoggingConfig        `yaml:"logging"`
	Memory         MemoryConfig         `yaml:"memory"`
}

type AgentConfig struct {
	Name               string  `yaml:"name"`
	Model              string  `yaml:"model"`
	Provider           string  `yaml:"provider"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	MaxIterations      int     `yaml:"max_iterations"`
	CustomIdentity     string  `yaml:"custom_identity"`
	CustomInstructions string  `yaml:"custom_instructions"`
}

type TimeplusConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `yaml:"anthropic"`
	OpenAI     ProviderConfig `yaml:"openai"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	Ollama     OllamaConfig   `yaml:"ollama"`
	Nvidia     NvidiaConfig   `yaml:"nvidia"`
}

type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

type OllamaConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NvidiaConfig struct {
	APIKey         string `yaml:"api_key"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webchat  WebchatConfig  `yaml:"webchat"`
}

type TelegramConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type WebchatConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SkillsConfig struct {
	Builtin   []string        `yaml:"builtin"`
	SkillDirs []string        `yaml:"skill_dirs"`
	Disabled  []string        `yaml:"disabled_skills"`
	Watch     bool            `yaml:"watch"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	FileOps   FileOpsConfig   `yaml:"file_ops"`
	Shell     ShellConfig     `yaml:"shell"`
}

type WebSearchConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	SearxngURL string `yaml:"searxng_url"`
}

type FileOpsConfig struct {
	BasePath          string   `yaml:"base_path"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ShellConfig struct {
	AllowedCommands  []string `yaml:"allowed_commands"`
	WorkingDirectory string   `yaml:"working_directory"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
}

type ScheduledTasksConfig struct {
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	DailySummary DailySummaryConfig `yaml:"daily_summary"`
	CostAlert    CostAlertConfig    `yaml:"cost_alert"`
}

type HeartbeatConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval string   `yaml:"interval"`
	Checks   []string `yaml:"checks"`
}

type DailySummaryConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Include []string `yaml:"include"`
}

type CostAlertConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdUSD float64 `yaml:"threshold_usd"`
}

type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MemoryConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	SimilarityThreshold     float64 `yaml:"similarity_threshold"`
	EmbeddingProvider       string  `yaml:"embedding_provider"`
	EmbeddingModel          string  `yaml:"embedding_model"`
	EmbeddingAPIKey         string  `yaml:"embedding_api_key"`
	EmbeddingHost           string  `yaml:"embedding_host"`
	EmbeddingDimensions     int     `yaml:"embedding_dimensions"`
	EmbeddingTimeoutSeconds int     `yaml:"embedding_timeout_seconds"`
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:-default} references in raw
// YAML text. Unset variables without a default expand to the empty
// string.
func expandEnv(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// Load reads and parses the configuration file at path. A missing file
// is not an error: defaults are returned so a fresh checkout can run
// against a local Timeplus.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults sets sensible defaults for unspecified values.
func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "PulseBot"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = "anthropic"
	}
	if cfg.Agent.Temperature == 0 {
		cfg.Agent.Temperature = 0.7
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Timeplus.Host == "" {
		cfg.Timeplus.Host = "localhost"
	}
	if cfg.Timeplus.Port == 0 {
		cfg.Timeplus.Port = 8463
	}
	if cfg.Timeplus.Username == "" {
		cfg.Timeplus.Username = "default"
	}
	if cfg.Providers.Ollama.Host == "" {
		cfg.Providers.Ollama.Host = "http://localhost:11434"
	}
	if cfg.Providers.Ollama.DefaultModel == "" {
		cfg.Providers.Ollama.DefaultModel = "llama3"
	}
	if cfg.Providers.Ollama.TimeoutSeconds == 0 {
		cfg.Providers.Ollama.TimeoutSeconds = 120
	}
	if cfg.Providers.Nvidia.TimeoutSeconds == 0 {
		cfg.Providers.Nvidia.TimeoutSeconds = 120
	}
	if len(cfg.Skills.Builtin) == 0 {
		cfg.Skills.Builtin = []string{"web_search", "file_ops", "shell"}
	}
	if cfg.Skills.WebSearch.Provider == "" {
		cfg.Skills.WebSearch.Provider = "brave"
	}
	if cfg.Skills.WebSearch.SearxngURL == "" {
		cfg.Skills.WebSearch.SearxngURL = "http://localhost:8080"
	}
	if cfg.Skills.FileOps.BasePath == "" {
		cfg.Skills.FileOps.BasePath = "."
	}
	if cfg.Skills.Shell.TimeoutSeconds == 0 {
		cfg.Skills.Shell.TimeoutSeconds = 30
	}
	if cfg.ScheduledTasks.Heartbeat.Interval == "" {
		cfg.ScheduledTasks.Heartbeat.Interval = "30m"
	}
	if len(cfg.ScheduledTasks.Heartbeat.Checks) == 0 {
		cfg.ScheduledTasks.Heartbeat.Checks = []string{"calendar", "reminders"}
	}
	if cfg.ScheduledTasks.DailySummary.Cron == "" {
		cfg.ScheduledTasks.DailySummary.Cron = "0 9 * * *"
	}
	if len(cfg.ScheduledTasks.DailySummary.Include) == 0 {
		cfg.ScheduledTasks.DailySummary.Include = []string{"calendar", "weather", "news", "reminders"}
	}
	if cfg.ScheduledTasks.CostAlert.ThresholdUSD == 0 {
		cfg.ScheduledTasks.CostAlert.ThresholdUSD = 5.0
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8000
	}
	if cfg.Channels.Webchat.Port == 0 {
		cfg.Channels.Webchat.Port = 8000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Memory.SimilarityThreshold == 0 {
		cfg.Memory.SimilarityThreshold = 0.95
	}
	if cfg.Memory.EmbeddingProvider == "" {
		cfg.Memory.EmbeddingProvider = "openai"
	}
	if cfg.Memory.EmbeddingModel == "" {
		cfg.Memory.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Memory.EmbeddingTimeoutSeconds == 0 {
		cfg.Memory.EmbeddingTimeoutSeconds = 30
	}
}
