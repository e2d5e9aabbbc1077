package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Name != "PulseBot" {
		t.Errorf("Agent.Name = %q, want PulseBot", cfg.Agent.Name)
	}
	if cfg.Timeplus.Port != 8463 {
		t.Errorf("Timeplus.Port = %d, want 8463", cfg.Timeplus.Port)
	}
	if cfg.Memory.SimilarityThreshold != 0.95 {
		t.Errorf("Memory.SimilarityThreshold = %v, want 0.95", cfg.Memory.SimilarityThreshold)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("Agent.MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("PULSEBOT_TEST_HOST", "timeplus.internal")

	path := writeConfig(t, `
timeplus:
  host: "${PULSEBOT_TEST_HOST}"
  password: "${PULSEBOT_TEST_PASSWORD:-fallback}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeplus.Host != "timeplus.internal" {
		t.Errorf("Host = %q, want substituted value", cfg.Timeplus.Host)
	}
	if cfg.Timeplus.Password != "fallback" {
		t.Errorf("Password = %q, want default fallback", cfg.Timeplus.Password)
	}
}

func TestLoadEnvSubstitutionUnsetWithoutDefault(t *testing.T) {
	path := writeConfig(t, `
providers:
  anthropic:
    api_key: "${PULSEBOT_TEST_UNSET_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		t.Errorf("APIKey = %q, want empty for unset var", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadEnvSubstitutionSetVariableBeatsDefault(t *testing.T) {
	t.Setenv("PULSEBOT_TEST_USER", "alice")

	path := writeConfig(t, `
timeplus:
  username: "${PULSEBOT_TEST_USER:-default}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeplus.Username != "alice" {
		t.Errorf("Username = %q, want alice", cfg.Timeplus.Username)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "agent: [not: valid: yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with invalid YAML should error")
	}
}

func TestLoadOverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
agent:
  provider: "ollama"
memory:
  similarity_threshold: 0.9
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", cfg.Agent.Provider)
	}
	if cfg.Memory.SimilarityThreshold != 0.9 {
		t.Errorf("SimilarityThreshold = %v, want 0.9", cfg.Memory.SimilarityThreshold)
	}
	// Untouched sections still get defaults.
	if cfg.Skills.Shell.TimeoutSeconds != 30 {
		t.Errorf("Shell.TimeoutSeconds = %d, want 30", cfg.Skills.Shell.TimeoutSeconds)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of generated config error = %v", err)
	}
	if cfg.Agent.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Agent.Provider)
	}
	if !cfg.ScheduledTasks.Heartbeat.Enabled {
		t.Error("generated config should enable heartbeat")
	}
}
