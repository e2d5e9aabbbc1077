// Package main provides the CLI entry point for PulseBot, a
// stream-native conversational agent built on Timeplus.
//
// All runtime state flows through append-only streams: user messages,
// agent responses, LLM telemetry, tool executions, and long-term
// memories. The agent itself is a stream consumer; channels and the
// API are stream producers.
//
// # Basic Usage
//
// Create the streams and a starter config:
//
//	pulsebot setup
//	pulsebot init
//
// Start the full runtime (agent, channels, API, scheduled tasks):
//
//	pulsebot run --config config.yaml
//
// Chat from the terminal against a running agent:
//
//	pulsebot chat
//
// # Environment Variables
//
// Configuration values can reference environment variables with
// ${VAR} or ${VAR:-default} syntax:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models and embeddings
//   - OPENROUTER_API_KEY: OpenRouter API key
//   - NVIDIA_API_KEY: NVIDIA NIM API key
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
//   - BRAVE_API_KEY: Brave Search API key for the web_search skill
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulsebot",
		Short: "PulseBot - Stream-native AI agent on Timeplus",
		Long: `PulseBot is a conversational AI agent where all state lives in
append-only Timeplus streams.

Channels (Telegram, webchat) write user messages to the message
stream; the agent tails it, reasons with an LLM, executes skills,
and writes responses back. Every LLM call and tool execution is
logged to its own stream, so the full history of the system is a
SQL query away.

Supported LLM providers: Anthropic, OpenAI, OpenRouter, NVIDIA, Ollama`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildChatCmd(),
		buildSetupCmd(),
		buildInitCmd(),
		buildTaskCmd(),
	)

	return rootCmd
}
