package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/pulsebot/internal/agent"
	"github.com/haasonsaas/pulsebot/internal/channels"
	"github.com/haasonsaas/pulsebot/internal/config"
	"github.com/haasonsaas/pulsebot/internal/embeddings"
	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/gateway"
	"github.com/haasonsaas/pulsebot/internal/memory"
	"github.com/haasonsaas/pulsebot/internal/providers"
	"github.com/haasonsaas/pulsebot/internal/scheduler"
	"github.com/haasonsaas/pulsebot/internal/skills"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// configureLogging applies the configured log level and format,
// replacing the startup default.
func configureLogging(cfg config.LoggingConfig, debug bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func connect(ctx context.Context, cfg *config.Config) (*timeplus.Client, error) {
	return timeplus.Connect(ctx, timeplus.Options{
		Host:     cfg.Timeplus.Host,
		Port:     cfg.Timeplus.Port,
		Username: cfg.Timeplus.Username,
		Password: cfg.Timeplus.Password,
	})
}

// buildProvider constructs the configured LLM provider. The agent's
// model overrides the provider's default when set.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	model := cfg.Agent.Model
	switch cfg.Agent.Provider {
	case "anthropic":
		return providers.NewAnthropic(cfg.Providers.Anthropic.APIKey, pick(model, cfg.Providers.Anthropic.DefaultModel))
	case "openai":
		return providers.NewOpenAI(cfg.Providers.OpenAI.APIKey, pick(model, cfg.Providers.OpenAI.DefaultModel))
	case "openrouter":
		return providers.NewOpenRouter(cfg.Providers.OpenRouter.APIKey, pick(model, cfg.Providers.OpenRouter.DefaultModel))
	case "nvidia":
		return providers.NewNvidia(cfg.Providers.Nvidia.APIKey, pick(model, cfg.Providers.Nvidia.DefaultModel))
	case "ollama":
		timeout := time.Duration(cfg.Providers.Ollama.TimeoutSeconds) * time.Second
		return providers.NewOllama(cfg.Providers.Ollama.Host, pick(model, cfg.Providers.Ollama.DefaultModel), timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Agent.Provider)
	}
}

// buildEmbedder constructs the embedding provider for semantic memory.
func buildEmbedder(cfg config.MemoryConfig) (embeddings.Provider, error) {
	timeout := time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second
	switch cfg.EmbeddingProvider {
	case "openai":
		return embeddings.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions), nil
	case "ollama":
		host := cfg.EmbeddingHost
		if host == "" {
			host = "http://localhost:11434"
		}
		return embeddings.NewOllama(host, cfg.EmbeddingModel, cfg.EmbeddingDimensions, timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.EmbeddingProvider)
	}
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// runRun starts the full runtime: agent loop, scheduled task
// producers, enabled channels, the webchat gateway, and the skill
// watcher. It blocks until a signal arrives or a component fails.
func runRun(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg.Logging, debug)

	slog.Info("starting PulseBot",
		"version", version,
		"config", configPath,
		"provider", cfg.Agent.Provider,
		"model", cfg.Agent.Model,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := timeplus.CreateStreams(ctx, client); err != nil {
		return fmt.Errorf("creating streams: %w", err)
	}
	if err := timeplus.VerifyStreams(ctx, client); err != nil {
		return fmt.Errorf("verifying streams: %w", err)
	}

	messages := timeplus.NewStreamWriter(client, timeplus.StreamMessages)
	llmLogs := timeplus.NewStreamWriter(client, timeplus.StreamLLMLogs)
	toolLogs := timeplus.NewStreamWriter(client, timeplus.StreamToolLogs)
	events := timeplus.NewStreamWriter(client, timeplus.StreamEvents)
	reader := timeplus.NewStreamReader(client, timeplus.StreamMessages)

	llm, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry, bridge, packs, err := skills.FromConfig(cfg.Skills)
	if err != nil {
		return fmt.Errorf("loading skills: %w", err)
	}
	slog.Info("skills loaded", "tools", len(registry.Tools()), "packs", len(packs))

	var mem *memory.Manager
	var searcher agent.MemorySearcher
	var extractor *agent.Extractor
	if cfg.Memory.Enabled {
		embedder, err := buildEmbedder(cfg.Memory)
		if err != nil {
			return err
		}
		mem = memory.NewManager(client, embedder, cfg.Memory.SimilarityThreshold)
		searcher = mem
		extractor = agent.NewExtractor(llm, mem)
	}

	modelInfo := fmt.Sprintf("%s (%s)", llm.Model(), llm.Name())
	builder := agent.NewContextBuilder(reader, searcher, agent.BuilderOptions{
		AgentName:          cfg.Agent.Name,
		CustomIdentity:     cfg.Agent.CustomIdentity,
		CustomInstructions: cfg.Agent.CustomInstructions,
		ModelInfo:          modelInfo,
		SkillsIndex:        skills.FormatPackIndex(packs),
	})
	executor := agent.NewExecutor(registry, 60*time.Second)
	observer := agent.NewObserver(llmLogs, toolLogs, events)

	ag := agent.New(agent.Options{
		AgentName:     cfg.Agent.Name,
		ModelInfo:     modelInfo,
		MaxIterations: cfg.Agent.MaxIterations,
	}, reader, messages, llm, builder, executor, observer, extractor)

	errCh := make(chan error, 8)
	start := func(name string, run func(context.Context) error) {
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}

	start("agent", ag.Run)
	start("scheduler", scheduler.New(cfg.ScheduledTasks, messages, events, client).Run)

	if cfg.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegram(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowFrom, messages, reader)
		if err != nil {
			return fmt.Errorf("telegram channel: %w", err)
		}
		start("telegram", tg.Run)
	}

	if cfg.Channels.Webchat.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		start("gateway", gateway.New(addr, version, messages, reader, reader).Run)
	}

	if cfg.Skills.Watch && bridge != nil && len(cfg.Skills.SkillDirs) > 0 {
		start("skill watcher", skills.NewWatcher(cfg.Skills.SkillDirs, bridge).Run)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// runServe starts only the webchat gateway, for deployments that run
// the agent elsewhere.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg.Logging, debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := timeplus.VerifyStreams(ctx, client); err != nil {
		return fmt.Errorf("verifying streams: %w", err)
	}

	messages := timeplus.NewStreamWriter(client, timeplus.StreamMessages)
	reader := timeplus.NewStreamReader(client, timeplus.StreamMessages)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	return gateway.New(addr, version, messages, reader, reader).Run(ctx)
}

// runChat is an interactive terminal session speaking through the
// streams: each line becomes a user_input row, and agent responses
// for the session are tailed and printed.
func runChat(ctx context.Context, configPath, sessionID string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg.Logging, false)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if sessionID == "" {
		sessionID = "cli_" + uuid.NewString()[:8]
	}

	messages := timeplus.NewStreamWriter(client, timeplus.StreamMessages)
	reader := timeplus.NewStreamReader(client, timeplus.StreamMessages)

	filter := fmt.Sprintf(
		"session_id = '%s' AND target = 'channel:cli' AND message_type IN ('agent_response', 'tool_call')",
		timeplus.Quote(sessionID))
	rows, errs := reader.Stream(ctx, filter, "latest")

	fmt.Fprintf(out, "Session %s. Type a message, Ctrl-D to exit.\n", sessionID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return fmt.Errorf("response tail failed: %w", err)
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			printResponse(out, timeplus.MessageFromRow(row))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				fmt.Fprint(out, "> ")
				continue
			}
			_, err := messages.Write(ctx, map[string]any{
				"source":           "cli",
				"target":           "agent",
				"session_id":       sessionID,
				"message_type":     "user_input",
				"content":          format.JSONString(map[string]any{"text": line}, "{}"),
				"user_id":          "cli",
				"channel_metadata": "",
				"priority":         int8(0),
			})
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
		}
	}
}

func printResponse(out io.Writer, msg timeplus.Message) {
	switch msg.MessageType {
	case "agent_response":
		fmt.Fprintf(out, "%s\n> ", extractText(msg.Content))
	case "tool_call":
		var content map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
			return
		}
		if content["status"] == "started" {
			fmt.Fprintf(out, "[running %v]\n", content["tool_name"])
		}
	}
}

func extractText(content string) string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return content
	}
	if text, ok := parsed["text"].(string); ok {
		return text
	}
	return content
}

// runSetup provisions the streams, optionally dropping them first.
func runSetup(ctx context.Context, configPath string, drop bool, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if drop {
		fmt.Fprintln(out, "Dropping existing streams...")
		if err := timeplus.DropStreams(ctx, client); err != nil {
			return fmt.Errorf("dropping streams: %w", err)
		}
	}
	if err := timeplus.CreateStreams(ctx, client); err != nil {
		return fmt.Errorf("creating streams: %w", err)
	}
	if err := timeplus.VerifyStreams(ctx, client); err != nil {
		return fmt.Errorf("verifying streams: %w", err)
	}

	fmt.Fprintln(out, "Streams ready:")
	for _, name := range []string{
		timeplus.StreamMessages,
		timeplus.StreamLLMLogs,
		timeplus.StreamToolLogs,
		timeplus.StreamMemory,
		timeplus.StreamEvents,
	} {
		fmt.Fprintf(out, "  - %s\n", name)
	}
	return nil
}

// runInit writes the starter config file.
func runInit(configPath string, out io.Writer) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if err := config.WriteDefault(configPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Config written: %s\n", configPath)
	fmt.Fprintln(out, "Edit it to set your provider API keys, then run: pulsebot setup")
	return nil
}

// runTaskList prints the scheduled task table.
func runTaskList(configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	jobs := scheduler.New(cfg.ScheduledTasks, nil, nil, nil).Jobs()
	fmt.Fprintln(out, "Scheduled tasks:")
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(out, "  - %s (%s) [%s]\n", job.Name, job.Schedule, status)
	}
	return nil
}
