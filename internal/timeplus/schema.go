package timeplus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSchemaMismatch indicates a stream exists but is missing required
// columns, usually after an upgrade with stale streams.
var ErrSchemaMismatch = errors.New("stream schema mismatch")

// Stream names used throughout the runtime.
const (
	StreamMessages = "messages"
	StreamLLMLogs  = "llm_logs"
	StreamToolLogs = "tool_logs"
	StreamMemory   = "memory"
	StreamEvents   = "events"
)

const messagesStreamDDL = `
CREATE STREAM IF NOT EXISTS messages (
    id string DEFAULT uuid(),
    timestamp datetime64(3) DEFAULT now64(3),

    -- Routing
    source string,           -- 'telegram', 'webchat', 'agent', 'skill', 'system'
    target string,           -- 'agent', 'channel:telegram', 'broadcast'
    session_id string,

    -- Content
    message_type string,     -- 'user_input', 'agent_response', 'tool_call', 'tool_result', 'error'
    content string,          -- JSON payload

    -- Metadata
    user_id string,
    channel_metadata string, -- Channel-specific data (JSON)
    priority int8 DEFAULT 0  -- -1: low, 0: normal, 1: high, 2: urgent
)
SETTINGS event_time_column='timestamp'`

const llmLogsStreamDDL = `
CREATE STREAM IF NOT EXISTS llm_logs (
    id string DEFAULT uuid(),
    timestamp datetime64(3) DEFAULT now64(3),

    -- Request
    session_id string,
    model string,
    provider string,            -- 'anthropic', 'openai', 'openrouter', 'ollama', 'nvidia'

    -- Tokens and cost
    input_tokens int32,
    output_tokens int32,
    total_tokens int32,
    estimated_cost float32,     -- USD

    -- Timing
    latency_ms int32,
    time_to_first_token_ms int32 DEFAULT 0,

    -- Content previews for debugging
    system_prompt_hash string,  -- SHA256, never the full prompt
    user_message_preview string,
    assistant_response_preview string,

    -- Tool usage
    tools_called array(string),
    tool_call_count int8,

    -- Status
    status string,              -- 'success', 'error', 'rate_limited', 'timeout'
    error_message string DEFAULT ''
)
SETTINGS event_time_column='timestamp'`

const toolLogsStreamDDL = `
CREATE STREAM IF NOT EXISTS tool_logs (
    id string DEFAULT uuid(),
    timestamp datetime64(3) DEFAULT now64(3),

    -- Context
    session_id string,
    llm_request_id string,      -- Links to the LLM call that triggered this

    -- Tool info
    tool_name string,
    skill_name string,
    arguments string,           -- JSON of tool arguments

    -- Result
    status string,              -- 'started', 'success', 'error'
    result_preview string,      -- First 500 chars of result
    error_message string DEFAULT '',

    -- Timing
    duration_ms int32 DEFAULT 0
)
SETTINGS event_time_column='timestamp'`

const memoryStreamDDL = `
CREATE STREAM IF NOT EXISTS memory (
    id string DEFAULT uuid(),
    timestamp datetime64(3) DEFAULT now64(3),

    -- Classification
    memory_type string,         -- 'fact', 'preference', 'conversation_summary', 'skill_learned'
    category string,            -- 'user_info', 'project', 'schedule', 'general'

    -- Content
    content string,
    source_session_id string,

    -- Vector embedding for semantic search
    embedding array(float32),   -- 1536-dim for OpenAI, 1024 for others

    -- Lifecycle
    importance float32,         -- 0.0 to 1.0, weights retrieval
    is_deleted bool DEFAULT false  -- Soft delete flag (append-only stream)
)
SETTINGS event_time_column='timestamp'`

const eventsStreamDDL = `
CREATE STREAM IF NOT EXISTS events (
    id string DEFAULT uuid(),
    timestamp datetime64(3) DEFAULT now64(3),

    event_type string,          -- 'heartbeat', 'channel_connected', 'skill_loaded', 'error', 'alert'
    source string,
    severity string,            -- 'debug', 'info', 'warning', 'error', 'critical'

    payload string,             -- JSON event data

    -- For filtering
    tags array(string)
)
SETTINGS event_time_column='timestamp'`

var streamDDL = []struct {
	name string
	ddl  string
}{
	{StreamMessages, messagesStreamDDL},
	{StreamLLMLogs, llmLogsStreamDDL},
	{StreamToolLogs, toolLogsStreamDDL},
	{StreamMemory, memoryStreamDDL},
	{StreamEvents, eventsStreamDDL},
}

// requiredColumns lists the columns each stream must expose for the
// runtime to function. Extra columns are tolerated.
var requiredColumns = map[string][]string{
	StreamMessages: {"id", "timestamp", "source", "target", "session_id", "message_type", "content", "user_id", "channel_metadata", "priority"},
	StreamLLMLogs:  {"id", "timestamp", "session_id", "model", "provider", "input_tokens", "output_tokens", "total_tokens", "estimated_cost", "latency_ms", "system_prompt_hash", "user_message_preview", "assistant_response_preview", "tools_called", "tool_call_count", "status", "error_message"},
	StreamToolLogs: {"id", "timestamp", "session_id", "llm_request_id", "tool_name", "skill_name", "arguments", "status", "result_preview", "error_message", "duration_ms"},
	StreamMemory:   {"id", "timestamp", "memory_type", "category", "content", "source_session_id", "embedding", "importance", "is_deleted"},
	StreamEvents:   {"id", "timestamp", "event_type", "source", "severity", "payload", "tags"},
}

// CreateStreams creates every runtime stream, tolerating streams that
// already exist.
func CreateStreams(ctx context.Context, q Querier) error {
	logger := slog.Default().With("component", "timeplus")
	for _, s := range streamDDL {
		if err := q.Execute(ctx, s.ddl); err != nil {
			return fmt.Errorf("creating stream %s: %w", s.name, err)
		}
		logger.Info("stream ready", "stream", s.name)
	}
	return nil
}

// DropStreams removes every runtime stream and all data in them.
func DropStreams(ctx context.Context, q Querier) error {
	logger := slog.Default().With("component", "timeplus")
	for _, s := range streamDDL {
		if err := q.Execute(ctx, fmt.Sprintf("DROP STREAM IF EXISTS %s", s.name)); err != nil {
			return fmt.Errorf("dropping stream %s: %w", s.name, err)
		}
		logger.Warn("stream dropped", "stream", s.name)
	}
	return nil
}

// VerifyStreams checks that every stream exists and carries the
// columns the runtime reads and writes. Returns ErrSchemaMismatch
// naming the first missing column.
func VerifyStreams(ctx context.Context, q Querier) error {
	for _, s := range streamDDL {
		rows, err := q.Query(ctx, fmt.Sprintf("DESCRIBE STREAM %s", s.name))
		if err != nil {
			return fmt.Errorf("describing stream %s: %w", s.name, err)
		}
		present := make(map[string]bool, len(rows))
		for _, row := range rows {
			present[row.String("name")] = true
		}
		for _, col := range requiredColumns[s.name] {
			if !present[col] {
				return fmt.Errorf("%w: stream %s is missing column %s", ErrSchemaMismatch, s.name, col)
			}
		}
	}
	return nil
}
