// Package gateway serves the webchat API: a REST surface for sending
// messages and reading history, plus a WebSocket bridge that relays
// agent responses and tool-call progress in real time.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pulsebot/internal/format"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// RowWriter appends one row to a stream.
type RowWriter interface {
	Write(ctx context.Context, data map[string]any) (string, error)
}

// MessageSource tails the message stream. Each call opens its own
// transport, so concurrent WebSocket sessions do not contend.
type MessageSource interface {
	Stream(ctx context.Context, filter, seekTo string) (<-chan timeplus.Row, <-chan error)
}

// HistorySource reads past rows from the message stream.
type HistorySource interface {
	ReadHistory(ctx context.Context, f timeplus.HistoryFilter) ([]timeplus.Row, error)
}

// Server is the webchat gateway.
type Server struct {
	addr     string
	version  string
	messages RowWriter
	reader   MessageSource
	history  HistorySource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds the gateway server.
func New(addr, version string, messages RowWriter, reader MessageSource, history HistorySource) *Server {
	return &Server{
		addr:     addr,
		version:  version,
		messages: messages,
		reader:   reader,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger: slog.Default().With("component", "gateway"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws/{session}", s.handleWebSocket)
	mux.HandleFunc("GET /sessions/{session}/history", s.handleHistory)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// sessionIDPattern bounds client-chosen session identifiers. Every
// session minted by the runtime (uuid, tg_*, cli_*) matches it, and
// it keeps arbitrary path values out of stream filters.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if !sessionIDPattern.MatchString(sessionID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	messageID, err := s.writeUserInput(r.Context(), sessionID, req.Message)
	if err != nil {
		s.logger.Error("failed to write chat message", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to accept message"})
		return
	}

	s.logger.Info("chat message received", "session_id", sessionID, "message_id", messageID)
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"message_id": messageID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if !sessionIDPattern.MatchString(sessionID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := s.history.ReadHistory(r.Context(), timeplus.HistoryFilter{
		SessionID: sessionID,
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("history query failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = map[string]any{
			"id":        row.String("id"),
			"timestamp": row.Time("timestamp").UTC().Format(time.RFC3339Nano),
			"type":      row.String("message_type"),
			"content":   row.String("content"),
			"source":    row.String("source"),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// wsInbound is a client frame: {"type": "message", "text": "..."}.
type wsInbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if !sessionIDPattern.MatchString(sessionID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket connected", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.relayResponses(ctx, cancel, conn, sessionID)
	s.readClientMessages(ctx, conn, sessionID)
}

// readClientMessages consumes client frames until the socket closes,
// routing each message onto the stream.
func (s *Server) readClientMessages(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		var frame wsInbound
		if err := conn.ReadJSON(&frame); err != nil {
			s.logger.Info("websocket disconnected", "session_id", sessionID)
			return
		}
		if frame.Type != "message" || frame.Text == "" {
			continue
		}
		if _, err := s.writeUserInput(ctx, sessionID, frame.Text); err != nil {
			s.logger.Error("failed to route websocket message", "session_id", sessionID, "error", err)
			return
		}
	}
}

// relayResponses tails the session's agent responses and tool-call
// transitions and forwards them as frames.
func (s *Server) relayResponses(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string) {
	defer cancel()

	filter := fmt.Sprintf(
		"session_id = '%s' AND target = 'channel:webchat' AND message_type IN ('agent_response', 'tool_call')",
		timeplus.Quote(sessionID))
	rows, errs := s.reader.Stream(ctx, filter, "latest")

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Error("websocket tail failed", "session_id", sessionID, "error", err)
			return
		case row, ok := <-rows:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundFrame(timeplus.MessageFromRow(row))); err != nil {
				s.logger.Info("websocket closed during send", "session_id", sessionID)
				return
			}
		}
	}
}

// outboundFrame converts a stream row into the client frame format.
func outboundFrame(msg timeplus.Message) map[string]any {
	var content map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		content = map[string]any{"text": msg.Content}
	}

	if msg.MessageType == "tool_call" {
		return map[string]any{
			"type":           "tool_call",
			"tool_name":      content["tool_name"],
			"status":         content["status"],
			"arguments":      content["arguments"],
			"args_summary":   content["args_summary"],
			"result_preview": content["result_preview"],
			"duration_ms":    content["duration_ms"],
			"message_id":     msg.ID,
		}
	}
	text, _ := content["text"].(string)
	return map[string]any{
		"type":       "response",
		"text":       text,
		"message_id": msg.ID,
	}
}

func (s *Server) writeUserInput(ctx context.Context, sessionID, text string) (string, error) {
	return s.messages.Write(ctx, map[string]any{
		"source":           "webchat",
		"target":           "agent",
		"session_id":       sessionID,
		"message_type":     "user_input",
		"content":          format.JSONString(map[string]any{"text": text}, "{}"),
		"user_id":          "",
		"channel_metadata": "",
		"priority":         int8(0),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
