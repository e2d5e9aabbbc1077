package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

type fakeWriter struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (w *fakeWriter) Write(_ context.Context, data map[string]any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, data)
	return "msg-1", nil
}

func (w *fakeWriter) snapshot() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.rows...)
}

type fakeSource struct {
	mu     sync.Mutex
	filter string
	rows   chan timeplus.Row
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rows: make(chan timeplus.Row, 8),
		errs: make(chan error, 1),
	}
}

func (s *fakeSource) Stream(_ context.Context, filter, _ string) (<-chan timeplus.Row, <-chan error) {
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
	return s.rows, s.errs
}

func (s *fakeSource) lastFilter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

type fakeHistory struct {
	filter timeplus.HistoryFilter
	rows   []timeplus.Row
}

func (h *fakeHistory) ReadHistory(_ context.Context, f timeplus.HistoryFilter) ([]timeplus.Row, error) {
	h.filter = f
	return h.rows, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeWriter, *fakeSource, *fakeHistory) {
	t.Helper()
	writer := &fakeWriter{}
	source := newFakeSource()
	history := &fakeHistory{}
	server := httptest.NewServer(New("", "0.1.0", writer, source, history).Handler())
	t.Cleanup(server.Close)
	return server, writer, source, history
}

func TestHealth(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != "0.1.0" {
		t.Errorf("body = %v", body)
	}
}

func TestChatWritesUserInput(t *testing.T) {
	server, writer, _, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/chat", "application/json",
		strings.NewReader(`{"message": "hello", "session_id": "s-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["session_id"] != "s-1" || body["message_id"] != "msg-1" {
		t.Errorf("body = %v", body)
	}

	rows := writer.snapshot()
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	row := rows[0]
	if row["source"] != "webchat" || row["target"] != "agent" || row["message_type"] != "user_input" {
		t.Errorf("row = %v", row)
	}
	if !strings.Contains(row["content"].(string), "hello") {
		t.Errorf("content = %v", row["content"])
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	server, _, _, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/chat", "application/json",
		strings.NewReader(`{"message": "hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["session_id"] == "" {
		t.Error("no session id generated")
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	server, writer, _, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/chat", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(writer.snapshot()) != 0 {
		t.Error("empty message written to stream")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _, _, history := newTestServer(t)
	history.rows = []timeplus.Row{{
		"id":           "m-1",
		"timestamp":    time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		"message_type": "user_input",
		"content":      `{"text": "hi"}`,
		"source":       "webchat",
	}}

	resp, err := http.Get(server.URL + "/sessions/s-9/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if history.filter.SessionID != "s-9" || history.filter.Limit != 5 {
		t.Errorf("filter = %+v", history.filter)
	}

	var body []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body) != 1 || body[0]["id"] != "m-1" || body[0]["type"] != "user_input" {
		t.Errorf("body = %v", body)
	}
}

func TestHistoryLimitFallsBackOnBadValues(t *testing.T) {
	for _, raw := range []string{"abc", "-5", "0", "2.5"} {
		server, _, _, history := newTestServer(t)

		resp, err := http.Get(server.URL + "/sessions/s-1/history?limit=" + raw)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if history.filter.Limit != 50 {
			t.Errorf("limit=%q parsed as %d, want default 50", raw, history.filter.Limit)
		}
	}
}

func TestRejectsInvalidSessionID(t *testing.T) {
	server, writer, _, history := newTestServer(t)

	resp, err := http.Post(server.URL+"/chat", "application/json",
		strings.NewReader(`{"message": "hi", "session_id": "s-1'; DROP STREAM messages"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("chat status = %d", resp.StatusCode)
	}
	if len(writer.snapshot()) != 0 {
		t.Error("message with invalid session written to stream")
	}

	resp, err = http.Get(server.URL + "/sessions/bad%20session/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("history status = %d", resp.StatusCode)
	}
	if history.filter.SessionID != "" {
		t.Errorf("history queried for %q", history.filter.SessionID)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/bad%20session"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("websocket handshake accepted invalid session")
	}
}

func TestWebSocketBridge(t *testing.T) {
	server, writer, source, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/s-42"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Client writes route onto the stream.
	if err := conn.WriteJSON(map[string]string{"type": "message", "text": "ping"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(writer.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rows := writer.snapshot()
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0]["session_id"] != "s-42" {
		t.Errorf("session_id = %v", rows[0]["session_id"])
	}
	filter := source.lastFilter()
	if !strings.Contains(filter, "session_id = 's-42'") ||
		!strings.Contains(filter, "channel:webchat") {
		t.Errorf("tail filter = %q", filter)
	}

	// Agent response rows arrive as response frames.
	source.rows <- timeplus.Row{
		"id":           "m-7",
		"session_id":   "s-42",
		"message_type": "agent_response",
		"content":      `{"text": "pong"}`,
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "response" || frame["text"] != "pong" || frame["message_id"] != "m-7" {
		t.Errorf("frame = %v", frame)
	}

	// Tool call rows arrive as tool_call frames.
	source.rows <- timeplus.Row{
		"id":           "m-8",
		"session_id":   "s-42",
		"message_type": "tool_call",
		"content":      `{"tool_name": "web_search", "status": "started", "args_summary": "\"x\""}`,
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "tool_call" || frame["tool_name"] != "web_search" || frame["status"] != "started" {
		t.Errorf("frame = %v", frame)
	}
}

func TestOutboundFrameRawContent(t *testing.T) {
	frame := outboundFrame(timeplus.Message{
		ID:          "m-1",
		MessageType: "agent_response",
		Content:     "not json",
	})
	if frame["text"] != "not json" {
		t.Errorf("frame = %v", frame)
	}
}
