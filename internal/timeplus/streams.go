package timeplus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a structured row in the messages stream.
type Message struct {
	ID              string
	Timestamp       time.Time
	Source          string
	Target          string
	SessionID       string
	MessageType     string
	Content         string
	UserID          string
	ChannelMetadata string
	Priority        int8
}

// MessageFromRow converts a raw stream row into a Message.
func MessageFromRow(row Row) Message {
	return Message{
		ID:              row.String("id"),
		Timestamp:       row.Time("timestamp"),
		Source:          row.String("source"),
		Target:          row.String("target"),
		SessionID:       row.String("session_id"),
		MessageType:     row.String("message_type"),
		Content:         row.String("content"),
		UserID:          row.String("user_id"),
		ChannelMetadata: row.String("channel_metadata"),
		Priority:        int8(row.Int("priority")),
	}
}

// StreamReader reads from a single stream: unbounded tails for live
// consumption plus bounded history queries.
type StreamReader struct {
	client interface {
		Querier
		Tailer
	}
	stream string
	logger *slog.Logger
}

// NewStreamReader builds a reader for the named stream.
func NewStreamReader(client interface {
	Querier
	Tailer
}, stream string) *StreamReader {
	return &StreamReader{
		client: client,
		stream: stream,
		logger: slog.Default().With("component", "stream_reader", "stream", stream),
	}
}

// Stream tails the stream from the given seek position ('latest',
// 'earliest', or a timestamp). An empty filter tails everything.
func (r *StreamReader) Stream(ctx context.Context, filter, seekTo string) (<-chan Row, <-chan error) {
	if seekTo == "" {
		seekTo = "latest"
	}
	where := ""
	if filter != "" {
		where = " WHERE " + filter
	}
	query := fmt.Sprintf("SELECT * FROM %s%s SETTINGS seek_to='%s'", r.stream, where, seekTo)
	r.logger.Info("starting stream tail", "seek_to", seekTo)
	return r.client.Stream(ctx, query)
}

// HistoryFilter narrows a ReadHistory query.
type HistoryFilter struct {
	SessionID    string
	Since        time.Time
	MessageTypes []string
	Limit        int
}

// ReadHistory runs a bounded query over past rows, newest first.
func (r *StreamReader) ReadHistory(ctx context.Context, f HistoryFilter) ([]Row, error) {
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}

	var conditions []string
	if f.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = '%s'", Quote(f.SessionID)))
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp >= '%s'", f.Since.UTC().Format("2006-01-02 15:04:05.000")))
	}
	if len(f.MessageTypes) > 0 {
		quoted := make([]string, len(f.MessageTypes))
		for i, t := range f.MessageTypes {
			quoted[i] = "'" + Quote(t) + "'"
		}
		conditions = append(conditions, fmt.Sprintf("message_type IN (%s)", strings.Join(quoted, ", ")))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT * FROM table(%s) %s ORDER BY timestamp DESC LIMIT %d", r.stream, where, limit)
	return r.client.Query(ctx, query)
}

// GetConversation returns a session's conversational rows in
// chronological order.
func (r *StreamReader) GetConversation(ctx context.Context, sessionID string, limit int) ([]Row, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := r.ReadHistory(ctx, HistoryFilter{
		SessionID:    sessionID,
		Limit:        limit,
		MessageTypes: []string{"user_input", "agent_response", "tool_call", "tool_result"},
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// StreamWriter publishes rows to a single stream, filling in id and
// timestamp when the caller omits them.
type StreamWriter struct {
	client Querier
	stream string
	logger *slog.Logger
}

// NewStreamWriter builds a writer for the named stream.
func NewStreamWriter(client Querier, stream string) *StreamWriter {
	return &StreamWriter{
		client: client,
		stream: stream,
		logger: slog.Default().With("component", "stream_writer", "stream", stream),
	}
}

// Write appends a single row and returns its id.
func (w *StreamWriter) Write(ctx context.Context, data map[string]any) (string, error) {
	ids, err := w.WriteBatch(ctx, []map[string]any{data})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// WriteBatch appends several rows in one insert. Rows must share the
// same key set.
func (w *StreamWriter) WriteBatch(ctx context.Context, data []map[string]any) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}

	ids := make([]string, len(data))
	for i, item := range data {
		if _, ok := item["id"]; !ok {
			item["id"] = uuid.NewString()
		}
		if _, ok := item["timestamp"]; !ok {
			item["timestamp"] = time.Now().UTC()
		}
		ids[i] = fmt.Sprintf("%v", item["id"])
	}

	columns := make([]string, 0, len(data[0]))
	for col := range data[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	rows := make([][]any, len(data))
	for i, item := range data {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = item[col]
		}
		rows[i] = row
	}

	if err := w.client.Insert(ctx, w.stream, columns, rows); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", w.stream, err)
	}
	w.logger.Debug("wrote rows", "count", len(data))
	return ids, nil
}

// WriteMessage appends a structured message row and returns its id.
func (w *StreamWriter) WriteMessage(ctx context.Context, msg Message) (string, error) {
	data := map[string]any{
		"source":           msg.Source,
		"target":           msg.Target,
		"session_id":       msg.SessionID,
		"message_type":     msg.MessageType,
		"content":          msg.Content,
		"user_id":          msg.UserID,
		"channel_metadata": msg.ChannelMetadata,
		"priority":         msg.Priority,
	}
	if msg.ID != "" {
		data["id"] = msg.ID
	}
	if !msg.Timestamp.IsZero() {
		data["timestamp"] = msg.Timestamp
	}
	return w.Write(ctx, data)
}
