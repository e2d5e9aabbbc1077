package timeplus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeClient records statements and serves canned results.
type fakeClient struct {
	executed []string
	queries  []string
	results  map[string][]Row

	insertStream  string
	insertColumns []string
	insertRows    [][]any

	streamQuery string
	streamRows  []Row
}

func (f *fakeClient) Execute(ctx context.Context, query string) error {
	f.executed = append(f.executed, query)
	return nil
}

func (f *fakeClient) Query(ctx context.Context, query string) ([]Row, error) {
	f.queries = append(f.queries, query)
	for fragment, rows := range f.results {
		if strings.Contains(query, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) Insert(ctx context.Context, stream string, columns []string, rows [][]any) error {
	f.insertStream = stream
	f.insertColumns = columns
	f.insertRows = rows
	return nil
}

func (f *fakeClient) Stream(ctx context.Context, query string) (<-chan Row, <-chan error) {
	f.streamQuery = query
	rowCh := make(chan Row, len(f.streamRows))
	errCh := make(chan error, 1)
	for _, r := range f.streamRows {
		rowCh <- r
	}
	close(rowCh)
	close(errCh)
	return rowCh, errCh
}

func TestRowAccessors(t *testing.T) {
	now := time.Now()
	row := Row{
		"name":      "test",
		"priority":  int8(2),
		"count":     uint32(7),
		"cost":      float32(1.5),
		"deleted":   uint8(1),
		"when":      now,
		"embedding": []float32{0.1, 0.2},
		"tags":      []string{"a", "b"},
	}

	if got := row.String("name"); got != "test" {
		t.Errorf("String = %q", got)
	}
	if got := row.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
	if got := row.Int("priority"); got != 2 {
		t.Errorf("Int(priority) = %d", got)
	}
	if got := row.Int("count"); got != 7 {
		t.Errorf("Int(count) = %d", got)
	}
	if got := row.Float("cost"); got != 1.5 {
		t.Errorf("Float = %v", got)
	}
	if !row.Bool("deleted") {
		t.Error("Bool(deleted) = false, want true")
	}
	if !row.Time("when").Equal(now) {
		t.Error("Time mismatch")
	}
	if got := row.Floats("embedding"); len(got) != 2 || got[0] != 0.1 {
		t.Errorf("Floats = %v", got)
	}
	if got := row.Strings("tags"); len(got) != 2 || got[1] != "b" {
		t.Errorf("Strings = %v", got)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"it's", `it\'s`},
		{`back\slash`, `back\\slash`},
		{`both\'`, `both\\\'`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatFloats(t *testing.T) {
	got := FormatFloats([]float32{0.5, 1, -0.25})
	if got != "[0.5, 1, -0.25]" {
		t.Errorf("FormatFloats = %q", got)
	}
	if got := FormatFloats(nil); got != "[]" {
		t.Errorf("FormatFloats(nil) = %q", got)
	}
}

func TestWriterFillsDefaults(t *testing.T) {
	fake := &fakeClient{}
	w := NewStreamWriter(fake, StreamMessages)

	id, err := w.Write(context.Background(), map[string]any{
		"source":  "telegram",
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id == "" {
		t.Error("Write() should generate an id")
	}
	if fake.insertStream != "messages" {
		t.Errorf("insert stream = %q", fake.insertStream)
	}
	// Columns are sorted for deterministic inserts.
	want := []string{"content", "id", "source", "timestamp"}
	if len(fake.insertColumns) != len(want) {
		t.Fatalf("columns = %v, want %v", fake.insertColumns, want)
	}
	for i, col := range want {
		if fake.insertColumns[i] != col {
			t.Errorf("column[%d] = %q, want %q", i, fake.insertColumns[i], col)
		}
	}
}

func TestWriterKeepsProvidedID(t *testing.T) {
	fake := &fakeClient{}
	w := NewStreamWriter(fake, StreamMemory)

	id, err := w.Write(context.Background(), map[string]any{
		"id":      "fixed-id",
		"content": "x",
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id != "fixed-id" {
		t.Errorf("id = %q, want fixed-id", id)
	}
}

func TestWriteMessage(t *testing.T) {
	fake := &fakeClient{}
	w := NewStreamWriter(fake, StreamMessages)

	_, err := w.WriteMessage(context.Background(), Message{
		Source:      "agent",
		Target:      "channel:telegram",
		SessionID:   "s1",
		MessageType: "agent_response",
		Content:     `{"text": "hi"}`,
		Priority:    1,
	})
	if err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if len(fake.insertRows) != 1 {
		t.Fatalf("rows = %d, want 1", len(fake.insertRows))
	}
	byCol := map[string]any{}
	for i, col := range fake.insertColumns {
		byCol[col] = fake.insertRows[0][i]
	}
	if byCol["target"] != "channel:telegram" {
		t.Errorf("target = %v", byCol["target"])
	}
	if byCol["priority"] != int8(1) {
		t.Errorf("priority = %v", byCol["priority"])
	}
}

func TestReaderStreamSeekClause(t *testing.T) {
	fake := &fakeClient{}
	r := NewStreamReader(fake, StreamMessages)

	rows, _ := r.Stream(context.Background(), "target = 'agent'", "")
	for range rows {
	}

	if !strings.Contains(fake.streamQuery, "SETTINGS seek_to='latest'") {
		t.Errorf("query missing default seek clause: %q", fake.streamQuery)
	}
	if !strings.Contains(fake.streamQuery, "WHERE target = 'agent'") {
		t.Errorf("query missing filter: %q", fake.streamQuery)
	}
}

func TestReadHistoryQueryShape(t *testing.T) {
	fake := &fakeClient{}
	r := NewStreamReader(fake, StreamMessages)

	_, err := r.ReadHistory(context.Background(), HistoryFilter{
		SessionID:    "sess-1",
		MessageTypes: []string{"user_input", "agent_response"},
		Limit:        25,
	})
	if err != nil {
		t.Fatalf("ReadHistory() error = %v", err)
	}
	q := fake.queries[0]
	for _, fragment := range []string{
		"FROM table(messages)",
		"session_id = 'sess-1'",
		"message_type IN ('user_input', 'agent_response')",
		"ORDER BY timestamp DESC",
		"LIMIT 25",
	} {
		if !strings.Contains(q, fragment) {
			t.Errorf("query missing %q: %s", fragment, q)
		}
	}
}

func TestGetConversationChronological(t *testing.T) {
	fake := &fakeClient{
		results: map[string][]Row{
			"table(messages)": {
				{"id": "3", "content": "newest"},
				{"id": "2", "content": "middle"},
				{"id": "1", "content": "oldest"},
			},
		},
	}
	r := NewStreamReader(fake, StreamMessages)

	rows, err := r.GetConversation(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].String("id") != "1" || rows[2].String("id") != "3" {
		t.Errorf("rows not chronological: %v", rows)
	}
}

func TestCreateStreamsIssuesAllDDL(t *testing.T) {
	fake := &fakeClient{}
	if err := CreateStreams(context.Background(), fake); err != nil {
		t.Fatalf("CreateStreams() error = %v", err)
	}
	if len(fake.executed) != 5 {
		t.Fatalf("executed %d statements, want 5", len(fake.executed))
	}
	for _, stmt := range fake.executed {
		if !strings.Contains(stmt, "CREATE STREAM IF NOT EXISTS") {
			t.Errorf("unexpected statement: %s", stmt)
		}
		if !strings.Contains(stmt, "event_time_column='timestamp'") {
			t.Errorf("statement missing event time setting: %s", stmt)
		}
	}
}

func TestVerifyStreamsDetectsMissingColumn(t *testing.T) {
	fake := &fakeClient{results: map[string][]Row{}}
	for name, cols := range requiredColumns {
		rows := make([]Row, 0, len(cols))
		for _, col := range cols {
			if name == StreamLLMLogs && col == "estimated_cost" {
				continue
			}
			rows = append(rows, Row{"name": col})
		}
		fake.results["DESCRIBE STREAM "+name] = rows
	}

	err := VerifyStreams(context.Background(), fake)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("VerifyStreams() error = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "estimated_cost") {
		t.Errorf("error should name the missing column: %v", err)
	}
}

func TestVerifyStreamsPasses(t *testing.T) {
	fake := &fakeClient{results: map[string][]Row{}}
	for name, cols := range requiredColumns {
		rows := make([]Row, 0, len(cols))
		for _, col := range cols {
			rows = append(rows, Row{"name": col})
		}
		fake.results["DESCRIBE STREAM "+name] = rows
	}

	if err := VerifyStreams(context.Background(), fake); err != nil {
		t.Fatalf("VerifyStreams() error = %v", err)
	}
}
