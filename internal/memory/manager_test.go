package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// fakeQuerier serves canned query results keyed by substring and
// records inserts.
type fakeQuerier struct {
	queries []string
	results map[string][]timeplus.Row

	insertStream  string
	insertColumns []string
	insertRows    [][]any
	insertCount   int
}

func (f *fakeQuerier) Execute(ctx context.Context, query string) error { return nil }

func (f *fakeQuerier) Query(ctx context.Context, query string) ([]timeplus.Row, error) {
	f.queries = append(f.queries, query)
	for fragment, rows := range f.results {
		if strings.Contains(query, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeQuerier) Insert(ctx context.Context, stream string, columns []string, rows [][]any) error {
	f.insertStream = stream
	f.insertColumns = columns
	f.insertRows = rows
	f.insertCount++
	return nil
}

// fakeEmbedder returns a fixed vector for every text.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, f.err
}

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Model() string   { return "fake-model" }
func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }

func newTestManager(q *fakeQuerier) *Manager {
	return NewManager(q, &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}, 0.95)
}

func TestStoreWithoutEmbedder(t *testing.T) {
	m := NewManager(&fakeQuerier{}, nil, 0.95)
	if m.Available() {
		t.Error("Available() = true without an embedder")
	}
	if _, err := m.Store(context.Background(), StoreRequest{Content: "x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Store() error = %v, want ErrUnavailable", err)
	}
	if _, err := m.Search(context.Background(), SearchRequest{Query: "x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Search() error = %v, want ErrUnavailable", err)
	}
}

func TestStoreAppendsRow(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{}}
	m := newTestManager(q)

	id, err := m.Store(context.Background(), StoreRequest{
		Content:         "User prefers dark mode",
		MemoryType:      "preference",
		Category:        "user_info",
		Importance:      0.8,
		SourceSessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if id == "" {
		t.Error("Store() returned empty id")
	}
	if q.insertStream != "memory" {
		t.Errorf("insert stream = %q", q.insertStream)
	}
	if q.insertCount != 1 {
		t.Errorf("insert count = %d, want 1", q.insertCount)
	}
}

func TestStoreDuplicateReturnsExistingID(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{
		"similarity DESC": {
			{"id": "existing-id", "content": "User's name is John Smith", "similarity": 0.97},
		},
	}}
	m := newTestManager(q)

	id, err := m.Store(context.Background(), StoreRequest{
		Content:         "User's name is John Smith",
		MemoryType:      "fact",
		Category:        "user_info",
		Importance:      0.9,
		SourceSessionID: "sess-x",
		CheckDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if id != "existing-id" {
		t.Errorf("Store() id = %q, want the existing record's id", id)
	}
	if q.insertCount != 0 {
		t.Errorf("duplicate store appended %d rows, want 0", q.insertCount)
	}
}

func TestStoreNearDuplicateStillAppends(t *testing.T) {
	// Similarity in [0.8*threshold, threshold) is logged but not
	// merged.
	q := &fakeQuerier{results: map[string][]timeplus.Row{
		"similarity DESC": {
			{"id": "close-id", "content": "User name is John Smith", "similarity": 0.90},
		},
	}}
	m := newTestManager(q)

	id, err := m.Store(context.Background(), StoreRequest{
		Content:         "User's name is John Smith",
		CheckDuplicates: true,
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if id == "close-id" {
		t.Error("near-duplicate should not merge")
	}
	if q.insertCount != 1 {
		t.Errorf("insert count = %d, want 1", q.insertCount)
	}
}

func TestDuplicateCheckIsPureCosine(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{}}
	m := newTestManager(q)

	_, err := m.Store(context.Background(), StoreRequest{Content: "x", CheckDuplicates: true})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	var dupQuery string
	for _, query := range q.queries {
		if strings.Contains(query, "similarity") {
			dupQuery = query
		}
	}
	if dupQuery == "" {
		t.Fatal("no duplicate-check query issued")
	}
	if strings.Contains(dupQuery, "importance") {
		t.Error("duplicate check must not weight by importance")
	}
	if !strings.Contains(dupQuery, "LIMIT 5") {
		t.Errorf("duplicate check should examine top 5: %s", dupQuery)
	}
}

func TestSearchQueryShape(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{}}
	m := newTestManager(q)

	_, err := m.Search(context.Background(), SearchRequest{
		Query:         "preferences",
		Limit:         3,
		MinImportance: 0.2,
		MemoryTypes:   []string{"preference"},
		Categories:    []string{"user_info"},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	query := q.queries[len(q.queries)-1]
	for _, fragment := range []string{
		"(1 - cosine_distance(embedding,",
		"* importance AS score",
		"importance >= 0.2",
		"is_deleted = false",
		"id NOT IN (SELECT id FROM table(memory) WHERE is_deleted = true)",
		"memory_type IN ('preference')",
		"category IN ('user_info')",
		"ORDER BY score DESC, timestamp DESC, id DESC",
		"LIMIT 3",
	} {
		if !strings.Contains(query, fragment) {
			t.Errorf("search query missing %q:\n%s", fragment, query)
		}
	}
}

func TestSearchResults(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{
		"AS score": {
			{"id": "m1", "content": "dark mode", "memory_type": "preference",
				"category": "user_info", "importance": float32(0.8),
				"distance": 0.1, "score": 0.72},
		},
	}}
	m := newTestManager(q)

	records, err := m.Search(context.Background(), SearchRequest{Query: "ui preferences"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.ID != "m1" || r.Score != 0.72 || r.Importance != float64(float32(0.8)) {
		t.Errorf("record = %+v", r)
	}
}

func TestGetRecentExcludesTombstoned(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{}}
	m := newTestManager(q)

	if _, err := m.GetRecent(context.Background(), 0, nil); err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	query := q.queries[0]
	if !strings.Contains(query, "id NOT IN (SELECT id FROM table(memory) WHERE is_deleted = true)") {
		t.Errorf("GetRecent must exclude tombstoned ids:\n%s", query)
	}
	if !strings.Contains(query, "LIMIT 10") {
		t.Errorf("GetRecent default limit missing:\n%s", query)
	}
}

func TestMarkDeletedWritesTombstone(t *testing.T) {
	q := &fakeQuerier{}
	m := newTestManager(q)

	if err := m.MarkDeleted(context.Background(), "mem-42"); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	if q.insertCount != 1 {
		t.Fatalf("insert count = %d, want 1", q.insertCount)
	}
	byCol := map[string]any{}
	for i, col := range q.insertColumns {
		byCol[col] = q.insertRows[0][i]
	}
	if byCol["id"] != "mem-42" {
		t.Errorf("tombstone id = %v, want mem-42", byCol["id"])
	}
	if byCol["is_deleted"] != true {
		t.Errorf("tombstone is_deleted = %v, want true", byCol["is_deleted"])
	}
}

func TestDimensionMismatchIsFatal(t *testing.T) {
	q := &fakeQuerier{results: map[string][]timeplus.Row{
		"length(embedding)": {{"dim": uint64(1536)}},
	}}
	// Provider produces 3-dim vectors against a 1536-dim store.
	m := newTestManager(q)

	_, err := m.Store(context.Background(), StoreRequest{Content: "x"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Store() error = %v, want ErrDimensionMismatch", err)
	}
	// The failure persists for subsequent calls.
	if _, err := m.Search(context.Background(), SearchRequest{Query: "x"}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search() error = %v, want ErrDimensionMismatch", err)
	}
}
