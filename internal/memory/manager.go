// Package memory implements the semantic memory layer on top of the
// append-only memory stream: embedding-indexed storage with duplicate
// detection, hybrid-scored retrieval, and tombstone soft deletes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/pulsebot/internal/embeddings"
	"github.com/haasonsaas/pulsebot/internal/timeplus"
)

// ErrUnavailable indicates no embedding provider is configured, so
// semantic operations cannot run.
var ErrUnavailable = errors.New("memory features unavailable: no embedding provider configured")

// ErrDimensionMismatch indicates the configured embedding provider
// produces vectors of a different width than those already stored.
// This is fatal: mixed-width vectors make similarity scores garbage.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch with stored memories")

// notDeleted excludes both tombstone rows and any live row that has a
// later tombstone with the same id. The stream is append-only, so a
// delete is a second row and the original must be filtered out too.
const notDeleted = "is_deleted = false AND id NOT IN (SELECT id FROM table(memory) WHERE is_deleted = true)"

// Record is a stored memory.
type Record struct {
	ID              string
	Content         string
	MemoryType      string
	Category        string
	Importance      float64
	SourceSessionID string
	Timestamp       time.Time

	// Search results only.
	Distance float64
	Score    float64
}

func recordFromRow(row timeplus.Row) Record {
	return Record{
		ID:              row.String("id"),
		Content:         row.String("content"),
		MemoryType:      row.String("memory_type"),
		Category:        row.String("category"),
		Importance:      row.Float("importance"),
		SourceSessionID: row.String("source_session_id"),
		Timestamp:       row.Time("timestamp"),
		Distance:        row.Float("distance"),
		Score:           row.Float("score"),
	}
}

// StoreRequest describes a memory to store.
type StoreRequest struct {
	Content         string
	MemoryType      string // 'fact', 'preference', 'conversation_summary', 'skill_learned'
	Category        string // 'user_info', 'project', 'schedule', 'general'
	Importance      float64
	SourceSessionID string
	CheckDuplicates bool
}

// SearchRequest narrows a semantic search.
type SearchRequest struct {
	Query         string
	Limit         int
	MinImportance float64
	MemoryTypes   []string
	Categories    []string
}

// Manager owns all reads and writes on the memory stream.
type Manager struct {
	client   timeplus.Querier
	writer   *timeplus.StreamWriter
	embedder embeddings.Provider
	logger   *slog.Logger

	// similarityThreshold is the pure-cosine duplicate cutoff.
	similarityThreshold float64

	dimOnce sync.Once
	dimErr  error
}

// NewManager builds a memory manager. embedder may be nil, in which
// case semantic operations return ErrUnavailable.
func NewManager(client timeplus.Querier, embedder embeddings.Provider, similarityThreshold float64) *Manager {
	if similarityThreshold == 0 {
		similarityThreshold = 0.95
	}
	return &Manager{
		client:              client,
		writer:              timeplus.NewStreamWriter(client, timeplus.StreamMemory),
		embedder:            embedder,
		similarityThreshold: similarityThreshold,
		logger:              slog.Default().With("component", "memory"),
	}
}

// Available reports whether semantic memory operations can run.
func (m *Manager) Available() bool {
	return m.embedder != nil
}

// checkDimensions verifies on first use that the provider's vector
// width matches what the stream already holds.
func (m *Manager) checkDimensions(ctx context.Context) error {
	m.dimOnce.Do(func() {
		rows, err := m.client.Query(ctx,
			"SELECT length(embedding) AS dim FROM table(memory) WHERE length(embedding) > 0 LIMIT 1")
		if err != nil {
			// An empty or missing stream is not a mismatch.
			m.logger.Debug("dimension probe failed", "error", err)
			return
		}
		if len(rows) == 0 {
			return
		}
		stored := int(rows[0].Int("dim"))
		if want := m.embedder.Dimensions(); want > 0 && stored != want {
			m.dimErr = fmt.Errorf("%w: stored vectors are %d-dim, provider %s/%s produces %d-dim",
				ErrDimensionMismatch, stored, m.embedder.Name(), m.embedder.Model(), want)
		}
	})
	return m.dimErr
}

// Store embeds and appends a memory. With CheckDuplicates set, a
// stored record whose pure cosine similarity to the new content meets
// the threshold short-circuits the write and its id is returned.
func (m *Manager) Store(ctx context.Context, req StoreRequest) (string, error) {
	if m.embedder == nil {
		return "", ErrUnavailable
	}
	if err := m.checkDimensions(ctx); err != nil {
		return "", err
	}

	if req.MemoryType == "" {
		req.MemoryType = "fact"
	}
	if req.Category == "" {
		req.Category = "general"
	}
	if req.Importance == 0 {
		req.Importance = 0.5
	}

	vector, err := m.embedder.Embed(ctx, req.Content)
	if err != nil {
		return "", fmt.Errorf("embedding memory content: %w", err)
	}

	if req.CheckDuplicates {
		if existingID, err := m.findDuplicate(ctx, vector); err != nil {
			return "", err
		} else if existingID != "" {
			m.logger.Info("duplicate memory detected, skipping store",
				"existing_id", existingID, "content_preview", preview(req.Content))
			return existingID, nil
		}
	}

	id := uuid.NewString()
	_, err = m.writer.Write(ctx, map[string]any{
		"id":                id,
		"memory_type":       req.MemoryType,
		"category":          req.Category,
		"content":           req.Content,
		"source_session_id": req.SourceSessionID,
		"embedding":         vector,
		"importance":        float32(req.Importance),
		"is_deleted":        false,
	})
	if err != nil {
		return "", fmt.Errorf("storing memory: %w", err)
	}

	m.logger.Info("stored memory",
		"id", id, "type", req.MemoryType, "category", req.Category, "importance", req.Importance)
	return id, nil
}

// findDuplicate runs a pure-cosine search across all types and
// categories. Importance is deliberately excluded so that content
// identity, not salience, drives merging.
func (m *Manager) findDuplicate(ctx context.Context, vector []float32) (string, error) {
	vec := timeplus.FormatFloats(vector)
	sql := fmt.Sprintf(`SELECT id, content, 1 - cosine_distance(embedding, %s) AS similarity
FROM table(memory)
WHERE %s
ORDER BY similarity DESC
LIMIT 5`, vec, notDeleted)

	rows, err := m.client.Query(ctx, sql)
	if err != nil {
		return "", fmt.Errorf("duplicate check: %w", err)
	}

	nearBand := 0.8 * m.similarityThreshold
	for _, row := range rows {
		sim := row.Float("similarity")
		switch {
		case sim >= m.similarityThreshold:
			return row.String("id"), nil
		case sim >= nearBand:
			m.logger.Debug("near-duplicate memory below threshold",
				"id", row.String("id"), "similarity", sim,
				"content_preview", preview(row.String("content")))
		}
	}
	return "", nil
}

// Search ranks memories by the hybrid score
// (1 - cosine_distance) * importance, ties broken by recency then id.
func (m *Manager) Search(ctx context.Context, req SearchRequest) ([]Record, error) {
	if m.embedder == nil {
		return nil, ErrUnavailable
	}
	if err := m.checkDimensions(ctx); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = 5
	}

	vector, err := m.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding search query: %w", err)
	}
	vec := timeplus.FormatFloats(vector)

	conditions := []string{
		fmt.Sprintf("importance >= %g", req.MinImportance),
		notDeleted,
	}
	if len(req.MemoryTypes) > 0 {
		conditions = append(conditions, inClause("memory_type", req.MemoryTypes))
	}
	if len(req.Categories) > 0 {
		conditions = append(conditions, inClause("category", req.Categories))
	}

	sql := fmt.Sprintf(`SELECT
    id, content, memory_type, category, importance, source_session_id, timestamp,
    cosine_distance(embedding, %s) AS distance,
    (1 - cosine_distance(embedding, %s)) * importance AS score
FROM table(memory)
WHERE %s
ORDER BY score DESC, timestamp DESC, id DESC
LIMIT %d`, vec, vec, strings.Join(conditions, " AND "), limit)

	rows, err := m.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}

	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = recordFromRow(row)
	}
	m.logger.Debug("memory search", "query_preview", preview(req.Query), "results", len(out))
	return out, nil
}

// GetBySession returns memories originating from a session, newest
// first.
func (m *Manager) GetBySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit == 0 {
		limit = 20
	}
	sql := fmt.Sprintf(`SELECT id, content, memory_type, category, importance, source_session_id, timestamp
FROM table(memory)
WHERE source_session_id = '%s' AND %s
ORDER BY timestamp DESC
LIMIT %d`, timeplus.Quote(sessionID), notDeleted, limit)

	rows, err := m.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("reading session memories: %w", err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = recordFromRow(row)
	}
	return out, nil
}

// GetRecent returns the newest memories, optionally filtered by type.
func (m *Manager) GetRecent(ctx context.Context, limit int, memoryTypes []string) ([]Record, error) {
	if limit == 0 {
		limit = 10
	}
	conditions := []string{notDeleted}
	if len(memoryTypes) > 0 {
		conditions = append(conditions, inClause("memory_type", memoryTypes))
	}
	sql := fmt.Sprintf(`SELECT id, content, memory_type, category, importance, source_session_id, timestamp
FROM table(memory)
WHERE %s
ORDER BY timestamp DESC
LIMIT %d`, strings.Join(conditions, " AND "), limit)

	rows, err := m.client.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("reading recent memories: %w", err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = recordFromRow(row)
	}
	return out, nil
}

// MarkDeleted appends a tombstone row carrying the same id. Reads
// filter out any id that has a tombstone.
func (m *Manager) MarkDeleted(ctx context.Context, memoryID string) error {
	_, err := m.writer.Write(ctx, map[string]any{
		"id":                memoryID,
		"memory_type":       "tombstone",
		"category":          "",
		"content":           "",
		"source_session_id": "",
		"embedding":         []float32{},
		"importance":        float32(0),
		"is_deleted":        true,
	})
	if err != nil {
		return fmt.Errorf("marking memory deleted: %w", err)
	}
	m.logger.Info("memory marked deleted", "id", memoryID)
	return nil
}

func inClause(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + timeplus.Quote(v) + "'"
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(quoted, ", "))
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
