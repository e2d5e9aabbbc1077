package skills

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePack(t *testing.T, root, dir, manifest string, files map[string]string) string {
	t.Helper()
	packDir := filepath.Join(root, dir)
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(packDir, "SKILL.md"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		path := filepath.Join(packDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return packDir
}

const sqlGuideManifest = `---
name: timeplus-sql-guide
description: Guidance for writing streaming SQL queries
license: MIT
---
# Timeplus SQL Guide

Use table() for bounded reads.
`

func TestParseManifest(t *testing.T) {
	manifest, present, body, err := parseManifest(sqlGuideManifest)
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if manifest.Name != "timeplus-sql-guide" {
		t.Errorf("name = %q", manifest.Name)
	}
	if manifest.License != "MIT" {
		t.Errorf("license = %q", manifest.License)
	}
	if !present["description"] || present["metadata"] {
		t.Errorf("present = %v", present)
	}
	if !strings.HasPrefix(body, "# Timeplus SQL Guide") {
		t.Errorf("body = %q", body)
	}
}

func TestParseManifestWithoutFrontmatter(t *testing.T) {
	if _, _, _, err := parseManifest("# Just markdown\n"); err == nil {
		t.Fatal("expected error for missing frontmatter")
	}
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest packManifest
		present  map[string]bool
		dir      string
		want     string
	}{
		{
			name:     "valid",
			manifest: packManifest{Name: "my-skill", Description: "does things"},
			present:  map[string]bool{"name": true, "description": true},
			dir:      "my-skill",
		},
		{
			name:     "uppercase name",
			manifest: packManifest{Name: "MySkill", Description: "d"},
			present:  map[string]bool{"name": true, "description": true},
			dir:      "MySkill",
			want:     "invalid name",
		},
		{
			name:     "name does not match directory",
			manifest: packManifest{Name: "my-skill", Description: "d"},
			present:  map[string]bool{"name": true, "description": true},
			dir:      "other-dir",
			want:     "doesn't match directory",
		},
		{
			name:     "missing description",
			manifest: packManifest{Name: "my-skill"},
			present:  map[string]bool{"name": true},
			dir:      "my-skill",
			want:     "missing required field: description",
		},
		{
			name:     "description too long",
			manifest: packManifest{Name: "my-skill", Description: strings.Repeat("x", 1025)},
			present:  map[string]bool{"name": true, "description": true},
			dir:      "my-skill",
			want:     "exceeds 1024",
		},
		{
			name:     "unknown field",
			manifest: packManifest{Name: "my-skill", Description: "d"},
			present:  map[string]bool{"name": true, "description": true, "version": true},
			dir:      "my-skill",
			want:     "unknown frontmatter field: version",
		},
		{
			name:     "name too long",
			manifest: packManifest{Name: strings.Repeat("a", 65), Description: "d"},
			present:  map[string]bool{"name": true, "description": true},
			dir:      strings.Repeat("a", 65),
			want:     "invalid name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateManifest(tt.manifest, tt.present, tt.dir)
			if tt.want == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors %v missing %q", errs, tt.want)
			}
		})
	}
}

func TestLoadPackMetadataInvalidReturnsNil(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "bad-pack", "---\nname: Wrong_Name\ndescription: d\n---\nbody\n", nil)
	if meta := LoadPackMetadata(dir); meta != nil {
		t.Fatalf("invalid pack loaded: %+v", meta)
	}
	if meta := LoadPackMetadata(filepath.Join(root, "does-not-exist")); meta != nil {
		t.Fatalf("missing pack loaded: %+v", meta)
	}
}

func TestDiscoverPacksFirstNameWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePack(t, first, "timeplus-sql-guide", sqlGuideManifest, nil)
	writePack(t, second, "timeplus-sql-guide",
		"---\nname: timeplus-sql-guide\ndescription: shadowed copy\n---\nbody\n", nil)
	writePack(t, second, "another-skill",
		"---\nname: another-skill\ndescription: second dir skill\n---\nbody\n", nil)

	packs := DiscoverPacks([]string{first, second})
	if len(packs) != 2 {
		t.Fatalf("got %d packs, want 2", len(packs))
	}
	byName := map[string]PackMetadata{}
	for _, p := range packs {
		byName[p.Name] = p
	}
	if got := byName["timeplus-sql-guide"].Description; got != "Guidance for writing streaming SQL queries" {
		t.Errorf("second directory shadowed the first: %q", got)
	}
	if _, ok := byName["another-skill"]; !ok {
		t.Error("pack from second directory missing")
	}
}

func TestLoadPackContent(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "timeplus-sql-guide", sqlGuideManifest, map[string]string{
		"scripts/query.sql":   "SELECT 1",
		"references/guide.md": "reference text",
	})
	meta := LoadPackMetadata(filepath.Join(root, "timeplus-sql-guide"))
	if meta == nil {
		t.Fatal("metadata did not load")
	}
	content, err := LoadPackContent(*meta)
	if err != nil {
		t.Fatal(err)
	}
	if content.Scripts["query.sql"] != "SELECT 1" {
		t.Errorf("scripts = %v", content.Scripts)
	}
	if content.References["guide.md"] != "reference text" {
		t.Errorf("references = %v", content.References)
	}
	if !strings.Contains(content.Instructions, "table() for bounded reads") {
		t.Errorf("instructions = %q", content.Instructions)
	}
}

func TestFormatPackIndex(t *testing.T) {
	if got := FormatPackIndex(nil); got != "" {
		t.Errorf("empty index = %q", got)
	}
	index := FormatPackIndex([]PackMetadata{
		{Name: "timeplus-sql-guide", Description: "SQL guidance"},
		{Name: "weather", Description: "Weather lookups"},
	})
	for _, want := range []string{
		"## Available Skills",
		"`load_skill`",
		"- **timeplus-sql-guide**: SQL guidance",
		"- **weather**: Weather lookups",
	} {
		if !strings.Contains(index, want) {
			t.Errorf("index missing %q:\n%s", want, index)
		}
	}
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	root := t.TempDir()
	writePack(t, root, "timeplus-sql-guide", sqlGuideManifest, map[string]string{
		"scripts/query.sql":   "SELECT 1",
		"references/guide.md": "reference text",
	})
	packs := DiscoverPacks([]string{root})
	if len(packs) != 1 {
		t.Fatalf("got %d packs", len(packs))
	}
	return NewBridge(packs)
}

func TestBridgeLoadSkill(t *testing.T) {
	bridge := newTestBridge(t)
	result := bridge.Execute(context.Background(), "load_skill",
		map[string]any{"skill_name": "timeplus-sql-guide"})
	if !result.Success {
		t.Fatalf("load_skill: %s", result.Error)
	}
	text := result.Output.(string)
	for _, want := range []string{
		"# Skill: timeplus-sql-guide",
		"table() for bounded reads",
		"## Available References",
		"- guide.md",
		"## Available Scripts",
		"- query.sql",
		"read_skill_file",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestBridgeLoadSkillUnknown(t *testing.T) {
	bridge := newTestBridge(t)
	result := bridge.Execute(context.Background(), "load_skill",
		map[string]any{"skill_name": "nope"})
	if result.Success {
		t.Fatal("unknown skill loaded")
	}
	if !strings.Contains(result.Error, "Available skills: timeplus-sql-guide") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestBridgeReadSkillFile(t *testing.T) {
	bridge := newTestBridge(t)
	result := bridge.Execute(context.Background(), "read_skill_file",
		map[string]any{"skill_name": "timeplus-sql-guide", "file_path": "query.sql"})
	if !result.Success {
		t.Fatalf("read_skill_file: %s", result.Error)
	}
	if result.Output != "SELECT 1" {
		t.Errorf("output = %v", result.Output)
	}

	result = bridge.Execute(context.Background(), "read_skill_file",
		map[string]any{"skill_name": "timeplus-sql-guide", "file_path": "guide.md"})
	if !result.Success || result.Output != "reference text" {
		t.Errorf("reference read = %+v", result)
	}
}

func TestBridgeRejectsPathSyntax(t *testing.T) {
	bridge := newTestBridge(t)
	for _, path := range []string{
		"../../etc/passwd",
		"scripts/query.sql",
		`scripts\query.sql`,
		"..",
	} {
		result := bridge.Execute(context.Background(), "read_skill_file",
			map[string]any{"skill_name": "timeplus-sql-guide", "file_path": path})
		if result.Success {
			t.Errorf("file_path %q accepted", path)
		}
		if !strings.Contains(result.Error, "must be a bare file name") {
			t.Errorf("file_path %q: error = %q", path, result.Error)
		}
	}
}

func TestBridgeFileNotFoundListsAvailable(t *testing.T) {
	bridge := newTestBridge(t)
	result := bridge.Execute(context.Background(), "read_skill_file",
		map[string]any{"skill_name": "timeplus-sql-guide", "file_path": "missing.txt"})
	if result.Success {
		t.Fatal("missing file read succeeded")
	}
	if !strings.Contains(result.Error, "Available files: guide.md, query.sql") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestBridgeSetPacksDropsCache(t *testing.T) {
	bridge := newTestBridge(t)
	if result := bridge.Execute(context.Background(), "load_skill",
		map[string]any{"skill_name": "timeplus-sql-guide"}); !result.Success {
		t.Fatalf("load_skill: %s", result.Error)
	}

	bridge.SetPacks(nil)
	result := bridge.Execute(context.Background(), "load_skill",
		map[string]any{"skill_name": "timeplus-sql-guide"})
	if result.Success {
		t.Fatal("skill still loadable after packs were removed")
	}
}

func TestWebSearchRejectsUnknownProvider(t *testing.T) {
	if _, err := NewWebSearch("duckduckgo", "", ""); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestWebSearchBrave(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "brave-key" {
			t.Errorf("token header = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "timeplus streams" {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("count = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]string{
					{"title": "Timeplus", "url": "https://timeplus.com", "description": "streaming"},
				},
			},
		})
	}))
	defer server.Close()

	search, err := NewWebSearch("brave", "brave-key", "")
	if err != nil {
		t.Fatal(err)
	}
	search.baseURL = server.URL

	result := search.Execute(context.Background(), "web_search",
		map[string]any{"query": "timeplus streams", "count": float64(3)})
	if !result.Success {
		t.Fatalf("web_search: %s", result.Error)
	}
	results := result.Output.([]SearchResult)
	if len(results) != 1 || results[0].Title != "Timeplus" {
		t.Errorf("results = %+v", results)
	}
}

func TestWebSearchBraveRequiresKey(t *testing.T) {
	search, err := NewWebSearch("brave", "", "")
	if err != nil {
		t.Fatal(err)
	}
	result := search.Execute(context.Background(), "web_search", map[string]any{"query": "x"})
	if result.Success || !strings.Contains(result.Error, "API key not configured") {
		t.Errorf("result = %+v", result)
	}
}

func TestWebSearchSearxng(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "One", "url": "https://one.example", "content": "first"},
				{"title": "Two", "url": "https://two.example", "content": "second"},
				{"title": "Three", "url": "https://three.example", "content": "third"},
			},
		})
	}))
	defer server.Close()

	search, err := NewWebSearch("searxng", "", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	result := search.Execute(context.Background(), "web_search",
		map[string]any{"query": "anything", "count": float64(2)})
	if !result.Success {
		t.Fatalf("web_search: %s", result.Error)
	}
	results := result.Output.([]SearchResult)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[1].Description != "second" {
		t.Errorf("results = %+v", results)
	}
}

func TestWebSearchCapsCount(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if got := r.URL.Query().Get("count"); got != "10" {
			t.Errorf("count = %q, want capped at 10", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"web": map[string]any{"results": []any{}}})
	}))
	defer server.Close()

	search, err := NewWebSearch("brave", "key", "")
	if err != nil {
		t.Fatal(err)
	}
	search.baseURL = server.URL
	if result := search.Execute(context.Background(), "web_search",
		map[string]any{"query": "x", "count": float64(50)}); !result.Success {
		t.Fatalf("web_search: %s", result.Error)
	}
	if hits != 1 {
		t.Fatalf("hits = %d", hits)
	}
}
