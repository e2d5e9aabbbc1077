package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// SearchResult is one web search hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebSearch searches the web through Brave Search or a SearXNG
// instance.
type WebSearch struct {
	provider   string
	apiKey     string
	searxngURL string
	baseURL    string
	http       *http.Client
	logger     *slog.Logger
}

var _ Skill = (*WebSearch)(nil)

// NewWebSearch builds the web search skill. provider is "brave" or
// "searxng".
func NewWebSearch(provider, apiKey, searxngURL string) (*WebSearch, error) {
	provider = strings.ToLower(provider)
	if provider != "brave" && provider != "searxng" {
		return nil, fmt.Errorf("unsupported search provider: %s (use 'brave' or 'searxng')", provider)
	}
	return &WebSearch{
		provider:   provider,
		apiKey:     apiKey,
		searxngURL: strings.TrimRight(searxngURL, "/"),
		baseURL:    braveSearchURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default().With("component", "skill", "skill", "web_search"),
	}, nil
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web for current information, news, or facts. Returns snippets and URLs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Number of results (1-10)",
					"default":     5,
				},
			},
			"required": []any{"query"},
		},
	}}
}

func (w *WebSearch) Execute(ctx context.Context, tool string, args map[string]any) ToolResult {
	if tool != "web_search" {
		return Fail("Unknown tool: %s", tool)
	}
	query, _ := args["query"].(string)
	if query == "" {
		return Fail("Search query is required")
	}
	count := 5
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
	}
	if count > 10 {
		count = 10
	}

	switch w.provider {
	case "brave":
		return w.searchBrave(ctx, query, count)
	default:
		return w.searchSearxng(ctx, query, count)
	}
}

func (w *WebSearch) searchBrave(ctx context.Context, query string, count int) ToolResult {
	if w.apiKey == "" {
		return Fail("Brave Search API key not configured")
	}

	params := url.Values{"q": {query}, "count": {strconv.Itoa(count)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Fail("Search error: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.http.Do(req)
	if err != nil {
		return Fail("Network error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("Brave Search failed: HTTP %d", resp.StatusCode)
	}

	var data struct {
		Web struct {
			Results []SearchResult `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Fail("Search error: %v", err)
	}
	w.logger.Debug("brave search complete", "results", len(data.Web.Results))
	return Ok(data.Web.Results)
}

func (w *WebSearch) searchSearxng(ctx context.Context, query string, count int) ToolResult {
	params := url.Values{"q": {query}, "format": {"json"}, "pageno": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.searxngURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Fail("SearXNG search error: %v", err)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return Fail("Network error connecting to SearXNG: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("SearXNG search failed: HTTP %d", resp.StatusCode)
	}

	var data struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Fail("SearXNG search error: %v", err)
	}

	results := make([]SearchResult, 0, count)
	for _, item := range data.Results {
		if len(results) == count {
			break
		}
		results = append(results, SearchResult{
			Title:       item.Title,
			URL:         item.URL,
			Description: item.Content,
		})
	}
	w.logger.Debug("searxng search complete", "results", len(results))
	return Ok(results)
}
