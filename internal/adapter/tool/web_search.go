package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 20
	defaultCacheTTL    = 15 * time.Minute
	maxSnippetLen      = 300
	maxCacheEntries    = 100
)

// WebSearchSettings is the settings block of a web_search tool entry.
type WebSearchSettings struct {
	Backend      string        `mapstructure:"backend"` // only "searxng"
	InstanceURL  string        `mapstructure:"instance_url"`
	DefaultCount int           `mapstructure:"default_count"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend.
type WebSearchTool struct {
	name         string
	backend      SearchBackend
	defaultCount int
	cacheTTL     time.Duration
	logger       *slog.Logger
	ops          *OperationSet
	now          func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
func NewWebSearchTool(name string, backend SearchBackend, settings WebSearchSettings, logger *slog.Logger) *WebSearchTool {
	if name == "" {
		name = "web_search"
	}
	t := &WebSearchTool{
		name:         name,
		backend:      backend,
		defaultCount: settings.DefaultCount,
		cacheTTL:     settings.CacheTTL,
		logger:       logger,
		now:          time.Now,
		cache:        make(map[string]cacheEntry),
	}
	if t.defaultCount <= 0 {
		t.defaultCount = defaultSearchCount
	}
	if t.cacheTTL <= 0 {
		t.cacheTTL = defaultCacheTTL
	}
	t.ops = NewOperationSet(
		Op("web_search", "Search the web for current, real-time information.", webSearchSchema, logger, t.search),
	)
	return t
}

func (t *WebSearchTool) Name() string                    { return t.name }
func (t *WebSearchTool) Description() string             { return "Search the web" }
func (t *WebSearchTool) Operations() []domain.ToolSchema { return t.ops.Schemas() }

func (t *WebSearchTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	return t.ops.Run(ctx, operation, args)
}

const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "The search query"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default: 5)"},
		"time_range": {"type": "string", "enum": ["day", "week", "month", "year"], "description": "Time range filter (optional)"}
	},
	"required": ["query"]
}`

type webSearchParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	TimeRange  string `json:"time_range,omitempty"`
}

func (t *WebSearchTool) search(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

	if p.MaxResults <= 0 {
		p.MaxResults = t.defaultCount
	}
	if p.MaxResults > maxSearchCount {
		p.MaxResults = maxSearchCount
	}
	if err := ValidateEnum("time_range", p.TimeRange, "day", "week", "month", "year"); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("%s|%d|%s", p.Query, p.MaxResults, p.TimeRange)
	if cached, ok := t.getCached(cacheKey); ok {
		t.logger.Debug("web search cache hit", "query", p.Query)
		span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
		return cached, nil
	}

	results, err := t.backend.Search(ctx, p.Query, p.MaxResults, p.TimeRange)
	if err != nil {
		return nil, err
	}
	if len(results) > p.MaxResults {
		results = results[:p.MaxResults]
	}

	content := formatSearchResults(p.Query, results)
	t.putCache(cacheKey, content)

	t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
	return content, nil
}

// formatSearchResults converts search results to a compact text format for LLM consumption.
func formatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Web search: %s\n\nResults (%d):\n", query, len(results))
	for i, r := range results {
		snippet := r.Content
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen] + "..."
		}
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   %s\n", r.URL)
		}
		if snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", snippet)
		}
	}
	return sb.String()
}

func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cache[key] = cacheEntry{result: result, expiresAt: now.Add(t.cacheTTL)}

	if len(t.cache) > maxCacheEntries {
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
