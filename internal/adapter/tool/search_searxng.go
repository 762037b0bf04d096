package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// searxngResponse models the relevant portion of the SearXNG JSON response.
type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearXNGBackend searches the web via a SearXNG instance.
type SearXNGBackend struct {
	rest   *restClient
	logger *slog.Logger
}

// NewSearXNGBackend creates a search backend backed by a SearXNG instance.
func NewSearXNGBackend(instanceURL string, timeout time.Duration, logger *slog.Logger) *SearXNGBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGBackend{
		rest:   newRESTClient("searxng", instanceURL, timeout, nil, nil),
		logger: logger,
	}
}

func (b *SearXNGBackend) Name() string { return "searxng" }

func (b *SearXNGBackend) Search(ctx context.Context, query string, count int, timeRange string) ([]SearchResult, error) {
	q := url.Values{"q": {query}, "format": {"json"}, "pageno": {"1"}}
	if timeRange != "" {
		q.Set("time_range", timeRange)
	}

	var resp searxngResponse
	if err := b.rest.do(ctx, http.MethodGet, "/search", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]SearchResult, 0, min(count, len(resp.Results)))
	for _, r := range resp.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
	}

	b.logger.Debug("searxng search completed", "query", query, "results", len(results))
	return results, nil
}
