package tool

import "context"

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int, timeRange string) ([]SearchResult, error)
	Name() string
}

// SearchResult is a single search hit.
type SearchResult struct {
	Title   string
	URL     string
	Content string
}
