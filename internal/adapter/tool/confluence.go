package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
)

const (
	defaultConfluenceResults  = 10
	defaultConfluenceChildren = 25
	defaultConfluenceSpaces   = 50
	maxConfluenceResults      = 100
	maxConfluencePageChars    = 20000
)

// ConfluencePage is the flattened view of a page. Body is plain text.
type ConfluencePage struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SpaceKey string `json:"space_key"`
	Version  int    `json:"version"`
	Body     string `json:"body,omitempty"`
}

// ConfluenceSpaceInfo describes a space as returned by the API.
type ConfluenceSpaceInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ConfluenceBackend abstracts the Confluence REST API.
type ConfluenceBackend interface {
	Search(ctx context.Context, cql string, limit int) ([]ConfluencePage, error)
	GetPage(ctx context.Context, id string) (*ConfluencePage, error)
	GetPageByTitle(ctx context.Context, space, title string) (*ConfluencePage, error)
	GetChildren(ctx context.Context, id string, limit int) ([]ConfluencePage, error)
	ListSpaces(ctx context.Context, limit int) ([]ConfluenceSpaceInfo, error)
}

// ConfluenceSpace is a space advertised to the LLM.
type ConfluenceSpace struct {
	Key  string `mapstructure:"key"`
	Name string `mapstructure:"name"`
}

// ConfluenceSettings is the settings block of a confluence tool entry. URL
// is the wiki root, e.g. https://acme.atlassian.net/wiki.
type ConfluenceSettings struct {
	URL               string            `mapstructure:"url"`
	Username          string            `mapstructure:"username"`
	APIToken          string            `mapstructure:"api_token"`
	Spaces            []ConfluenceSpace `mapstructure:"spaces"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute"`
	Timeout           time.Duration     `mapstructure:"timeout"`
}

// ConfluenceTool searches and reads wiki pages.
type ConfluenceTool struct {
	name    string
	backend ConfluenceBackend
	spaces  []ConfluenceSpace
	logger  *slog.Logger
	ops     *OperationSet
}

var _ domain.ProjectResolver = (*ConfluenceTool)(nil)

// NewConfluenceTool creates a Confluence tool named name on top of backend.
func NewConfluenceTool(name string, backend ConfluenceBackend, spaces []ConfluenceSpace, logger *slog.Logger) *ConfluenceTool {
	if name == "" {
		name = "confluence"
	}
	t := &ConfluenceTool{name: name, backend: backend, spaces: spaces, logger: logger}
	t.ops = NewOperationSet(
		Op("confluence_search", "Search pages by space, title, text or label, or with a raw CQL query.", confluenceSearchSchema, logger, t.search),
		Op("confluence_get_page", "Read a page by id, or by space and title.", confluenceGetPageSchema, logger, t.getPage),
		Op("confluence_get_children", "List the child pages of a page.", confluenceChildrenSchema, logger, t.getChildren),
		Op("confluence_list_spaces", "List the spaces visible to the bot.", confluenceListSpacesSchema, logger, t.listSpaces),
	)
	return t
}

func (t *ConfluenceTool) Name() string { return t.name }

func (t *ConfluenceTool) Description() string {
	base := "Confluence wiki: search pages, read content, browse spaces."
	if len(t.spaces) == 0 {
		return base
	}
	parts := make([]string, len(t.spaces))
	for i, s := range t.spaces {
		parts[i] = fmt.Sprintf("%s (%s)", s.Key, s.Name)
	}
	return base + "\nAvailable spaces: " + strings.Join(parts, ", ")
}

func (t *ConfluenceTool) Operations() []domain.ToolSchema { return t.ops.Schemas() }

func (t *ConfluenceTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	return t.ops.Run(ctx, operation, args)
}

// ResolveProject returns the upper-cased space key of a call, or "" when the
// call names no space.
func (t *ConfluenceTool) ResolveProject(_ string, args map[string]any) string {
	space, _ := args["space"].(string)
	return strings.ToUpper(strings.TrimSpace(space))
}

const confluenceSearchSchema = `{
	"type": "object",
	"properties": {
		"space": {"type": "string", "description": "Space key"},
		"title": {"type": "string", "description": "Words in the page title"},
		"text": {"type": "string", "description": "Words in the page body"},
		"label": {"type": "string"},
		"cql": {"type": "string", "description": "Raw CQL; overrides the other filters"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum results (default 10)"}
	}
}`

const confluenceGetPageSchema = `{
	"type": "object",
	"properties": {
		"page_id": {"type": "string"},
		"space": {"type": "string", "description": "Space key, used with title"},
		"title": {"type": "string", "description": "Exact page title, used with space"}
	}
}`

const confluenceChildrenSchema = `{
	"type": "object",
	"properties": {
		"page_id": {"type": "string"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum children (default 25)"}
	},
	"required": ["page_id"]
}`

const confluenceListSpacesSchema = `{
	"type": "object",
	"properties": {
		"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum spaces (default 50)"}
	}
}`

type confluenceParams struct {
	Space  string `json:"space,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Label  string `json:"label,omitempty"`
	CQL    string `json:"cql,omitempty"`
	PageID string `json:"page_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxConfluenceResults)
}

// buildCQL joins the given filters into a page query, newest first.
func buildCQL(space, title, text, label string) string {
	clauses := []string{"type = page"}
	if space != "" {
		clauses = append(clauses, fmt.Sprintf("space = %s", cqlQuote(space)))
	}
	if title != "" {
		clauses = append(clauses, fmt.Sprintf("title ~ %s", cqlQuote(title)))
	}
	if text != "" {
		clauses = append(clauses, fmt.Sprintf("text ~ %s", cqlQuote(text)))
	}
	if label != "" {
		clauses = append(clauses, fmt.Sprintf("label = %s", cqlQuote(label)))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY lastmodified DESC"
}

func cqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (t *ConfluenceTool) search(ctx context.Context, span trace.Span, p confluenceParams) (any, error) {
	cql := strings.TrimSpace(p.CQL)
	if cql == "" {
		cql = buildCQL(p.Space, p.Title, p.Text, p.Label)
	}
	span.SetAttributes(tracer.StringAttr("confluence.cql", cql))
	pages, err := t.backend.Search(ctx, cql, clampLimit(p.Limit, defaultConfluenceResults))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return "No pages found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d page(s):", len(pages))
	for _, pg := range pages {
		fmt.Fprintf(&sb, "\n- [%s] %s (id: %s)", orUnknown(pg.SpaceKey), pg.Title, pg.ID)
	}
	return sb.String(), nil
}

func (t *ConfluenceTool) getPage(ctx context.Context, span trace.Span, p confluenceParams) (any, error) {
	var (
		page *ConfluencePage
		err  error
	)
	switch {
	case p.PageID != "":
		span.SetAttributes(tracer.StringAttr("confluence.page", p.PageID))
		page, err = t.backend.GetPage(ctx, p.PageID)
	case p.Space != "" && p.Title != "":
		page, err = t.backend.GetPageByTitle(ctx, p.Space, p.Title)
	default:
		return ErrResult("Provide either page_id, or both space and title.")
	}
	if err != nil {
		return nil, err
	}
	if page == nil {
		return ErrResult("Page not found.")
	}
	body := page.Body
	if body == "" {
		body = "No content"
	}
	if len(body) > maxConfluencePageChars {
		body = body[:maxConfluencePageChars] + "\n... (truncated)"
	}
	return fmt.Sprintf("%s\nSpace: %s | Version: %d | ID: %s\n\n%s",
		page.Title, orUnknown(page.SpaceKey), page.Version, page.ID, body), nil
}

func (t *ConfluenceTool) getChildren(ctx context.Context, _ trace.Span, p confluenceParams) (any, error) {
	if err := RequireField("page_id", p.PageID); err != nil {
		return nil, err
	}
	children, err := t.backend.GetChildren(ctx, p.PageID, clampLimit(p.Limit, defaultConfluenceChildren))
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return fmt.Sprintf("No child pages found for page %s.", p.PageID), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Child pages of %s (%d):", p.PageID, len(children))
	for _, c := range children {
		fmt.Fprintf(&sb, "\n- %s (id: %s)", c.Title, c.ID)
	}
	return sb.String(), nil
}

func (t *ConfluenceTool) listSpaces(ctx context.Context, _ trace.Span, p confluenceParams) (any, error) {
	spaces, err := t.backend.ListSpaces(ctx, clampLimit(p.Limit, defaultConfluenceSpaces))
	if err != nil {
		return nil, err
	}
	if len(spaces) == 0 {
		return "No spaces found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Confluence spaces (%d):", len(spaces))
	for _, s := range spaces {
		fmt.Fprintf(&sb, "\n- %s: %s (%s)", s.Key, s.Name, s.Type)
	}
	return sb.String(), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
