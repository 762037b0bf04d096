package tool

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ConfluenceREST implements ConfluenceBackend over the Confluence REST API.
type ConfluenceREST struct {
	rest *restClient
}

var _ ConfluenceBackend = (*ConfluenceREST)(nil)

// NewConfluenceREST creates a backend authenticating with basic auth.
func NewConfluenceREST(s ConfluenceSettings) *ConfluenceREST {
	user, token := s.Username, s.APIToken
	return &ConfluenceREST{
		rest: newRESTClient("confluence", s.URL, s.Timeout, NewRateLimiter(s.RequestsPerMinute, 5), func(r *http.Request) {
			if user != "" || token != "" {
				r.SetBasicAuth(user, token)
			}
		}),
	}
}

type confluenceRawPage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space *struct {
		Key string `json:"key"`
	} `json:"space"`
	Version *struct {
		Number int `json:"number"`
	} `json:"version"`
	Body *struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

func (r confluenceRawPage) toDomain() ConfluencePage {
	p := ConfluencePage{ID: r.ID, Title: r.Title}
	if r.Title == "" {
		p.Title = "Untitled"
	}
	if r.Space != nil {
		p.SpaceKey = r.Space.Key
	}
	if r.Version != nil {
		p.Version = r.Version.Number
	}
	if r.Body != nil && r.Body.Storage.Value != "" {
		p.Body = storageToText(r.Body.Storage.Value)
	}
	return p
}

type confluencePageList struct {
	Results []confluenceRawPage `json:"results"`
}

func (l confluencePageList) toDomain() []ConfluencePage {
	pages := make([]ConfluencePage, 0, len(l.Results))
	for _, r := range l.Results {
		pages = append(pages, r.toDomain())
	}
	return pages
}

func (c *ConfluenceREST) Search(ctx context.Context, cql string, limit int) ([]ConfluencePage, error) {
	var out confluencePageList
	q := url.Values{
		"cql":    {cql},
		"limit":  {strconv.Itoa(limit)},
		"expand": {"space"},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/rest/api/content/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *ConfluenceREST) GetPage(ctx context.Context, id string) (*ConfluencePage, error) {
	var raw confluenceRawPage
	q := url.Values{"expand": {"body.storage,version,space"}}
	if err := c.rest.do(ctx, http.MethodGet, "/rest/api/content/"+url.PathEscape(id), q, nil, &raw); err != nil {
		return nil, err
	}
	page := raw.toDomain()
	return &page, nil
}

// GetPageByTitle returns nil without error when no page matches.
func (c *ConfluenceREST) GetPageByTitle(ctx context.Context, space, title string) (*ConfluencePage, error) {
	var out confluencePageList
	q := url.Values{
		"spaceKey": {space},
		"title":    {title},
		"type":     {"page"},
		"expand":   {"body.storage,version,space"},
	}
	if err := c.rest.do(ctx, http.MethodGet, "/rest/api/content", q, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	page := out.Results[0].toDomain()
	return &page, nil
}

func (c *ConfluenceREST) GetChildren(ctx context.Context, id string, limit int) ([]ConfluencePage, error) {
	var out confluencePageList
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.rest.do(ctx, http.MethodGet, "/rest/api/content/"+url.PathEscape(id)+"/child/page", q, nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *ConfluenceREST) ListSpaces(ctx context.Context, limit int) ([]ConfluenceSpaceInfo, error) {
	var out struct {
		Results []ConfluenceSpaceInfo `json:"results"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.rest.do(ctx, http.MethodGet, "/rest/api/space", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// storageToText flattens Confluence storage format (XHTML) into plain text.
// Block elements end a line; entities are decoded by the tokenizer.
func storageToText(storage string) string {
	z := html.NewTokenizer(strings.NewReader(storage))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			text := blankLines.ReplaceAllString(sb.String(), "\n\n")
			return strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Br {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li, atom.Tr:
				sb.WriteByte('\n')
			}
		}
	}
}
