package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
)

type mockConfluence struct {
	pages     []ConfluencePage
	children  []ConfluencePage
	spaces    []ConfluenceSpaceInfo
	err       error
	lastCQL   string
	lastLimit int
	byTitle   [2]string
}

func (m *mockConfluence) Search(_ context.Context, cql string, limit int) ([]ConfluencePage, error) {
	m.lastCQL, m.lastLimit = cql, limit
	return m.pages, m.err
}

func (m *mockConfluence) GetPage(_ context.Context, id string) (*ConfluencePage, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.pages {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, &APIError{Service: "confluence", Status: 404, Body: "no page"}
}

func (m *mockConfluence) GetPageByTitle(_ context.Context, space, title string) (*ConfluencePage, error) {
	m.byTitle = [2]string{space, title}
	for _, p := range m.pages {
		if p.SpaceKey == space && p.Title == title {
			return &p, nil
		}
	}
	return nil, m.err
}

func (m *mockConfluence) GetChildren(_ context.Context, _ string, limit int) ([]ConfluencePage, error) {
	m.lastLimit = limit
	return m.children, m.err
}

func (m *mockConfluence) ListSpaces(_ context.Context, limit int) ([]ConfluenceSpaceInfo, error) {
	m.lastLimit = limit
	return m.spaces, m.err
}

func newTestConfluence(backend ConfluenceBackend) *ConfluenceTool {
	return NewConfluenceTool("", backend, []ConfluenceSpace{{Key: "ENG", Name: "Engineering"}}, newTestLogger())
}

func TestConfluenceToolOperations(t *testing.T) {
	ct := newTestConfluence(&mockConfluence{})
	assert.Equal(t, "confluence", ct.Name())
	assert.Contains(t, ct.Description(), "ENG (Engineering)")

	var names []string
	for _, op := range ct.Operations() {
		names = append(names, op.Name)
		assert.True(t, json.Valid(op.Parameters), op.Name)
	}
	assert.Equal(t, []string{
		"confluence_search", "confluence_get_page", "confluence_get_children", "confluence_list_spaces",
	}, names)
}

func TestConfluenceToolResolveProject(t *testing.T) {
	ct := newTestConfluence(&mockConfluence{})
	assert.Equal(t, "ENG", ct.ResolveProject("confluence_search", map[string]any{"space": " eng "}))
	assert.Empty(t, ct.ResolveProject("confluence_get_page", map[string]any{"page_id": "42"}))
}

func TestConfluenceToolSearch(t *testing.T) {
	m := &mockConfluence{pages: []ConfluencePage{{ID: "42", Title: "Runbook", SpaceKey: "ENG"}}}
	ct := newTestConfluence(m)

	res, err := ct.Run(context.Background(), "confluence_search", map[string]any{
		"space": "ENG", "title": `say "hi"`, "label": "ops",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Found 1 page(s):\n- [ENG] Runbook (id: 42)", res.Content)
	assert.Equal(t, `type = page AND space = "ENG" AND title ~ "say \"hi\"" AND label = "ops" ORDER BY lastmodified DESC`, m.lastCQL)
	assert.Equal(t, defaultConfluenceResults, m.lastLimit)

	_, err = ct.Run(context.Background(), "confluence_search", map[string]any{"cql": "space = X", "limit": float64(500)})
	require.NoError(t, err)
	assert.Equal(t, "space = X", m.lastCQL)
	assert.Equal(t, maxConfluenceResults, m.lastLimit)

	m.pages = nil
	res, _ = ct.Run(context.Background(), "confluence_search", map[string]any{})
	assert.Equal(t, "No pages found.", res.Content)
}

func TestConfluenceToolGetPage(t *testing.T) {
	m := &mockConfluence{pages: []ConfluencePage{{ID: "42", Title: "Runbook", SpaceKey: "ENG", Version: 3, Body: "Restart the thing."}}}
	ct := newTestConfluence(m)

	res, err := ct.Run(context.Background(), "confluence_get_page", map[string]any{"page_id": "42"})
	require.NoError(t, err)
	assert.Equal(t, "Runbook\nSpace: ENG | Version: 3 | ID: 42\n\nRestart the thing.", res.Content)

	res, _ = ct.Run(context.Background(), "confluence_get_page", map[string]any{"space": "ENG", "title": "Runbook"})
	assert.False(t, res.IsError)
	assert.Equal(t, [2]string{"ENG", "Runbook"}, m.byTitle)

	res, _ = ct.Run(context.Background(), "confluence_get_page", map[string]any{"space": "ENG", "title": "Missing"})
	assert.True(t, res.IsError)
	assert.Equal(t, "Page not found.", res.Content)

	res, _ = ct.Run(context.Background(), "confluence_get_page", map[string]any{"space": "ENG"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "Provide either page_id")

	res, _ = ct.Run(context.Background(), "confluence_get_page", map[string]any{"page_id": "7"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "HTTP 404")
}

func TestConfluenceToolChildrenAndSpaces(t *testing.T) {
	m := &mockConfluence{
		children: []ConfluencePage{{ID: "43", Title: "Step 1"}, {ID: "44", Title: "Step 2"}},
		spaces:   []ConfluenceSpaceInfo{{Key: "ENG", Name: "Engineering", Type: "global"}},
	}
	ct := newTestConfluence(m)

	res, _ := ct.Run(context.Background(), "confluence_get_children", map[string]any{"page_id": "42"})
	assert.Equal(t, "Child pages of 42 (2):\n- Step 1 (id: 43)\n- Step 2 (id: 44)", res.Content)
	assert.Equal(t, defaultConfluenceChildren, m.lastLimit)

	res, _ = ct.Run(context.Background(), "confluence_get_children", map[string]any{})
	assert.True(t, res.IsError)

	res, _ = ct.Run(context.Background(), "confluence_list_spaces", map[string]any{"limit": float64(5)})
	assert.Equal(t, "Confluence spaces (1):\n- ENG: Engineering (global)", res.Content)
	assert.Equal(t, 5, m.lastLimit)

	m.children, m.spaces = nil, nil
	res, _ = ct.Run(context.Background(), "confluence_get_children", map[string]any{"page_id": "42"})
	assert.Equal(t, "No child pages found for page 42.", res.Content)
	res, _ = ct.Run(context.Background(), "confluence_list_spaces", nil)
	assert.Equal(t, "No spaces found.", res.Content)
}

func TestConfluenceToolUnknownOperation(t *testing.T) {
	_, err := newTestConfluence(&mockConfluence{}).Run(context.Background(), "confluence_delete", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownOperation)
}

func TestConfluenceREST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "secret", pass)

		q := r.URL.Query()
		switch r.URL.Path {
		case "/wiki/rest/api/content/search":
			assert.Equal(t, "type = page", q.Get("cql"))
			assert.Equal(t, "5", q.Get("limit"))
			io.WriteString(w, `{"results":[{"id":"42","title":"Runbook","space":{"key":"ENG"}}]}`)
		case "/wiki/rest/api/content/42":
			assert.Equal(t, "body.storage,version,space", q.Get("expand"))
			io.WriteString(w, `{"id":"42","title":"Runbook","space":{"key":"ENG"},"version":{"number":3},
				"body":{"storage":{"value":"<h1>Restart</h1><p>Run <code>make</code> &amp; wait.<br/>Then check.</p>"}}}`)
		case "/wiki/rest/api/content":
			assert.Equal(t, "ENG", q.Get("spaceKey"))
			if q.Get("title") == "Runbook" {
				io.WriteString(w, `{"results":[{"id":"42","title":"Runbook"}]}`)
			} else {
				io.WriteString(w, `{"results":[]}`)
			}
		case "/wiki/rest/api/content/42/child/page":
			io.WriteString(w, `{"results":[{"id":"43","title":"Step 1"}]}`)
		case "/wiki/rest/api/space":
			io.WriteString(w, `{"results":[{"key":"ENG","name":"Engineering","type":"global"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	backend := NewConfluenceREST(ConfluenceSettings{URL: srv.URL + "/wiki/", Username: "bot@example.com", APIToken: "secret"})
	ctx := context.Background()

	pages, err := backend.Search(ctx, "type = page", 5)
	require.NoError(t, err)
	assert.Equal(t, []ConfluencePage{{ID: "42", Title: "Runbook", SpaceKey: "ENG"}}, pages)

	page, err := backend.GetPage(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Version)
	assert.Equal(t, "Restart\nRun make & wait.\nThen check.", page.Body)

	page, err = backend.GetPageByTitle(ctx, "ENG", "Runbook")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, "42", page.ID)

	page, err = backend.GetPageByTitle(ctx, "ENG", "Missing")
	require.NoError(t, err)
	assert.Nil(t, page)

	children, err := backend.GetChildren(ctx, "42", 25)
	require.NoError(t, err)
	assert.Equal(t, "Step 1", children[0].Title)

	spaces, err := backend.ListSpaces(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []ConfluenceSpaceInfo{{Key: "ENG", Name: "Engineering", Type: "global"}}, spaces)

	_, err = backend.GetPage(ctx, "99")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStorageToText(t *testing.T) {
	in := "<p>one&nbsp;two</p><p></p><p></p><p></p><ul><li>a</li><li>b</li></ul>"
	assert.Equal(t, "one two\n\na\nb", storageToText(in))
}
