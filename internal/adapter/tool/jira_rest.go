package tool

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// JiraREST implements JiraBackend over the Jira Cloud REST v3 API.
type JiraREST struct {
	rest *restClient
}

var _ JiraBackend = (*JiraREST)(nil)

// NewJiraREST creates a backend authenticating with basic auth.
func NewJiraREST(s JiraSettings) *JiraREST {
	user, token := s.Username, s.APIToken
	return &JiraREST{
		rest: newRESTClient("jira", s.URL, s.Timeout, NewRateLimiter(s.RequestsPerMinute, 5), func(r *http.Request) {
			if user != "" || token != "" {
				r.SetBasicAuth(user, token)
			}
		}),
	}
}

type jiraNamed struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type jiraRawIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string     `json:"summary"`
		Status      *jiraNamed `json:"status"`
		IssueType   *jiraNamed `json:"issuetype"`
		Priority    *jiraNamed `json:"priority"`
		Assignee    *jiraNamed `json:"assignee"`
		Description *adfNode   `json:"description"`
	} `json:"fields"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

func (r jiraRawIssue) toDomain() JiraIssue {
	name := func(n *jiraNamed, def string) string {
		if n == nil {
			return def
		}
		if n.DisplayName != "" {
			return n.DisplayName
		}
		if n.Name != "" {
			return n.Name
		}
		return def
	}
	return JiraIssue{
		Key:         r.Key,
		Summary:     r.Fields.Summary,
		Status:      name(r.Fields.Status, "Unknown"),
		Type:        name(r.Fields.IssueType, "Unknown"),
		Priority:    name(r.Fields.Priority, "None"),
		Assignee:    name(r.Fields.Assignee, "Unassigned"),
		Description: adfText(r.Fields.Description),
	}
}

// adfText flattens the text nodes of an Atlassian Document.
func adfText(n *adfNode) string {
	if n == nil {
		return ""
	}
	var parts []string
	var walk func(adfNode)
	walk = func(n adfNode) {
		if n.Type == "text" && n.Text != "" {
			parts = append(parts, n.Text)
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(*n)
	return strings.Join(parts, " ")
}

func (j *JiraREST) Search(ctx context.Context, jql string, maxResults int) ([]JiraIssue, error) {
	var out struct {
		Issues []jiraRawIssue `json:"issues"`
	}
	q := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {"summary,status,assignee,issuetype,priority"},
	}
	if err := j.rest.do(ctx, http.MethodGet, "/rest/api/3/search/jql", q, nil, &out); err != nil {
		return nil, err
	}
	issues := make([]JiraIssue, 0, len(out.Issues))
	for _, r := range out.Issues {
		issues = append(issues, r.toDomain())
	}
	return issues, nil
}

func (j *JiraREST) GetIssue(ctx context.Context, key string) (*JiraIssue, error) {
	var raw jiraRawIssue
	if err := j.rest.do(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key), nil, nil, &raw); err != nil {
		return nil, err
	}
	issue := raw.toDomain()
	return &issue, nil
}

func (j *JiraREST) CreateIssue(ctx context.Context, projectKey, summary, issueType, description string) (string, error) {
	fields := map[string]any{
		"project":   map[string]string{"key": projectKey},
		"summary":   summary,
		"issuetype": map[string]string{"name": issueType},
	}
	if description != "" {
		fields["description"] = adfDocument(description)
	}
	var out struct {
		Key string `json:"key"`
	}
	if err := j.rest.do(ctx, http.MethodPost, "/rest/api/3/issue", nil, map[string]any{"fields": fields}, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

func (j *JiraREST) UpdateIssue(ctx context.Context, key string, fields map[string]any) error {
	return j.rest.do(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), nil, map[string]any{"fields": fields}, nil)
}

func (j *JiraREST) DeleteIssue(ctx context.Context, key string) error {
	return j.rest.do(ctx, http.MethodDelete, "/rest/api/3/issue/"+url.PathEscape(key), nil, nil, nil)
}
