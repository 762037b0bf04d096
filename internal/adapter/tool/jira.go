package tool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
)

const (
	defaultJiraResults = 10
	maxJiraResults     = 50
)

// issueKeyPattern matches Jira issue keys such as ALPHA-123.
var issueKeyPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)-\d+$`)

// JiraIssue is the flattened view of an issue.
type JiraIssue struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
	Description string `json:"description,omitempty"`
}

// JiraBackend abstracts the Jira REST API.
type JiraBackend interface {
	Search(ctx context.Context, jql string, maxResults int) ([]JiraIssue, error)
	GetIssue(ctx context.Context, key string) (*JiraIssue, error)
	CreateIssue(ctx context.Context, projectKey, summary, issueType, description string) (string, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]any) error
	DeleteIssue(ctx context.Context, key string) error
}

// JiraProject is a project advertised to the LLM. Name and aliases resolve
// to Prefix.
type JiraProject struct {
	Prefix  string   `mapstructure:"prefix"`
	Name    string   `mapstructure:"name"`
	Aliases []string `mapstructure:"aliases"`
}

// JiraSettings is the settings block of a jira tool entry.
type JiraSettings struct {
	URL               string        `mapstructure:"url"`
	Username          string        `mapstructure:"username"`
	APIToken          string        `mapstructure:"api_token"`
	Projects          []JiraProject `mapstructure:"projects"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// JiraTool searches, reads and edits Jira issues.
type JiraTool struct {
	name     string
	backend  JiraBackend
	projects []JiraProject
	logger   *slog.Logger
	ops      *OperationSet
}

var _ domain.ProjectResolver = (*JiraTool)(nil)

// NewJiraTool creates a Jira tool named name on top of backend.
func NewJiraTool(name string, backend JiraBackend, projects []JiraProject, logger *slog.Logger) *JiraTool {
	if name == "" {
		name = "jira"
	}
	t := &JiraTool{name: name, backend: backend, projects: projects, logger: logger}
	t.ops = NewOperationSet(
		Op("jira_search_issues", "Search issues with a JQL query.", jiraSearchSchema, logger, t.search),
		Op("jira_get_issue", "Get one issue by key, e.g. ALPHA-12.", jiraIssueKeySchema, logger, t.getIssue),
		Op("jira_create_issue", "Create an issue in a project.", jiraCreateSchema, logger, t.createIssue),
		Op("jira_update_issue", "Update the summary or description of an issue.", jiraUpdateSchema, logger, t.updateIssue),
		Op("jira_delete_issue", "Delete an issue permanently.", jiraIssueKeySchema, logger, t.deleteIssue),
	)
	return t
}

func (t *JiraTool) Name() string { return t.name }

func (t *JiraTool) Description() string {
	base := "Jira issue tracking: search, view, create, update and delete issues."
	if len(t.projects) == 0 {
		return base
	}
	parts := make([]string, len(t.projects))
	for i, p := range t.projects {
		parts[i] = fmt.Sprintf("%s (%s)", p.Prefix, p.Name)
	}
	return base + "\nAvailable projects: " + strings.Join(parts, ", ")
}

func (t *JiraTool) Operations() []domain.ToolSchema { return t.ops.Schemas() }

func (t *JiraTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	return t.ops.Run(ctx, operation, args)
}

// ResolveProject returns the project prefix a call targets: the resolved
// project_key when given, else the prefix of issue_key.
func (t *JiraTool) ResolveProject(_ string, args map[string]any) string {
	if pk, _ := args["project_key"].(string); strings.TrimSpace(pk) != "" {
		return t.resolveProjectKey(pk)
	}
	if key, _ := args["issue_key"].(string); key != "" {
		if m := issueKeyPattern.FindStringSubmatch(strings.TrimSpace(key)); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// resolveProjectKey maps a prefix, project name or alias to the prefix.
// Unknown values are upper-cased and used as is.
func (t *JiraTool) resolveProjectKey(project string) string {
	project = strings.TrimSpace(project)
	for _, p := range t.projects {
		if strings.EqualFold(p.Prefix, project) || strings.EqualFold(p.Name, project) {
			return p.Prefix
		}
		for _, a := range p.Aliases {
			if strings.EqualFold(a, project) {
				return p.Prefix
			}
		}
	}
	return strings.ToUpper(project)
}

const jiraIssueKeySchema = `{
	"type": "object",
	"properties": {
		"issue_key": {"type": "string", "description": "Issue key, e.g. ALPHA-12"}
	},
	"required": ["issue_key"]
}`

const jiraSearchSchema = `{
	"type": "object",
	"properties": {
		"jql": {"type": "string", "description": "JQL query"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum results (default 10)"}
	},
	"required": ["jql"]
}`

const jiraCreateSchema = `{
	"type": "object",
	"properties": {
		"project_key": {"type": "string", "description": "Project prefix, name or alias"},
		"summary": {"type": "string"},
		"issue_type": {"type": "string", "description": "Bug, Task, Story..."},
		"description": {"type": "string"}
	},
	"required": ["project_key", "summary", "issue_type"]
}`

const jiraUpdateSchema = `{
	"type": "object",
	"properties": {
		"issue_key": {"type": "string"},
		"summary": {"type": "string"},
		"description": {"type": "string"}
	},
	"required": ["issue_key"]
}`

type jiraParams struct {
	IssueKey    string `json:"issue_key,omitempty"`
	JQL         string `json:"jql,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	ProjectKey  string `json:"project_key,omitempty"`
	Summary     string `json:"summary,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	Description string `json:"description,omitempty"`
}

func requireIssueKey(span trace.Span, key string) error {
	if err := RequireField("issue_key", key); err != nil {
		return err
	}
	if !issueKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid issue_key %q: %w", key, domain.ErrInvalidInput)
	}
	span.SetAttributes(tracer.StringAttr("jira.issue", key))
	return nil
}

func (t *JiraTool) search(ctx context.Context, _ trace.Span, p jiraParams) (any, error) {
	if err := RequireField("jql", p.JQL); err != nil {
		return nil, err
	}
	if p.MaxResults <= 0 {
		p.MaxResults = defaultJiraResults
	}
	if p.MaxResults > maxJiraResults {
		p.MaxResults = maxJiraResults
	}
	issues, err := t.backend.Search(ctx, p.JQL, p.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return "No issues found matching the query.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d issue(s):", len(issues))
	for _, i := range issues {
		fmt.Fprintf(&sb, "\n- %s: %s (%s, assigned to %s)", i.Key, i.Summary, i.Status, i.Assignee)
	}
	return sb.String(), nil
}

func (t *JiraTool) getIssue(ctx context.Context, span trace.Span, p jiraParams) (any, error) {
	if err := requireIssueKey(span, p.IssueKey); err != nil {
		return nil, err
	}
	i, err := t.backend.GetIssue(ctx, p.IssueKey)
	if err != nil {
		return nil, err
	}
	lines := []string{
		fmt.Sprintf("%s: %s", i.Key, i.Summary),
		"Type: " + i.Type,
		"Status: " + i.Status,
		"Priority: " + i.Priority,
		"Assignee: " + i.Assignee,
	}
	if i.Description != "" {
		lines = append(lines, "Description: "+i.Description)
	}
	return strings.Join(lines, "\n"), nil
}

func (t *JiraTool) createIssue(ctx context.Context, _ trace.Span, p jiraParams) (any, error) {
	if err := RequireFields("project_key", p.ProjectKey, "summary", p.Summary, "issue_type", p.IssueType); err != nil {
		return nil, err
	}
	project := t.resolveProjectKey(p.ProjectKey)
	key, err := t.backend.CreateIssue(ctx, project, p.Summary, p.IssueType, p.Description)
	if err != nil {
		return nil, err
	}
	t.logger.Info("jira issue created", "key", key, "project", project)
	return fmt.Sprintf("Created issue %s: %s", key, p.Summary), nil
}

func (t *JiraTool) updateIssue(ctx context.Context, span trace.Span, p jiraParams) (any, error) {
	if err := requireIssueKey(span, p.IssueKey); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	var names []string
	if p.Summary != "" {
		fields["summary"] = p.Summary
		names = append(names, "summary")
	}
	if p.Description != "" {
		fields["description"] = adfDocument(p.Description)
		names = append(names, "description")
	}
	if len(fields) == 0 {
		return ErrResult("No fields to update.")
	}
	if err := t.backend.UpdateIssue(ctx, p.IssueKey, fields); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Updated %s: %s", p.IssueKey, strings.Join(names, ", ")), nil
}

func (t *JiraTool) deleteIssue(ctx context.Context, span trace.Span, p jiraParams) (any, error) {
	if err := requireIssueKey(span, p.IssueKey); err != nil {
		return nil, err
	}
	if err := t.backend.DeleteIssue(ctx, p.IssueKey); err != nil {
		return nil, err
	}
	t.logger.Info("jira issue deleted", "key", p.IssueKey)
	return "Deleted issue " + p.IssueKey, nil
}

// adfDocument wraps plain text in a one-paragraph Atlassian Document.
func adfDocument(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type":    "paragraph",
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
		},
	}
}
