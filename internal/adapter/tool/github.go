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
	defaultGitHubLimit = 20
	maxGitHubLimit     = 100
	maxPatchLines      = 80
)

// GitHub data types.

// GitHubIssue describes a GitHub issue.
type GitHubIssue struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	State    string   `json:"state"`
	HTMLURL  string   `json:"html_url"`
	Assignee string   `json:"assignee,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// GitHubPR describes a GitHub pull request.
type GitHubPR struct {
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Body         string `json:"body,omitempty"`
	State        string `json:"state"`
	Author       string `json:"author"`
	HTMLURL      string `json:"html_url"`
	Head         string `json:"head"`
	Base         string `json:"base"`
	Merged       bool   `json:"merged"`
	Mergeable    *bool  `json:"mergeable,omitempty"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	ChangedFiles int    `json:"changed_files"`
}

// GitHubFile is one file changed by a pull request.
type GitHubFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// GitHubRelease describes a release.
type GitHubRelease struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

// GitHubWorkflowRun describes one CI workflow run.
type GitHubWorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Branch     string `json:"head_branch"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
}

// GitHubMergeResult is the answer to a merge.
type GitHubMergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// GitHubBackend abstracts GitHub API operations. repo is always "owner/name".
type GitHubBackend interface {
	ListIssues(ctx context.Context, repo, state string, labels []string, limit int) ([]GitHubIssue, error)
	CreateIssue(ctx context.Context, repo, title, body string, labels []string) (*GitHubIssue, error)
	ListPRs(ctx context.Context, repo, state string, limit int) ([]GitHubPR, error)
	GetPR(ctx context.Context, repo string, number int) (*GitHubPR, error)
	ListPRFiles(ctx context.Context, repo string, number int) ([]GitHubFile, error)
	MergePR(ctx context.Context, repo string, number int, commitMessage string) (*GitHubMergeResult, error)
	AddComment(ctx context.Context, repo string, number int, body string) (string, error)
	ListReleases(ctx context.Context, repo string, limit int) ([]GitHubRelease, error)
	ListWorkflowRuns(ctx context.Context, repo, branch string, limit int) ([]GitHubWorkflowRun, error)
}

// GitHubRepoInfo is a repository advertised to the LLM.
type GitHubRepoInfo struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// GitHubSettings is the settings block of a github tool entry.
type GitHubSettings struct {
	Token             string           `mapstructure:"token"`
	BaseURL           string           `mapstructure:"base_url"`
	DefaultOrg        string           `mapstructure:"default_org"`
	Repositories      []GitHubRepoInfo `mapstructure:"repositories"`
	RequestsPerMinute int              `mapstructure:"requests_per_minute"`
	Timeout           time.Duration    `mapstructure:"timeout"`
}

// GitHubTool exposes issues, pull requests, releases and CI runs.
type GitHubTool struct {
	name       string
	backend    GitHubBackend
	defaultOrg string
	repos      []GitHubRepoInfo
	logger     *slog.Logger
	ops        *OperationSet
}

var _ domain.ProjectResolver = (*GitHubTool)(nil)

// NewGitHubTool creates a GitHub tool named name on top of backend.
func NewGitHubTool(name string, backend GitHubBackend, settings GitHubSettings, logger *slog.Logger) *GitHubTool {
	if name == "" {
		name = "github"
	}
	t := &GitHubTool{
		name:       name,
		backend:    backend,
		defaultOrg: settings.DefaultOrg,
		repos:      settings.Repositories,
		logger:     logger,
	}
	t.ops = NewOperationSet(
		Op("github_list_issues", "List issues of a repository (pull requests excluded).", githubListIssuesSchema, logger, t.listIssues),
		Op("github_create_issue", "Create an issue in a repository.", githubCreateIssueSchema, logger, t.createIssue),
		Op("github_list_prs", "List pull requests of a repository.", githubListPRsSchema, logger, t.listPRs),
		Op("github_get_pr", "Get details of one pull request.", githubPRSchema, logger, t.getPR),
		Op("github_get_pr_files", "List files changed by a pull request with truncated diffs.", githubPRSchema, logger, t.getPRFiles),
		Op("github_merge_pr", "Squash-merge a pull request.", githubMergePRSchema, logger, t.mergePR),
		Op("github_add_comment", "Comment on an issue or pull request.", githubAddCommentSchema, logger, t.addComment),
		Op("github_list_releases", "List releases of a repository.", githubListReleasesSchema, logger, t.listReleases),
		Op("github_list_workflow_runs", "List recent CI workflow runs of a repository.", githubListRunsSchema, logger, t.listWorkflowRuns),
	)
	return t
}

func (t *GitHubTool) Name() string { return t.name }

func (t *GitHubTool) Description() string {
	base := "GitHub: issues, pull requests, releases and CI workflows."
	if len(t.repos) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\nAvailable repositories:")
	for _, r := range t.repos {
		sb.WriteString("\n  - " + r.Name)
		if r.Description != "" {
			sb.WriteString(": " + r.Description)
		}
	}
	return sb.String()
}

func (t *GitHubTool) Operations() []domain.ToolSchema { return t.ops.Schemas() }

func (t *GitHubTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	return t.ops.Run(ctx, operation, args)
}

// ResolveProject returns the full "owner/name" of the targeted repository.
func (t *GitHubTool) ResolveProject(_ string, args map[string]any) string {
	repo, _ := args["repo"].(string)
	if strings.TrimSpace(repo) == "" {
		return ""
	}
	return t.fullRepo(repo)
}

// fullRepo expands a short repository name with the default org.
func (t *GitHubTool) fullRepo(repo string) string {
	repo = strings.TrimSpace(repo)
	if strings.Contains(repo, "/") || t.defaultOrg == "" {
		return repo
	}
	return t.defaultOrg + "/" + repo
}

const githubRepoProp = `"repo": {"type": "string", "description": "Repository as owner/name, or just name for the default organization"}`

var (
	githubListIssuesSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"state": {"type": "string", "enum": ["open", "closed", "all"], "description": "Issue state (default open)"},
			"labels": {"type": "array", "items": {"type": "string"}, "description": "Only issues with all these labels"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum results (default 20)"}
		},
		"required": ["repo"]
	}`
	githubCreateIssueSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"title": {"type": "string"},
			"body": {"type": "string"},
			"labels": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["repo", "title"]
	}`
	githubListPRsSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"state": {"type": "string", "enum": ["open", "closed", "all"]},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["repo"]
	}`
	githubPRSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"pr_number": {"type": "integer", "minimum": 1}
		},
		"required": ["repo", "pr_number"]
	}`
	githubMergePRSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"pr_number": {"type": "integer", "minimum": 1},
			"commit_message": {"type": "string"}
		},
		"required": ["repo", "pr_number"]
	}`
	githubAddCommentSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"number": {"type": "integer", "minimum": 1, "description": "Issue or pull request number"},
			"body": {"type": "string"}
		},
		"required": ["repo", "number", "body"]
	}`
	githubListReleasesSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["repo"]
	}`
	githubListRunsSchema = `{
		"type": "object",
		"properties": {
			` + githubRepoProp + `,
			"branch": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["repo"]
	}`
)

type githubParams struct {
	Repo          string   `json:"repo"`
	State         string   `json:"state,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Title         string   `json:"title,omitempty"`
	Body          string   `json:"body,omitempty"`
	PRNumber      int      `json:"pr_number,omitempty"`
	Number        int      `json:"number,omitempty"`
	CommitMessage string   `json:"commit_message,omitempty"`
	Branch        string   `json:"branch,omitempty"`
}

func (t *GitHubTool) prepare(span trace.Span, p *githubParams) error {
	if err := RequireField("repo", p.Repo); err != nil {
		return err
	}
	p.Repo = t.fullRepo(p.Repo)
	span.SetAttributes(tracer.StringAttr("github.repo", p.Repo))
	if p.Limit <= 0 {
		p.Limit = defaultGitHubLimit
	}
	if p.Limit > maxGitHubLimit {
		p.Limit = maxGitHubLimit
	}
	if p.State == "" {
		p.State = "open"
	}
	return ValidateEnum("state", p.State, "open", "closed", "all")
}

func (t *GitHubTool) listIssues(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	issues, err := t.backend.ListIssues(ctx, p.Repo, p.State, p.Labels, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return "No issues found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d issue(s) in %s:", len(issues), p.Repo)
	for _, i := range issues {
		assignee := i.Assignee
		if assignee == "" {
			assignee = "unassigned"
		}
		fmt.Fprintf(&sb, "\n- #%d: %s (%s, %s)", i.Number, i.Title, i.State, assignee)
		if len(i.Labels) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(i.Labels, ", "))
		}
	}
	return sb.String(), nil
}

func (t *GitHubTool) createIssue(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	if err := RequireField("title", p.Title); err != nil {
		return nil, err
	}
	issue, err := t.backend.CreateIssue(ctx, p.Repo, p.Title, p.Body, p.Labels)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Created issue #%d: %s\n%s", issue.Number, issue.Title, issue.HTMLURL), nil
}

func (t *GitHubTool) listPRs(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	prs, err := t.backend.ListPRs(ctx, p.Repo, p.State, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return "No pull requests found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d PR(s) in %s:", len(prs), p.Repo)
	for _, pr := range prs {
		fmt.Fprintf(&sb, "\n- #%d: %s (%s, by %s)", pr.Number, pr.Title, pr.State, pr.Author)
	}
	return sb.String(), nil
}

func (t *GitHubTool) getPR(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	if err := ValidatePositive("pr_number", p.PRNumber); err != nil {
		return nil, err
	}
	pr, err := t.backend.GetPR(ctx, p.Repo, p.PRNumber)
	if err != nil {
		return nil, err
	}
	mergeable := "unknown"
	if pr.Mergeable != nil {
		mergeable = map[bool]string{true: "yes", false: "no"}[*pr.Mergeable]
	}
	lines := []string{
		fmt.Sprintf("#%d: %s", pr.Number, pr.Title),
		"State: " + pr.State,
		"Author: " + pr.Author,
		fmt.Sprintf("Base: %s <- Head: %s", pr.Base, pr.Head),
		"Mergeable: " + mergeable,
		fmt.Sprintf("Changes: +%d -%d (%d files)", pr.Additions, pr.Deletions, pr.ChangedFiles),
		"URL: " + pr.HTMLURL,
	}
	if pr.Body != "" {
		lines = append(lines, "Description: "+pr.Body)
	}
	return strings.Join(lines, "\n"), nil
}

func (t *GitHubTool) getPRFiles(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	if err := ValidatePositive("pr_number", p.PRNumber); err != nil {
		return nil, err
	}
	files, err := t.backend.ListPRFiles(ctx, p.Repo, p.PRNumber)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return "No files changed in this PR.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Files changed in #%d (%d files):", p.PRNumber, len(files))
	for _, f := range files {
		fmt.Fprintf(&sb, "\n\n--- %s (%s, +%d -%d)\n%s", f.Filename, f.Status, f.Additions, f.Deletions, truncatePatch(f.Patch))
	}
	return sb.String(), nil
}

func (t *GitHubTool) mergePR(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	if err := ValidatePositive("pr_number", p.PRNumber); err != nil {
		return nil, err
	}
	pr, err := t.backend.GetPR(ctx, p.Repo, p.PRNumber)
	if err != nil {
		return nil, err
	}
	if pr.Merged {
		return ErrResult("PR #%d is already merged.", p.PRNumber)
	}
	if pr.Mergeable != nil && !*pr.Mergeable {
		return ErrResult("PR #%d is not mergeable. Resolve conflicts first.", p.PRNumber)
	}
	res, err := t.backend.MergePR(ctx, p.Repo, p.PRNumber, p.CommitMessage)
	if err != nil {
		return nil, err
	}
	sha := res.SHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	t.logger.Info("pull request merged", "repo", p.Repo, "number", p.PRNumber, "sha", sha)
	return fmt.Sprintf("Merged PR #%d: %s (sha: %s)", p.PRNumber, res.Message, sha), nil
}

func (t *GitHubTool) addComment(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	if err := ValidateAll(ValidatePositive("number", p.Number), RequireField("body", p.Body)); err != nil {
		return nil, err
	}
	url, err := t.backend.AddComment(ctx, p.Repo, p.Number, p.Body)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Comment added to #%d: %s", p.Number, url), nil
}

func (t *GitHubTool) listReleases(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	releases, err := t.backend.ListReleases(ctx, p.Repo, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return "No releases found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Releases in %s:", p.Repo)
	for _, r := range releases {
		var flags []string
		if r.Draft {
			flags = append(flags, "draft")
		}
		if r.Prerelease {
			flags = append(flags, "prerelease")
		}
		fmt.Fprintf(&sb, "\n- %s: %s", r.TagName, r.Name)
		if len(flags) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(flags, ", "))
		}
	}
	return sb.String(), nil
}

func (t *GitHubTool) listWorkflowRuns(ctx context.Context, span trace.Span, p githubParams) (any, error) {
	if err := t.prepare(span, &p); err != nil {
		return nil, err
	}
	runs, err := t.backend.ListWorkflowRuns(ctx, p.Repo, p.Branch, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return "No workflow runs found.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent runs in %s:", p.Repo)
	for _, r := range runs {
		outcome := r.Status
		if r.Conclusion != "" {
			outcome = r.Conclusion
		}
		fmt.Fprintf(&sb, "\n- %d %s on %s: %s", r.ID, r.Name, r.Branch, outcome)
	}
	return sb.String(), nil
}

func truncatePatch(patch string) string {
	if patch == "" {
		return "(no diff)"
	}
	lines := strings.Split(patch, "\n")
	if len(lines) <= maxPatchLines {
		return patch
	}
	return strings.Join(lines[:maxPatchLines], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-maxPatchLines)
}
