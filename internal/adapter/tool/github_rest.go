package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubREST implements GitHubBackend over the GitHub REST v3 API.
type GitHubREST struct {
	rest *restClient
}

var _ GitHubBackend = (*GitHubREST)(nil)

// NewGitHubREST creates a backend from settings. An empty BaseURL targets
// github.com; set it for GitHub Enterprise.
func NewGitHubREST(s GitHubSettings) *GitHubREST {
	base := s.BaseURL
	if base == "" {
		base = defaultGitHubAPI
	}
	token := s.Token
	return &GitHubREST{
		rest: newRESTClient("github", base, s.Timeout, NewRateLimiter(s.RequestsPerMinute, 5), func(r *http.Request) {
			r.Header.Set("Accept", "application/vnd.github+json")
			r.Header.Set("X-GitHub-Api-Version", "2022-11-28")
			if token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}),
	}
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	Assignee    *ghUser   `json:"assignee"`
	Labels      []ghLabel `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
}

func (i ghIssue) toDomain() GitHubIssue {
	out := GitHubIssue{Number: i.Number, Title: i.Title, Body: i.Body, State: i.State, HTMLURL: i.HTMLURL}
	if i.Assignee != nil {
		out.Assignee = i.Assignee.Login
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.Name)
	}
	return out
}

type ghRef struct {
	Ref string `json:"ref"`
}

type ghPR struct {
	Number       int     `json:"number"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	State        string  `json:"state"`
	HTMLURL      string  `json:"html_url"`
	User         *ghUser `json:"user"`
	Head         ghRef   `json:"head"`
	Base         ghRef   `json:"base"`
	Merged       bool    `json:"merged"`
	Mergeable    *bool   `json:"mergeable"`
	Additions    int     `json:"additions"`
	Deletions    int     `json:"deletions"`
	ChangedFiles int     `json:"changed_files"`
}

func (p ghPR) toDomain() GitHubPR {
	out := GitHubPR{
		Number: p.Number, Title: p.Title, Body: p.Body, State: p.State, HTMLURL: p.HTMLURL,
		Head: p.Head.Ref, Base: p.Base.Ref, Merged: p.Merged, Mergeable: p.Mergeable,
		Additions: p.Additions, Deletions: p.Deletions, ChangedFiles: p.ChangedFiles,
		Author: "unknown",
	}
	if p.User != nil {
		out.Author = p.User.Login
	}
	return out
}

func repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("repo %q must be owner/name", repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func (g *GitHubREST) ListIssues(ctx context.Context, repo, state string, labels []string, limit int) ([]GitHubIssue, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	q := url.Values{"state": {state}, "per_page": {strconv.Itoa(min(limit*2, maxGitHubLimit))}}
	if len(labels) > 0 {
		q.Set("labels", strings.Join(labels, ","))
	}
	var raw []ghIssue
	if err := g.rest.do(ctx, http.MethodGet, base+"/issues", q, nil, &raw); err != nil {
		return nil, err
	}
	// the issues endpoint also returns pull requests
	out := make([]GitHubIssue, 0, limit)
	for _, i := range raw {
		if i.PullRequest != nil {
			continue
		}
		out = append(out, i.toDomain())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *GitHubREST) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (*GitHubIssue, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	in := map[string]any{"title": title}
	if body != "" {
		in["body"] = body
	}
	if len(labels) > 0 {
		in["labels"] = labels
	}
	var raw ghIssue
	if err := g.rest.do(ctx, http.MethodPost, base+"/issues", nil, in, &raw); err != nil {
		return nil, err
	}
	issue := raw.toDomain()
	return &issue, nil
}

func (g *GitHubREST) ListPRs(ctx context.Context, repo, state string, limit int) ([]GitHubPR, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var raw []ghPR
	q := url.Values{"state": {state}, "per_page": {strconv.Itoa(limit)}}
	if err := g.rest.do(ctx, http.MethodGet, base+"/pulls", q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]GitHubPR, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toDomain())
	}
	return out, nil
}

func (g *GitHubREST) GetPR(ctx context.Context, repo string, number int) (*GitHubPR, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var raw ghPR
	if err := g.rest.do(ctx, http.MethodGet, fmt.Sprintf("%s/pulls/%d", base, number), nil, nil, &raw); err != nil {
		return nil, err
	}
	pr := raw.toDomain()
	return &pr, nil
}

func (g *GitHubREST) ListPRFiles(ctx context.Context, repo string, number int) ([]GitHubFile, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var out []GitHubFile
	q := url.Values{"per_page": {"100"}}
	if err := g.rest.do(ctx, http.MethodGet, fmt.Sprintf("%s/pulls/%d/files", base, number), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GitHubREST) MergePR(ctx context.Context, repo string, number int, commitMessage string) (*GitHubMergeResult, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	in := map[string]any{"merge_method": "squash"}
	if commitMessage != "" {
		in["commit_message"] = commitMessage
	}
	var out GitHubMergeResult
	if err := g.rest.do(ctx, http.MethodPut, fmt.Sprintf("%s/pulls/%d/merge", base, number), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *GitHubREST) AddComment(ctx context.Context, repo string, number int, body string) (string, error) {
	base, err := repoPath(repo)
	if err != nil {
		return "", err
	}
	var out struct {
		HTMLURL string `json:"html_url"`
	}
	err = g.rest.do(ctx, http.MethodPost, fmt.Sprintf("%s/issues/%d/comments", base, number), nil, map[string]string{"body": body}, &out)
	if err != nil {
		return "", err
	}
	return out.HTMLURL, nil
}

func (g *GitHubREST) ListReleases(ctx context.Context, repo string, limit int) ([]GitHubRelease, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var out []GitHubRelease
	q := url.Values{"per_page": {strconv.Itoa(limit)}}
	if err := g.rest.do(ctx, http.MethodGet, base+"/releases", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GitHubREST) ListWorkflowRuns(ctx context.Context, repo, branch string, limit int) ([]GitHubWorkflowRun, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	q := url.Values{"per_page": {strconv.Itoa(limit)}}
	if branch != "" {
		q.Set("branch", branch)
	}
	var out struct {
		Runs []GitHubWorkflowRun `json:"workflow_runs"`
	}
	if err := g.rest.do(ctx, http.MethodGet, base+"/actions/runs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}
