package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHub implements Provider using the go-github SDK.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub provider. A baseURL other than the public
// API is treated as a GitHub Enterprise endpoint.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" && strings.TrimSuffix(baseURL, "/") != defaultGitHubAPI {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", baseURL, err)
		}
	}
	return &GitHub{client: client, logger: logger}, nil
}

// splitRepo splits a "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit logs a warning when remaining API calls run low.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// CreateIssue opens a new issue in the repository.
func (g *GitHub) CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{
		Title: &issue.Title,
		Body:  &issue.Body,
	}
	if len(issue.Labels) > 0 {
		req.Labels = &issue.Labels
	}
	if len(issue.Assignees) > 0 {
		req.Assignees = &issue.Assignees
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("create issue in %s: %w", repo, err)
	}
	g.checkRateLimit(resp)
	out := convertIssue(result)
	out.Repo = repo
	return out, nil
}

// ListIssues returns issues from a repository, skipping pull requests
// the issues endpoint also reports.
func (g *GitHub) ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &ListOptions{}
	}

	ghOpts := &gogithub.IssueListByRepoOptions{
		State:       opts.State,
		Assignee:    opts.Assignee,
		ListOptions: gogithub.ListOptions{PerPage: opts.Limit},
	}
	if opts.Labels != "" {
		ghOpts.Labels = strings.Split(opts.Labels, ",")
	}
	if ghOpts.State == "" {
		ghOpts.State = "open"
	}

	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, ghOpts)
	if err != nil {
		return nil, fmt.Errorf("list issues in %s: %w", repo, err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		i := convertIssue(r)
		i.Repo = repo
		issues = append(issues, i)
	}
	return issues, nil
}

// AddComment posts a comment on an issue or pull request.
func (g *GitHub) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{
		Body: &body,
	})
	if err != nil {
		return nil, fmt.Errorf("comment on %s#%d: %w", repo, number, err)
	}
	g.checkRateLimit(resp)
	return convertComment(result), nil
}

// ListPRs returns pull requests from a repository.
func (g *GitHub) ListPRs(ctx context.Context, repo string, opts *ListOptions) ([]*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &ListOptions{}
	}
	state := opts.State
	if state == "" {
		state = "open"
	}

	results, resp, err := g.client.PullRequests.List(ctx, owner, name, &gogithub.PullRequestListOptions{
		State:       state,
		ListOptions: gogithub.ListOptions{PerPage: opts.Limit},
	})
	if err != nil {
		return nil, fmt.Errorf("list prs in %s: %w", repo, err)
	}
	g.checkRateLimit(resp)

	prs := make([]*PullRequest, 0, len(results))
	for _, r := range results {
		pr := convertPR(r)
		pr.Repo = repo
		prs = append(prs, pr)
	}
	return prs, nil
}

// Search runs a GitHub search query.
func (g *GitHub) Search(ctx context.Context, query string, kind SearchKind, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 30
	}
	opts := &gogithub.SearchOptions{
		Sort:        "updated",
		ListOptions: gogithub.ListOptions{PerPage: limit},
	}

	var results []SearchResult
	switch kind {
	case SearchIssues:
		r, resp, err := g.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}
		g.checkRateLimit(resp)
		for _, item := range r.Issues {
			results = append(results, SearchResult{
				Kind:      "issue",
				Number:    item.GetNumber(),
				Title:     item.GetTitle(),
				State:     item.GetState(),
				IsPR:      item.IsPullRequest(),
				Repo:      repoFromAPIURL(item.GetRepositoryURL()),
				URL:       item.GetHTMLURL(),
				Snippet:   item.GetBody(),
				Author:    item.GetUser().GetLogin(),
				UpdatedAt: item.GetUpdatedAt().Time,
			})
		}

	case SearchCode:
		opts.Sort = ""
		r, resp, err := g.client.Search.Code(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("search code: %w", err)
		}
		g.checkRateLimit(resp)
		for _, item := range r.CodeResults {
			results = append(results, SearchResult{
				Kind:  "code",
				Title: item.GetName(),
				Path:  item.GetPath(),
				Repo:  item.GetRepository().GetFullName(),
				URL:   item.GetHTMLURL(),
			})
		}

	default:
		return nil, fmt.Errorf("unsupported search kind %q", kind)
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// repoFromAPIURL turns ".../repos/owner/name" into "owner/name".
func repoFromAPIURL(u string) string {
	i := strings.LastIndex(u, "/repos/")
	if i < 0 {
		return ""
	}
	return u[i+len("/repos/"):]
}

func convertIssue(i *gogithub.Issue) *Issue {
	if i == nil {
		return &Issue{}
	}
	out := &Issue{
		Number:       i.GetNumber(),
		Title:        i.GetTitle(),
		Body:         i.GetBody(),
		State:        i.GetState(),
		Author:       i.GetUser().GetLogin(),
		CreatedAt:    i.GetCreatedAt().Time,
		UpdatedAt:    i.GetUpdatedAt().Time,
		URL:          i.GetHTMLURL(),
		CommentCount: i.GetComments(),
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	for _, a := range i.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	return out
}

func convertComment(c *gogithub.IssueComment) *Comment {
	if c == nil {
		return &Comment{}
	}
	return &Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		CreatedAt: c.GetCreatedAt().Time,
		URL:       c.GetHTMLURL(),
	}
}

func convertPR(pr *gogithub.PullRequest) *PullRequest {
	if pr == nil {
		return &PullRequest{}
	}
	return &PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		Author:    pr.GetUser().GetLogin(),
		Head:      pr.GetHead().GetRef(),
		Base:      pr.GetBase().GetRef(),
		Draft:     pr.GetDraft(),
		URL:       pr.GetHTMLURL(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}
}
