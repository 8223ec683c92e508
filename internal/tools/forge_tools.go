package tools

import (
	"context"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/forge"
)

func (r *Registry) registerForgeTools(s *Services) {
	listParams := func(what string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"state":       map[string]any{"type": "string", "enum": []string{"open", "closed", "all"}, "description": what + " state (default open)"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 10)"},
				"account":     map[string]any{"type": "string", "description": "Forge account (default: primary)"},
			},
		}
	}
	stateArg := func(args map[string]any) string {
		if st := argString(args, "state"); st != "" {
			return st
		}
		return "open"
	}

	r.Register(&Tool{
		Name:        "GetGitHubPRsTool",
		Description: "Get the user's pull requests on GitHub.",
		Parameters:  listParams("PR"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Forge == nil {
				return nil, errNotConfigured("GitHub")
			}
			state := stateArg(args)
			prs, err := s.Forge.MyPRs(ctx, argString(args, "account"), state, maxResults(args, 10))
			if err != nil {
				return nil, err
			}
			prs = nonNil(prs)
			return map[string]any{
				"state":         state,
				"pr_count":      len(prs),
				"pull_requests": prs,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "GetGitHubIssuesTool",
		Description: "Get GitHub issues assigned to the user.",
		Parameters:  listParams("Issue"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Forge == nil {
				return nil, errNotConfigured("GitHub")
			}
			state := stateArg(args)
			issues, err := s.Forge.MyIssues(ctx, argString(args, "account"), state, maxResults(args, 10))
			if err != nil {
				return nil, err
			}
			issues = nonNil(issues)
			return map[string]any{
				"state":       state,
				"issue_count": len(issues),
				"issues":      issues,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "SearchGitHubCodeTool",
		Description: "Search code across the user's GitHub repositories.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Code search query"},
				"repo":        map[string]any{"type": "string", "description": "Limit to a repository, owner/repo (optional)"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 20)"},
				"account":     map[string]any{"type": "string", "description": "Forge account (default: primary)"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Forge == nil {
				return nil, errNotConfigured("GitHub")
			}
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			repo := argString(args, "repo")
			results, err := s.Forge.SearchCode(ctx, argString(args, "account"), query, repo, maxResults(args, 20))
			if err != nil {
				return nil, err
			}
			results = nonNil(results)
			return map[string]any{
				"query":        query,
				"repo":         repo,
				"result_count": len(results),
				"results":      results,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CreateGitHubIssueTool",
		Description: "Create a new GitHub issue. The user is asked to confirm before the issue is created.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":    map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"title":   map[string]any{"type": "string", "description": "Issue title"},
				"body":    map[string]any{"type": "string", "description": "Issue description (markdown)"},
				"labels":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Labels to apply (optional)"},
				"account": map[string]any{"type": "string", "description": "Forge account (default: primary)"},
			},
			"required": []string{"repo", "title"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return propose(ctx, action.NewCreateIssue(action.Issue{
				Repo:    argString(args, "repo"),
				Title:   argString(args, "title"),
				Body:    argString(args, "body"),
				Labels:  argStrings(args, "labels"),
				Account: argString(args, "account"),
			}))
		},
	})

	r.Register(&Tool{
		Name:        "CommentGitHubIssueTool",
		Description: "Add a comment to a GitHub issue or pull request. The user is asked to confirm before posting.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":    map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"number":  map[string]any{"type": "integer", "description": "Issue or PR number"},
				"body":    map[string]any{"type": "string", "description": "Comment text (markdown)"},
				"account": map[string]any{"type": "string", "description": "Forge account (default: primary)"},
			},
			"required": []string{"repo", "number", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return propose(ctx, action.NewCommentIssue(action.Comment{
				Repo:    argString(args, "repo"),
				Number:  argString(args, "number"),
				Body:    argString(args, "body"),
				Account: argString(args, "account"),
			}))
		},
	})
}

func nonNil(xs []forge.SearchResult) []forge.SearchResult {
	if xs == nil {
		return []forge.SearchResult{}
	}
	return xs
}
