package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/feedback"
	"github.com/hanig/hani-replica/internal/search"
)

// Sources searched by SemanticSearchTool. The names double as feedback
// result sources.
const (
	SourceEmail    = "email"
	SourceNotion   = "notion"
	SourceGitHub   = "github"
	SourceContacts = "contacts"
	SourceTodoist  = "todoist"
)

var allSources = []string{SourceEmail, SourceNotion, SourceGitHub, SourceContacts, SourceTodoist}

// hit is one federated search result.
type hit struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
	Date    string `json:"date,omitempty"`
	ID      string `json:"id,omitempty"`
}

func (r *Registry) registerSearchTools(s *Services) {
	r.Register(&Tool{
		Name:        "SemanticSearchTool",
		Description: "Search across all of the user's data (email, Notion, GitHub issues, contacts and tasks) for content matching the query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to search for"},
				"sources": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": allSources},
					"description": "Restrict to these sources (default: all)",
				},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 10)"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			max := maxResults(args, 10)
			hits, err := federatedSearch(ctx, s, query, argStrings(args, "sources"), max)
			if err != nil {
				return nil, err
			}
			hits = boostByFeedback(ctx, s, hits)
			hits = truncate(hits, max)
			return map[string]any{
				"query":        query,
				"result_count": len(hits),
				"results":      hits,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "SearchWebTool",
		Description: "Search the public web for current information.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 5)"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Web == nil {
				return nil, errNotConfigured("web search")
			}
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			results, err := s.Web.Search(ctx, query, search.Options{Count: maxResults(args, 5)})
			if err != nil {
				return nil, err
			}
			if results == nil {
				results = []search.Result{}
			}
			return map[string]any{
				"query":        query,
				"result_count": len(results),
				"results":      results,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "ReadWebPageTool",
		Description: "Read the text of a public web page, for example a result from SearchWebTool.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":       map[string]any{"type": "string", "description": "Page URL"},
				"max_chars": map[string]any{"type": "integer", "description": "Maximum characters of text to return (default 8000)"},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Pages == nil {
				return nil, errNotConfigured("web page reader")
			}
			u, err := requireString(args, "url")
			if err != nil {
				return nil, err
			}
			return s.Pages.Fetch(ctx, u, argInt(args, "max_chars", 0))
		},
	})
}

// federatedSearch queries each configured source concurrently. It fails
// only when every queried source failed.
func federatedSearch(ctx context.Context, s *Services, query string, sources []string, max int) ([]hit, error) {
	if len(sources) == 0 {
		sources = allSources
	}
	type searcher func(context.Context) ([]hit, error)
	run := map[string]searcher{}
	for _, src := range sources {
		switch strings.ToLower(src) {
		case SourceEmail:
			if s.Mail != nil {
				run[SourceEmail] = func(ctx context.Context) ([]hit, error) { return searchMail(ctx, s.Mail, query, max) }
			}
		case SourceNotion:
			if s.Notion != nil {
				run[SourceNotion] = func(ctx context.Context) ([]hit, error) { return searchNotion(ctx, s.Notion, query, max) }
			}
		case SourceGitHub:
			if s.Forge != nil {
				run[SourceGitHub] = func(ctx context.Context) ([]hit, error) { return searchForge(ctx, s.Forge, query, max) }
			}
		case SourceContacts:
			if s.People != nil {
				run[SourceContacts] = func(context.Context) ([]hit, error) { return searchPeople(s.People, query, max) }
			}
		case SourceTodoist:
			if s.Todoist != nil {
				run[SourceTodoist] = func(ctx context.Context) ([]hit, error) { return searchTasks(ctx, s.Todoist, query, max) }
			}
		}
	}
	if len(run) == 0 {
		return nil, errors.New("no searchable sources are configured")
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		hits = map[string][]hit{}
		errs []error
	)
	for name, fn := range run {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs, err := fn(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			hits[name] = hs
		}()
	}
	wg.Wait()
	if len(errs) == len(run) {
		return nil, errors.Join(errs...)
	}

	// Interleave so one chatty source does not crowd out the rest.
	out := []hit{}
	for i := 0; ; i++ {
		added := false
		for _, src := range allSources {
			if hs := hits[src]; i < len(hs) {
				out = append(out, hs[i])
				added = true
			}
		}
		if !added {
			return out, nil
		}
	}
}

func boostByFeedback(ctx context.Context, s *Services, hits []hit) []hit {
	user := UserIDFromContext(ctx)
	if s.Relevance == nil || user == "" {
		return hits
	}
	scores, err := s.Relevance.RelevanceScores(ctx, user)
	if err != nil || len(scores) == 0 {
		return hits
	}
	return feedback.Boost(scores, hits, func(h hit) string { return h.Source })
}

func searchMail(ctx context.Context, m MailService, query string, max int) ([]hit, error) {
	envs, err := m.Search(ctx, "", email.SearchOptions{Query: query, Limit: max, Snippets: true})
	if err != nil {
		return nil, err
	}
	out := make([]hit, 0, len(envs))
	for _, e := range envs {
		out = append(out, hit{
			Source:  SourceEmail,
			Title:   e.Subject,
			Snippet: e.Snippet,
			Date:    e.Date.Format("2006-01-02"),
			ID:      fmt.Sprintf("%s/%d", e.Account, e.UID),
		})
	}
	return out, nil
}

func searchNotion(ctx context.Context, n NotionService, query string, max int) ([]hit, error) {
	pages, err := n.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	out := make([]hit, 0, len(pages))
	for _, p := range pages {
		out = append(out, hit{Source: SourceNotion, Title: p.Title, URL: p.URL, Date: p.LastEdited, ID: p.ID})
	}
	return out, nil
}

func searchForge(ctx context.Context, f ForgeService, query string, max int) ([]hit, error) {
	results, err := f.SearchIssues(ctx, "", query, max)
	if err != nil {
		return nil, err
	}
	out := make([]hit, 0, len(results))
	for _, r := range results {
		out = append(out, hit{Source: SourceGitHub, Title: r.Title, Snippet: r.Repo, URL: r.URL})
	}
	return out, nil
}

func searchPeople(d Directory, query string, max int) ([]hit, error) {
	found, err := d.Find(query, max)
	if err != nil {
		return nil, err
	}
	out := make([]hit, 0, len(found))
	for _, c := range found {
		out = append(out, hit{Source: SourceContacts, Title: c.Name, Snippet: c.Summary, ID: c.ID.String()})
	}
	return out, nil
}

// searchTasks matches active tasks whose content or description contains
// every query word.
func searchTasks(ctx context.Context, t TaskService, query string, max int) ([]hit, error) {
	tasks, err := t.Tasks(ctx, "", "")
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	var out []hit
	for _, task := range tasks {
		text := strings.ToLower(task.Content + " " + task.Description)
		match := true
		for _, w := range words {
			if !strings.Contains(text, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, hit{Source: SourceTodoist, Title: task.Content, Snippet: task.DueText(), URL: task.URL, ID: task.ID})
		}
	}
	return truncate(out, max), nil
}
