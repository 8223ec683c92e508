package tools

import (
	"context"
	"unicode/utf8"
)

// maxPageText bounds the page body returned to the model.
const maxPageText = 8000

func (r *Registry) registerNotionTools(s *Services) {
	r.Register(&Tool{
		Name:        "SearchNotionTool",
		Description: "Search Notion pages and databases by title and content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 10)"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Notion == nil {
				return nil, errNotConfigured("Notion")
			}
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			pages, err := s.Notion.Search(ctx, query, maxResults(args, 10))
			if err != nil {
				return nil, err
			}
			results := make([]map[string]any, 0, len(pages))
			for _, p := range pages {
				title := p.Title
				if title == "" {
					title = "Untitled"
				}
				results = append(results, map[string]any{
					"id":          p.ID,
					"type":        p.Object,
					"title":       title,
					"url":         p.URL,
					"last_edited": p.LastEdited,
				})
			}
			return map[string]any{
				"query":        query,
				"result_count": len(results),
				"results":      results,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "GetNotionPageTool",
		Description: "Read a Notion page's properties and text content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page_id": map[string]any{"type": "string", "description": "Page ID from SearchNotionTool"},
			},
			"required": []string{"page_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Notion == nil {
				return nil, errNotConfigured("Notion")
			}
			id, err := requireString(args, "page_id")
			if err != nil {
				return nil, err
			}
			page, text, err := s.Notion.PageWithText(ctx, id, 100)
			if err != nil {
				return nil, err
			}
			truncated := false
			if len(text) > maxPageText {
				cut := maxPageText
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				text, truncated = text[:cut], true
			}
			return map[string]any{
				"page_id":    page.ID,
				"title":      page.Title,
				"url":        page.URL,
				"properties": page.Properties,
				"content":    text,
				"truncated":  truncated,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CreateNotionPageTool",
		Description: "Create a page in a Notion database.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Page title"},
				"database_id": map[string]any{"type": "string", "description": "Target database (default: configured database)"},
				"content":     map[string]any{"type": "string", "description": "Page body text, one paragraph per line (optional)"},
				"properties":  map[string]any{"type": "object", "description": "Extra Notion property values (optional)"},
			},
			"required": []string{"title"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Notion == nil {
				return nil, errNotConfigured("Notion")
			}
			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			props, _ := args["properties"].(map[string]any)
			page, err := s.Notion.CreatePage(ctx, argString(args, "database_id"), title, props, argString(args, "content"))
			if err != nil {
				return nil, err
			}
			where := page.URL
			if where == "" {
				where = page.ID
			}
			return map[string]any{
				"page_id": page.ID,
				"url":     page.URL,
				"title":   title,
				"message": "Page created: " + where,
			}, nil
		},
	})
}
