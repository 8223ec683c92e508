// Package notion searches, reads and creates pages through the Notion
// public API.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
)

// Config holds the "notion" YAML section.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// DefaultDatabase receives pages when no database is named.
	DefaultDatabase string `yaml:"default_database"`
}

// Configured reports whether an API key is set.
func (c Config) Configured() bool { return c.APIKey != "" }

// Page is a page or database as returned by search and page reads.
type Page struct {
	ID         string         `json:"id"`
	Object     string         `json:"type"`
	Title      string         `json:"title"`
	URL        string         `json:"url,omitempty"`
	LastEdited string         `json:"last_edited,omitempty"`
	ParentType string         `json:"parent_type,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
	Archived   bool           `json:"archived,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Block is one content block with its text flattened.
type Block struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	Checked  bool    `json:"checked,omitempty"`
	Language string  `json:"language,omitempty"`
	URL      string  `json:"url,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// Client talks to the Notion API.
type Client struct {
	baseURL    string
	defaultDB  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for cfg.
func New(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(base, "/"),
		defaultDB: cfg.DefaultDatabase,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.APIKey),
			httpkit.WithHeader("Notion-Version", apiVersion),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notion: encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("notion: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion: %s %s: %w", method, path, err)
	}
	return httpkit.DecodeJSON("notion", resp, out)
}

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor"`
}

// Search finds pages and databases whose title matches query.
func (c *Client) Search(ctx context.Context, query string, max int) ([]Page, error) {
	if max <= 0 {
		max = 10
	}
	var (
		out    []Page
		cursor string
	)
	for len(out) < max {
		body := map[string]any{
			"query":     query,
			"page_size": min(100, max-len(out)),
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp listResponse
		if err := c.do(ctx, http.MethodPost, "/search", nil, body, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Results {
			var obj rawObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("notion: decode result: %w", err)
			}
			out = append(out, obj.page())
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Page fetches page metadata and properties.
func (c *Client) Page(ctx context.Context, id string) (*Page, error) {
	var obj rawObject
	if err := c.do(ctx, http.MethodGet, "/pages/"+url.PathEscape(id), nil, nil, &obj); err != nil {
		return nil, err
	}
	p := obj.page()
	return &p, nil
}

// Blocks returns up to max content blocks of a page. Nested children
// are fetched one level at a time, at most 20 per parent.
func (c *Client) Blocks(ctx context.Context, id string, max int) ([]Block, error) {
	if max <= 0 {
		max = 200
	}
	var (
		out    []Block
		cursor string
	)
	for len(out) < max {
		q := url.Values{"page_size": {fmt.Sprint(min(100, max-len(out)))}}
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var resp listResponse
		if err := c.do(ctx, http.MethodGet, "/blocks/"+url.PathEscape(id)+"/children", q, nil, &resp); err != nil {
			return nil, err
		}
		for _, raw := range resp.Results {
			var rb rawBlock
			if err := json.Unmarshal(raw, &rb); err != nil {
				return nil, fmt.Errorf("notion: decode block: %w", err)
			}
			b := rb.block()
			if rb.HasChildren && len(out) < max {
				children, err := c.Blocks(ctx, rb.ID, 20)
				if err != nil {
					c.logger.Debug("notion child blocks unavailable", "block_id", rb.ID, "error", err)
				}
				b.Children = children
			}
			out = append(out, b)
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// PageWithText fetches a page and renders its content as text.
func (c *Client) PageWithText(ctx context.Context, id string, maxBlocks int) (*Page, string, error) {
	p, err := c.Page(ctx, id)
	if err != nil {
		return nil, "", err
	}
	blocks, err := c.Blocks(ctx, id, maxBlocks)
	if err != nil {
		return nil, "", err
	}
	return p, BlocksToText(blocks), nil
}

// CreatePage adds a page to databaseID (or the configured default)
// with the given title, extra properties and plain-text content, one
// paragraph block per non-empty line.
func (c *Client) CreatePage(ctx context.Context, databaseID, title string, props map[string]any, content string) (*Page, error) {
	if databaseID == "" {
		databaseID = c.defaultDB
	}
	if databaseID == "" {
		return nil, errors.New("notion database_id is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("notion page title is required")
	}

	titleProp, err := c.titleProperty(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	properties := make(map[string]any, len(props)+1)
	for k, v := range props {
		properties[k] = v
	}
	properties[titleProp] = map[string]any{
		"title": []any{map[string]any{"text": map[string]any{"content": title}}},
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	if children := paragraphs(content); len(children) > 0 {
		body["children"] = children
	}

	var obj rawObject
	if err := c.do(ctx, http.MethodPost, "/pages", nil, body, &obj); err != nil {
		return nil, err
	}
	p := obj.pageTitled(title)
	c.logger.Info("notion page created", "page_id", p.ID, "database_id", databaseID)
	return &p, nil
}

// titleProperty finds the name of the database's title column,
// defaulting to "Name" when the schema cannot be read.
func (c *Client) titleProperty(ctx context.Context, databaseID string) (string, error) {
	var db struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	err := c.do(ctx, http.MethodGet, "/databases/"+url.PathEscape(databaseID), nil, nil, &db)
	if err != nil {
		var se *httpkit.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return "", fmt.Errorf("notion database %s not found or not shared with the integration", databaseID)
		}
		c.logger.Debug("notion database schema unavailable", "database_id", databaseID, "error", err)
		return "Name", nil
	}
	for name, p := range db.Properties {
		if p.Type == "title" {
			return name, nil
		}
	}
	return "Name", nil
}

func paragraphs(content string) []any {
	var out []any
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, map[string]any{
			"object": "block",
			"type":   "paragraph",
			"paragraph": map[string]any{
				"rich_text": []any{map[string]any{"type": "text", "text": map[string]any{"content": line}}},
			},
		})
	}
	return out
}
