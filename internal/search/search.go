// Package search runs web searches for the research specialist.
//
// Each backend implements [Provider]. The [Manager] routes a query to
// the configured primary backend and falls back to the others when it
// fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hanig/hani-replica/internal/htmltext"
	"github.com/hanig/hani-replica/internal/httpkit"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means 5.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code (e.g., "en").
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	switch {
	case o.Count <= 0:
		return 5
	case o.Count > 20:
		return 20
	}
	return o.Count
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Config selects and configures backends under the "search" key.
type Config struct {
	// Primary names the backend tried first. Defaults to the first
	// configured one.
	Primary string        `yaml:"primary"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// Configured reports whether any backend is configured.
func (c Config) Configured() bool {
	return c.SearXNG.Configured() || c.Brave.Configured()
}

// Manager holds configured providers in preference order.
type Manager struct {
	providers []Provider
	primary   string
	logger    *slog.Logger
}

// NewManager creates a manager with cfg's backends registered.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{primary: cfg.Primary, logger: logger}
	if cfg.SearXNG.Configured() {
		m.Register(NewSearXNG(cfg.SearXNG.URL, logger))
	}
	if cfg.Brave.Configured() {
		m.Register(NewBrave(cfg.Brave.APIKey, logger))
	}
	return m
}

// Register adds a provider. The primary provider is moved to the
// front regardless of registration order.
func (m *Manager) Register(p Provider) {
	if p.Name() == m.primary {
		m.providers = append([]Provider{p}, m.providers...)
		return
	}
	m.providers = append(m.providers, p)
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool { return len(m.providers) > 0 }

// Providers returns provider names in the order they are tried.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Search tries each provider in order and returns the first success.
// Snippets are reduced to plain text.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if len(m.providers) == 0 {
		return nil, errors.New("no web search provider configured")
	}

	var errs []error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, opts)
		if err != nil {
			m.logger.Warn("search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if n := opts.count(); len(results) > n {
			results = results[:n]
		}
		for i := range results {
			results[i].Title = htmltext.Text(results[i].Title)
			results[i].Snippet = htmltext.Truncate(htmltext.Text(results[i].Snippet), 300)
		}
		return results, nil
	}
	return nil, fmt.Errorf("web search: %w", errors.Join(errs...))
}

// FormatResults renders results as a numbered list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strconv.Itoa(i+1) + ". " + r.Title + "\n   " + r.URL)
		if r.Snippet != "" {
			sb.WriteString("\n   " + r.Snippet)
		}
	}
	return sb.String()
}

// getJSON issues a GET and decodes a 2xx JSON body into out. Non-2xx
// replies surface as *httpkit.StatusError.
func getJSON(ctx context.Context, c *http.Client, service, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", service, err)
	}
	return httpkit.DecodeJSON(service, resp, out)
}
