package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

// SearXNGConfig points at a self-hosted SearXNG instance with the JSON
// output format enabled.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// SearXNG queries a metasearch instance. The API has no result count
// parameter, so results are cut locally.
type SearXNG struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG takes the instance root, e.g. "http://localhost:8080".
func NewSearXNG(baseURL string, logger *slog.Logger) *SearXNG {
	return &SearXNG{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/search",
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	q := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, s.client, s.Name(), s.endpoint+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	hits := body.Results
	if n := opts.count(); len(hits) > n {
		hits = hits[:n]
	}
	out := make([]Result, len(hits))
	for i, r := range hits {
		out[i] = Result{Title: r.Title, URL: r.URL, Snippet: r.Content}
	}
	return out, nil
}
