package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

// BraveConfig enables the Brave Search API.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

func (c BraveConfig) Configured() bool { return c.APIKey != "" }

// Brave queries the hosted Brave Search API. The key travels as a
// default header on every request.
type Brave struct {
	endpoint string
	client   *http.Client
}

func NewBrave(apiKey string, logger *slog.Logger) *Brave {
	return &Brave{
		endpoint: "https://api.search.brave.com/res/v1/web/search",
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithHeader("X-Subscription-Token", apiKey),
			httpkit.WithLogger(logger),
		),
	}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	q := url.Values{"q": {query}, "count": {strconv.Itoa(opts.count())}}
	if opts.Language != "" {
		q.Set("search_lang", opts.Language)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := getJSON(ctx, b.client, b.Name(), b.endpoint+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	out := make([]Result, len(body.Web.Results))
	for i, r := range body.Web.Results {
		out[i] = Result{Title: r.Title, URL: r.URL, Snippet: r.Description}
	}
	return out, nil
}
