// Package fetch downloads web pages and reduces them to readable text
// for the research tools.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hanig/hani-replica/internal/buildinfo"
	"github.com/hanig/hani-replica/internal/htmltext"
	"github.com/hanig/hani-replica/internal/httpkit"
)

const (
	// DefaultMaxChars caps the extracted text handed to the model.
	DefaultMaxChars = 8000
	maxBodyBytes    = 5 << 20
)

// ErrUnsupportedScheme is returned for anything but http and https.
var ErrUnsupportedScheme = errors.New("only http and https URLs can be fetched")

// Page is a fetched and reduced document.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New returns a Fetcher with a 20s timeout and one retry.
func New(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithRetry(1, time.Second),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Fetch downloads rawURL and returns its text. A bare host gets
// https://. maxChars <= 0 means DefaultMaxChars.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	u, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpkit.StatusError{Service: "fetch", Code: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 256)}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}

	ct := resp.Header.Get("Content-Type")
	page := &Page{URL: resp.Request.URL.String(), ContentType: ct}
	switch {
	case isHTML(ct, body):
		page.Title, page.Content = htmltext.Extract(string(body))
	case utf8.Valid(body):
		page.Content = strings.TrimSpace(string(body))
	default:
		page.Content = fmt.Sprintf("(binary content, %s, %d bytes)", ct, len(body))
	}

	if utf8.RuneCountInString(page.Content) > maxChars {
		page.Content = htmltext.Truncate(page.Content, maxChars)
		page.Truncated = true
	}
	f.logger.Debug("page fetched", "url", page.URL, "chars", len(page.Content), "truncated", page.Truncated)
	return page, nil
}

func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

// isHTML trusts the declared type and sniffs when none is given.
func isHTML(ct string, body []byte) bool {
	ct = strings.ToLower(ct)
	if ct == "" {
		ct = strings.ToLower(http.DetectContentType(body))
	}
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
