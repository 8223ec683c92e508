package email

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/hanig/hani-replica/internal/htmltext"
)

// maxBodySize caps how much of a single MIME part is read.
const maxBodySize = 32 * 1024

// snippetLength is the rune length of search-result snippets.
const snippetLength = 200

// extractText walks the MIME structure and returns the text/plain body,
// falling back to the visible text of the text/html body.
//
// go-message may return both a usable reader and an error for unknown
// charsets or encodings; those are treated as non-fatal.
func extractText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("create mail reader: %w", err)
	}
	if mr == nil {
		return "", fmt.Errorf("create mail reader returned nil")
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return firstNonEmpty(plain, htmltext.Text(htmlBody)), fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		switch {
		case contentType == "text/plain" && plain == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize))
			if err != nil {
				continue
			}
			plain = strings.TrimSpace(string(body))
		case contentType == "text/html" && htmlBody == "":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize))
			if err != nil {
				continue
			}
			htmlBody = string(body)
		}
	}

	return firstNonEmpty(plain, htmltext.Text(htmlBody)), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// snippet collapses whitespace and truncates to n runes.
func snippet(text string, n int) string {
	return htmltext.Truncate(strings.Join(strings.Fields(text), " "), n)
}
