package email

import (
	"strings"
	"testing"
)

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want string
	}{
		{
			name: "bold",
			md:   "This is **bold** text",
			want: "This is bold text",
		},
		{
			name: "italic",
			md:   "This is *italic* text",
			want: "This is italic text",
		},
		{
			name: "link",
			md:   "Visit [Example](https://example.com) now",
			want: "Visit Example (https://example.com) now",
		},
		{
			name: "heading",
			md:   "## Section Title\n\nSome text",
			want: "Section Title\n\nSome text",
		},
		{
			name: "inline code",
			md:   "Use the `fmt.Println` function",
			want: "Use the fmt.Println function",
		},
		{
			name: "code block",
			md:   "Before\n```go\nfmt.Println(\"hello\")\n```\nAfter",
			want: "Before\nfmt.Println(\"hello\")\n\nAfter",
		},
		{
			name: "image",
			md:   "See ![alt text](https://example.com/img.png) here",
			want: "See alt text here",
		},
		{
			name: "list items preserved",
			md:   "- item one\n- item two\n- item three",
			want: "- item one\n- item two\n- item three",
		},
		{
			name: "plain text unchanged",
			md:   "Just some regular text.",
			want: "Just some regular text.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := markdownToPlain(tt.md)
			if got != tt.want {
				t.Errorf("markdownToPlain(%q) =\n  %q\nwant\n  %q", tt.md, got, tt.want)
			}
		})
	}
}

func TestMarkdownToHTML(t *testing.T) {
	html, err := markdownToHTML("Hello **world**")
	if err != nil {
		t.Fatalf("markdownToHTML() error: %v", err)
	}

	if !strings.Contains(html, "<strong>world</strong>") {
		t.Error("HTML should contain <strong> tag for bold")
	}
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("HTML should have DOCTYPE wrapper")
	}
	if !strings.Contains(html, "charset=\"utf-8\"") && !strings.Contains(html, "charset=utf-8") {
		t.Error("HTML should declare utf-8 charset")
	}
}

func TestComposeMessage(t *testing.T) {
	msg, id, err := ComposeMessage(ComposeOptions{
		From:    "Hani <hani@example.com>",
		To:      []string{"dana@example.com"},
		Subject: "Q3 review",
		Body:    "Hello **Dana**",
	})
	if err != nil {
		t.Fatalf("ComposeMessage() error: %v", err)
	}
	if id == "" {
		t.Error("expected generated Message-ID")
	}

	s := string(msg)
	for _, want := range []string{
		"hani@example.com",
		"dana@example.com",
		"Subject: Q3 review",
		"Message-Id:",
		"Date:",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"<strong>Dana</strong>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q:\n%s", want, s[:min(len(s), 800)])
		}
	}
}

func TestComposeMessage_CcBcc(t *testing.T) {
	msg, _, err := ComposeMessage(ComposeOptions{
		From:    "hani@example.com",
		To:      []string{"a@example.com"},
		Cc:      []string{"Bo <b@example.com>"},
		Bcc:     []string{"owner@example.com"},
		Subject: "Hi",
		Body:    "Body",
	})
	if err != nil {
		t.Fatalf("ComposeMessage() error: %v", err)
	}
	s := string(msg)
	if !strings.Contains(s, "Cc:") || !strings.Contains(s, "b@example.com") {
		t.Error("message should carry Cc header")
	}
	if !strings.Contains(s, "Bcc:") {
		t.Error("message should carry Bcc header")
	}
}

func TestComposeMessage_InvalidAddresses(t *testing.T) {
	tests := []struct {
		name string
		opts ComposeOptions
	}{
		{"bad from", ComposeOptions{From: "not an address", To: []string{"a@example.com"}}},
		{"bad to", ComposeOptions{From: "a@example.com", To: []string{"@@"}}},
		{"bad cc", ComposeOptions{From: "a@example.com", To: []string{"b@example.com"}, Cc: []string{"nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ComposeMessage(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseAddressList(t *testing.T) {
	got, err := parseAddressList([]string{"Ada <ada@example.com>", "bo@example.com"})
	if err != nil || len(got) != 2 || got[0].Name != "Ada" || got[1].Address != "bo@example.com" {
		t.Errorf("parseAddressList = %v, %v", got, err)
	}
	if _, err := parseAddressList([]string{"ok@example.com", "@@"}); err == nil || !strings.Contains(err.Error(), `parse address "@@"`) {
		t.Errorf("err = %v", err)
	}
}
