// Package email reads mail over IMAP and writes it over SMTP or as IMAP
// drafts. It backs the assistant's inbox search, unread counts, draft
// creation and direct send.
package email

import (
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// drainLiteral reads and discards an IMAP literal so the stream stays
// in sync. Nil readers are ignored.
func drainLiteral(r imap.LiteralReader) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, r)
}

// Envelope is the summary metadata for a message, suitable for search
// results.
type Envelope struct {
	Account string    `json:"account,omitempty"`
	UID     uint32    `json:"uid"`
	Date    time.Time `json:"date"`
	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Flags   []string  `json:"-"`
	Unread  bool      `json:"unread"`

	// Snippet is the first part of the text body, set only when the
	// search asked for snippets.
	Snippet string `json:"snippet,omitempty"`
}

// SearchOptions controls email search behavior.
type SearchOptions struct {
	// Folder is the mailbox to search. Default: "INBOX".
	Folder string

	// Query is free text matched against message content.
	Query string

	// From filters by sender address or name.
	From string

	Since  time.Time
	Before time.Time

	// Unseen restricts results to messages without \Seen.
	Unseen bool

	// Limit is the maximum number of results. Default: 20.
	Limit int

	// Snippets fetches the body of each hit (without marking it
	// read) and fills Envelope.Snippet.
	Snippets bool
}

// Draft is an outbound message. Body is markdown; the compose layer
// renders text/plain and text/html parts from it.
type Draft struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// DraftResult reports where a draft or sent message ended up.
type DraftResult struct {
	Account   string `json:"account"`
	Folder    string `json:"folder,omitempty"`
	UID       uint32 `json:"uid,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}
