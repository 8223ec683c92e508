// Package forge wraps the code forge (GitHub) operations the assistant
// needs: listing the user's pull requests and issues, searching code,
// and opening or commenting on issues.
package forge

import "time"

// Issue is a single issue on the forge.
type Issue struct {
	Number       int       `json:"number"`
	Repo         string    `json:"repo,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	State        string    `json:"state"`
	Labels       []string  `json:"labels,omitempty"`
	Assignees    []string  `json:"assignees,omitempty"`
	Author       string    `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	URL          string    `json:"url"`
	CommentCount int       `json:"comments"`
}

// Comment is a comment on an issue or pull request.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
}

// PullRequest is a pull request on the forge.
type PullRequest struct {
	Number    int       `json:"number"`
	Repo      string    `json:"repo,omitempty"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Author    string    `json:"author,omitempty"`
	Head      string    `json:"head,omitempty"`
	Base      string    `json:"base,omitempty"`
	Draft     bool      `json:"draft,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Role is "author" or "reviewer" when the PR came from a
	// user-centric query.
	Role string `json:"role,omitempty"`
}

// ListOptions filters list operations on issues and pull requests.
type ListOptions struct {
	// State filters by state: "open", "closed", or "all".
	State    string
	Labels   string
	Assignee string
	Limit    int
}

// SearchKind identifies the type of entity to search for.
type SearchKind string

const (
	// SearchIssues searches issues and pull requests.
	SearchIssues SearchKind = "issue"
	// SearchCode searches source code.
	SearchCode SearchKind = "code"
)

// SearchResult is a single hit from a forge search.
type SearchResult struct {
	Kind      string    `json:"kind"`
	Number    int       `json:"number,omitempty"`
	Title     string    `json:"title,omitempty"`
	State     string    `json:"state,omitempty"`
	IsPR      bool      `json:"is_pr,omitempty"`
	Repo      string    `json:"repo,omitempty"`
	Path      string    `json:"path,omitempty"`
	URL       string    `json:"url"`
	Snippet   string    `json:"snippet,omitempty"`
	Author    string    `json:"author,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}
