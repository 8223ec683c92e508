package forge

import "context"

// Provider is the set of forge operations used by the assistant. All
// repo parameters use "owner/name" format.
type Provider interface {
	CreateIssue(ctx context.Context, repo string, issue *Issue) (*Issue, error)
	ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error)
	AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error)
	ListPRs(ctx context.Context, repo string, opts *ListOptions) ([]*PullRequest, error)

	// Search runs a forge-native query. Limit caps the number of
	// results; zero means the provider default.
	Search(ctx context.Context, query string, kind SearchKind, limit int) ([]SearchResult, error)
}
