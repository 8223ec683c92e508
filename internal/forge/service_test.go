package forge

import (
	"context"
	"testing"
)

type fakeProvider struct {
	queries  []string
	results  map[string][]SearchResult
	created  *Issue
	repo     string
	comments []string
}

func (f *fakeProvider) CreateIssue(_ context.Context, repo string, issue *Issue) (*Issue, error) {
	f.repo, f.created = repo, issue
	return &Issue{Number: 1, Title: issue.Title, Repo: repo}, nil
}

func (f *fakeProvider) ListIssues(context.Context, string, *ListOptions) ([]*Issue, error) {
	return nil, nil
}

func (f *fakeProvider) AddComment(_ context.Context, repo string, number int, body string) (*Comment, error) {
	f.repo = repo
	f.comments = append(f.comments, body)
	return &Comment{ID: int64(number), Body: body}, nil
}

func (f *fakeProvider) ListPRs(context.Context, string, *ListOptions) ([]*PullRequest, error) {
	return nil, nil
}

func (f *fakeProvider) Search(_ context.Context, query string, _ SearchKind, _ int) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results[query], nil
}

func newTestService(p Provider, acct AccountConfig) *Service {
	m := &Manager{providers: map[string]Provider{}, configs: map[string]AccountConfig{}}
	m.add(acct, p)
	return NewService(m)
}

func TestServiceMyPRs(t *testing.T) {
	p := &fakeProvider{results: map[string][]SearchResult{
		"is:pr author:hani state:open": {
			{URL: "u1", Title: "mine"},
			{URL: "u2", Title: "also mine"},
		},
		"is:pr review-requested:hani state:open": {
			{URL: "u2", Title: "also mine"},
			{URL: "u3", Title: "review me"},
			{URL: "u4", Title: "over cap"},
		},
	}}
	s := newTestService(p, AccountConfig{Name: "work", Username: "hani"})

	prs, err := s.MyPRs(context.Background(), "", "open", 3)
	if err != nil {
		t.Fatalf("MyPRs: %v", err)
	}
	if len(prs) != 3 {
		t.Fatalf("got %d PRs, want 3: %+v", len(prs), prs)
	}
	if prs[0].URL != "u1" || prs[1].URL != "u2" || prs[2].URL != "u3" {
		t.Errorf("order/dedupe wrong: %+v", prs)
	}
}

func TestServiceMyPRsAllStateOmitsQualifier(t *testing.T) {
	p := &fakeProvider{}
	s := newTestService(p, AccountConfig{Name: "work", Username: "hani"})
	if _, err := s.MyPRs(context.Background(), "", "all", 5); err != nil {
		t.Fatal(err)
	}
	if p.queries[0] != "is:pr author:hani" {
		t.Errorf("query = %q", p.queries[0])
	}
}

func TestServiceRequiresUsername(t *testing.T) {
	s := newTestService(&fakeProvider{}, AccountConfig{Name: "work"})
	if _, err := s.MyIssues(context.Background(), "", "open", 5); err == nil {
		t.Error("expected error without username")
	}
}

func TestServiceMyIssues(t *testing.T) {
	p := &fakeProvider{}
	s := newTestService(p, AccountConfig{Name: "work", Username: "hani"})
	if _, err := s.MyIssues(context.Background(), "", "closed", 5); err != nil {
		t.Fatal(err)
	}
	if p.queries[0] != "is:issue assignee:hani state:closed" {
		t.Errorf("query = %q", p.queries[0])
	}
}

func TestServiceSearchCode(t *testing.T) {
	tests := []struct {
		name string
		repo string
		want string
	}{
		{"repo scoped", "api", "retry repo:acme/api"},
		{"qualified repo", "other/lib", "retry repo:other/lib"},
		{"org scoped", "", "retry org:acme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{}
			s := newTestService(p, AccountConfig{Name: "work", Owner: "acme"})
			if _, err := s.SearchCode(context.Background(), "", "retry", tt.repo, 10); err != nil {
				t.Fatal(err)
			}
			if p.queries[0] != tt.want {
				t.Errorf("query = %q, want %q", p.queries[0], tt.want)
			}
		})
	}
}

func TestServiceSearchCodeEmptyQuery(t *testing.T) {
	s := newTestService(&fakeProvider{}, AccountConfig{Name: "work"})
	if _, err := s.SearchCode(context.Background(), "", "  ", "", 10); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestServiceCreateIssueAndComment(t *testing.T) {
	p := &fakeProvider{}
	s := newTestService(p, AccountConfig{Name: "work", Owner: "acme"})

	issue, err := s.CreateIssue(context.Background(), "", "api", "Bug", "details", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.repo != "acme/api" || issue.Title != "Bug" || p.created.Body != "details" {
		t.Errorf("repo = %q, issue = %+v", p.repo, issue)
	}

	if _, err := s.Comment(context.Background(), "", "acme/api", 4, "ack"); err != nil {
		t.Fatal(err)
	}
	if len(p.comments) != 1 || p.comments[0] != "ack" {
		t.Errorf("comments = %v", p.comments)
	}
}
