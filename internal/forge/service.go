package forge

import (
	"context"
	"fmt"
	"strings"
)

// Service answers user-centric forge questions on top of a Manager.
type Service struct {
	mgr *Manager
}

// NewService wraps a manager.
func NewService(mgr *Manager) *Service {
	return &Service{mgr: mgr}
}

// Manager returns the underlying account manager.
func (s *Service) Manager() *Manager { return s.mgr }

func stateQualifier(state string) string {
	switch state {
	case "", "all":
		return ""
	default:
		return " state:" + state
	}
}

func (s *Service) userAccount(account string) (Provider, AccountConfig, error) {
	p, err := s.mgr.Account(account)
	if err != nil {
		return nil, AccountConfig{}, err
	}
	cfg, _ := s.mgr.AccountConfig(account)
	if cfg.Username == "" {
		return nil, AccountConfig{}, fmt.Errorf("forge account %q has no username configured", cfg.Name)
	}
	return p, cfg, nil
}

// MyPRs returns pull requests authored by the account user followed by
// those awaiting the user's review, de-duplicated and capped at max.
func (s *Service) MyPRs(ctx context.Context, account, state string, max int) ([]SearchResult, error) {
	p, cfg, err := s.userAccount(account)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 20
	}

	authored, err := p.Search(ctx, "is:pr author:"+cfg.Username+stateQualifier(state), SearchIssues, max)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(authored))
	seen := make(map[string]bool)
	for _, r := range authored {
		seen[r.URL] = true
		out = append(out, r)
	}
	if len(out) >= max {
		return out[:max], nil
	}

	review, err := p.Search(ctx, "is:pr review-requested:"+cfg.Username+stateQualifier(state), SearchIssues, max)
	if err != nil {
		return nil, err
	}
	for _, r := range review {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

// MyIssues returns issues assigned to the account user.
func (s *Service) MyIssues(ctx context.Context, account, state string, max int) ([]SearchResult, error) {
	p, cfg, err := s.userAccount(account)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 20
	}
	return p.Search(ctx, "is:issue assignee:"+cfg.Username+stateQualifier(state), SearchIssues, max)
}

// SearchCode searches code in repo, or across the account's owner
// when repo is empty.
func (s *Service) SearchCode(ctx context.Context, account, query, repo string, max int) ([]SearchResult, error) {
	p, err := s.mgr.Account(account)
	if err != nil {
		return nil, err
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	if repo != "" {
		full, err := s.mgr.ResolveRepo(account, repo)
		if err != nil {
			return nil, err
		}
		q += " repo:" + full
	} else if cfg, _ := s.mgr.AccountConfig(account); cfg.Owner != "" {
		q += " org:" + cfg.Owner
	}
	return p.Search(ctx, q, SearchCode, max)
}

// SearchIssues runs a free-text issue/PR search scoped to the account
// owner when one is configured.
func (s *Service) SearchIssues(ctx context.Context, account, query string, max int) ([]SearchResult, error) {
	p, err := s.mgr.Account(account)
	if err != nil {
		return nil, err
	}
	q := strings.TrimSpace(query)
	if cfg, _ := s.mgr.AccountConfig(account); cfg.Owner != "" {
		q += " org:" + cfg.Owner
	}
	return p.Search(ctx, q, SearchIssues, max)
}

// CreateIssue opens an issue in repo.
func (s *Service) CreateIssue(ctx context.Context, account, repo, title, body string, labels []string) (*Issue, error) {
	p, err := s.mgr.Account(account)
	if err != nil {
		return nil, err
	}
	full, err := s.mgr.ResolveRepo(account, repo)
	if err != nil {
		return nil, err
	}
	return p.CreateIssue(ctx, full, &Issue{Title: title, Body: body, Labels: labels})
}

// Comment posts a comment on issue number in repo.
func (s *Service) Comment(ctx context.Context, account, repo string, number int, body string) (*Comment, error) {
	p, err := s.mgr.Account(account)
	if err != nil {
		return nil, err
	}
	full, err := s.mgr.ResolveRepo(account, repo)
	if err != nil {
		return nil, err
	}
	return p.AddComment(ctx, full, number, body)
}
