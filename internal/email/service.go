package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Mailbox is the per-account IMAP surface the Service needs. *Client
// implements it.
type Mailbox interface {
	SearchMessages(ctx context.Context, opts SearchOptions) ([]Envelope, error)
	Unseen(ctx context.Context, folder string) (int, error)
	Append(ctx context.Context, folder string, flags []imap.Flag, msg []byte) (uint32, error)
}

// SendFunc delivers a composed message. SendMail is the production
// implementation.
type SendFunc func(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error

type account struct {
	cfg AccountConfig
	box Mailbox
}

// Service fans mail operations out over the configured accounts.
type Service struct {
	accounts   []account
	bccOwner   string
	directSend bool
	send       SendFunc
	logger     *slog.Logger
}

// NewService builds a service over the manager's accounts.
func NewService(mgr *Manager, cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		bccOwner:   mgr.BccOwner(),
		directSend: cfg.AllowDirectSend,
		send:       SendMail,
		logger:     logger,
	}
	for _, name := range mgr.AccountNames() {
		c, _ := mgr.Account(name)
		acfg, _ := mgr.AccountConfig(name)
		s.accounts = append(s.accounts, account{cfg: acfg, box: c})
	}
	return s
}

// DirectSendEnabled reports whether sending without a draft is allowed.
func (s *Service) DirectSendEnabled() bool { return s.directSend }

// AccountNames returns the configured account names in order.
func (s *Service) AccountNames() []string {
	names := make([]string, len(s.accounts))
	for i, a := range s.accounts {
		names[i] = a.cfg.Name
	}
	return names
}

func (s *Service) lookup(name string) (account, error) {
	if len(s.accounts) == 0 {
		return account{}, fmt.Errorf("no email accounts configured")
	}
	if name == "" {
		return s.accounts[0], nil
	}
	for _, a := range s.accounts {
		if a.cfg.Name == name {
			return a, nil
		}
	}
	return account{}, fmt.Errorf("email account %q not found", name)
}

// Search runs opts against one account, or all accounts when name is
// empty. Merged results are newest first and capped at opts.Limit. An
// account that fails is logged and skipped unless every account fails.
func (s *Service) Search(ctx context.Context, name string, opts SearchOptions) ([]Envelope, error) {
	targets := s.accounts
	if name != "" {
		a, err := s.lookup(name)
		if err != nil {
			return nil, err
		}
		targets = []account{a}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	var (
		all  []Envelope
		errs []error
	)
	for _, a := range targets {
		envs, err := a.box.SearchMessages(ctx, opts)
		if err != nil {
			s.logger.Warn("email search failed", "account", a.cfg.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", a.cfg.Name, err))
			continue
		}
		for i := range envs {
			envs[i].Account = a.cfg.Name
		}
		all = append(all, envs...)
	}
	if len(errs) == len(targets) {
		return nil, fmt.Errorf("search email: %w", errors.Join(errs...))
	}

	slices.SortStableFunc(all, func(a, b Envelope) int {
		return b.Date.Compare(a.Date)
	})
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

// UnreadCounts holds per-account inbox unread totals.
type UnreadCounts struct {
	Accounts map[string]int `json:"accounts"`
	Total    int            `json:"total"`
}

// UnreadCounts returns INBOX unseen counts per account. Accounts that
// fail are omitted.
func (s *Service) UnreadCounts(ctx context.Context) (UnreadCounts, error) {
	out := UnreadCounts{Accounts: make(map[string]int, len(s.accounts))}
	if len(s.accounts) == 0 {
		return out, fmt.Errorf("no email accounts configured")
	}
	var failed int
	for _, a := range s.accounts {
		n, err := a.box.Unseen(ctx, "INBOX")
		if err != nil {
			s.logger.Warn("unread count failed", "account", a.cfg.Name, "error", err)
			failed++
			continue
		}
		out.Accounts[a.cfg.Name] = n
		out.Total += n
	}
	if failed == len(s.accounts) {
		return out, fmt.Errorf("unread counts: all accounts failed")
	}
	return out, nil
}

// RecentUnread returns unread INBOX messages received at or after
// since, across all accounts.
func (s *Service) RecentUnread(ctx context.Context, since time.Time, limit int) ([]Envelope, error) {
	envs, err := s.Search(ctx, "", SearchOptions{Unseen: true, Since: since, Limit: limit})
	if err != nil {
		return nil, err
	}
	// IMAP SINCE has day granularity.
	out := envs[:0]
	for _, e := range envs {
		if !e.Date.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func validateDraft(d Draft) error {
	if len(d.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if strings.TrimSpace(d.Subject) == "" && strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("subject or body is required")
	}
	return nil
}

// CreateDraft composes d and stores it in the account's drafts folder.
func (s *Service) CreateDraft(ctx context.Context, name string, d Draft) (*DraftResult, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}
	a, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	msg, id, err := ComposeMessage(ComposeOptions{
		From:    a.cfg.DefaultFrom,
		To:      d.To,
		Cc:      d.Cc,
		Subject: d.Subject,
		Body:    d.Body,
	})
	if err != nil {
		return nil, err
	}

	folder := a.cfg.DraftsFolder
	if folder == "" {
		folder = "Drafts"
	}
	uid, err := a.box.Append(ctx, folder, []imap.Flag{imap.FlagDraft, imap.FlagSeen}, msg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("email draft created", "account", a.cfg.Name, "folder", folder, "recipients", len(d.To)+len(d.Cc))
	return &DraftResult{Account: a.cfg.Name, Folder: folder, UID: uid, MessageID: id}, nil
}

// Send composes d and delivers it over SMTP. The owner is added as an
// envelope-only BCC unless already a recipient. A copy goes to the sent
// folder when one is configured; failure there is only logged.
func (s *Service) Send(ctx context.Context, name string, d Draft) (*DraftResult, error) {
	if !s.directSend {
		return nil, fmt.Errorf("direct send is disabled")
	}
	if err := validateDraft(d); err != nil {
		return nil, err
	}
	a, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if !a.cfg.SMTPConfigured() {
		return nil, fmt.Errorf("email account %q has no smtp configured", a.cfg.Name)
	}

	var bcc []string
	if s.bccOwner != "" && !slices.Contains(collectRecipients(d.To, d.Cc, nil), extractAddress(s.bccOwner)) {
		bcc = []string{s.bccOwner}
	}

	msg, id, err := ComposeMessage(ComposeOptions{
		From:    a.cfg.DefaultFrom,
		To:      d.To,
		Cc:      d.Cc,
		Subject: d.Subject,
		Body:    d.Body,
	})
	if err != nil {
		return nil, err
	}

	from := extractAddress(a.cfg.DefaultFrom)
	if err := s.send(ctx, a.cfg.SMTP, from, collectRecipients(d.To, d.Cc, bcc), msg); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	s.logger.Info("email sent", "account", a.cfg.Name, "recipients", len(d.To)+len(d.Cc))

	res := &DraftResult{Account: a.cfg.Name, MessageID: id}
	if a.cfg.SentFolder != "" {
		uid, err := a.box.Append(ctx, a.cfg.SentFolder, []imap.Flag{imap.FlagSeen}, msg)
		if err != nil {
			s.logger.Warn("failed to store sent copy", "account", a.cfg.Name, "folder", a.cfg.SentFolder, "error", err)
		} else {
			res.Folder, res.UID = a.cfg.SentFolder, uid
		}
	}
	return res, nil
}
